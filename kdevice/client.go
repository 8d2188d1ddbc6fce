package kdevice

import (
	"io"

	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdeerr"
	"github.com/r58Playz/kdeconnect/packet"
)

// action is submitted to a Session's action queue and executed
// exclusively by the session's own loop goroutine (spec §4.8).
type action interface {
	apply(s *Session)
}

type sendPacketAction struct {
	line  []byte
	reply chan<- error
}

func (a sendPacketAction) apply(s *Session) { a.reply <- s.writeLine(a.line) }

type getConfigAction struct{ reply chan<- *kdeconfig.DeviceRecord }

func (a getConfigAction) apply(s *Session) {
	s.recordMu.Lock()
	rec := *s.record
	s.recordMu.Unlock()
	a.reply <- &rec
}

type getPairedAction struct{ reply chan<- bool }

func (a getPairedAction) apply(s *Session) { a.reply <- s.IsPaired() }

type getKeyAction struct{ reply chan<- string }

func (a getKeyAction) apply(s *Session) {
	a.reply <- kdecert.VerificationKey(s.cert.Leaf(), s.peerCert)
}

type pairAction struct{ reply chan<- error }

func (a pairAction) apply(s *Session) { s.initiatePair(a.reply) }

type unpairAction struct{ reply chan<- error }

func (a unpairAction) apply(s *Session) {
	if !s.IsPaired() {
		a.reply <- kdeerr.ErrDeviceAlreadyPaired
		return
	}
	s.initiateUnpair(a.reply)
}

// handleAction dispatches one action from the queue; called only from
// the session's own loop goroutine (run's select statement).
func (s *Session) handleAction(a action) { a.apply(s) }

// Client is the ergonomic request API a host drives to talk to a
// paired or pairing peer (spec §4.8). Every verb is a thin encoder
// that submits a SendPacket action, or a dedicated action for the
// handful of non-packet operations (pair, unpair, introspection).
type Client struct {
	session *Session
}

func newClient(s *Session) *Client { return &Client{session: s} }

func (c *Client) submit(line []byte, err error) error {
	if err != nil {
		return err
	}
	reply := make(chan error, 1)
	c.session.actions <- sendPacketAction{line: line, reply: reply}
	return <-reply
}

// DeviceID is the peer this client talks to.
func (c *Client) DeviceID() string { return c.session.DeviceID() }

// GetConfig returns a snapshot of the peer's device record.
func (c *Client) GetConfig() *kdeconfig.DeviceRecord {
	reply := make(chan *kdeconfig.DeviceRecord, 1)
	c.session.actions <- getConfigAction{reply: reply}
	return <-reply
}

// GetPaired reports whether this session is currently paired.
func (c *Client) GetPaired() bool {
	reply := make(chan bool, 1)
	c.session.actions <- getPairedAction{reply: reply}
	return <-reply
}

// GetVerificationKey returns the spec §4.3 confirmation digest.
func (c *Client) GetVerificationKey() string {
	reply := make(chan string, 1)
	c.session.actions <- getKeyAction{reply: reply}
	return <-reply
}

// Pair initiates pairing, returning kdeerr.ErrDeviceRejectedPair if the
// peer declines and kdeerr.ErrDeviceAlreadyPaired if already paired.
func (c *Client) Pair() error {
	reply := make(chan error, 1)
	c.session.actions <- pairAction{reply: reply}
	return <-reply
}

// Unpair clears the stored trust for this peer.
func (c *Client) Unpair() error {
	reply := make(chan error, 1)
	c.session.actions <- unpairAction{reply: reply}
	return <-reply
}

func (c *Client) SendPing(message string) error {
	return c.submit(packet.EncodeBody(packet.TypePing, packet.Ping{Message: message}))
}

func (c *Client) SendBattery(b packet.Battery) error {
	return c.submit(packet.EncodeBody(packet.TypeBattery, b))
}

func (c *Client) RequestBattery() error {
	return c.submit(packet.EncodeBody(packet.TypeBatteryRequest, packet.BatteryRequest{Request: true}))
}

func (c *Client) SendConnectivityReport(r packet.ConnectivityReport) error {
	return c.submit(packet.EncodeBody(packet.TypeConnectivityReport, r))
}

func (c *Client) SendClipboard(content string) error {
	return c.submit(packet.EncodeBody(packet.TypeClipboard, packet.Clipboard{Content: content}))
}

func (c *Client) SendClipboardConnect(content string, timestampMs int64) error {
	return c.submit(packet.EncodeBody(packet.TypeClipboardConnect, packet.ClipboardConnect{Content: content, Timestamp: timestampMs}))
}

func (c *Client) SendPresenter(dx, dy *float64, stop bool) error {
	return c.submit(packet.EncodeBody(packet.TypePresenter, packet.Presenter{Dx: dx, Dy: dy, Stop: stop}))
}

func (c *Client) SendFindPhone() error {
	return c.submit(packet.EncodeBody(packet.TypeFindPhone, packet.FindPhone{}))
}

func (c *Client) SendMousepadRequest(r packet.MousepadRequest) error {
	return c.submit(packet.EncodeBody(packet.TypeMousepadRequest, r))
}

func (c *Client) SendMousepadKeyboardState(state bool) error {
	return c.submit(packet.EncodeBody(packet.TypeMousepadKeyboardState, packet.MousepadKeyboardState{State: state}))
}

func (c *Client) RequestSystemVolume() error {
	return c.submit(packet.EncodeBody(packet.TypeSystemVolumeRequest, packet.SystemVolumeRequest{RequestSinks: true}))
}

func (c *Client) SendSystemVolumeUpdate(name string, enabled, muted *bool, volume *int) error {
	return c.submit(packet.EncodeBody(packet.TypeSystemVolumeRequest, packet.SystemVolumeRequest{Name: name, Enabled: enabled, Muted: muted, Volume: volume}))
}

func (c *Client) RequestMprisPlayerList() error {
	return c.submit(packet.EncodeBody(packet.TypeMprisRequest, packet.MprisRequest{RequestPlayerList: true}))
}

func (c *Client) RequestMprisPlayerInfo(player string) error {
	return c.submit(packet.EncodeBody(packet.TypeMprisRequest, packet.MprisRequest{Player: player, RequestNowPlaying: true}))
}

func (c *Client) SendMprisAction(player, action string, setVolume *int, seek *int64, setPosition *int64) error {
	return c.submit(packet.EncodeBody(packet.TypeMprisRequest, packet.MprisRequest{Player: player, Action: action, SetVolume: setVolume, Seek: seek, SetPosition: setPosition}))
}

func (c *Client) RequestRunCommandList() error {
	return c.submit(packet.EncodeBody(packet.TypeRunCommandRequest, packet.RunCommandRequest{RequestCommandList: true}))
}

func (c *Client) RunCommand(key string) error {
	return c.submit(packet.EncodeBody(packet.TypeRunCommandRequest, packet.RunCommandRequest{Key: key}))
}

func (c *Client) SendShareText(text string) error {
	return c.submit(packet.EncodeBody(packet.TypeShareRequest, packet.ShareRequest{Text: text}))
}

func (c *Client) SendShareURL(url string) error {
	return c.submit(packet.EncodeBody(packet.TypeShareRequest, packet.ShareRequest{URL: url}))
}

// DeviceFile is one outbound file share (spec §4.8): times are
// milliseconds since Unix epoch.
type DeviceFile struct {
	Reader       io.Reader
	Size         int64
	Name         string
	Creation     *int64
	LastModified *int64
}

// ShareFile allocates a payload port, announces the transfer, and
// awaits the peer draining it (spec scenario 5).
func (c *Client) ShareFile(f DeviceFile) error {
	if f.Name == "" {
		return kdeerr.ErrNoFileName
	}

	port, done, err := c.session.transport.Send(f.Reader, f.Size)
	if err != nil {
		return err
	}

	body := packet.ShareRequest{Filename: f.Name, Creation: f.Creation, LastModified: f.LastModified}
	line, err := packet.Encode(packet.TypeShareRequest, body, f.Size, port, true)
	if err != nil {
		return err
	}
	if err := c.submit(line, nil); err != nil {
		return err
	}

	return <-done
}

// ShareFiles transfers a batch, announcing the aggregate count and
// size first, then each file serially (spec §4.8).
func (c *Client) ShareFiles(files []DeviceFile) error {
	var total int64
	for _, f := range files {
		total += f.Size
	}
	if err := c.submit(packet.EncodeBody(packet.TypeShareRequestUpdate, packet.ShareRequestUpdate{
		NumberOfFiles:    len(files),
		TotalPayloadSize: total,
	})); err != nil {
		return err
	}

	for _, f := range files {
		if err := c.ShareFile(f); err != nil {
			return err
		}
	}
	return nil
}
