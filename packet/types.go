package packet

// Wire-type constants for every packet body this engine understands
// (spec §4.7, supplemented per SPEC_FULL.md §4.7 with RunCommand).
const (
	TypeIdentity                 = "kdeconnect.identity"
	TypePair                     = "kdeconnect.pair"
	TypePing                     = "kdeconnect.ping"
	TypeBattery                  = "kdeconnect.battery"
	TypeBatteryRequest           = "kdeconnect.battery.request"
	TypeConnectivityReport       = "kdeconnect.connectivity_report"
	TypeConnectivityReportReq    = "kdeconnect.connectivity_report.request"
	TypeClipboard                = "kdeconnect.clipboard"
	TypeClipboardConnect         = "kdeconnect.clipboard.connect"
	TypePresenter                = "kdeconnect.presenter"
	TypeFindPhone                = "kdeconnect.findmyphone.request"
	TypeMousepadRequest          = "kdeconnect.mousepad.request"
	TypeMousepadEcho             = "kdeconnect.mousepad.echo"
	TypeMousepadKeyboardState    = "kdeconnect.mousepad.keyboardstate"
	TypeSystemVolume             = "kdeconnect.systemvolume"
	TypeSystemVolumeRequest      = "kdeconnect.systemvolume.request"
	TypeShareRequest             = "kdeconnect.share.request"
	TypeShareRequestUpdate       = "kdeconnect.share.request.update"
	TypeMpris                    = "kdeconnect.mpris"
	TypeMprisRequest             = "kdeconnect.mpris.request"
	TypeRunCommand               = "kdeconnect.runcommand"
	TypeRunCommandRequest        = "kdeconnect.runcommand.request"
)

// DeviceType enumerates the identity packet's device_type field.
type DeviceType string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceLaptop  DeviceType = "laptop"
	DevicePhone   DeviceType = "phone"
	DeviceTablet  DeviceType = "tablet"
	DeviceTV      DeviceType = "tv"
)

const ProtocolVersion = 7

// Identity is the body of kdeconnect.identity (spec §3).
type Identity struct {
	DeviceID            string     `json:"deviceId"`
	DeviceName          string     `json:"deviceName"`
	DeviceType          DeviceType `json:"deviceType"`
	ProtocolVersion     int        `json:"protocolVersion"`
	IncomingCapabilities []string  `json:"incomingCapabilities"`
	OutgoingCapabilities []string  `json:"outgoingCapabilities"`
	TCPPort             *int       `json:"tcpPort,omitempty"`
}

// Pair is the body of kdeconnect.pair (spec §4.7.1).
type Pair struct {
	Pair bool `json:"pair"`
}

// Ping is the body of kdeconnect.ping.
type Ping struct {
	Message string `json:"message,omitempty"`
}

// Battery is the body of kdeconnect.battery / the reply to a BatteryRequest.
type Battery struct {
	CurrentCharge int  `json:"currentCharge"`
	IsCharging    bool `json:"isCharging"`
	ThresholdEvent int `json:"thresholdEvent,omitempty"`
}

// BatteryRequest is the body of kdeconnect.battery.request.
type BatteryRequest struct {
	Request bool `json:"request"`
}

// ConnectivityReport is the body of kdeconnect.connectivity_report.
type ConnectivityReport struct {
	SignalStrengths map[string]SignalStrength `json:"signalStrengths"`
}

// SignalStrength is one entry of a ConnectivityReport.
type SignalStrength struct {
	NetworkType    string `json:"networkType"`
	SignalStrength int    `json:"signalStrength"`
}

// ConnectivityReportRequest is the body of
// kdeconnect.connectivity_report.request (an empty object on the wire).
type ConnectivityReportRequest struct{}

// Clipboard is the body of kdeconnect.clipboard.
type Clipboard struct {
	Content string `json:"content"`
}

// ClipboardConnect is the body of kdeconnect.clipboard.connect.
type ClipboardConnect struct {
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Presenter is the body of kdeconnect.presenter.
type Presenter struct {
	Dx   *float64 `json:"dx,omitempty"`
	Dy   *float64 `json:"dy,omitempty"`
	Stop bool     `json:"stop,omitempty"`
}

// FindPhone is the (empty) body of kdeconnect.findmyphone.request.
type FindPhone struct{}

// MousepadRequest is the body of kdeconnect.mousepad.request.
type MousepadRequest struct {
	Dx            *float64 `json:"dx,omitempty"`
	Dy            *float64 `json:"dy,omitempty"`
	Scroll        bool     `json:"scroll,omitempty"`
	SingleClick   bool     `json:"singleclick,omitempty"`
	DoubleClick   bool     `json:"doubleclick,omitempty"`
	MiddleClick   bool     `json:"middleclick,omitempty"`
	RightClick    bool     `json:"rightclick,omitempty"`
	SingleHold    bool     `json:"singlehold,omitempty"`
	SingleRelease bool     `json:"singlerelease,omitempty"`
	Key           string   `json:"key,omitempty"`
	SpecialKey    int      `json:"specialKey,omitempty"`
	ShiftKey      bool     `json:"shift,omitempty"`
	CtrlKey       bool     `json:"ctrl,omitempty"`
	AltKey        bool     `json:"alt,omitempty"`
	SendAck       bool     `json:"sendAck,omitempty"`
}

// MousepadEcho is the body of kdeconnect.mousepad.echo.
type MousepadEcho struct {
	MousepadRequest
	IsAck bool `json:"isAck"`
}

// MousepadKeyboardState is the body of kdeconnect.mousepad.keyboardstate.
type MousepadKeyboardState struct {
	State bool `json:"state"`
}

// Sink is one system volume sink (spec §4.7 SystemVolume).
type Sink struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Muted       bool   `json:"muted"`
	MaxVolume   int    `json:"maxVolume"`
	Volume      int    `json:"volume"`
}

// SystemVolume is the union body of kdeconnect.systemvolume: either a
// sink list (decoded when SinkList is non-nil) or an update to a named
// sink (decoded otherwise). Decoding prefers this discriminator over
// blind trial-parsing, per spec §9.
type SystemVolume struct {
	SinkList []Sink   `json:"sinkList,omitempty"`
	Name     string   `json:"name,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
	Muted    *bool    `json:"muted,omitempty"`
	Volume   *int     `json:"volume,omitempty"`
}

// IsList reports whether this SystemVolume decodes as a sink list.
func (s SystemVolume) IsList() bool { return s.SinkList != nil }

// SystemVolumeRequest is the body of kdeconnect.systemvolume.request.
type SystemVolumeRequest struct {
	RequestSinks bool    `json:"requestSinks,omitempty"`
	Name         string  `json:"name,omitempty"`
	Enabled      *bool   `json:"enabled,omitempty"`
	Muted        *bool   `json:"muted,omitempty"`
	Volume       *int    `json:"volume,omitempty"`
}

// ShareRequest is the union body of kdeconnect.share.request: a file
// announcement (Filename set), free text, or a URL. Spec §9 notes the
// source's bug where the File variant fails untagged-union parsing —
// this decoder discriminates on field presence explicitly instead.
type ShareRequest struct {
	Filename       string `json:"filename,omitempty"`
	LastModified   *int64 `json:"lastModified,omitempty"`
	Creation       *int64 `json:"creationTime,omitempty"`
	Text           string `json:"text,omitempty"`
	URL            string `json:"url,omitempty"`
}

// Kind classifies a decoded ShareRequest.
type ShareKind int

const (
	ShareUnknown ShareKind = iota
	ShareFile
	ShareText
	ShareURL
)

// Kind discriminates the ShareRequest union by field presence, avoiding
// the untagged-parse bug noted in spec §9.
func (s ShareRequest) Kind() ShareKind {
	switch {
	case s.Filename != "":
		return ShareFile
	case s.URL != "":
		return ShareURL
	case s.Text != "":
		return ShareText
	default:
		return ShareUnknown
	}
}

// ShareRequestUpdate is the body of kdeconnect.share.request.update.
type ShareRequestUpdate struct {
	NumberOfFiles    int   `json:"numberOfFiles"`
	TotalPayloadSize int64 `json:"totalPayloadSize"`
}

// MprisPlayer describes one player entry for Mpris list/info bodies.
type MprisPlayer struct {
	Player           string  `json:"player,omitempty"`
	IsPlaying        *bool   `json:"isPlaying,omitempty"`
	CanPause         *bool   `json:"canPause,omitempty"`
	CanPlay          *bool   `json:"canPlay,omitempty"`
	CanGoNext        *bool   `json:"canGoNext,omitempty"`
	CanGoPrevious    *bool   `json:"canGoPrevious,omitempty"`
	CanSeek          *bool   `json:"canSeek,omitempty"`
	Title            string  `json:"title,omitempty"`
	Artist           string  `json:"artist,omitempty"`
	Album            string  `json:"album,omitempty"`
	AlbumArtURL      string  `json:"albumArtUrl,omitempty"`
	Length           *int64  `json:"length,omitempty"`
	Pos              *int64  `json:"pos,omitempty"`
	Volume           *int    `json:"volume,omitempty"`
}

// Mpris is the union body of kdeconnect.mpris: a player list
// (PlayerList non-nil), an art-transfer announcement (Player set and
// TransferringAlbumArt true), or a player info update.
type Mpris struct {
	PlayerList               []string `json:"playerList,omitempty"`
	SupportsAlbumArtPayload  *bool    `json:"supportsAlbumArtPayload,omitempty"`
	Player                   string   `json:"player,omitempty"`
	AlbumArtURL              string   `json:"albumArtUrl,omitempty"`
	TransferringAlbumArt     bool     `json:"transferringAlbumArt,omitempty"`
	MprisPlayer
}

// MprisRequest is the union body of kdeconnect.mpris.request.
type MprisRequest struct {
	RequestPlayerList bool   `json:"requestPlayerList,omitempty"`
	Player            string `json:"player,omitempty"`
	RequestNowPlaying bool   `json:"requestNowPlaying,omitempty"`
	RequestVolume     bool   `json:"requestVolume,omitempty"`
	RequestAlbumArt   string `json:"albumArtUrl,omitempty"`
	Action            string `json:"action,omitempty"`
	SetVolume         *int   `json:"setVolume,omitempty"`
	Seek              *int64 `json:"Seek,omitempty"`
	SetPosition       *int64 `json:"SetPosition,omitempty"`
}

// CommandEntry describes one shortcut offered by a RunCommand list reply.
type CommandEntry struct {
	Name    string `json:"name"`
	Command string `json:"command"`
}

// RunCommand is the body of kdeconnect.runcommand: the reply carrying
// the advertising device's available shortcuts (SPEC_FULL §4.7).
type RunCommand struct {
	CommandList map[string]CommandEntry `json:"commandList"`
}

// RunCommandRequest is the body of kdeconnect.runcommand.request: either
// a request for the peer's command list, or an instruction to run the
// shortcut identified by Key.
type RunCommandRequest struct {
	RequestCommandList bool   `json:"requestCommandList,omitempty"`
	Key                string `json:"key,omitempty"`
}
