package kdevice

import (
	"io"

	"github.com/r58Playz/kdeconnect/packet"
)

// IncomingFile describes an inbound file share delivered through the
// payload transport (spec §4.7 ShareRequest::File).
type IncomingFile struct {
	Name         string
	Size         int64
	Creation     *int64
	LastModified *int64
	Body         io.ReadCloser
}

// Handler is the host-side collaborator a session reports events to
// and pulls feature data from. It is out of scope for this engine
// (spec §1): hosts implement it against their OS-specific collectors.
type Handler interface {
	// HandlePing is invoked for every inbound ping, before the echo and
	// paired-data burst are sent.
	HandlePing(message string)

	// HandleExit is invoked exactly once, on the CLOSING transition,
	// regardless of whether the session ended in EOF or error.
	HandleExit()

	// CurrentBattery supplies the reply to BatteryRequest and the
	// paired-data burst.
	CurrentBattery() packet.Battery
	HandleBattery(b packet.Battery)

	CurrentConnectivityReport() packet.ConnectivityReport
	HandleConnectivityReport(r packet.ConnectivityReport)

	// CurrentClipboard supplies the content and timestamp (milliseconds
	// since epoch) used by the paired-data burst's ClipboardConnect.
	CurrentClipboard() (content string, timestampMs int64)
	HandleClipboard(content string)
	// HandleClipboardConnect is only called for timestamp > 0 (spec §8 B5).
	HandleClipboardConnect(content string, timestampMs int64)

	HandlePresenter(dx, dy *float64, stop bool)
	HandleMousepadRequest(r packet.MousepadRequest)
	HandleMousepadEcho(e packet.MousepadEcho)
	HandleMousepadKeyboardState(state bool)

	HandleFindPhone()

	CurrentSystemVolume() []packet.Sink
	// HandleSystemVolumeList replaces the handler's known sink list
	// (spec §4.7 SystemVolume::List).
	HandleSystemVolumeList(sinks []packet.Sink)
	// HandleSystemVolumeUpdate patches exactly the named sink, leaving
	// every other sink and every unset field of this one unchanged
	// (spec §8 R4).
	HandleSystemVolumeUpdate(name string, enabled, muted *bool, volume *int)
	HandleSystemVolumeRequest(req packet.SystemVolumeRequest)

	HandleShareText(text string)
	HandleShareURL(url string)
	HandleShareFile(f IncomingFile)
	HandleShareRequestUpdate(numberOfFiles int, totalPayloadSize int64)

	// MprisPlayers supplies the reply to MprisRequest::List.
	MprisPlayers() (players []string, supportsAlbumArt bool)
	HandleMprisPlayerList(players []string, supportsAlbumArt bool)
	// MprisPlayerInfo supplies the reply to a PlayerRequest and the
	// snapshot sent alongside an outbound album art transfer.
	MprisPlayerInfo(player string) packet.MprisPlayer
	HandleMprisPlayerInfo(info packet.MprisPlayer)
	HandleMprisAlbumArt(player, url string, body io.ReadCloser)
	HandleMprisAction(player, action string, setVolume *int, seek *int64, setPosition *int64)

	RunCommandList() map[string]packet.CommandEntry
	HandleRunCommand(key string)
	HandleRunCommandList(list map[string]packet.CommandEntry)

	// HandlePairStatusChange is invoked after the stored certificate is
	// persisted, so observers reading state here see the new value
	// (spec §9's ordering note).
	HandlePairStatusChange(paired bool)
	// HandlePairRequest is the 30-second user prompt for an inbound
	// pair request; the session declines if it doesn't resolve in time.
	HandlePairRequest() bool
}
