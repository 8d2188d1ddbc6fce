package main

import (
	"io"

	"github.com/r58Playz/kdeconnect/kdevice"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// loggingHandler is the daemon's own Handler: it logs every inbound
// event and answers feature requests with empty/zero state. A real
// host replaces this with something backed by the OS.
type loggingHandler struct {
	deviceID string
	log      klog.Logger
}

func newLoggingHandler(deviceID string, log klog.Logger) *loggingHandler {
	return &loggingHandler{deviceID: deviceID, log: log}
}

func (h *loggingHandler) HandlePing(message string) {
	h.log.Infof("%s: ping %q", h.deviceID, message)
}

func (h *loggingHandler) HandleExit() {
	h.log.Infof("%s: session closed", h.deviceID)
}

func (h *loggingHandler) CurrentBattery() packet.Battery { return packet.Battery{} }
func (h *loggingHandler) HandleBattery(b packet.Battery) {
	h.log.Debugf("%s: battery charge=%d charging=%t", h.deviceID, b.CurrentCharge, b.IsCharging)
}

func (h *loggingHandler) CurrentConnectivityReport() packet.ConnectivityReport {
	return packet.ConnectivityReport{}
}
func (h *loggingHandler) HandleConnectivityReport(r packet.ConnectivityReport) {}

func (h *loggingHandler) CurrentClipboard() (string, int64) { return "", 0 }
func (h *loggingHandler) HandleClipboard(content string) {
	h.log.Debugf("%s: clipboard updated", h.deviceID)
}
func (h *loggingHandler) HandleClipboardConnect(content string, timestampMs int64) {
	h.log.Debugf("%s: clipboard connect at %d", h.deviceID, timestampMs)
}

func (h *loggingHandler) HandlePresenter(dx, dy *float64, stop bool) {}
func (h *loggingHandler) HandleMousepadRequest(r packet.MousepadRequest) {}
func (h *loggingHandler) HandleMousepadEcho(e packet.MousepadEcho)       {}
func (h *loggingHandler) HandleMousepadKeyboardState(state bool)        {}

func (h *loggingHandler) HandleFindPhone() {
	h.log.Infof("%s: find phone requested", h.deviceID)
}

func (h *loggingHandler) CurrentSystemVolume() []packet.Sink { return nil }
func (h *loggingHandler) HandleSystemVolumeList(sinks []packet.Sink) {}
func (h *loggingHandler) HandleSystemVolumeUpdate(name string, enabled, muted *bool, volume *int) {
}
func (h *loggingHandler) HandleSystemVolumeRequest(req packet.SystemVolumeRequest) {}

func (h *loggingHandler) HandleShareText(text string) {
	h.log.Infof("%s: shared text %q", h.deviceID, text)
}
func (h *loggingHandler) HandleShareURL(url string) {
	h.log.Infof("%s: shared url %s", h.deviceID, url)
}
func (h *loggingHandler) HandleShareFile(f kdevice.IncomingFile) {
	h.log.Infof("%s: received file %q (%d bytes)", h.deviceID, f.Name, f.Size)
	f.Body.Close()
}
func (h *loggingHandler) HandleShareRequestUpdate(numberOfFiles int, totalPayloadSize int64) {}

func (h *loggingHandler) MprisPlayers() ([]string, bool)             { return nil, false }
func (h *loggingHandler) HandleMprisPlayerList(players []string, supportsAlbumArt bool) {}
func (h *loggingHandler) MprisPlayerInfo(player string) packet.MprisPlayer {
	return packet.MprisPlayer{}
}
func (h *loggingHandler) HandleMprisPlayerInfo(info packet.MprisPlayer) {}
func (h *loggingHandler) HandleMprisAlbumArt(player, url string, body io.ReadCloser) {
	body.Close()
}
func (h *loggingHandler) HandleMprisAction(player, action string, setVolume *int, seek *int64, setPosition *int64) {
}

func (h *loggingHandler) RunCommandList() map[string]packet.CommandEntry { return nil }
func (h *loggingHandler) HandleRunCommand(key string)                     {}
func (h *loggingHandler) HandleRunCommandList(list map[string]packet.CommandEntry) {}

func (h *loggingHandler) HandlePairStatusChange(paired bool) {
	h.log.Infof("%s: paired=%t", h.deviceID, paired)
}

func (h *loggingHandler) HandlePairRequest() bool {
	h.log.Infof("%s: accepting incoming pair request", h.deviceID)
	return true
}
