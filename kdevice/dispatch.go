package kdevice

import (
	"strings"

	"github.com/r58Playz/kdeconnect/packet"
)

// dispatch routes one decoded inbound packet by wire type (spec §4.7).
// Per-packet decode errors after the type is known are logged and the
// session continues; only a malformed envelope (handled in handleLine)
// is fatal.
func (s *Session) dispatch(pkt *packet.Packet) {
	switch pkt.Type {
	case packet.TypePing:
		s.dispatchPing(pkt)
	case packet.TypePair:
		var p packet.Pair
		if s.mustUnmarshal(pkt, &p) {
			s.handlePair(p)
		}
	case packet.TypeBattery:
		var b packet.Battery
		if s.mustUnmarshal(pkt, &b) {
			s.handler.HandleBattery(b)
		}
	case packet.TypeBatteryRequest:
		if err := s.send(packet.TypeBattery, s.handler.CurrentBattery()); err != nil {
			s.log.Errorf("session %s: reply battery: %v", s.DeviceID(), err)
		}
	case packet.TypeConnectivityReport:
		var r packet.ConnectivityReport
		if s.mustUnmarshal(pkt, &r) {
			s.handler.HandleConnectivityReport(r)
		}
	case packet.TypeConnectivityReportReq:
		if err := s.send(packet.TypeConnectivityReport, s.handler.CurrentConnectivityReport()); err != nil {
			s.log.Errorf("session %s: reply connectivity: %v", s.DeviceID(), err)
		}
	case packet.TypeClipboard:
		var c packet.Clipboard
		if s.mustUnmarshal(pkt, &c) {
			s.handler.HandleClipboard(c.Content)
		}
	case packet.TypeClipboardConnect:
		var c packet.ClipboardConnect
		if s.mustUnmarshal(pkt, &c) && c.Timestamp != 0 {
			s.handler.HandleClipboardConnect(c.Content, c.Timestamp)
		}
	case packet.TypePresenter:
		var p packet.Presenter
		if s.mustUnmarshal(pkt, &p) {
			s.handler.HandlePresenter(p.Dx, p.Dy, p.Stop)
		}
	case packet.TypeFindPhone:
		s.handler.HandleFindPhone()
	case packet.TypeMousepadRequest:
		var r packet.MousepadRequest
		if s.mustUnmarshal(pkt, &r) {
			s.handler.HandleMousepadRequest(r)
		}
	case packet.TypeMousepadEcho:
		var e packet.MousepadEcho
		if s.mustUnmarshal(pkt, &e) {
			s.handler.HandleMousepadEcho(e)
		}
	case packet.TypeMousepadKeyboardState:
		var st packet.MousepadKeyboardState
		if s.mustUnmarshal(pkt, &st) {
			s.handler.HandleMousepadKeyboardState(st.State)
		}
	case packet.TypeSystemVolume:
		var v packet.SystemVolume
		if s.mustUnmarshal(pkt, &v) {
			s.dispatchSystemVolume(v)
		}
	case packet.TypeSystemVolumeRequest:
		var r packet.SystemVolumeRequest
		if s.mustUnmarshal(pkt, &r) {
			s.dispatchSystemVolumeRequest(r)
		}
	case packet.TypeShareRequest:
		var r packet.ShareRequest
		if s.mustUnmarshal(pkt, &r) {
			s.dispatchShareRequest(pkt, r)
		}
	case packet.TypeShareRequestUpdate:
		var u packet.ShareRequestUpdate
		if s.mustUnmarshal(pkt, &u) {
			s.handler.HandleShareRequestUpdate(u.NumberOfFiles, u.TotalPayloadSize)
		}
	case packet.TypeMpris:
		var m packet.Mpris
		if s.mustUnmarshal(pkt, &m) {
			s.dispatchMpris(pkt, m)
		}
	case packet.TypeMprisRequest:
		var r packet.MprisRequest
		if s.mustUnmarshal(pkt, &r) {
			s.dispatchMprisRequest(r)
		}
	case packet.TypeRunCommand:
		var r packet.RunCommand
		if s.mustUnmarshal(pkt, &r) {
			s.handler.HandleRunCommandList(r.CommandList)
		}
	case packet.TypeRunCommandRequest:
		var r packet.RunCommandRequest
		if s.mustUnmarshal(pkt, &r) {
			s.dispatchRunCommandRequest(r)
		}
	default:
		s.log.Debugf("session %s: ignoring unknown packet type %q", s.DeviceID(), pkt.Type)
	}
}

func (s *Session) mustUnmarshal(pkt *packet.Packet, v interface{}) bool {
	if err := pkt.Unmarshal(v); err != nil {
		s.log.Errorf("session %s: decode %s body: %v", s.DeviceID(), pkt.Type, err)
		return false
	}
	return true
}

func (s *Session) dispatchPing(pkt *packet.Packet) {
	var p packet.Ping
	if !s.mustUnmarshal(pkt, &p) {
		return
	}
	s.handler.HandlePing(p.Message)
	if err := s.send(packet.TypePing, p); err != nil {
		s.log.Errorf("session %s: echo ping: %v", s.DeviceID(), err)
	}
	s.sendBurst()
}

func (s *Session) dispatchSystemVolume(v packet.SystemVolume) {
	if v.IsList() {
		s.handler.HandleSystemVolumeList(v.SinkList)
		return
	}
	s.handler.HandleSystemVolumeUpdate(v.Name, v.Enabled, v.Muted, v.Volume)
}

func (s *Session) dispatchSystemVolumeRequest(r packet.SystemVolumeRequest) {
	if r.RequestSinks {
		sinks := s.handler.CurrentSystemVolume()
		if err := s.send(packet.TypeSystemVolume, packet.SystemVolume{SinkList: sinks}); err != nil {
			s.log.Errorf("session %s: reply system volume: %v", s.DeviceID(), err)
		}
		return
	}
	s.handler.HandleSystemVolumeRequest(r)
}

// dispatchShareRequest implements spec §4.7's File/Text/Url union: a
// File variant is only meaningful paired with payload metadata.
func (s *Session) dispatchShareRequest(pkt *packet.Packet, r packet.ShareRequest) {
	switch r.Kind() {
	case packet.ShareFile:
		if pkt.PayloadTransfer == nil || pkt.PayloadSize == nil {
			s.log.Debugf("session %s: file share %q with no payload info, discarding", s.DeviceID(), r.Filename)
			return
		}
		body, err := s.transport.Receive(s.peerIP, pkt.PayloadTransfer.Port, *pkt.PayloadSize)
		if err != nil {
			s.log.Errorf("session %s: open inbound file transfer: %v", s.DeviceID(), err)
			return
		}
		s.handler.HandleShareFile(IncomingFile{
			Name:         r.Filename,
			Size:         *pkt.PayloadSize,
			Creation:     r.Creation,
			LastModified: r.LastModified,
			Body:         body,
		})
	case packet.ShareText:
		s.handler.HandleShareText(r.Text)
	case packet.ShareURL:
		s.handler.HandleShareURL(r.URL)
	default:
		s.log.Debugf("session %s: empty share request ignored", s.DeviceID())
	}
}

func (s *Session) dispatchMpris(pkt *packet.Packet, m packet.Mpris) {
	if m.PlayerList != nil {
		supports := m.SupportsAlbumArtPayload != nil && *m.SupportsAlbumArtPayload
		s.mprisPlayers = m.PlayerList
		s.mprisArtSupport = supports
		s.handler.HandleMprisPlayerList(m.PlayerList, supports)
		return
	}
	if m.TransferringAlbumArt {
		if pkt.PayloadTransfer == nil || pkt.PayloadSize == nil {
			s.log.Debugf("session %s: album art announced with no payload info, discarding", s.DeviceID())
			return
		}
		body, err := s.transport.Receive(s.peerIP, pkt.PayloadTransfer.Port, *pkt.PayloadSize)
		if err != nil {
			s.log.Errorf("session %s: open album art transfer: %v", s.DeviceID(), err)
			return
		}
		s.handler.HandleMprisAlbumArt(m.Player, m.AlbumArtURL, body)
		return
	}
	s.handler.HandleMprisPlayerInfo(m.MprisPlayer)
}

func (s *Session) dispatchMprisRequest(r packet.MprisRequest) {
	switch {
	case r.RequestPlayerList:
		players, supportsArt := s.handler.MprisPlayers()
		if err := s.send(packet.TypeMpris, packet.Mpris{PlayerList: players, SupportsAlbumArtPayload: &supportsArt}); err != nil {
			s.log.Errorf("session %s: reply mpris player list: %v", s.DeviceID(), err)
		}

	case r.RequestAlbumArt != "":
		info := s.handler.MprisPlayerInfo(r.Player)
		if info.AlbumArtURL != "" && info.AlbumArtURL == r.RequestAlbumArt && strings.HasPrefix(info.AlbumArtURL, "file://") {
			// Backgrounded: acceptAndStream's Accept has no deadline, so a
			// peer that never dials the announced port must not stall this
			// session's dispatch loop; the Info reply below still goes out
			// regardless of transfer outcome.
			go s.sendAlbumArt(r.Player, info.AlbumArtURL)
		}
		if err := s.send(packet.TypeMpris, packet.Mpris{Player: r.Player, MprisPlayer: info}); err != nil {
			s.log.Errorf("session %s: reply mpris player info: %v", s.DeviceID(), err)
		}

	case r.RequestNowPlaying || r.RequestVolume:
		info := s.handler.MprisPlayerInfo(r.Player)
		if err := s.send(packet.TypeMpris, packet.Mpris{Player: r.Player, MprisPlayer: info}); err != nil {
			s.log.Errorf("session %s: reply mpris now playing: %v", s.DeviceID(), err)
		}

	default:
		s.handler.HandleMprisAction(r.Player, r.Action, r.SetVolume, r.Seek, r.SetPosition)
	}
}

// sendAlbumArt opens a payload channel and streams the file named by
// url, best-effort (spec §4.7: errors logged, never surfaced).
func (s *Session) sendAlbumArt(player, url string) {
	path := strings.TrimPrefix(url, "file://")
	f, err := openLocalFile(path)
	if err != nil {
		s.log.Errorf("session %s: open album art %q: %v", s.DeviceID(), path, err)
		return
	}
	defer f.Close()

	size, err := fileSize(f)
	if err != nil {
		s.log.Errorf("session %s: stat album art %q: %v", s.DeviceID(), path, err)
		return
	}

	port, done, err := s.transport.Send(f, size)
	if err != nil {
		s.log.Errorf("session %s: allocate album art transfer: %v", s.DeviceID(), err)
		return
	}

	transferring := true
	if err := s.sendWithPayload(packet.TypeMpris, packet.Mpris{
		Player:               player,
		AlbumArtURL:          url,
		TransferringAlbumArt: transferring,
	}, size, port); err != nil {
		s.log.Errorf("session %s: announce album art transfer: %v", s.DeviceID(), err)
		return
	}

	if err := <-done; err != nil {
		s.log.Errorf("session %s: album art transfer: %v", s.DeviceID(), err)
	}
}

func (s *Session) dispatchRunCommandRequest(r packet.RunCommandRequest) {
	if r.RequestCommandList {
		if err := s.send(packet.TypeRunCommand, packet.RunCommand{CommandList: s.handler.RunCommandList()}); err != nil {
			s.log.Errorf("session %s: reply run command list: %v", s.DeviceID(), err)
		}
		return
	}
	s.handler.HandleRunCommand(r.Key)
}
