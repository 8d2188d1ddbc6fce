package kdevice

import "github.com/r58Playz/kdeconnect/packet"

// sendBurst pushes the paired-data snapshot: battery, clipboard
// connect, connectivity report, and system volume list (spec §4.7).
// Fired on entry to RUNNING when already paired, on every inbound
// ping, and immediately after a pair request is accepted.
func (s *Session) sendBurst() {
	if err := s.send(packet.TypeBattery, s.handler.CurrentBattery()); err != nil {
		s.log.Errorf("session %s: burst battery: %v", s.DeviceID(), err)
	}

	content, ts := s.handler.CurrentClipboard()
	if err := s.send(packet.TypeClipboardConnect, packet.ClipboardConnect{Content: content, Timestamp: ts}); err != nil {
		s.log.Errorf("session %s: burst clipboard: %v", s.DeviceID(), err)
	}

	if err := s.send(packet.TypeConnectivityReport, s.handler.CurrentConnectivityReport()); err != nil {
		s.log.Errorf("session %s: burst connectivity: %v", s.DeviceID(), err)
	}

	sinks := s.handler.CurrentSystemVolume()
	if err := s.send(packet.TypeSystemVolume, packet.SystemVolume{SinkList: sinks}); err != nil {
		s.log.Errorf("session %s: burst volume: %v", s.DeviceID(), err)
	}
}
