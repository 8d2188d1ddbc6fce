// Package discovery implements the two LAN discovery paths KDE Connect
// supports: a UDP broadcast identity beacon on port 1716, and an
// optional mDNS/Avahi service record (spec §4.5).
package discovery

import (
	"fmt"
	"net"

	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// Service runs both discovery paths and merges what each finds into a
// single stream of peer identities.
type Service struct {
	udp    *udpBroadcaster
	mdns   *mdnsBrowser
	log    klog.Logger
	selfID string

	found chan PeerIdentity
	stop  chan struct{}
}

// Options configures a Service.
type Options struct {
	Identity   IdentityFunc
	DeviceID   string
	DeviceName string
	DeviceType packet.DeviceType
	TCPPort    int
	// EnableMDNS additionally publishes and browses the Avahi-compatible
	// mDNS service record. UDP broadcast alone is sufficient for plain
	// KDE Connect interop, so this defaults to off.
	EnableMDNS bool
	Log        klog.Logger
}

// New starts discovery. Callers receive peer identities from Peers()
// until Close is called.
func New(opts Options) (*Service, error) {
	if opts.Identity == nil {
		return nil, fmt.Errorf("discovery: Options.Identity is required")
	}
	log := opts.Log
	if log == nil {
		log = klog.Nop()
	}

	udp, err := newUDPBroadcaster(opts.Identity, opts.DeviceID, log)
	if err != nil {
		return nil, fmt.Errorf("discovery: udp: %w", err)
	}

	s := &Service{
		udp:    udp,
		log:    log,
		selfID: opts.DeviceID,
		found:  make(chan PeerIdentity, 32),
		stop:   make(chan struct{}),
	}

	if opts.EnableMDNS {
		mdns, err := newMDNSBrowser(opts.DeviceID, opts.DeviceName, opts.DeviceType, opts.TCPPort, log)
		if err != nil {
			udp.Close()
			return nil, fmt.Errorf("discovery: mdns: %w", err)
		}
		s.mdns = mdns
		go s.mergeMDNS()
	}

	go s.mergeUDP()
	return s, nil
}

func (s *Service) mergeUDP() {
	for {
		select {
		case <-s.stop:
			return
		case peer, ok := <-s.udp.Peers():
			if !ok {
				return
			}
			select {
			case s.found <- peer:
			case <-s.stop:
				return
			}
		}
	}
}

// mergeMDNS does not feed the broker directly: per spec §4.5, resolving
// a non-self mDNS entry means unicasting our own identity to its first
// resolved address, and letting that peer's own UDP receiveLoop pick it
// up and dial us back over TCP — exactly the same rendezvous the
// broadcast path produces, just addressed instead of blasted. This also
// means peer.DeviceType (now carried over the real TXT record, not
// fabricated from our own identity) is available for future use but
// doesn't need forwarding here: the peer that dials back announces its
// own full identity on the TCP path.
func (s *Service) mergeMDNS() {
	for {
		select {
		case <-s.stop:
			return
		case peer, ok := <-s.mdns.Peers():
			if !ok {
				return
			}
			if peer.InstanceID == s.selfID || len(peer.AddrsV4) == 0 {
				continue
			}
			addr := mustParseIP(peer.AddrsV4[0])
			if addr == nil {
				continue
			}
			if err := s.udp.SendTo(addr); err != nil {
				s.log.Debugf("discovery: mdns: unicast identity to %s: %v", addr, err)
			}
		}
	}
}

// Peers reports identities discovered by either path, deduplication of
// the same device seen twice being the connection broker's job (spec
// §4.6: dialing an already-connected device id is a no-op).
func (s *Service) Peers() <-chan PeerIdentity { return s.found }

// BroadcastNow requests an immediate UDP identity announcement.
func (s *Service) BroadcastNow() { s.udp.BroadcastNow() }

func mustParseIP(s string) net.IP { return net.ParseIP(s) }

func (s *Service) Close() error {
	close(s.stop)
	if s.mdns != nil {
		s.mdns.Close()
	}
	return s.udp.Close()
}
