package discovery

import (
	"net"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

const (
	udpPort           = 1716
	maxDatagramSize    = 8192
	startupDelay       = time.Second
	broadcastInterval  = 30 * time.Second
)

// PeerIdentity pairs a decoded identity packet with the address it
// arrived from.
type PeerIdentity struct {
	Identity packet.Identity
	Addr     net.IP
}

// IdentityFunc produces the identity packet to broadcast, evaluated
// fresh on every tick so device name/capabilities changes take effect
// without restarting discovery.
type IdentityFunc func() packet.Identity

// udpBroadcaster owns the UDP 1716 socket: it periodically announces
// this device's identity and reports identities heard from others.
// Grounded on the teacher's conn/conn_linux.go socket setup and
// device/device.go's sender/receiver goroutine pairing (SPEC_FULL.md §4.5).
type udpBroadcaster struct {
	conn     *net.UDPConn
	pc       *ipv4.PacketConn
	log      klog.Logger
	limiter  *ratelimiter
	identity IdentityFunc
	selfID   string

	peers chan PeerIdentity
	kick  chan struct{}
	stop  chan struct{}
}

func newUDPBroadcaster(identity IdentityFunc, selfID string, log klog.Logger) (*udpBroadcaster, error) {
	if log == nil {
		log = klog.Nop()
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: udpPort})
	if err != nil {
		return nil, err
	}
	if err := enableBroadcast(conn); err != nil {
		conn.Close()
		return nil, err
	}

	// ipv4.PacketConn lets the send path pin a per-packet TTL rather
	// than relying on the OS socket default, the same portable
	// per-packet control the teacher reaches for golang.org/x/net/ipv4
	// to manage (device/device.go).
	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetTTL(1); err != nil {
		log.Debugf("discovery: set udp ttl: %v", err)
	}

	u := &udpBroadcaster{
		conn:     conn,
		pc:       pc,
		log:      log,
		limiter:  newRatelimiter(),
		identity: identity,
		selfID:   selfID,
		peers:    make(chan PeerIdentity, 32),
		kick:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
	go u.sendLoop()
	go u.receiveLoop()
	return u, nil
}

// BroadcastNow requests an out-of-cycle identity announcement, used
// when a client wants to refresh the network immediately rather than
// wait out the 30s tick.
func (u *udpBroadcaster) BroadcastNow() {
	select {
	case u.kick <- struct{}{}:
	default:
	}
}

// Peers yields identities heard from other devices on the LAN.
func (u *udpBroadcaster) Peers() <-chan PeerIdentity { return u.peers }

func (u *udpBroadcaster) Close() error {
	close(u.stop)
	u.limiter.Close()
	return u.conn.Close()
}

func (u *udpBroadcaster) sendLoop() {
	timer := time.NewTimer(startupDelay)
	defer timer.Stop()

	for {
		select {
		case <-u.stop:
			return
		case <-timer.C:
			u.broadcast()
			timer.Reset(broadcastInterval)
		case <-u.kick:
			u.broadcast()
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(broadcastInterval)
		}
	}
}

func (u *udpBroadcaster) broadcast() {
	body, err := packet.EncodeBody(packet.TypeIdentity, u.identity())
	if err != nil {
		u.log.Errorf("discovery: encode identity: %v", err)
		return
	}

	dst := &net.UDPAddr{IP: net.IPv4bcast, Port: udpPort}
	if _, err := u.pc.WriteTo(body, nil, dst); err != nil {
		u.log.Errorf("discovery: broadcast identity: %v", err)
	}
}

// SendTo unicasts our identity to a peer learned from mDNS (spec §4.5):
// the peer's own UDP receiveLoop picks it up and dials us back over TCP,
// exactly as if it had heard a broadcast.
func (u *udpBroadcaster) SendTo(addr net.IP) error {
	body, err := packet.EncodeBody(packet.TypeIdentity, u.identity())
	if err != nil {
		return err
	}
	dst := &net.UDPAddr{IP: addr, Port: udpPort}
	_, err = u.pc.WriteTo(body, nil, dst)
	return err
}

func (u *udpBroadcaster) receiveLoop() {
	// One spare byte lets an oversize datagram be told apart from one of
	// exactly maxDatagramSize bytes.
	buf := make([]byte, maxDatagramSize+1)
	for {
		n, addr, err := u.conn.ReadFromUDP(buf)
		select {
		case <-u.stop:
			return
		default:
		}
		if err != nil {
			u.log.Errorf("discovery: read udp: %v", err)
			return
		}
		if n > maxDatagramSize {
			u.log.Debugf("discovery: dropping oversize datagram from %s", addr)
			continue
		}

		if !u.limiter.Allow(addr.IP) {
			continue
		}

		pkt, err := packet.Decode(buf[:n])
		if err != nil {
			u.log.Debugf("discovery: malformed datagram from %s: %v", addr, err)
			continue
		}
		if pkt.Type != packet.TypeIdentity {
			continue
		}

		var id packet.Identity
		if err := pkt.Unmarshal(&id); err != nil {
			u.log.Debugf("discovery: malformed identity from %s: %v", addr, err)
			continue
		}
		if id.DeviceID == u.selfID || id.TCPPort == nil {
			continue
		}

		select {
		case u.peers <- PeerIdentity{Identity: id, Addr: addr.IP}:
		case <-u.stop:
			return
		}
	}
}
