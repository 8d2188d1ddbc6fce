package kdevice

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdeerr"
	"github.com/r58Playz/kdeconnect/kdepayload"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

const tcpPort = 1716

// HandlerFactory builds the host-side collaborator for a newly
// established session against the given peer device id.
type HandlerFactory func(deviceID string) Handler

// Broker accepts and dials TCP connections, performs the symmetric
// identity+TLS handshake with role inversion, and hands each resulting
// Session out over Sessions() (spec §4.6).
type Broker struct {
	cert      *kdecert.Manager
	store     kdeconfig.Store
	transport *kdepayload.Transport
	identity  func() packet.Identity
	handlers  HandlerFactory
	log       klog.Logger

	mu        sync.Mutex
	connected map[string]struct{}

	ln net.Listener

	sessions chan *Session
	stop     chan struct{}
}

// NewBroker builds a Broker. identity returns the local identity body
// to announce on the outbound TCP path.
func NewBroker(cert *kdecert.Manager, store kdeconfig.Store, transport *kdepayload.Transport, identity func() packet.Identity, handlers HandlerFactory, log klog.Logger) *Broker {
	if log == nil {
		log = klog.Nop()
	}
	return &Broker{
		cert:      cert,
		store:     store,
		transport: transport,
		identity:  identity,
		handlers:  handlers,
		log:       log,
		connected: make(map[string]struct{}),
		sessions:  make(chan *Session, 8),
		stop:      make(chan struct{}),
	}
}

// Sessions yields every session the broker establishes, accepted or dialed.
func (b *Broker) Sessions() <-chan *Session { return b.sessions }

// Listen starts accepting inbound TCP connections on port 1716.
func (b *Broker) Listen() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", tcpPort))
	if err != nil {
		return kdeerr.Wrap(kdeerr.TagIo, err)
	}
	b.ln = ln
	go b.acceptLoop()
	return nil
}

func (b *Broker) Close() error {
	close(b.stop)
	if b.ln != nil {
		return b.ln.Close()
	}
	return nil
}

func (b *Broker) acceptLoop() {
	for {
		conn, err := b.ln.Accept()
		if err != nil {
			select {
			case <-b.stop:
				return
			default:
			}
			b.log.Errorf("broker: accept: %v", err)
			return
		}
		go b.handleAccepted(conn)
	}
}

// handleAccepted implements the accepted TCP path (spec §4.6): read one
// identity line, dedup, then perform a TLS client handshake — this
// side becomes the TLS client.
func (b *Broker) handleAccepted(conn net.Conn) {
	id, err := readIdentityLine(conn)
	if err != nil {
		b.log.Debugf("broker: accepted connection identity read failed: %v", err)
		conn.Close()
		return
	}

	if !b.admit(id.DeviceID) {
		b.log.Debugf("broker: dropping duplicate connection from %s", id.DeviceID)
		conn.Close()
		return
	}

	tlsConn := tls.Client(conn, b.cert.ClientTLSConfig(id.DeviceID))
	if err := tlsConn.Handshake(); err != nil {
		b.log.Errorf("broker: client handshake with %s failed: %v", id.DeviceID, err)
		b.remove(id.DeviceID)
		conn.Close()
		return
	}

	peerIP := remoteIP(conn)
	b.finish(id, peerIP, tlsConn)
}

// DialPeer implements the outbound TCP path (spec §4.6): dial
// (peerIP, *peer.TCPPort), announce our own identity with tcp_port
// omitted, then TLS-server-handshake — this side becomes the TLS
// server. peer must be a discovery-sourced identity carrying TCPPort.
func (b *Broker) DialPeer(peerIP net.IP, peer packet.Identity) {
	if peer.TCPPort == nil {
		b.log.Debugf("broker: discovered identity for %s has no tcp_port, ignoring", peer.DeviceID)
		return
	}
	if !b.admit(peer.DeviceID) {
		b.log.Debugf("broker: already connected to %s, skipping dial", peer.DeviceID)
		return
	}

	addr := fmt.Sprintf("%s:%d", peerIP.String(), *peer.TCPPort)
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.log.Errorf("broker: dial %s: %v", addr, err)
		b.remove(peer.DeviceID)
		return
	}

	self := b.identity()
	self.TCPPort = nil
	line, err := packet.EncodeBody(packet.TypeIdentity, self)
	if err != nil {
		b.log.Errorf("broker: encode outbound identity: %v", err)
		b.remove(peer.DeviceID)
		conn.Close()
		return
	}
	if _, err := conn.Write(line); err != nil {
		b.log.Errorf("broker: write outbound identity to %s: %v", addr, err)
		b.remove(peer.DeviceID)
		conn.Close()
		return
	}

	tlsConn := tls.Server(conn, b.cert.ServerTLSConfig())
	if err := tlsConn.Handshake(); err != nil {
		b.log.Errorf("broker: server handshake with %s: %v", addr, err)
		b.remove(peer.DeviceID)
		conn.Close()
		return
	}

	b.finish(peer, peerIP, tlsConn)
}

func (b *Broker) finish(id packet.Identity, peerIP net.IP, tlsConn *tls.Conn) {
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		b.log.Errorf("broker: %s presented no certificate at handshake", id.DeviceID)
		b.remove(id.DeviceID)
		tlsConn.Close()
		return
	}
	peerCert := state.PeerCertificates[0]

	record, err := b.store.LoadDevice(context.Background(), id.DeviceID)
	if err != nil && !errors.Is(err, kdeconfig.ErrNotFound) {
		b.log.Errorf("broker: load device record for %s: %v", id.DeviceID, err)
		b.remove(id.DeviceID)
		tlsConn.Close()
		return
	}
	if record == nil {
		record = &kdeconfig.DeviceRecord{ID: id.DeviceID, Name: id.DeviceName, DeviceType: id.DeviceType}
	}

	handler := b.handlers(id.DeviceID)
	sess := newSession(sessionParams{
		identity:  id,
		peerIP:    peerIP,
		peerCert:  peerCert,
		conn:      tlsConn,
		record:    record,
		handler:   handler,
		store:     b.store,
		cert:      b.cert,
		transport: b.transport,
		log:       b.log,
		onExit:    func() { b.remove(id.DeviceID) },
	})

	select {
	case b.sessions <- sess:
	case <-b.stop:
		tlsConn.Close()
		return
	}
	go sess.run()
}

func (b *Broker) admit(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.connected[id]; ok {
		return false
	}
	b.connected[id] = struct{}{}
	return true
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.connected, id)
}

// Connected reports the device ids with a live session (invariant I1).
func (b *Broker) Connected() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.connected))
	for id := range b.connected {
		ids = append(ids, id)
	}
	return ids
}

// readIdentityLine reads exactly one newline-terminated line off conn,
// one byte at a time. A buffered reader would risk over-reading into
// the TLS handshake bytes that follow on the same raw stream.
func readIdentityLine(conn net.Conn) (packet.Identity, error) {
	line, err := readLineUnbuffered(conn)
	if err != nil {
		return packet.Identity{}, kdeerr.Wrap(kdeerr.TagIo, err)
	}
	pkt, err := packet.Decode(line)
	if err != nil {
		return packet.Identity{}, kdeerr.Wrap(kdeerr.TagJsonDecode, err)
	}
	if pkt.Type != packet.TypeIdentity {
		return packet.Identity{}, fmt.Errorf("expected identity packet, got %q", pkt.Type)
	}
	var id packet.Identity
	if err := pkt.Unmarshal(&id); err != nil {
		return packet.Identity{}, kdeerr.Wrap(kdeerr.TagJsonDecode, err)
	}
	return id, nil
}

func readLineUnbuffered(conn net.Conn) ([]byte, error) {
	var line []byte
	buf := make([]byte, 1)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if buf[0] == '\n' {
				return line, nil
			}
			line = append(line, buf[0])
		}
		if err != nil {
			return line, err
		}
	}
}

func remoteIP(conn net.Conn) net.IP {
	addr, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return nil
	}
	return addr.IP
}
