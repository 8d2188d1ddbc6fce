// Package kdevice implements the per-peer connection lifecycle: the
// connection broker's accept/dial paths, the duplex session loop, the
// pair state machine, and the client facade (spec §4.6-4.8).
package kdevice

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"sync"
	"time"

	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdepayload"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// sessionActionQueueSize bounds the client facade's action queue.
// The reference design calls for an unbounded queue; channels in Go
// are fixed-capacity, so this picks a size generous enough that a
// host driving the facade normally never blocks (same sizing approach
// as the teacher's QueueOutboundSize/QueueHandshakeSize constants).
const sessionActionQueueSize = 256

// state is the session's place in the OPENING/RUNNING/CLOSING machine
// (spec §4.7).
type state int

const (
	stateOpening state = iota
	stateRunning
	stateClosing
)

type sessionParams struct {
	identity  packet.Identity
	peerIP    net.IP
	peerCert  *x509.Certificate
	conn      *tls.Conn
	record    *kdeconfig.DeviceRecord
	handler   Handler
	store     kdeconfig.Store
	cert      *kdecert.Manager
	transport *kdepayload.Transport
	log       klog.Logger
	onExit    func()
}

// Session is the per-peer duplex packet loop (spec §4.7).
type Session struct {
	identity  packet.Identity
	peerIP    net.IP
	peerCert  *x509.Certificate
	conn      *tls.Conn
	record    *kdeconfig.DeviceRecord
	handler   Handler
	store     kdeconfig.Store
	cert      *kdecert.Manager
	transport *kdepayload.Transport
	log       klog.Logger
	onExit    func()

	writeMu sync.Mutex
	state   state

	initiatedPair AtomicBool
	pairMu        sync.Mutex
	pairEvent     chan struct{}

	recordMu sync.Mutex

	actions chan action
	client  *Client

	mprisPlayers    []string
	mprisArtSupport bool
}

func newSession(p sessionParams) *Session {
	s := &Session{
		identity:  p.identity,
		peerIP:    p.peerIP,
		peerCert:  p.peerCert,
		conn:      p.conn,
		record:    p.record,
		handler:   p.handler,
		store:     p.store,
		cert:      p.cert,
		transport: p.transport,
		log:       p.log,
		onExit:    p.onExit,
		state:     stateOpening,
		actions:   make(chan action, sessionActionQueueSize),
	}
	s.client = newClient(s)
	return s
}

// DeviceID is the peer's stable identity.
func (s *Session) DeviceID() string { return s.identity.DeviceID }

// Client returns the facade driving this session (spec §4.8).
func (s *Session) Client() *Client { return s.client }

// IsPaired reports the invariant in spec §3: the device record carries
// a certificate equal to the peer's current TLS certificate.
func (s *Session) IsPaired() bool {
	s.recordMu.Lock()
	defer s.recordMu.Unlock()
	return s.record.Paired() && bytesEqual(s.record.Certificate, s.peerCert.Raw)
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// run drives the session until EOF or a fatal error, then performs the
// CLOSING cleanup on every exit path (spec §4.7, §5 cancellation).
func (s *Session) run() {
	s.state = stateRunning
	defer s.close()

	// The reader starts before the initial burst and queues into a
	// buffered channel, so a peer writing its own burst at the same time
	// is still read from while this side writes.
	lines := make(chan []byte, 64)
	readErrs := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go s.readLoop(lines, readErrs, done)

	if s.IsPaired() {
		s.sendBurst()
	}

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !s.handleLine(line) {
				return
			}
		case err := <-readErrs:
			if err != nil {
				s.log.Debugf("session %s: read loop ended: %v", s.DeviceID(), err)
			}
			// lines is closed after the last queued line; keep draining it.
			readErrs = nil
		case act := <-s.actions:
			s.handleAction(act)
		}
	}
}

func (s *Session) readLoop(lines chan<- []byte, errs chan<- error, done <-chan struct{}) {
	defer close(lines)
	for {
		line, err := readLineUnbuffered(s.conn)
		if len(line) > 0 {
			select {
			case lines <- line:
			case <-done:
				return
			}
		}
		if err != nil {
			errs <- err
			return
		}
	}
}

// handleLine decodes and dispatches one inbound line. It reports false
// for a malformed envelope, which ends the session.
func (s *Session) handleLine(line []byte) bool {
	pkt, err := packet.Decode(line)
	if err != nil {
		s.log.Errorf("session %s: malformed envelope, closing: %v", s.DeviceID(), err)
		return false
	}
	s.dispatch(pkt)
	return true
}

func (s *Session) close() {
	s.state = stateClosing
	s.conn.Close()
	if s.handler != nil {
		s.handler.HandleExit()
	}
	if s.onExit != nil {
		s.onExit()
	}
}

// writeLine serializes one frame under the writer mutex (spec §5's
// serialized writer half invariant).
func (s *Session) writeLine(line []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(line)
	return err
}

func (s *Session) send(typ string, body interface{}) error {
	line, err := packet.EncodeBody(typ, body)
	if err != nil {
		return err
	}
	return s.writeLine(line)
}

func (s *Session) sendWithPayload(typ string, body interface{}, payloadSize int64, payloadPort uint16) error {
	line, err := packet.Encode(typ, body, payloadSize, payloadPort, true)
	if err != nil {
		return err
	}
	return s.writeLine(line)
}

func (s *Session) persistRecord() error {
	s.recordMu.Lock()
	rec := *s.record
	s.recordMu.Unlock()
	return s.store.SaveDevice(context.Background(), &rec)
}

func nowMillis() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }
