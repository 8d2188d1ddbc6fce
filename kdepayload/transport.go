// Package kdepayload implements the ephemeral TLS side channel used to
// ship binary blobs (files, album art) alongside the control session
// (spec §4.4).
package kdepayload

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"

	"github.com/r58Playz/kdeconnect/klog"
)

// Overridable only by this package's tests, to exercise exhaustion
// without binding the full 4001-port production window.
var (
	portRangeStart = 60000
	portRangeEnd   = 64000
)

// Transport allocates ephemeral TLS listeners for outbound transfers
// and dials peer-advertised ports for inbound ones. One Transport is
// shared by every session of an engine.
type Transport struct {
	serverConfig *tls.Config
	clientConfig func(sni string) *tls.Config
	log          klog.Logger
}

// New builds a Transport. clientConfig must return a fresh client
// tls.Config for the given SNI (mirrors kdecert.Manager.ClientTLSConfig).
func New(serverConfig *tls.Config, clientConfig func(sni string) *tls.Config, log klog.Logger) *Transport {
	if log == nil {
		log = klog.Nop()
	}
	return &Transport{serverConfig: serverConfig, clientConfig: clientConfig, log: log}
}

// Send scans ports [60000, 64000] sequentially for the first free TCP
// bind, returning that port and a channel that receives the outcome of
// the eventual transfer. The caller is expected to advertise port over
// the control channel and let the returned goroutine run to
// completion. done receives exactly one value, nil on success or the
// error that ended the transfer (which is also logged here); it is
// buffered, so the goroutine finishes even if done is never read.
func (t *Transport) Send(r io.Reader, size int64) (port uint16, done <-chan error, err error) {
	ln, boundPort, err := t.bindFirstFree()
	if err != nil {
		return 0, nil, err
	}

	result := make(chan error, 1)
	go func() {
		defer ln.Close()
		result <- t.acceptAndStream(ln, r, size)
	}()

	return boundPort, result, nil
}

func (t *Transport) bindFirstFree() (net.Listener, uint16, error) {
	for p := portRangeStart; p <= portRangeEnd; p++ {
		ln, err := tls.Listen("tcp", fmt.Sprintf(":%d", p), t.serverConfig)
		if err == nil {
			return ln, uint16(p), nil
		}
	}
	return nil, 0, fmt.Errorf("payload transport: %w", errNoPortFound)
}

func (t *Transport) acceptAndStream(ln net.Listener, r io.Reader, size int64) error {
	conn, err := ln.Accept()
	if err != nil {
		t.log.Errorf("payload accept failed: %v", err)
		return err
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if ok {
		if err := tlsConn.Handshake(); err != nil {
			t.log.Errorf("payload TLS handshake failed: %v", err)
			return err
		}
	}

	n, err := io.CopyN(conn, r, size)
	if err != nil && err != io.EOF {
		t.log.Errorf("payload stream failed after %d/%d bytes: %v", n, size, err)
		return err
	}
	return nil
}

// Receive dials ip:port, performs a TLS client handshake, and returns
// the resulting stream truncated to exactly size bytes.
func (t *Transport) Receive(ip net.IP, port uint16, size int64) (io.ReadCloser, error) {
	addr := fmt.Sprintf("%s:%d", ip.String(), port)
	conn, err := tls.Dial("tcp", addr, t.clientConfig(ip.String()))
	if err != nil {
		return nil, fmt.Errorf("payload dial %s: %w", addr, err)
	}
	return &boundedStream{Conn: conn, remaining: size}, nil
}

type boundedStream struct {
	net.Conn
	remaining int64
}

func (b *boundedStream) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.Conn.Read(p)
	b.remaining -= int64(n)
	return n, err
}

var errNoPortFound = fmt.Errorf("no free port in [%d, %d]", portRangeStart, portRangeEnd)

// ErrNoPortFound is returned by Send when the entire port window is
// occupied (spec §4.4's NoPayloadTransferPortFound).
func ErrNoPortFound() error { return errNoPortFound }
