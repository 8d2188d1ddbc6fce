package kdevice

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdepayload"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

func newTestBroker(t *testing.T, id string, handlers HandlerFactory) *Broker {
	t.Helper()
	store := kdeconfig.NewMemStore()
	cert, err := kdecert.Load(context.Background(), store, id)
	if err != nil {
		t.Fatalf("load cert: %v", err)
	}
	transport := kdepayload.New(cert.ServerTLSConfig(), cert.ClientTLSConfig, nil)
	identity := func() packet.Identity {
		port := 1716
		return packet.Identity{DeviceID: id, DeviceName: id, ProtocolVersion: packet.ProtocolVersion, TCPPort: &port}
	}
	return NewBroker(cert, store, transport, identity, handlers, klog.Nop())
}

// I1: admit refuses a second concurrent connection for a device_id
// already connected; remove clears the way for a future one.
func TestAdmitRefusesDuplicateDeviceID(t *testing.T) {
	b := newTestBroker(t, "self", nil)

	if !b.admit("peer-a") {
		t.Fatal("expected first admit to succeed")
	}
	if b.admit("peer-a") {
		t.Fatal("expected second concurrent admit for the same device_id to fail")
	}

	b.remove("peer-a")
	if !b.admit("peer-a") {
		t.Fatal("expected admit to succeed again after remove")
	}
}

// Scenario 4 / invariant I1 over a real handshake: a listener (acting
// as B's inbound path) only ever produces one session for two
// connection attempts announcing the same device_id back to back.
func TestHandleAcceptedDedupesDuplicateConnections(t *testing.T) {
	bHandlerCalls := make(chan string, 4)
	bBroker := newTestBroker(t, "device-b", func(deviceID string) Handler {
		bHandlerCalls <- deviceID
		return newFakeHandler(true)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go bBroker.handleAccepted(conn)
		}
	}()

	// dialAndAnnounce mirrors exactly what Broker.DialPeer does on the
	// outbound path: write the identity line, then become the TLS
	// server (the accepting side always becomes the TLS client, per
	// handleAccepted's role inversion).
	dialAndAnnounce := func() *tls.Conn {
		conn, err := net.Dial("tcp", ln.Addr().String())
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		aCert, err := kdecert.Load(context.Background(), kdeconfig.NewMemStore(), "device-a")
		if err != nil {
			t.Fatalf("load device-a cert: %v", err)
		}
		selfID := packet.Identity{DeviceID: "device-a", DeviceName: "device-a", ProtocolVersion: packet.ProtocolVersion}
		line, err := packet.EncodeBody(packet.TypeIdentity, selfID)
		if err != nil {
			t.Fatalf("encode identity: %v", err)
		}
		if _, err := conn.Write(line); err != nil {
			t.Fatalf("write identity: %v", err)
		}
		tlsConn := tls.Server(conn, aCert.ServerTLSConfig())
		go tlsConn.Handshake()
		return tlsConn
	}

	first := dialAndAnnounce()
	defer first.Close()

	select {
	case id := <-bHandlerCalls:
		if id != "device-a" {
			t.Fatalf("got handler for %q, want device-a", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first connection to establish a session")
	}

	second := dialAndAnnounce()
	defer second.Close()

	select {
	case id := <-bHandlerCalls:
		t.Fatalf("unexpected second session for %q: duplicate connections must be refused", id)
	case <-time.After(300 * time.Millisecond):
	}

	if got := bBroker.Connected(); len(got) != 1 || got[0] != "device-a" {
		t.Fatalf("connected set = %v, want exactly [device-a]", got)
	}
}

// I5: once a session ends, its device_id is removed from the
// connected set.
func TestConnectedSetClearsOnSessionExit(t *testing.T) {
	bBroker := newTestBroker(t, "device-b", func(deviceID string) Handler {
		return newFakeHandler(true)
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		bBroker.handleAccepted(conn)
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	aCert, err := kdecert.Load(context.Background(), kdeconfig.NewMemStore(), "device-a")
	if err != nil {
		t.Fatalf("load device-a cert: %v", err)
	}
	selfID := packet.Identity{DeviceID: "device-a", DeviceName: "device-a", ProtocolVersion: packet.ProtocolVersion}
	line, err := packet.EncodeBody(packet.TypeIdentity, selfID)
	if err != nil {
		t.Fatalf("encode identity: %v", err)
	}
	if _, err := conn.Write(line); err != nil {
		t.Fatalf("write identity: %v", err)
	}
	tlsConn := tls.Server(conn, aCert.ServerTLSConfig())
	go tlsConn.Handshake()

	waitFor(t, 2*time.Second, func() bool {
		ids := bBroker.Connected()
		return len(ids) == 1 && ids[0] == "device-a"
	})

	tlsConn.Close()

	waitFor(t, 2*time.Second, func() bool { return len(bBroker.Connected()) == 0 })
}
