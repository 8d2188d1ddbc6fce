package kdevice

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"testing"
	"time"

	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdeerr"
	"github.com/r58Playz/kdeconnect/kdepayload"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// fakeHandler records the callbacks tests observe and reports empty
// state; build it with newFakeHandler, whose acceptPair argument is the
// answer to every inbound pair prompt.
type fakeHandler struct {
	pings    chan string
	volUpd   chan volUpdate
	volList  chan []packet.Sink
	clipConn chan clipConn
	pairedCh chan bool
	exited   chan struct{}
	acceptPair bool
}

type volUpdate struct {
	name            string
	enabled, muted  *bool
	volume          *int
}

type clipConn struct {
	content string
	ts      int64
}

func newFakeHandler(acceptPair bool) *fakeHandler {
	return &fakeHandler{
		pings:      make(chan string, 8),
		volUpd:     make(chan volUpdate, 8),
		volList:    make(chan []packet.Sink, 8),
		clipConn:   make(chan clipConn, 8),
		pairedCh:   make(chan bool, 8),
		exited:     make(chan struct{}, 1),
		acceptPair: acceptPair,
	}
}

func (h *fakeHandler) HandlePing(message string) { h.pings <- message }
func (h *fakeHandler) HandleExit() {
	select {
	case h.exited <- struct{}{}:
	default:
	}
}
func (h *fakeHandler) CurrentBattery() packet.Battery                       { return packet.Battery{} }
func (h *fakeHandler) HandleBattery(b packet.Battery)                       {}
func (h *fakeHandler) CurrentConnectivityReport() packet.ConnectivityReport { return packet.ConnectivityReport{} }
func (h *fakeHandler) HandleConnectivityReport(r packet.ConnectivityReport) {}
func (h *fakeHandler) CurrentClipboard() (string, int64)                   { return "", 0 }
func (h *fakeHandler) HandleClipboard(content string)                      {}
func (h *fakeHandler) HandleClipboardConnect(content string, timestampMs int64) {
	h.clipConn <- clipConn{content: content, ts: timestampMs}
}
func (h *fakeHandler) HandlePresenter(dx, dy *float64, stop bool)        {}
func (h *fakeHandler) HandleMousepadRequest(r packet.MousepadRequest)    {}
func (h *fakeHandler) HandleMousepadEcho(e packet.MousepadEcho)          {}
func (h *fakeHandler) HandleMousepadKeyboardState(state bool)            {}
func (h *fakeHandler) HandleFindPhone()                                  {}
func (h *fakeHandler) CurrentSystemVolume() []packet.Sink                { return nil }
func (h *fakeHandler) HandleSystemVolumeList(sinks []packet.Sink)        { h.volList <- sinks }
func (h *fakeHandler) HandleSystemVolumeUpdate(name string, enabled, muted *bool, volume *int) {
	h.volUpd <- volUpdate{name: name, enabled: enabled, muted: muted, volume: volume}
}
func (h *fakeHandler) HandleSystemVolumeRequest(req packet.SystemVolumeRequest) {}
func (h *fakeHandler) HandleShareText(text string)                              {}
func (h *fakeHandler) HandleShareURL(url string)                                {}
func (h *fakeHandler) HandleShareFile(f IncomingFile)                           { f.Body.Close() }
func (h *fakeHandler) HandleShareRequestUpdate(numberOfFiles int, totalPayloadSize int64) {}
func (h *fakeHandler) MprisPlayers() ([]string, bool)                           { return nil, false }
func (h *fakeHandler) HandleMprisPlayerList(players []string, supportsAlbumArt bool) {}
func (h *fakeHandler) MprisPlayerInfo(player string) packet.MprisPlayer         { return packet.MprisPlayer{} }
func (h *fakeHandler) HandleMprisPlayerInfo(info packet.MprisPlayer)           {}
func (h *fakeHandler) HandleMprisAlbumArt(player, url string, body io.ReadCloser) {
	body.Close()
}
func (h *fakeHandler) HandleMprisAction(player, action string, setVolume *int, seek *int64, setPosition *int64) {
}
func (h *fakeHandler) RunCommandList() map[string]packet.CommandEntry { return nil }
func (h *fakeHandler) HandleRunCommand(key string)                     {}
func (h *fakeHandler) HandleRunCommandList(list map[string]packet.CommandEntry) {}
func (h *fakeHandler) HandlePairStatusChange(paired bool)              { h.pairedCh <- paired }
func (h *fakeHandler) HandlePairRequest() bool                         { return h.acceptPair }

// testPeer bundles one side's identity material.
type testPeer struct {
	id        string
	cert      *kdecert.Manager
	store     kdeconfig.Store
	transport *kdepayload.Transport
}

func newTestPeer(t *testing.T, id string) *testPeer {
	t.Helper()
	store := kdeconfig.NewMemStore()
	mgr, err := kdecert.Load(context.Background(), store, id)
	if err != nil {
		t.Fatalf("load cert for %s: %v", id, err)
	}
	return &testPeer{
		id:        id,
		cert:      mgr,
		store:     store,
		transport: kdepayload.New(mgr.ServerTLSConfig(), mgr.ClientTLSConfig, nil),
	}
}

// pairedSessions builds two in-memory TLS-connected sessions, a and b,
// over a net.Pipe, with a playing TLS server and b playing TLS client
// (arbitrary for a unit test; the broker is what decides real role
// inversion). If paired is true, both sides' device records are
// pre-seeded with each other's certificate.
func pairedSessions(t *testing.T, paired bool) (a, b *Session, ha, hb *fakeHandler) {
	t.Helper()
	pa := newTestPeer(t, "device-a")
	pb := newTestPeer(t, "device-b")

	c1, c2 := net.Pipe()
	tlsA := tls.Server(c1, pa.cert.ServerTLSConfig())
	tlsB := tls.Client(c2, pb.cert.ClientTLSConfig("device-a"))

	hsErr := make(chan error, 2)
	go func() { hsErr <- tlsA.Handshake() }()
	go func() { hsErr <- tlsB.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-hsErr; err != nil {
			t.Fatalf("tls handshake: %v", err)
		}
	}

	bCertSeenByA := tlsA.ConnectionState().PeerCertificates[0]
	aCertSeenByB := tlsB.ConnectionState().PeerCertificates[0]

	recA := &kdeconfig.DeviceRecord{ID: pb.id, Name: pb.id}
	recB := &kdeconfig.DeviceRecord{ID: pa.id, Name: pa.id}
	if paired {
		recA.Certificate = bCertSeenByA.Raw
		recB.Certificate = aCertSeenByB.Raw
	}

	ha = newFakeHandler(true)
	hb = newFakeHandler(true)

	a = newSession(sessionParams{
		identity:  packet.Identity{DeviceID: pb.id, DeviceName: pb.id},
		peerIP:    net.ParseIP("127.0.0.1"),
		peerCert:  bCertSeenByA,
		conn:      tlsA,
		record:    recA,
		handler:   ha,
		store:     pa.store,
		cert:      pa.cert,
		transport: pa.transport,
		log:       klog.Nop(),
	})
	b = newSession(sessionParams{
		identity:  packet.Identity{DeviceID: pa.id, DeviceName: pa.id},
		peerIP:    net.ParseIP("127.0.0.1"),
		peerCert:  aCertSeenByB,
		conn:      tlsB,
		record:    recB,
		handler:   hb,
		store:     pb.store,
		cert:      pb.cert,
		transport: pb.transport,
		log:       klog.Nop(),
	})

	go a.run()
	go b.run()
	return a, b, ha, hb
}

func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// I3: paired iff the stored record's certificate matches the peer's
// current TLS certificate byte-for-byte. A stored record whose
// certificate belongs to some other cert (stale pin, wrong device) must
// not read as paired even though the record itself has a non-nil
// certificate.
func TestIsPairedRequiresCertificateMatch(t *testing.T) {
	pa := newTestPeer(t, "device-a")
	pb := newTestPeer(t, "device-b")
	stranger := newTestPeer(t, "device-c")

	c1, c2 := net.Pipe()
	tlsA := tls.Server(c1, pa.cert.ServerTLSConfig())
	tlsB := tls.Client(c2, pb.cert.ClientTLSConfig("device-a"))
	hsErr := make(chan error, 2)
	go func() { hsErr <- tlsA.Handshake() }()
	go func() { hsErr <- tlsB.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-hsErr; err != nil {
			t.Fatalf("tls handshake: %v", err)
		}
	}
	bCertSeenByA := tlsA.ConnectionState().PeerCertificates[0]

	rec := &kdeconfig.DeviceRecord{ID: pb.id, Name: pb.id, Certificate: stranger.cert.Leaf().Raw}
	a := newSession(sessionParams{
		identity:  packet.Identity{DeviceID: pb.id, DeviceName: pb.id},
		peerIP:    net.ParseIP("127.0.0.1"),
		peerCert:  bCertSeenByA,
		conn:      tlsA,
		record:    rec,
		handler:   newFakeHandler(true),
		store:     pa.store,
		cert:      pa.cert,
		transport: pa.transport,
		log:       klog.Nop(),
	})
	defer a.conn.Close()

	if a.IsPaired() {
		t.Fatal("expected IsPaired to be false when stored certificate belongs to a different cert")
	}

	a.setRecordCertificate(bCertSeenByA.Raw)
	if !a.IsPaired() {
		t.Fatal("expected IsPaired to be true once the stored certificate matches the peer's actual certificate")
	}
}

// R2: ping is echoed back to the sender.
func TestPingEcho(t *testing.T) {
	a, b, _, hb := pairedSessions(t, true)
	defer a.conn.Close()
	defer b.conn.Close()

	if err := a.Client().SendPing("hello"); err != nil {
		t.Fatalf("SendPing: %v", err)
	}

	select {
	case got := <-hb.pings:
		if got != "hello" {
			t.Fatalf("got ping %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ping")
	}
}

// R4: SystemVolume::Update patches only the named sink; the handler
// sees exactly the fields the sender set, nothing else synthesized.
func TestSystemVolumeUpdatePatchesNamedSinkOnly(t *testing.T) {
	// Unpaired: run() only fires the paired-data burst (which would
	// otherwise emit its own SystemVolume::Update noise ahead of this
	// test's send) when IsPaired() is true on entry.
	a, b, _, hb := pairedSessions(t, false)
	defer a.conn.Close()
	defer b.conn.Close()

	vol := 42
	update := packet.SystemVolume{Name: "speakers", Volume: &vol}
	if err := a.Client().submit(packet.EncodeBody(packet.TypeSystemVolume, update)); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-hb.volUpd:
		if got.name != "speakers" {
			t.Fatalf("got name %q, want %q", got.name, "speakers")
		}
		if got.enabled != nil || got.muted != nil {
			t.Fatal("expected enabled/muted untouched (nil)")
		}
		if got.volume == nil || *got.volume != 42 {
			t.Fatal("expected volume=42")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for volume update")
	}
}

// R3: pairing then unpairing clears the pinned certificate and flips
// paired back to false.
func TestPairThenUnpairRoundTrip(t *testing.T) {
	a, b, ha, hb := pairedSessions(t, false)
	defer a.conn.Close()
	defer b.conn.Close()

	if err := a.Client().Pair(); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return a.IsPaired() && b.IsPaired() })

	select {
	case paired := <-hb.pairedCh:
		if !paired {
			t.Fatal("expected b's handler to observe paired=true")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for b's pair status callback")
	}

	// a, the initiator, is notified of the completed pair as well.
	select {
	case paired := <-ha.pairedCh:
		if !paired {
			t.Fatal("expected a's handler to observe paired=true once b accepted")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a's pair status callback")
	}

	if err := a.Client().Unpair(); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return !a.IsPaired() && !b.IsPaired() })

	select {
	case paired := <-ha.pairedCh:
		if paired {
			t.Fatal("expected a's handler to observe paired=false from its own unpair")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a's unpair status callback")
	}
}

// stallingHandler never resolves HandlePairRequest, to exercise the
// pairPromptTimeout deadline in promptForPair.
type stallingHandler struct{ *fakeHandler }

func (h stallingHandler) HandlePairRequest() bool {
	select {}
}

// B4: an inbound pair request left unresolved by the handler for the
// full prompt window is declined, and the record is left unpaired.
func TestUnresolvedPairPromptDeclines(t *testing.T) {
	orig := pairPromptTimeout
	pairPromptTimeout = 50 * time.Millisecond
	defer func() { pairPromptTimeout = orig }()

	pa := newTestPeer(t, "device-a")
	pb := newTestPeer(t, "device-b")

	c1, c2 := net.Pipe()
	tlsA := tls.Server(c1, pa.cert.ServerTLSConfig())
	tlsB := tls.Client(c2, pb.cert.ClientTLSConfig("device-a"))
	hsErr := make(chan error, 2)
	go func() { hsErr <- tlsA.Handshake() }()
	go func() { hsErr <- tlsB.Handshake() }()
	for i := 0; i < 2; i++ {
		if err := <-hsErr; err != nil {
			t.Fatalf("handshake: %v", err)
		}
	}
	go io.Copy(io.Discard, tlsB)

	a := newSession(sessionParams{
		identity:  packet.Identity{DeviceID: pb.id},
		peerIP:    net.ParseIP("127.0.0.1"),
		peerCert:  tlsA.ConnectionState().PeerCertificates[0],
		conn:      tlsA,
		record:    &kdeconfig.DeviceRecord{ID: pb.id},
		handler:   stallingHandler{newFakeHandler(true)},
		store:     pa.store,
		cert:      pa.cert,
		transport: pa.transport,
		log:       klog.Nop(),
	})

	a.handlePair(packet.Pair{Pair: true})

	if a.IsPaired() {
		t.Fatal("expected an unresolved prompt to decline pairing")
	}
	if a.record.Paired() {
		t.Fatal("expected the record to remain unpaired after decline")
	}
}

// B5: ClipboardConnect with timestamp 0 is ignored; timestamp > 0 is
// delivered to the handler.
func TestClipboardConnectTimestampGate(t *testing.T) {
	a, b, _, hb := pairedSessions(t, true)
	defer a.conn.Close()
	defer b.conn.Close()

	if err := a.Client().SendClipboardConnect("ignored", 0); err != nil {
		t.Fatalf("send zero-ts: %v", err)
	}
	if err := a.Client().SendClipboardConnect("delivered", 1234); err != nil {
		t.Fatalf("send nonzero-ts: %v", err)
	}

	select {
	case got := <-hb.clipConn:
		if got.content != "delivered" || got.ts != 1234 {
			t.Fatalf("got %+v, want content=delivered ts=1234 (the ts=0 send must be dropped silently)", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for clipboard connect")
	}

	select {
	case got := <-hb.clipConn:
		t.Fatalf("unexpected second delivery: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}
}

// Scenario 1/3: first-time pairing, initiated locally, is accepted by
// the peer's handler and leaves both sides paired with matching certs.
func TestScenarioFirstTimePairAccepted(t *testing.T) {
	a, b, _, _ := pairedSessions(t, false)
	defer a.conn.Close()
	defer b.conn.Close()

	if err := a.Client().Pair(); err != nil {
		t.Fatalf("Pair: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return a.IsPaired() && b.IsPaired() })
}

// Scenario: a peer that declines the inbound prompt leaves the
// initiator with ErrDeviceRejectedPair and both sides unpaired.
func TestScenarioSelfInitiatedPairRejected(t *testing.T) {
	a, b, _, _ := pairedSessions(t, false)
	defer a.conn.Close()
	defer b.conn.Close()
	b.handler.(*fakeHandler).acceptPair = false

	err := a.Client().Pair()
	if err != kdeerr.ErrDeviceRejectedPair {
		t.Fatalf("expected Pair to report ErrDeviceRejectedPair, got %v", err)
	}
	if a.IsPaired() || b.IsPaired() {
		t.Fatal("expected both sides to remain unpaired after rejection")
	}
}
