// Package kdeconnect wires the protocol engine's components — config
// store, certificate manager, payload transport, discovery, and
// connection broker — into a single instantiable Engine (spec §2).
package kdeconnect

import (
	"context"
	"fmt"

	"github.com/r58Playz/kdeconnect/discovery"
	"github.com/r58Playz/kdeconnect/kdecert"
	"github.com/r58Playz/kdeconnect/kdeconfig"
	"github.com/r58Playz/kdeconnect/kdepayload"
	"github.com/r58Playz/kdeconnect/kdevice"
	"github.com/r58Playz/kdeconnect/klog"
	"github.com/r58Playz/kdeconnect/packet"
)

// Options aggregates every Engine constructor knob, the way the
// teacher's device.NewDevice(tun, logger) groups its dependencies into
// one call rather than a long parameter list.
type Options struct {
	DeviceID   string
	DeviceName string
	DeviceType packet.DeviceType

	// Store persists keys, the self certificate, and device records.
	// If nil, a FileStore rooted at BaseDir is used.
	Store kdeconfig.Store
	// BaseDir is only consulted when Store is nil.
	BaseDir string

	Handlers kdevice.HandlerFactory

	EnableMDNS bool
	Log        klog.Logger

	IncomingCapabilities []string
	OutgoingCapabilities []string
}

// Engine is one running instance of the protocol core. Nothing about
// it is process-global (spec §9's design note): a host may construct
// more than one.
type Engine struct {
	opts      Options
	store     kdeconfig.Store
	cert      *kdecert.Manager
	transport *kdepayload.Transport
	discovery *discovery.Service
	broker    *kdevice.Broker
	log       klog.Logger

	stop chan struct{}
}

// New constructs and starts an Engine: it loads or generates the local
// keypair/certificate, opens the TCP listener, and starts discovery.
func New(ctx context.Context, opts Options) (*Engine, error) {
	if opts.DeviceID == "" {
		return nil, fmt.Errorf("kdeconnect: Options.DeviceID is required")
	}
	if opts.Handlers == nil {
		return nil, fmt.Errorf("kdeconnect: Options.Handlers is required")
	}
	log := opts.Log
	if log == nil {
		log = klog.Nop()
	}

	store := opts.Store
	if store == nil {
		fs, err := kdeconfig.NewFileStore(opts.BaseDir)
		if err != nil {
			return nil, Wrap(TagIo, err)
		}
		store = fs
	}

	cert, err := kdecert.Load(ctx, store, opts.DeviceID)
	if err != nil {
		return nil, Wrap(TagKeygenOrCert, err)
	}

	transport := kdepayload.New(cert.ServerTLSConfig(), cert.ClientTLSConfig, log)

	identityFn := func() packet.Identity {
		port := 1716
		return packet.Identity{
			DeviceID:             opts.DeviceID,
			DeviceName:           opts.DeviceName,
			DeviceType:           opts.DeviceType,
			ProtocolVersion:      packet.ProtocolVersion,
			IncomingCapabilities: opts.IncomingCapabilities,
			OutgoingCapabilities: opts.OutgoingCapabilities,
			TCPPort:              &port,
		}
	}

	broker := kdevice.NewBroker(cert, store, transport, identityFn, opts.Handlers, log)
	if err := broker.Listen(); err != nil {
		return nil, Wrap(TagIo, err)
	}

	disc, err := discovery.New(discovery.Options{
		Identity:   identityFn,
		DeviceID:   opts.DeviceID,
		DeviceName: opts.DeviceName,
		DeviceType: opts.DeviceType,
		TCPPort:    1716,
		EnableMDNS: opts.EnableMDNS,
		Log:        log,
	})
	if err != nil {
		broker.Close()
		return nil, Wrap(TagMdns, err)
	}

	e := &Engine{
		opts:      opts,
		store:     store,
		cert:      cert,
		transport: transport,
		discovery: disc,
		broker:    broker,
		log:       log,
		stop:      make(chan struct{}),
	}
	go e.dialDiscovered()
	return e, nil
}

// Sessions yields every session the engine establishes, accepted or
// dialed, for the host to observe (e.g. to register it somewhere).
func (e *Engine) Sessions() <-chan *kdevice.Session { return e.broker.Sessions() }

// BroadcastNow requests an immediate UDP identity announcement.
func (e *Engine) BroadcastNow() { e.discovery.BroadcastNow() }

// Connected reports the device ids with a live session.
func (e *Engine) Connected() []string { return e.broker.Connected() }

func (e *Engine) dialDiscovered() {
	for {
		select {
		case <-e.stop:
			return
		case peer, ok := <-e.discovery.Peers():
			if !ok {
				return
			}
			e.broker.DialPeer(peer.Addr, peer.Identity)
		}
	}
}

// Close shuts the engine down: it stops discovery and the TCP listener.
// Sessions already established are not closed; each keeps running until
// its own connection ends.
func (e *Engine) Close() error {
	close(e.stop)
	if err := e.discovery.Close(); err != nil {
		e.log.Errorf("engine: close discovery: %v", err)
	}
	return e.broker.Close()
}
