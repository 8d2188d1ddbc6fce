// Package kdeconfig defines the config store interface the engine
// requires (spec §4.2) and ships two implementations: a file-backed
// store for production use and an in-memory store for tests.
package kdeconfig

import (
	"context"

	"github.com/r58Playz/kdeconnect/packet"
)

// DeviceRecord is one persisted peer (spec §3). Certificate is the DER
// of the peer's TLS end-entity certificate observed at pairing time;
// its presence is the definition of "paired" (spec invariant 2).
type DeviceRecord struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	DeviceType  packet.DeviceType `json:"deviceType"`
	Certificate []byte            `json:"certificate,omitempty"`
}

// Paired reports whether this record carries a pinned certificate.
func (d *DeviceRecord) Paired() bool {
	return d != nil && len(d.Certificate) > 0
}

// Store is the seven operations the core requires of a persistence
// backend (spec §4.2). Implementations must serialize their own writers
// per key; the core assumes at-most-one concurrent writer per key.
type Store interface {
	LoadKeypair(ctx context.Context) ([]byte, error)
	SaveKeypair(ctx context.Context, der []byte) error

	LoadCertificate(ctx context.Context) ([]byte, error)
	SaveCertificate(ctx context.Context, der []byte) error

	SaveDevice(ctx context.Context, rec *DeviceRecord) error
	LoadDevice(ctx context.Context, id string) (*DeviceRecord, error)
	ListDevices(ctx context.Context) ([]*DeviceRecord, error)
}

// ErrNotFound is returned by LoadKeypair/LoadCertificate/LoadDevice
// when the requested blob or record does not exist.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "kdeconfig: not found" }
