// Package packet implements the KDE Connect wire framing: one
// type-tagged JSON object per line, with optional payload side-channel
// metadata (spec §4.1).
package packet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"
)

// PayloadTransferInfo advertises the peer's TLS port for a side-channel
// transfer referenced by the enclosing packet.
type PayloadTransferInfo struct {
	Port uint16 `json:"port"`
}

// Packet is the outer envelope every kdeconnect message is framed in.
type Packet struct {
	ID                int64                `json:"-"`
	Type              string               `json:"type"`
	Body              json.RawMessage      `json:"body"`
	PayloadSize       *int64               `json:"payloadSize,omitempty"`
	PayloadTransfer   *PayloadTransferInfo `json:"payloadTransferInfo,omitempty"`
}

// wirePacket mirrors Packet but lets ID round-trip through either JSON
// form a peer might use (integer or decimal string), per spec §3.
type wirePacket struct {
	ID              json.RawMessage      `json:"id"`
	Type            string               `json:"type"`
	Body            json.RawMessage      `json:"body"`
	PayloadSize     *int64               `json:"payloadSize,omitempty"`
	PayloadTransfer *PayloadTransferInfo `json:"payloadTransferInfo,omitempty"`
}

// lastID is the most recent id handed out by nextID, keeping IDs
// monotonic per process (spec invariant I5 in spec.md §3: "monotonically
// increases per emitter").
var lastID int64

// nextID returns the current Unix time in milliseconds, or one more than
// the previous id when that time is not past it (several packets within
// one millisecond, or a clock step backwards), so the ids this process
// emits strictly increase.
func nextID() int64 {
	for {
		prev := atomic.LoadInt64(&lastID)
		id := time.Now().UnixMilli()
		if id <= prev {
			id = prev + 1
		}
		if atomic.CompareAndSwapInt64(&lastID, prev, id) {
			return id
		}
	}
}

// Encode serializes body under the given wire type, attaches a fresh
// timestamp ID, optionally advertises a payload transfer, and appends a
// trailing newline.
func Encode(typ string, body interface{}, payloadSize int64, payloadPort uint16, hasPayload bool) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	w := wireStruct{
		ID:   nextID(),
		Type: typ,
		Body: raw,
	}
	if hasPayload {
		w.PayloadSize = &payloadSize
		w.PayloadTransfer = &PayloadTransferInfo{Port: payloadPort}
	}

	encoded, err := json.Marshal(w)
	if err != nil {
		return nil, err
	}
	return append(encoded, '\n'), nil
}

// wireStruct is the concrete JSON shape written on encode: ID is always
// emitted as an integer (spec §3: "emit the integer form").
type wireStruct struct {
	ID              int64                `json:"id"`
	Type            string               `json:"type"`
	Body            json.RawMessage      `json:"body"`
	PayloadSize     *int64               `json:"payloadSize,omitempty"`
	PayloadTransfer *PayloadTransferInfo `json:"payloadTransferInfo,omitempty"`
}

// Decode parses one line (without its trailing newline, though a
// trailing newline is tolerated) into a Packet. A malformed envelope is
// a fatal error for the caller's session (spec §4.1).
func Decode(line []byte) (*Packet, error) {
	line = bytes.TrimRight(line, "\r\n")

	var w wirePacket
	if err := json.Unmarshal(line, &w); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	id, err := decodeID(w.ID)
	if err != nil {
		return nil, fmt.Errorf("decode id: %w", err)
	}

	return &Packet{
		ID:              id,
		Type:            w.Type,
		Body:            w.Body,
		PayloadSize:     w.PayloadSize,
		PayloadTransfer: w.PayloadTransfer,
	}, nil
}

// decodeID accepts both an integer and a decimal-string JSON id (spec
// §3's wire-compatibility note).
func decodeID(raw json.RawMessage) (int64, error) {
	var asInt int64
	if err := json.Unmarshal(raw, &asInt); err == nil {
		return asInt, nil
	}

	var asStr string
	if err := json.Unmarshal(raw, &asStr); err == nil {
		n, err := strconv.ParseInt(asStr, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("id string %q not a valid integer: %w", asStr, err)
		}
		return n, nil
	}

	return 0, fmt.Errorf("id is neither an integer nor a string")
}

// EncodeBody is a convenience wrapper for callers that don't need a
// payload side-channel.
func EncodeBody(typ string, body interface{}) ([]byte, error) {
	return Encode(typ, body, 0, 0, false)
}

// Unmarshal decodes the packet's body into v, the typed counterpart of
// the untyped dispatch every inbound Packet goes through.
func (p *Packet) Unmarshal(v interface{}) error {
	return json.Unmarshal(p.Body, v)
}
