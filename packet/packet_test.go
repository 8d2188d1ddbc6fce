package packet

import (
	"encoding/json"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := Ping{Message: "hi"}
	line, err := EncodeBody(TypePing, body)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	pkt, err := Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if pkt.Type != TypePing {
		t.Fatalf("type = %q, want %q", pkt.Type, TypePing)
	}

	var got Ping
	if err := json.Unmarshal(pkt.Body, &got); err != nil {
		t.Fatalf("unmarshal body: %v", err)
	}
	if got != body {
		t.Fatalf("body = %+v, want %+v", got, body)
	}

	// re-encoding the decoded body must reproduce the same JSON (R1).
	reencoded, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("re-marshal: %v", err)
	}
	original, _ := json.Marshal(body)
	if string(reencoded) != string(original) {
		t.Fatalf("round trip mismatch: %s != %s", reencoded, original)
	}
}

func TestDecodeIDStringOrInt(t *testing.T) {
	intForm := []byte(`{"id":1234,"type":"kdeconnect.ping","body":{"message":"hi"}}`)
	strForm := []byte(`{"id":"1234","type":"kdeconnect.ping","body":{"message":"hi"}}`)

	p1, err := Decode(intForm)
	if err != nil {
		t.Fatalf("decode int form: %v", err)
	}
	p2, err := Decode(strForm)
	if err != nil {
		t.Fatalf("decode string form: %v", err)
	}

	if p1.ID != p2.ID {
		t.Fatalf("ids differ: %d != %d", p1.ID, p2.ID)
	}
	if p1.Type != p2.Type || string(p1.Body) != string(p2.Body) {
		t.Fatalf("decoded packets differ: %+v != %+v", p1, p2)
	}
}

func TestDecodeRejectsMalformedEnvelope(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected decode error for malformed envelope")
	}
}

func TestDecodePreservesUnknownFields(t *testing.T) {
	line := []byte(`{"id":1,"type":"kdeconnect.identity","body":{"deviceId":"abc","unknownField":"kept"}}` + "\n")
	pkt, err := Decode(line)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(pkt.Body, &m); err != nil {
		t.Fatalf("unmarshal body as map: %v", err)
	}
	if _, ok := m["unknownField"]; !ok {
		t.Fatal("unknown field was dropped on decode")
	}
}

func TestShareRequestKind(t *testing.T) {
	cases := []struct {
		req  ShareRequest
		want ShareKind
	}{
		{ShareRequest{Filename: "a.txt"}, ShareFile},
		{ShareRequest{Text: "hello"}, ShareText},
		{ShareRequest{URL: "https://example.com"}, ShareURL},
		{ShareRequest{}, ShareUnknown},
	}
	for _, c := range cases {
		if got := c.req.Kind(); got != c.want {
			t.Errorf("Kind(%+v) = %v, want %v", c.req, got, c.want)
		}
	}
}
