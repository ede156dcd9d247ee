package protocol

import (
	"bytes"
	"testing"
)

func Test_req_header_round_trip(t *testing.T) {
	id := NewRequestID()
	meta := RequestHeaderMeta{
		Method:  "GET",
		Path:    "/api/users?x=1",
		Headers: map[string]string{"Accept": "application/json"},
		HasBody: false,
	}

	data, err := EncodeReqHeader(id, meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != TypeReqHeader {
		t.Fatalf("type = %#x, want %#x", frame.Type, TypeReqHeader)
	}
	if frame.ID != id {
		t.Fatalf("id mismatch")
	}

	decodedMeta, err := DecodeReqHeaderMeta(frame.Payload)
	if err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if decodedMeta.Method != meta.Method || decodedMeta.Path != meta.Path {
		t.Errorf("meta mismatch: got %+v, want %+v", decodedMeta, meta)
	}
}

func Test_resp_header_round_trip(t *testing.T) {
	id := NewRequestID()
	meta := ResponseHeaderMeta{
		Status:      200,
		ContentType: "application/json",
		Headers:     map[string][]string{"Set-Cookie": {"a=1", "b=2"}},
	}

	data, err := EncodeRespHeader(id, meta)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != TypeRespHeader {
		t.Fatalf("type = %#x, want %#x", frame.Type, TypeRespHeader)
	}

	decoded, err := DecodeRespHeaderMeta(frame.Payload)
	if err != nil {
		t.Fatalf("decode meta: %v", err)
	}
	if decoded.Status != 200 || decoded.ContentType != "application/json" {
		t.Errorf("meta mismatch: %+v", decoded)
	}
	if len(decoded.Headers["Set-Cookie"]) != 2 {
		t.Errorf("expected 2 Set-Cookie values, got %v", decoded.Headers["Set-Cookie"])
	}
}

func Test_body_chunk_round_trip_various_sizes(t *testing.T) {
	id := NewRequestID()
	for _, n := range []int{0, 1, 1024, MaxChunkSize} {
		chunk := bytes.Repeat([]byte{0xAB}, n)
		data := EncodeReqBodyChunk(id, chunk)
		frame, err := Decode(data)
		if err != nil {
			t.Fatalf("decode n=%d: %v", n, err)
		}
		if frame.Type != TypeReqBodyChunk {
			t.Fatalf("n=%d: type = %#x", n, frame.Type)
		}
		if !bytes.Equal(frame.Payload, chunk) {
			t.Errorf("n=%d: payload mismatch", n)
		}
	}
}

func Test_eof_frames_round_trip(t *testing.T) {
	id := NewRequestID()
	for _, data := range [][]byte{EncodeReqEOF(id), EncodeRespEOF(id)} {
		frame, err := Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(frame.Payload) != 0 {
			t.Errorf("expected empty payload, got %d bytes", len(frame.Payload))
		}
	}
}

func Test_heartbeat_has_no_id(t *testing.T) {
	data := EncodeHeartbeat()
	if len(data) != 1 {
		t.Fatalf("heartbeat frame should be 1 byte, got %d", len(data))
	}
	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if frame.Type != TypeHeartbeat {
		t.Errorf("type = %#x, want 0x00", frame.Type)
	}
}

func Test_decode_rejects_truncated_frame(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	if err == nil {
		t.Fatal("expected error for truncated frame")
	}
}

func Test_decode_unknown_type_still_parses_generic_header(t *testing.T) {
	// Unknown type bytes must not be rejected outright by Decode; callers
	// are responsible for dropping them silently (spec.md §4.1).
	id := NewRequestID()
	buf := append(append([]byte{}, id[:]...), 0x7F)
	frame, err := Decode(buf)
	if err != nil {
		t.Fatalf("decode of unknown type should not error: %v", err)
	}
	if frame.Type != 0x7F {
		t.Errorf("type = %#x, want 0x7F", frame.Type)
	}
}

func Test_next_request_id_is_unique_and_random(t *testing.T) {
	a := NewRequestID()
	b := NewRequestID()
	if a == b {
		t.Fatal("expected distinct request ids")
	}
	if a.IsZero() || b.IsZero() {
		t.Fatal("expected non-zero request ids")
	}
}
