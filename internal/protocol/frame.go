package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// Frame type bytes, per the wire layout table in spec.md §6.
const (
	TypeHeartbeat    byte = 0x00 // agent -> relay, single byte, no RequestID
	TypeRespHeader   byte = 0x01 // agent -> relay
	TypeRespBodyChunk byte = 0x02 // agent -> relay
	TypeRespEOF      byte = 0x03 // agent -> relay

	TypeReqHeader   byte = 0x10 // relay -> agent
	TypeReqBodyChunk byte = 0x11 // relay -> agent
	TypeReqEOF      byte = 0x12 // relay -> agent
)

// idSize is the byte width of a RequestID on the wire.
const idSize = 16

// RecommendedChunkSize is the suggested body chunk size for both
// directions (spec.md §6). Receivers must cope with chunks up to
// MaxChunkSize.
const RecommendedChunkSize = 16 * 1024

// MaxChunkSize is the largest body chunk a decoder must accept.
const MaxChunkSize = 64 * 1024

// Frame is a decoded tunnel frame. Payload holds the type-specific body:
// for 0x10/0x01 it is the still-encoded metadata (JSON or the fixed
// binary response-header layout); for 0x11/0x02 it is raw chunk bytes;
// for 0x12/0x03/0x00 it is empty.
type Frame struct {
	Type    byte
	ID      RequestID
	Payload []byte
}

// RequestHeaderMeta is the JSON payload of a 0x10 request-header frame.
type RequestHeaderMeta struct {
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers"`
	HasBody bool              `json:"hasBody"`
}

// ResponseHeaderMeta is the decoded form of a 0x01 response-header frame's
// fixed binary layout: status, content-type, and a multi-valued headers map.
type ResponseHeaderMeta struct {
	Status      int
	ContentType string
	Headers     map[string][]string
}

// EncodeHeartbeat returns the single-byte heartbeat frame.
func EncodeHeartbeat() []byte {
	return []byte{TypeHeartbeat}
}

// EncodeReqHeader builds a 0x10 request-header frame.
func EncodeReqHeader(id RequestID, meta RequestHeaderMeta) ([]byte, error) {
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshalling request header metadata: %w", err)
	}
	buf := make([]byte, idSize+1+4+len(metaJSON))
	copy(buf[0:idSize], id[:])
	buf[idSize] = TypeReqHeader
	binary.LittleEndian.PutUint32(buf[idSize+1:idSize+5], uint32(len(metaJSON)))
	copy(buf[idSize+5:], metaJSON)
	return buf, nil
}

// EncodeReqBodyChunk builds a 0x11 request-body-chunk frame.
func EncodeReqBodyChunk(id RequestID, chunk []byte) []byte {
	buf := make([]byte, idSize+1+len(chunk))
	copy(buf[0:idSize], id[:])
	buf[idSize] = TypeReqBodyChunk
	copy(buf[idSize+1:], chunk)
	return buf
}

// EncodeReqEOF builds a 0x12 request-EOF frame.
func EncodeReqEOF(id RequestID) []byte {
	buf := make([]byte, idSize+1)
	copy(buf[0:idSize], id[:])
	buf[idSize] = TypeReqEOF
	return buf
}

// EncodeRespHeader builds a 0x01 response-header frame.
func EncodeRespHeader(id RequestID, meta ResponseHeaderMeta) ([]byte, error) {
	hdrJSON, err := json.Marshal(meta.Headers)
	if err != nil {
		return nil, fmt.Errorf("marshalling response headers: %w", err)
	}
	ct := []byte(meta.ContentType)
	buf := make([]byte, idSize+1+4+4+len(ct)+4+len(hdrJSON))
	off := 0
	copy(buf[off:off+idSize], id[:])
	off += idSize
	buf[off] = TypeRespHeader
	off++
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(meta.Status))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(ct)))
	off += 4
	copy(buf[off:off+len(ct)], ct)
	off += len(ct)
	binary.LittleEndian.PutUint32(buf[off:off+4], uint32(len(hdrJSON)))
	off += 4
	copy(buf[off:off+len(hdrJSON)], hdrJSON)
	return buf, nil
}

// EncodeRespBodyChunk builds a 0x02 response-body-chunk frame.
func EncodeRespBodyChunk(id RequestID, chunk []byte) []byte {
	buf := make([]byte, idSize+1+len(chunk))
	copy(buf[0:idSize], id[:])
	buf[idSize] = TypeRespBodyChunk
	copy(buf[idSize+1:], chunk)
	return buf
}

// EncodeRespEOF builds a 0x03 response-EOF frame.
func EncodeRespEOF(id RequestID) []byte {
	buf := make([]byte, idSize+1)
	copy(buf[0:idSize], id[:])
	buf[idSize] = TypeRespEOF
	return buf
}

// Decode parses a raw websocket message into a Frame. Unknown type bytes
// are returned as-is (Type set, empty interpretation left to the caller,
// which must drop them silently per spec.md §4.1).
func Decode(data []byte) (*Frame, error) {
	if len(data) == 1 && data[0] == TypeHeartbeat {
		return &Frame{Type: TypeHeartbeat}, nil
	}
	if len(data) < idSize+1 {
		return nil, fmt.Errorf("frame too short: %d bytes", len(data))
	}
	var id RequestID
	copy(id[:], data[0:idSize])
	typ := data[idSize]
	payload := data[idSize+1:]

	switch typ {
	case TypeReqEOF, TypeRespEOF:
		if len(payload) != 0 {
			return nil, fmt.Errorf("frame type 0x%02x: unexpected trailing bytes", typ)
		}
	}

	return &Frame{Type: typ, ID: id, Payload: payload}, nil
}

// DecodeReqHeaderMeta decodes the JSON metadata of a 0x10 frame's payload.
func DecodeReqHeaderMeta(payload []byte) (RequestHeaderMeta, error) {
	if len(payload) < 4 {
		return RequestHeaderMeta{}, fmt.Errorf("request header payload too short: %d bytes", len(payload))
	}
	metaLen := binary.LittleEndian.Uint32(payload[0:4])
	if uint32(len(payload)-4) < metaLen {
		return RequestHeaderMeta{}, fmt.Errorf("request header metaLen %d exceeds payload", metaLen)
	}
	var meta RequestHeaderMeta
	if err := json.Unmarshal(payload[4:4+metaLen], &meta); err != nil {
		return RequestHeaderMeta{}, fmt.Errorf("unmarshalling request header metadata: %w", err)
	}
	return meta, nil
}

// DecodeRespHeaderMeta decodes the fixed binary layout of a 0x01 frame's
// payload: status(4) ctLen(4) ct hdrLen(4) hdrJSON.
func DecodeRespHeaderMeta(payload []byte) (ResponseHeaderMeta, error) {
	if len(payload) < 8 {
		return ResponseHeaderMeta{}, fmt.Errorf("response header payload too short: %d bytes", len(payload))
	}
	off := 0
	status := int32(binary.LittleEndian.Uint32(payload[off : off+4]))
	off += 4
	ctLen := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	if uint32(len(payload)-off) < ctLen {
		return ResponseHeaderMeta{}, fmt.Errorf("response header ctLen %d exceeds payload", ctLen)
	}
	ct := string(payload[off : off+int(ctLen)])
	off += int(ctLen)

	if uint32(len(payload)-off) < 4 {
		return ResponseHeaderMeta{}, fmt.Errorf("response header payload missing hdrLen")
	}
	hdrLen := binary.LittleEndian.Uint32(payload[off : off+4])
	off += 4
	if uint32(len(payload)-off) < hdrLen {
		return ResponseHeaderMeta{}, fmt.Errorf("response header hdrLen %d exceeds payload", hdrLen)
	}
	var headers map[string][]string
	if err := json.Unmarshal(payload[off:off+int(hdrLen)], &headers); err != nil {
		// spec.md §4.2: deserialisation failure falls back to an empty map.
		headers = map[string][]string{}
	}

	return ResponseHeaderMeta{
		Status:      int(status),
		ContentType: ct,
		Headers:     headers,
	}, nil
}
