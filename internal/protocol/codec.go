package protocol

import (
	"encoding/binary"
	"fmt"
)

// EncodeHeader serializes a header into a fresh HeaderSize-byte slice.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, HeaderSize)
	PutHeader(buf, h)
	return buf
}

// PutHeader writes h into the first HeaderSize bytes of buf.
func PutHeader(buf []byte, h Header) {
	binary.BigEndian.PutUint16(buf[0:2], h.MessageID)
	binary.BigEndian.PutUint16(buf[2:4], h.Sequence)
}

// DecodeHeader parses the header of a frame and returns it together with the
// bytes that follow it. The returned payload aliases data.
func DecodeHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, fmt.Errorf("%w: %d bytes (need at least %d)", ErrMalformedHeader, len(data), HeaderSize)
	}
	h := Header{
		MessageID: binary.BigEndian.Uint16(data[0:2]),
		Sequence:  binary.BigEndian.Uint16(data[2:4]),
	}
	return h, data[HeaderSize:], nil
}

// EncodeData builds a data fragment frame.
func EncodeData(messageID, sequence uint16, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	PutHeader(buf, Header{MessageID: messageID, Sequence: sequence})
	copy(buf[HeaderSize:], payload)
	return buf
}

// EncodeEnd builds the End-of-Message frame for messageID.
func EncodeEnd(messageID uint16, end End) []byte {
	buf := make([]byte, HeaderSize+EndPayloadSize)
	PutHeader(buf, Header{MessageID: messageID, Sequence: SequenceEnd})
	binary.BigEndian.PutUint16(buf[4:6], end.TotalFragments)
	binary.BigEndian.PutUint16(buf[6:8], end.OriginalLength)
	return buf
}

// DecodeEnd parses an End-of-Message payload (the bytes after the header).
// Bytes beyond EndPayloadSize are ignored.
func DecodeEnd(payload []byte) (End, error) {
	if len(payload) < EndPayloadSize {
		return End{}, fmt.Errorf("%w: end marker carries %d bytes (need %d)", ErrMalformedHeader, len(payload), EndPayloadSize)
	}
	return End{
		TotalFragments: binary.BigEndian.Uint16(payload[0:2]),
		OriginalLength: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// ClampLength converts a blob length into the 16-bit original_length field.
func ClampLength(n int) uint16 {
	if n >= MaxOrigLength {
		return uint16(MaxOrigLength)
	}
	return uint16(n)
}

// EncodeRepairRequest builds a RepairRequest control frame.
func EncodeRepairRequest(req RepairRequest) []byte {
	buf := make([]byte, HeaderSize+4)
	PutHeader(buf, Header{MessageID: ControlID, Sequence: KindRepairRequest})
	binary.BigEndian.PutUint16(buf[4:6], req.MessageID)
	binary.BigEndian.PutUint16(buf[6:8], req.Sequence)
	return buf
}

// DecodeRepairRequest parses a RepairRequest payload (the bytes after the header).
func DecodeRepairRequest(payload []byte) (RepairRequest, error) {
	if len(payload) < 4 {
		return RepairRequest{}, fmt.Errorf("%w: repair request carries %d bytes (need 4)", ErrMalformedHeader, len(payload))
	}
	return RepairRequest{
		MessageID: binary.BigEndian.Uint16(payload[0:2]),
		Sequence:  binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

// EncodeHello builds a Hello control frame announcing nodeID.
func EncodeHello(nodeID uint8) []byte {
	buf := make([]byte, HeaderSize+1)
	PutHeader(buf, Header{MessageID: ControlID, Sequence: KindHello})
	buf[HeaderSize] = nodeID
	return buf
}

// DecodeHello parses a Hello payload.
func DecodeHello(payload []byte) (uint8, error) {
	if len(payload) < 1 {
		return 0, fmt.Errorf("%w: empty hello", ErrMalformedHeader)
	}
	return payload[0], nil
}
