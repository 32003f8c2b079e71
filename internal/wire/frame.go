package wire

import "encoding/binary"

// WebSocket opcodes (RFC 6455 §5.2).
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// CloseNormal is the status code sent when answering a client close frame.
const CloseNormal uint16 = 1000

// Frame is a single parsed WebSocket frame. Payload is unmasked.
type Frame struct {
	Fin     bool
	Opcode  byte
	Payload []byte
}

// ParseFrame reads one frame from the front of buf. It returns the frame,
// the number of bytes consumed, and ok=false when buf does not yet hold a
// complete frame. It never fails: the caller keeps accumulating bytes and
// retries. Safe to call repeatedly against a growing buffer holding any
// number of frames split at arbitrary boundaries.
func ParseFrame(buf []byte) (Frame, int, bool) {
	if len(buf) < 2 {
		return Frame{}, 0, false
	}

	fin := buf[0]&0x80 != 0
	opcode := buf[0] & 0x0f
	masked := buf[1]&0x80 != 0
	payloadLen := int(buf[1] & 0x7f)
	offset := 2

	switch payloadLen {
	case 126:
		if len(buf) < 4 {
			return Frame{}, 0, false
		}
		payloadLen = int(binary.BigEndian.Uint16(buf[2:4]))
		offset = 4
	case 127:
		if len(buf) < 10 {
			return Frame{}, 0, false
		}
		// Only the low 32 bits of the 64-bit length are trusted; frames in
		// this protocol are small JSON messages.
		payloadLen = int(binary.BigEndian.Uint64(buf[2:10]) & 0xffffffff)
		offset = 10
	}

	var key [4]byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, false
		}
		copy(key[:], buf[offset:offset+4])
		offset += 4
	}

	if len(buf) < offset+payloadLen {
		return Frame{}, 0, false
	}

	payload := make([]byte, payloadLen)
	copy(payload, buf[offset:offset+payloadLen])
	if masked {
		ApplyMask(payload, key)
	}

	return Frame{Fin: fin, Opcode: opcode, Payload: payload}, offset + payloadLen, true
}

// ApplyMask XORs payload in place with the 4-byte rolling mask key. The
// operation is its own inverse.
func ApplyMask(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}

// EncodeFrame builds a single unfragmented, unmasked frame. Server-to-client
// frames must not be masked per RFC 6455 §5.1.
func EncodeFrame(payload []byte, opcode byte) []byte {
	var header []byte
	first := 0x80 | (opcode & 0x0f)

	switch n := len(payload); {
	case n <= 125:
		header = []byte{first, byte(n)}
	case n <= 65535:
		header = []byte{first, 126, 0, 0}
		binary.BigEndian.PutUint16(header[2:], uint16(n))
	default:
		header = []byte{first, 127, 0, 0, 0, 0, 0, 0, 0, 0}
		binary.BigEndian.PutUint64(header[2:], uint64(n))
	}

	frame := make([]byte, 0, len(header)+len(payload))
	frame = append(frame, header...)
	return append(frame, payload...)
}

// EncodeClose builds a close frame carrying a 2-byte big-endian status code
// followed by an optional reason.
func EncodeClose(code uint16, reason string) []byte {
	payload := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(payload, code)
	copy(payload[2:], reason)
	return EncodeFrame(payload, OpClose)
}
