package quic

import "errors"

// FrameType is the wire type tag of a frame, matching original_source's
// FrameType enum (Padding, Ping, ConnectionClose) plus Crypto, which the
// Rust source never modeled but the teacher's parser.go decodes.
type FrameType uint64

const (
	FrameTypePadding         FrameType = 0x00
	FrameTypePing            FrameType = 0x01
	FrameTypeCrypto          FrameType = 0x06
	FrameTypeConnectionClose FrameType = 0x1c
)

var ErrInvalidFrame = errors.New("quic: invalid frame")

// Frame is the decoded form of one of the four frame types this endpoint
// speaks. Exactly one of the typed fields is meaningful, selected by Type.
type Frame struct {
	Type FrameType

	// Padding
	PaddingLength int

	// Crypto
	CryptoOffset uint64
	CryptoData   []byte

	// ConnectionClose
	ErrorCode        uint64
	TriggerFrameType uint64
	ReasonPhrase     string
}

// PaddingFrame constructs a run of n zero bytes, decoded back as a single
// Frame with PaddingLength n — mirrors original_source's Frame::Padding{length}.
func PaddingFrame(n int) Frame { return Frame{Type: FrameTypePadding, PaddingLength: n} }

// PingFrame constructs the no-payload Ping frame.
func PingFrame() Frame { return Frame{Type: FrameTypePing} }

// CryptoFrame constructs a CRYPTO frame carrying data at the given stream
// offset.
func CryptoFrame(offset uint64, data []byte) Frame {
	return Frame{Type: FrameTypeCrypto, CryptoOffset: offset, CryptoData: data}
}

// ConnectionCloseFrame constructs a CONNECTION_CLOSE frame. triggerFrameType
// mirrors original_source's own placeholder field, always encoded as a
// literal varint (0 when the closing endpoint isn't attributing the close to
// a specific received frame).
func ConnectionCloseFrame(code uint64, triggerFrameType uint64, reason string) Frame {
	return Frame{Type: FrameTypeConnectionClose, ErrorCode: code, TriggerFrameType: triggerFrameType, ReasonPhrase: reason}
}

// EncodeFrame appends the wire encoding of f to buf.
func EncodeFrame(buf []byte, f Frame) ([]byte, error) {
	var err error
	switch f.Type {
	case FrameTypePadding:
		for i := 0; i < f.PaddingLength; i++ {
			buf = append(buf, byte(FrameTypePadding))
		}
		return buf, nil
	case FrameTypePing:
		return append(buf, byte(f.Type)), nil
	case FrameTypeCrypto:
		buf = append(buf, byte(f.Type))
		if buf, err = AppendVarInt(buf, f.CryptoOffset); err != nil {
			return nil, err
		}
		if buf, err = AppendVarInt(buf, uint64(len(f.CryptoData))); err != nil {
			return nil, err
		}
		return append(buf, f.CryptoData...), nil
	case FrameTypeConnectionClose:
		buf = append(buf, byte(f.Type))
		if buf, err = AppendVarInt(buf, f.ErrorCode); err != nil {
			return nil, err
		}
		if buf, err = AppendVarInt(buf, f.TriggerFrameType); err != nil {
			return nil, err
		}
		reason := []byte(f.ReasonPhrase)
		if buf, err = AppendVarInt(buf, uint64(len(reason))); err != nil {
			return nil, err
		}
		return append(buf, reason...), nil
	default:
		return nil, ErrInvalidFrame
	}
}

// DecodeFrame parses one frame from the front of data, returning the frame
// and the number of bytes it occupied.
func DecodeFrame(data []byte) (Frame, int, error) {
	if len(data) == 0 {
		return Frame{}, 0, ErrInvalidFrame
	}
	switch FrameType(data[0]) {
	case FrameTypePadding:
		n := 1
		for n < len(data) && data[n] == byte(FrameTypePadding) {
			n++
		}
		return PaddingFrame(n), n, nil
	case FrameTypePing:
		return PingFrame(), 1, nil
	case FrameTypeCrypto:
		off := 1
		offset, n, err := ReadVarInt(data[off:])
		if err != nil {
			return Frame{}, 0, err
		}
		off += n
		length, n, err := ReadVarInt(data[off:])
		if err != nil {
			return Frame{}, 0, err
		}
		off += n
		if uint64(len(data)-off) < length {
			return Frame{}, 0, ErrInvalidFrame
		}
		cryptoData := append([]byte(nil), data[off:off+int(length)]...)
		off += int(length)
		return CryptoFrame(offset, cryptoData), off, nil
	case FrameTypeConnectionClose:
		off := 1
		code, n, err := ReadVarInt(data[off:])
		if err != nil {
			return Frame{}, 0, err
		}
		off += n
		trigger, n, err := ReadVarInt(data[off:])
		if err != nil {
			return Frame{}, 0, err
		}
		off += n
		length, n, err := ReadVarInt(data[off:])
		if err != nil {
			return Frame{}, 0, err
		}
		off += n
		if uint64(len(data)-off) < length {
			return Frame{}, 0, ErrInvalidFrame
		}
		reason := string(data[off : off+int(length)])
		off += int(length)
		return ConnectionCloseFrame(code, trigger, reason), off, nil
	default:
		return Frame{}, 0, ErrInvalidFrame
	}
}

// DecodeFrames parses every frame in a packet's payload in order. On a
// decode error (e.g. an unknown frame type) it returns the frames
// successfully decoded before the failure alongside the error, rather than
// discarding them — a packet is accepted up to the first unknown frame type,
// not rejected wholesale.
func DecodeFrames(payload []byte) ([]Frame, error) {
	var frames []Frame
	for len(payload) > 0 {
		f, n, err := DecodeFrame(payload)
		if err != nil {
			return frames, err
		}
		frames = append(frames, f)
		payload = payload[n:]
	}
	return frames, nil
}
