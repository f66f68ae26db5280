package quic

import (
	"bytes"
	"testing"
)

func TestFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		f    Frame
	}{
		{"padding", PaddingFrame(1)},
		{"padding run", PaddingFrame(5)},
		{"ping", PingFrame()},
		{"crypto", CryptoFrame(0, []byte("client hello bytes"))},
		{"crypto offset", CryptoFrame(512, []byte{1, 2, 3, 4})},
		{"crypto empty", CryptoFrame(0, nil)},
		{"connection close", ConnectionCloseFrame(0x0a, 0, "protocol violation")},
		{"connection close with trigger", ConnectionCloseFrame(1, 0x06, "bad crypto frame")},
		{"connection close unicode reason", ConnectionCloseFrame(1, 0, "ошибка")},
		{"connection close empty reason", ConnectionCloseFrame(0, 0, "")},
		{"connection close large error code", ConnectionCloseFrame((1<<62)-1, 0, "big")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := EncodeFrame(nil, tc.f)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}
			if tc.f.Type == FrameTypePadding && len(buf) != tc.f.PaddingLength {
				t.Fatalf("encoded %d padding bytes, want %d", len(buf), tc.f.PaddingLength)
			}
			got, n, err := DecodeFrame(buf)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if n != len(buf) {
				t.Fatalf("consumed %d, want %d", n, len(buf))
			}
			if got.Type != tc.f.Type || got.PaddingLength != tc.f.PaddingLength ||
				got.CryptoOffset != tc.f.CryptoOffset ||
				!bytes.Equal(got.CryptoData, tc.f.CryptoData) ||
				got.ErrorCode != tc.f.ErrorCode || got.TriggerFrameType != tc.f.TriggerFrameType ||
				got.ReasonPhrase != tc.f.ReasonPhrase {
				t.Fatalf("round trip mismatch: got %+v, want %+v", got, tc.f)
			}
		})
	}
}

// TestDecodePaddingCollapsesRun mirrors original_source's own
// test_multiple_padding_frames: a run of zero bytes decodes to exactly one
// Padding frame carrying the run's length, not one frame per byte.
func TestDecodePaddingCollapsesRun(t *testing.T) {
	data := []byte{0x00, 0x00, 0x00, 0x00, 0x00}
	f, n, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if f.Type != FrameTypePadding || f.PaddingLength != 5 {
		t.Fatalf("got %+v, want Padding{5}", f)
	}
	if n != 5 {
		t.Fatalf("consumed %d, want 5", n)
	}
}

func TestDecodeFramesSequence(t *testing.T) {
	var buf []byte
	buf, _ = EncodeFrame(buf, PaddingFrame(5))
	buf, _ = EncodeFrame(buf, PingFrame())
	buf, _ = EncodeFrame(buf, PaddingFrame(3))

	frames, err := DecodeFrames(buf)
	if err != nil {
		t.Fatalf("DecodeFrames: %v", err)
	}
	if len(frames) != 3 {
		t.Fatalf("got %d frames, want 3", len(frames))
	}
	if frames[0].Type != FrameTypePadding || frames[0].PaddingLength != 5 {
		t.Fatalf("frame[0] = %+v, want Padding{5}", frames[0])
	}
	if frames[1].Type != FrameTypePing {
		t.Fatalf("frame[1] = %+v, want Ping", frames[1])
	}
	if frames[2].Type != FrameTypePadding || frames[2].PaddingLength != 3 {
		t.Fatalf("frame[2] = %+v, want Padding{3}", frames[2])
	}
}

// TestDecodeFramesStopsAtUnknownButKeepsPrefix verifies that a trailing
// unknown frame type stops decoding without discarding the frames already
// decoded earlier in the same payload.
func TestDecodeFramesStopsAtUnknownButKeepsPrefix(t *testing.T) {
	data := []byte{byte(FrameTypePing), 0xff, byte(FrameTypePing)}
	frames, err := DecodeFrames(data)
	if err != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
	if len(frames) != 1 || frames[0].Type != FrameTypePing {
		t.Fatalf("got %+v, want exactly one Ping frame preserved", frames)
	}
}

func TestDecodeFrameTruncated(t *testing.T) {
	cases := [][]byte{
		{},
		{byte(FrameTypeCrypto), 0},              // missing length
		{byte(FrameTypeConnectionClose), 0, 0, 5}, // claims 5-byte reason, has none
	}
	for _, data := range cases {
		if _, _, err := DecodeFrame(data); err == nil {
			t.Errorf("data %v: expected error", data)
		}
	}
}

func TestDecodeFrameUnknownType(t *testing.T) {
	if _, _, err := DecodeFrame([]byte{0xff}); err != ErrInvalidFrame {
		t.Fatalf("expected ErrInvalidFrame, got %v", err)
	}
}
