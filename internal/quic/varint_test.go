package quic

import "testing"

func TestVarIntRoundTrip(t *testing.T) {
	cases := []uint64{
		0, 1, 0x3f, 0x40, 0x3fff, 0x4000, 0x3fffffff, 0x40000000,
		1000000, maxVarInt,
	}
	for _, v := range cases {
		buf, err := AppendVarInt(nil, v)
		if err != nil {
			t.Fatalf("AppendVarInt(%d): %v", v, err)
		}
		if len(buf) != VarIntLen(v) {
			t.Fatalf("VarIntLen(%d) = %d, encoded length %d", v, VarIntLen(v), len(buf))
		}
		got, n, err := ReadVarInt(buf)
		if err != nil {
			t.Fatalf("ReadVarInt(%d): %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d: got %d (consumed %d, want %d)", v, got, n, len(buf))
		}
	}
}

func TestVarIntTooLarge(t *testing.T) {
	if _, err := AppendVarInt(nil, maxVarInt+1); err != ErrVarIntTooLarge {
		t.Fatalf("expected ErrVarIntTooLarge, got %v", err)
	}
}

func TestReadVarIntTruncated(t *testing.T) {
	tests := [][]byte{
		{},
		{0x40},       // claims 2 bytes, has 1
		{0xc0, 0, 0}, // claims 8 bytes, has 3
	}
	for _, data := range tests {
		if _, _, err := ReadVarInt(data); err != ErrVarIntTruncated {
			t.Fatalf("data %v: expected ErrVarIntTruncated, got %v", data, err)
		}
	}
}

func TestVarIntLengthTags(t *testing.T) {
	tests := []struct {
		v    uint64
		want int
	}{
		{0, 1}, {63, 1}, {64, 2}, {16383, 2}, {16384, 4}, {1073741823, 4}, {1073741824, 8},
	}
	for _, tc := range tests {
		if got := VarIntLen(tc.v); got != tc.want {
			t.Errorf("VarIntLen(%d) = %d, want %d", tc.v, got, tc.want)
		}
	}
}
