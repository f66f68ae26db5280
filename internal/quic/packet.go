package quic

import (
	"encoding/binary"
	"errors"
)

// PacketType identifies the long-header packet types this endpoint speaks,
// plus Short for the 1-RTT form. Mirrors the teacher's ParsedHeader.Type
// values, extended with the Retry and ZeroRTT cases parser.go never decoded.
type PacketType uint8

const (
	PacketTypeInitial PacketType = iota
	PacketTypeZeroRTT
	PacketTypeHandshake
	PacketTypeRetry
	PacketTypeShort
)

var ErrInvalidPacket = errors.New("quic: invalid packet header")

// ConnectionID is a variable-length (0-20 byte) endpoint-chosen identifier.
type ConnectionID []byte

// Header is the decoded form of a long or short packet header. PacketNumber
// is always the full, untruncated value.
type Header struct {
	IsLong       bool
	Type         PacketType
	Version      uint32
	DestCID      ConnectionID
	SrcCID       ConnectionID
	PacketNumber uint64
}

// encodePacketNumber mirrors original_source's encode_packet_number: the
// top two bits of the first byte select a 1/2/4/8-byte width, sized to the
// smallest one that holds pn. This is the same length-tag shape as VarInt,
// applied to the full 62-bit packet number range the data model requires
// (RFC 9000's own scheme caps at 4 bytes, too narrow for that range).
func encodePacketNumber(buf []byte, pn uint64) []byte {
	switch {
	case pn < 0x40:
		return append(buf, byte(pn))
	case pn < 0x4000:
		return binary.BigEndian.AppendUint16(buf, uint16(pn)|0x4000)
	case pn < 0x40000000:
		return binary.BigEndian.AppendUint32(buf, uint32(pn)|0x80000000)
	default:
		return binary.BigEndian.AppendUint64(buf, pn|0xc000000000000000)
	}
}

// decodePacketNumber reads a packet number encoded by encodePacketNumber,
// returning the value and bytes consumed.
func decodePacketNumber(data []byte) (uint64, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrInvalidPacket
	}
	length := 1 << (data[0] >> 6)
	if len(data) < length {
		return 0, 0, ErrInvalidPacket
	}
	switch length {
	case 1:
		return uint64(data[0]), 1, nil
	case 2:
		return uint64(binary.BigEndian.Uint16(data)) & 0x3fff, 2, nil
	case 4:
		return uint64(binary.BigEndian.Uint32(data)) & 0x3fffffff, 4, nil
	default:
		return binary.BigEndian.Uint64(data) & 0x3fffffffffffffff, 8, nil
	}
}

// EncodeHeader serializes h. Short headers are always written with an
// 8-byte destination CID, matching the teacher's fixed-length assumption
// in ParsePacket's short-header branch.
func EncodeHeader(h *Header) ([]byte, error) {
	if h.IsLong {
		if len(h.DestCID) > 255 || len(h.SrcCID) > 255 {
			return nil, ErrInvalidPacket
		}
		buf := make([]byte, 0, 7+len(h.DestCID)+len(h.SrcCID)+8)
		buf = append(buf, 0x80|byte(h.Type)<<4)
		buf = binary.BigEndian.AppendUint32(buf, h.Version)
		buf = append(buf, byte(len(h.DestCID)))
		buf = append(buf, h.DestCID...)
		buf = append(buf, byte(len(h.SrcCID)))
		buf = append(buf, h.SrcCID...)
		return encodePacketNumber(buf, h.PacketNumber), nil
	}
	if len(h.DestCID) != 8 {
		return nil, ErrInvalidPacket
	}
	buf := make([]byte, 0, 1+8+8)
	buf = append(buf, 0x40)
	buf = append(buf, h.DestCID...)
	return encodePacketNumber(buf, h.PacketNumber), nil
}

// DestinationCID extracts just the destination connection ID from a
// packet's plaintext-visible header fields, without requiring header
// protection to be removed first — used by the connection table to demux
// an inbound datagram to the right Connection before any keys have been
// selected. Short-header packets carry no self-describing length for
// their destination CID on the wire; this endpoint always uses an 8-byte
// local CID (see conn.defaultCIDLen), so that width is assumed here too.
func DestinationCID(data []byte) (ConnectionID, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPacket
	}
	if data[0]&0x80 == 0 {
		if len(data) < 9 {
			return nil, ErrInvalidPacket
		}
		return append(ConnectionID(nil), data[1:9]...), nil
	}
	if len(data) < 6 {
		return nil, ErrInvalidPacket
	}
	destLen := int(data[5])
	if len(data) < 6+destLen {
		return nil, ErrInvalidPacket
	}
	return append(ConnectionID(nil), data[6:6+destLen]...), nil
}

// DecodeHeader parses a packet header from the front of data, returning the
// header and the number of bytes it occupied.
func DecodeHeader(data []byte) (*Header, int, error) {
	if len(data) == 0 {
		return nil, 0, ErrInvalidPacket
	}
	first := data[0]
	if first&0x80 == 0 {
		if len(data) < 9 {
			return nil, 0, ErrInvalidPacket
		}
		destCID := append(ConnectionID(nil), data[1:9]...)
		pn, pnLen, err := decodePacketNumber(data[9:])
		if err != nil {
			return nil, 0, err
		}
		return &Header{IsLong: false, Type: PacketTypeShort, DestCID: destCID, PacketNumber: pn}, 9 + pnLen, nil
	}

	typ := PacketType((first >> 4) & 0x03)
	off := 1
	if len(data) < off+4 {
		return nil, 0, ErrInvalidPacket
	}
	version := binary.BigEndian.Uint32(data[off:])
	off += 4

	if len(data) < off+1 {
		return nil, 0, ErrInvalidPacket
	}
	destLen := int(data[off])
	off++
	if len(data) < off+destLen {
		return nil, 0, ErrInvalidPacket
	}
	destCID := append(ConnectionID(nil), data[off:off+destLen]...)
	off += destLen

	if len(data) < off+1 {
		return nil, 0, ErrInvalidPacket
	}
	srcLen := int(data[off])
	off++
	if len(data) < off+srcLen {
		return nil, 0, ErrInvalidPacket
	}
	srcCID := append(ConnectionID(nil), data[off:off+srcLen]...)
	off += srcLen

	pn, pnLen, err := decodePacketNumber(data[off:])
	if err != nil {
		return nil, 0, err
	}
	off += pnLen

	return &Header{
		IsLong:       true,
		Type:         typ,
		Version:      version,
		DestCID:      destCID,
		SrcCID:       srcCID,
		PacketNumber: pn,
	}, off, nil
}
