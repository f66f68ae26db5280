package quic

import "sort"

// CryptoAssembler reassembles a single per-level, per-direction CRYPTO
// stream from frames that may arrive out of order or overlapping.
// Generalized from the teacher's CryptoAssembler (internal/quic/parser.go),
// which only handled the Initial level and assumed in-order delivery; this
// version buffers out-of-order chunks and releases the contiguous prefix
// as soon as it is available.
type CryptoAssembler struct {
	delivered uint64 // bytes already handed to the caller
	pending   []chunk
}

type chunk struct {
	offset uint64
	data   []byte
}

// Push records a CRYPTO frame's data and returns whatever newly-contiguous
// prefix (starting at the stream's current delivered offset) is now
// available. It may return nil if the frame only fills a gap further out.
func (a *CryptoAssembler) Push(offset uint64, data []byte) []byte {
	if len(data) == 0 {
		return a.drain()
	}
	end := offset + uint64(len(data))
	if end <= a.delivered {
		return a.drain() // fully duplicate
	}
	if offset < a.delivered {
		data = data[a.delivered-offset:]
		offset = a.delivered
	}
	a.pending = append(a.pending, chunk{offset: offset, data: data})
	sort.Slice(a.pending, func(i, j int) bool { return a.pending[i].offset < a.pending[j].offset })
	return a.drain()
}

// drain consumes every buffered chunk that is now contiguous with the
// delivered prefix, returning their concatenated bytes.
func (a *CryptoAssembler) drain() []byte {
	var out []byte
	for len(a.pending) > 0 {
		c := a.pending[0]
		if c.offset > a.delivered {
			break
		}
		end := c.offset + uint64(len(c.data))
		if end > a.delivered {
			fresh := c.data[a.delivered-c.offset:]
			out = append(out, fresh...)
			a.delivered = end
		}
		a.pending = a.pending[1:]
	}
	return out
}
