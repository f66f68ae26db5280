// Package conn implements the per-connection state machine: it drives a
// TLS 1.3 handshake through CRYPTO frames, installs per-level packet
// protection keys as the handshake supplies them, and turns inbound
// datagrams into decoded frames and outbound frames into protected
// datagrams. One Connection is owned exclusively by the goroutine that
// calls its methods; it holds no internal locking, matching the original
// Rust source's single-threaded Connection/ConnectionManager split.
package conn

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"net"

	"github.com/apex/log"
	"github.com/pkg/errors"

	"github.com/ewancrowle/quicd/internal/quic"
	"github.com/ewancrowle/quicd/internal/tlsdriver"
)

// State is one of the five states a Connection passes through.
type State int

const (
	StateInitial State = iota
	StateHandshake
	StateEstablished
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateHandshake:
		return "handshake"
	case StateEstablished:
		return "established"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrConnectionClosed = errors.New("conn: connection is closed")
var ErrDecryptFailed = errors.New("conn: could not decrypt datagram at any expected level")

const wireVersion = 1
const defaultCIDLen = 8

// Connection is one QUIC endpoint's view of a single connection: its
// identifiers, handshake progress, and installed per-level keys.
type Connection struct {
	LocalCID    quic.ConnectionID
	RemoteCID   quic.ConnectionID
	PeerAddr    *net.UDPAddr
	State       State
	isInitiator bool
	nextPN      uint64

	driver *tlsdriver.Driver

	recvKeys [3]*quic.DirectionKeys
	sendKeys [3]*quic.DirectionKeys

	recvAsm [3]quic.CryptoAssembler
	sendOff [3]uint64
}

// newRandomCID returns a random connection ID of the given length, the way
// the original source's ConnectionId::random did via a random generator,
// here crypto/rand rather than a non-cryptographic PRNG since an
// off-path attacker should not be able to guess it.
func newRandomCID(n int) (quic.ConnectionID, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, errors.Wrap(err, "generating connection id")
	}
	return quic.ConnectionID(buf), nil
}

func newConnection(peerAddr *net.UDPAddr, isInitiator bool) (*Connection, error) {
	local, err := newRandomCID(defaultCIDLen)
	if err != nil {
		return nil, err
	}
	return &Connection{
		LocalCID:    local,
		PeerAddr:    peerAddr,
		State:       StateInitial,
		isInitiator: isInitiator,
	}, nil
}

// NewInitiator creates the client side of a connection and returns it
// along with the first Initial datagram to send. remoteCID is a
// randomly-chosen destination CID for the first flight, per RFC 9001 —
// it also keys the Initial secret derivation.
func NewInitiator(ctx context.Context, peerAddr *net.UDPAddr, tlsCfg *tls.Config) (*Connection, []byte, error) {
	c, err := newConnection(peerAddr, true)
	if err != nil {
		return nil, nil, err
	}
	remoteCID, err := newRandomCID(defaultCIDLen)
	if err != nil {
		return nil, nil, err
	}
	c.RemoteCID = remoteCID

	keys, err := quic.DeriveInitialKeys(remoteCID, true)
	if err != nil {
		return nil, nil, errors.Wrap(err, "deriving initial keys")
	}
	c.recvKeys[quic.LevelInitial] = &keys.Recv
	c.sendKeys[quic.LevelInitial] = &keys.Send

	c.driver = tlsdriver.NewClientDriver(tlsCfg)
	if err := c.driver.Start(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "starting client handshake")
	}

	datagrams, err := c.drainDriver()
	if err != nil {
		return nil, nil, err
	}
	var first []byte
	if len(datagrams) > 0 {
		first = datagrams[0]
	}
	return c, first, nil
}

// NewResponder creates the server side of a connection in response to an
// inbound Initial packet, keyed by the client-chosen destination CID.
func NewResponder(ctx context.Context, peerAddr *net.UDPAddr, clientDestCID quic.ConnectionID, tlsCfg *tls.Config) (*Connection, error) {
	c, err := newConnection(peerAddr, false)
	if err != nil {
		return nil, err
	}
	c.RemoteCID = nil // learned from the first datagram's source CID

	keys, err := quic.DeriveInitialKeys(clientDestCID, false)
	if err != nil {
		return nil, errors.Wrap(err, "deriving initial keys")
	}
	c.recvKeys[quic.LevelInitial] = &keys.Recv
	c.sendKeys[quic.LevelInitial] = &keys.Send

	c.driver = tlsdriver.NewServerDriver(tlsCfg)
	if err := c.driver.Start(ctx); err != nil {
		return nil, errors.Wrap(err, "starting server handshake")
	}
	return c, nil
}

// maybeAdvanceToHandshake transitions Initial -> Handshake once the TLS
// driver installs Handshake-level keys, the signal that the responder has
// consumed ClientHello (or the initiator has processed ServerHello) —
// PING/PADDING exchange alone at Initial level never triggers this.
func (c *Connection) maybeAdvanceToHandshake(level quic.Level) {
	if level == quic.LevelHandshake && c.State == StateInitial {
		c.State = StateHandshake
	}
}

// expectedLevels orders the encryption levels worth trying to decrypt an
// inbound long-header datagram at, given the connection's current state —
// this endpoint has no use for peeking at header-protected type bits (see
// quic.PacketNumberOffset) when its own state already narrows the
// possibilities.
func (c *Connection) expectedLevels(isLong bool) []quic.Level {
	if !isLong {
		return []quic.Level{quic.LevelApplication}
	}
	switch c.State {
	case StateInitial:
		return []quic.Level{quic.LevelInitial}
	default:
		return []quic.Level{quic.LevelHandshake, quic.LevelInitial}
	}
}

// IngestDatagram decrypts and processes one inbound datagram, returning
// any response datagrams this connection now wants to send.
func (c *Connection) IngestDatagram(data []byte) ([][]byte, error) {
	if c.State == StateClosed {
		return nil, ErrConnectionClosed
	}

	pnOffset, isLong, err := quic.PacketNumberOffset(data)
	if err != nil {
		return nil, errors.Wrap(err, "locating packet number")
	}

	packet := append([]byte(nil), data...)
	var level quic.Level
	var opened bool
	var plaintext []byte
	var hdr *quic.Header

	for _, l := range c.expectedLevels(isLong) {
		keys := c.recvKeys[l]
		if keys == nil {
			continue
		}
		trial := append([]byte(nil), packet...)
		pnLen, err := quic.UnprotectHeader(trial, pnOffset, isLong, keys.HP)
		if err != nil {
			continue
		}
		h, hdrLen, err := quic.DecodeHeader(trial)
		if err != nil || hdrLen != pnOffset+pnLen {
			continue
		}
		pt, err := quic.Open(*keys, h.PacketNumber, trial[:hdrLen], trial[hdrLen:])
		if err != nil {
			continue
		}
		level, opened, plaintext, hdr = l, true, pt, h
		break
	}
	if !opened {
		log.Debug("conn: dropping datagram that failed decryption at every expected level")
		return nil, ErrDecryptFailed
	}

	if c.RemoteCID == nil && hdr.IsLong {
		c.RemoteCID = hdr.SrcCID
	}

	// An unknown frame type stops decoding at that point, but every frame
	// decoded before it is still dispatched below — the packet is accepted
	// up to the first unknown type, not rejected wholesale.
	frames, decodeErr := quic.DecodeFrames(plaintext)

	for _, f := range frames {
		switch f.Type {
		case quic.FrameTypeCrypto:
			if contiguous := c.recvAsm[level].Push(f.CryptoOffset, f.CryptoData); contiguous != nil {
				if err := c.driver.HandleData(level, contiguous); err != nil {
					return nil, errors.Wrap(err, "feeding handshake data")
				}
			}
		case quic.FrameTypeConnectionClose:
			log.Debugf("conn: peer closed: code=%d reason=%q", f.ErrorCode, f.ReasonPhrase)
			c.State = StateClosing
			reciprocal, err := c.buildPacket(level, []quic.Frame{quic.ConnectionCloseFrame(0, 0, "")})
			if err != nil {
				return nil, errors.Wrap(err, "building reciprocal close")
			}
			c.MarkClosed()
			return [][]byte{reciprocal}, nil
		case quic.FrameTypePing, quic.FrameTypePadding:
			// no action required
		}
	}
	if decodeErr != nil {
		log.Debugf("conn: stopped decoding frames after an unknown type: %v", decodeErr)
	}

	return c.drainDriver()
}

// drainDriver pulls every pending event off the TLS driver, installing
// keys and buffering outbound CRYPTO data, then packages whatever is now
// sendable into datagrams.
func (c *Connection) drainDriver() ([][]byte, error) {
	events, err := c.driver.Drain()
	if err != nil {
		return nil, errors.Wrap(err, "draining handshake driver")
	}

	var pending [3][]byte
	for _, e := range events {
		switch e.Kind {
		case tlsdriver.EventWriteData:
			pending[e.Level] = append(pending[e.Level], e.Data...)
		case tlsdriver.EventInstallReadSecret:
			recv, err := quic.DeriveDirectionKeys(e.Data)
			if err != nil {
				return nil, errors.Wrap(err, "deriving read secret")
			}
			c.recvKeys[e.Level] = &recv
			c.maybeAdvanceToHandshake(e.Level)
		case tlsdriver.EventInstallWriteSecret:
			send, err := quic.DeriveDirectionKeys(e.Data)
			if err != nil {
				return nil, errors.Wrap(err, "deriving write secret")
			}
			c.sendKeys[e.Level] = &send
			c.maybeAdvanceToHandshake(e.Level)
		case tlsdriver.EventHandshakeDone:
			c.State = StateEstablished
			log.Debugf("conn: handshake established for %x", c.LocalCID)
		}
	}

	// Emit in level order (Initial, Handshake, Application) so a peer sees the
	// packet that installs its next level's keys before packets sealed under them.
	var datagrams [][]byte
	for l, data := range pending {
		if len(data) == 0 {
			continue
		}
		level := quic.Level(l)
		offset := c.sendOff[level]
		c.sendOff[level] += uint64(len(data))
		pkt, err := c.buildPacket(level, []quic.Frame{quic.CryptoFrame(offset, data)})
		if err != nil {
			return nil, err
		}
		datagrams = append(datagrams, pkt)
	}
	return datagrams, nil
}

// buildPacket encodes frames into a single protected datagram at level,
// consuming the next packet number. Packet numbers are drawn from one
// connection-wide counter, matching the original source's single
// packet_number field rather than RFC 9000's per-space counters.
func (c *Connection) buildPacket(level quic.Level, frames []quic.Frame) ([]byte, error) {
	keys := c.sendKeys[level]
	if keys == nil {
		return nil, errors.Errorf("conn: no send keys installed for level %d", level)
	}

	pn := c.nextPN
	c.nextPN++

	h := &quic.Header{PacketNumber: pn}
	switch level {
	case quic.LevelApplication:
		h.IsLong = false
		h.Type = quic.PacketTypeShort
		h.DestCID = c.RemoteCID
	default:
		h.IsLong = true
		h.Version = wireVersion
		h.DestCID = c.RemoteCID
		h.SrcCID = c.LocalCID
		if level == quic.LevelInitial {
			h.Type = quic.PacketTypeInitial
		} else {
			h.Type = quic.PacketTypeHandshake
		}
	}

	header, err := quic.EncodeHeader(h)
	if err != nil {
		return nil, errors.Wrap(err, "encoding header")
	}
	pnLen := quic.VarIntLen(pn)
	pnOffset := len(header) - pnLen

	var payload []byte
	for _, f := range frames {
		payload, err = quic.EncodeFrame(payload, f)
		if err != nil {
			return nil, errors.Wrap(err, "encoding frame")
		}
	}
	if level == quic.LevelInitial {
		if short := 1200 - (len(header) + len(payload) + keys.AEAD.Overhead()); short > 0 {
			payload, _ = quic.EncodeFrame(payload, quic.PaddingFrame(short))
		}
	}

	sealed := quic.Seal(*keys, pn, header, payload)
	packet := append(header, sealed...)

	if err := quic.ProtectHeader(packet, pnOffset, pnLen, h.IsLong, keys.HP); err != nil {
		return nil, errors.Wrap(err, "applying header protection")
	}
	return packet, nil
}

// Close builds a CONNECTION_CLOSE datagram at the highest level currently
// keyed for sending and transitions the connection to Closing, matching
// the original source's close(reason) — it builds the frame, transitions
// state, and hands the caller the encoded packet.
func (c *Connection) Close(reason string, code uint64) ([]byte, error) {
	if c.State == StateClosed {
		return nil, ErrConnectionClosed
	}
	level := quic.LevelApplication
	for l := quic.LevelApplication; l >= quic.LevelInitial; l-- {
		if c.sendKeys[l] != nil {
			level = l
			break
		}
	}
	pkt, err := c.buildPacket(level, []quic.Frame{quic.ConnectionCloseFrame(code, 0, reason)})
	if err != nil {
		return nil, err
	}
	c.State = StateClosing
	return pkt, nil
}

// MarkClosed transitions a Closing connection to Closed once its caller has
// actually sent the CONNECTION_CLOSE datagram Close returned — the
// Closing → Closed edge is gated on that send, not on building the packet.
func (c *Connection) MarkClosed() {
	c.State = StateClosed
}
