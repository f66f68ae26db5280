// Package tlsdriver binds the connection engine's TLS collaborator to the
// standard library's QUIC support (crypto/tls's tls.QUICConn family),
// the same collaborator golang.org/x/net/internal/quic drives its own
// handshakes through.
package tlsdriver

import (
	"context"
	"crypto/tls"

	"github.com/ewancrowle/quicd/internal/quic"
)

// EventKind classifies what a Driver's Drain call surfaced.
type EventKind int

const (
	EventWriteData EventKind = iota
	EventInstallReadSecret
	EventInstallWriteSecret
	EventHandshakeDone
)

// Event is a simplified, level-tagged translation of one tls.QUICEvent.
type Event struct {
	Kind  EventKind
	Level quic.Level
	Data  []byte
}

// Driver drives one side of a QUIC-carried TLS 1.3 handshake. CRYPTO frame
// bytes arriving at a given level are fed in via HandleData; Drain then
// returns whatever the handshake produced in response — CRYPTO data to
// send, or secrets to install for packet protection at a level.
type Driver struct {
	conn *tls.QUICConn
	done bool
}

// ClientTLSConfig builds a *tls.Config for the initiator side. Verification
// is skipped because this endpoint pins no root CA and trusts whatever
// self-signed certificate NewSelfSignedCert produced for the peer it
// expects to dial — acceptable for the toy deployment this repository
// targets, not for wire-interoperability with a production QUIC stack.
func ClientTLSConfig(alpn string) *tls.Config {
	return &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{alpn},
		MinVersion:         tls.VersionTLS13,
	}
}

// ServerTLSConfig builds a *tls.Config for the responder side using a
// generated leaf certificate.
func ServerTLSConfig(cert tls.Certificate, alpn string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
}

// NewClientDriver constructs the initiator side of a handshake.
func NewClientDriver(cfg *tls.Config) *Driver {
	return &Driver{conn: tls.QUICClient(&tls.QUICConfig{TLSConfig: cfg})}
}

// NewServerDriver constructs the responder side of a handshake.
func NewServerDriver(cfg *tls.Config) *Driver {
	return &Driver{conn: tls.QUICServer(&tls.QUICConfig{TLSConfig: cfg})}
}

// Start kicks off the handshake. No real QUIC transport parameters are
// negotiated (out of scope, see spec's non-goals); an empty extension
// value unblocks the handshake on both sides.
func (d *Driver) Start(ctx context.Context) error {
	d.conn.SetTransportParameters(nil)
	return d.conn.Start(ctx)
}

// HandleData feeds CRYPTO frame payload received at level into the
// handshake state machine.
func (d *Driver) HandleData(level quic.Level, data []byte) error {
	return d.conn.HandleData(toTLSLevel(level), data)
}

// Drain returns every event the handshake produced since the last Drain
// call (or Start), translated into our own vocabulary.
func (d *Driver) Drain() ([]Event, error) {
	var events []Event
	for {
		ev := d.conn.NextEvent()
		switch ev.Kind {
		case tls.QUICNoEvent:
			return events, nil
		case tls.QUICWriteData:
			events = append(events, Event{
				Kind:  EventWriteData,
				Level: fromTLSLevel(ev.Level),
				Data:  append([]byte(nil), ev.Data...),
			})
		case tls.QUICSetReadSecret:
			events = append(events, Event{
				Kind:  EventInstallReadSecret,
				Level: fromTLSLevel(ev.Level),
				Data:  append([]byte(nil), ev.Data...),
			})
		case tls.QUICSetWriteSecret:
			events = append(events, Event{
				Kind:  EventInstallWriteSecret,
				Level: fromTLSLevel(ev.Level),
				Data:  append([]byte(nil), ev.Data...),
			})
		case tls.QUICTransportParametersRequired:
			d.conn.SetTransportParameters(nil)
		case tls.QUICHandshakeDone:
			d.done = true
			events = append(events, Event{Kind: EventHandshakeDone})
		default:
			// Transport parameters, rejected-early-data, and resumption
			// ticket events carry no state this endpoint tracks.
		}
	}
}

// IsHandshakeComplete reports whether a QUICHandshakeDone event has been
// observed.
func (d *Driver) IsHandshakeComplete() bool { return d.done }

// Close releases the underlying TLS connection.
func (d *Driver) Close() error { return d.conn.Close() }

func toTLSLevel(l quic.Level) tls.QUICEncryptionLevel {
	switch l {
	case quic.LevelInitial:
		return tls.QUICEncryptionLevelInitial
	case quic.LevelHandshake:
		return tls.QUICEncryptionLevelHandshake
	default:
		return tls.QUICEncryptionLevelApplication
	}
}

func fromTLSLevel(l tls.QUICEncryptionLevel) quic.Level {
	switch l {
	case tls.QUICEncryptionLevelInitial:
		return quic.LevelInitial
	case tls.QUICEncryptionLevelHandshake:
		return quic.LevelHandshake
	default:
		return quic.LevelApplication
	}
}
