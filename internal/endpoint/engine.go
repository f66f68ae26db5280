// Package endpoint is the UDP datagram transport and connection-demux
// loop. Adapted from the teacher's relay engine (internal/relay/engine.go):
// the same ListenUDP/ReadFromUDP read loop and sync.Map-backed per-CID
// dispatch, generalized from forwarding bytes to an SNI-resolved backend
// into decoding packets and driving a Connection's state machine.
package endpoint

import (
	"context"
	"fmt"
	"net"

	"github.com/apex/log"

	"github.com/ewancrowle/quicd/internal/config"
	"github.com/ewancrowle/quicd/internal/conn"
	"github.com/ewancrowle/quicd/internal/quic"
	"github.com/ewancrowle/quicd/internal/sync"
	"github.com/ewancrowle/quicd/internal/tlsdriver"
)

const alpn = "h3"

// Engine owns the UDP socket and the connection table it demuxes inbound
// datagrams against.
type Engine struct {
	listenAddr *net.UDPAddr
	conn       *net.UDPConn
	cfg        *config.Config
	table      *conn.Table
	cluster    *sync.RedisSync
}

// New builds an Engine bound to cfg.UDP.Port. It generates no certificate:
// handleDatagram generates a fresh self-signed one for each new responder
// connection.
func New(cfg *config.Config, table *conn.Table, cluster *sync.RedisSync) (*Engine, error) {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf(":%d", cfg.UDP.Port))
	if err != nil {
		return nil, err
	}
	return &Engine{
		listenAddr: addr,
		cfg:        cfg,
		table:      table,
		cluster:    cluster,
	}, nil
}

// Listen binds the UDP socket. Separated from Serve so callers (and tests)
// can learn the bound address — relevant when cfg.UDP.Port is 0 — before
// the read loop starts.
func (e *Engine) Listen() error {
	socket, err := net.ListenUDP("udp", e.listenAddr)
	if err != nil {
		return err
	}
	e.conn = socket
	return nil
}

// Addr returns the bound socket's address. Valid after Listen succeeds.
func (e *Engine) Addr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// Start binds the socket and runs the read loop until ctx is canceled.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Listen(); err != nil {
		return err
	}
	return e.Serve(ctx)
}

// Serve runs the read loop until ctx is canceled. Listen must have already
// succeeded.
func (e *Engine) Serve(ctx context.Context) error {
	defer e.conn.Close()

	log.Infof("endpoint: listening on %s", e.listenAddr.String())

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			n, srcAddr, err := e.conn.ReadFromUDP(buf)
			if err != nil {
				log.Warnf("endpoint: reading from UDP: %v", err)
				continue
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			go e.handleDatagram(ctx, srcAddr, data)
		}
	}
}

// Dial creates an initiator connection to peerAddr, registers it in the
// table and sends its first Initial datagram, for clients of this package
// (and test scaffolding) that want to initiate rather than just accept. It
// returns without waiting for the handshake, which proceeds as Serve's read
// loop delivers the peer's responses.
func (e *Engine) Dial(ctx context.Context, peerAddr *net.UDPAddr) (*conn.Connection, error) {
	c, first, err := conn.NewInitiator(ctx, peerAddr, tlsdriver.ClientTLSConfig(alpn))
	if err != nil {
		return nil, err
	}
	e.table.Insert(c)
	if first != nil {
		if _, err := e.conn.WriteToUDP(first, peerAddr); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (e *Engine) handleDatagram(ctx context.Context, srcAddr *net.UDPAddr, data []byte) {
	dcid, err := quic.DestinationCID(data)
	if err != nil {
		log.Debugf("endpoint: dropping unparseable datagram from %s: %v", srcAddr, err)
		return
	}

	if c, ok := e.table.Lookup(dcid); ok {
		c.PeerAddr = srcAddr
		e.drive(ctx, c, dcid, data, srcAddr)
		return
	}

	cert, err := tlsdriver.NewSelfSignedCert(e.cfg.Cert.CommonName, e.cfg.Cert.ExtraNames...)
	if err != nil {
		log.Errorf("endpoint: generating server certificate: %v", err)
		return
	}
	c, err := conn.NewResponder(ctx, srcAddr, dcid, tlsdriver.ServerTLSConfig(cert, alpn))
	if err != nil {
		log.Debugf("endpoint: rejecting datagram that didn't start a new connection: %v", err)
		return
	}
	e.table.InsertKey(dcid, c)
	e.table.Insert(c)
	if e.cluster != nil {
		if err := e.cluster.PublishOwnership(ctx, c.LocalCID); err != nil {
			log.Warnf("endpoint: publishing ownership: %v", err)
		}
	}

	e.drive(ctx, c, dcid, data, srcAddr)
}

func (e *Engine) drive(ctx context.Context, c *conn.Connection, routedKey []byte, data []byte, srcAddr *net.UDPAddr) {
	datagrams, err := c.IngestDatagram(data)
	if err != nil {
		log.Debugf("endpoint: %s: %v", srcAddr, err)
		return
	}
	for _, d := range datagrams {
		if _, err := e.conn.WriteToUDP(d, srcAddr); err != nil {
			log.Warnf("endpoint: writing to %s: %v", srcAddr, err)
		}
	}
	if c.State == conn.StateClosed {
		e.table.Remove(routedKey)
		e.table.Remove(c.LocalCID)
		if e.cluster != nil {
			if err := e.cluster.ReleaseOwnership(ctx, c.LocalCID); err != nil {
				log.Warnf("endpoint: releasing ownership: %v", err)
			}
		}
	}
}
