// Package api exposes the connection table's admin HTTP interface: the
// teacher's routing control plane (internal/api/server.go), repurposed
// from route mutation to read-only connection introspection plus an
// operator-triggered close, since this repository's domain has no routes
// to mutate.
package api

import (
	"encoding/hex"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/ewancrowle/quicd/internal/config"
	"github.com/ewancrowle/quicd/internal/conn"
)

type Server struct {
	app   *fiber.App
	cfg   *config.Config
	table *conn.Table
}

func NewServer(cfg *config.Config, table *conn.Table) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	app.Use(logger.New())

	s := &Server{app: app, cfg: cfg, table: table}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/connections", s.handleListConnections)
	s.app.Get("/connections/:cid", s.handleGetConnection)
	s.app.Post("/connections/:cid/close", s.handleCloseConnection)
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.API.Port))
}

type connectionView struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	PeerAddr string `json:"peer_addr"`
}

func viewOf(c *conn.Connection) connectionView {
	peer := ""
	if c.PeerAddr != nil {
		peer = c.PeerAddr.String()
	}
	return connectionView{
		ID:       hex.EncodeToString(c.LocalCID),
		State:    c.State.String(),
		PeerAddr: peer,
	}
}

func (s *Server) handleListConnections(c *fiber.Ctx) error {
	var views []connectionView
	s.table.Range(func(conn *conn.Connection) bool {
		views = append(views, viewOf(conn))
		return true
	})
	return c.JSON(views)
}

func (s *Server) handleGetConnection(c *fiber.Ctx) error {
	cid, err := hex.DecodeString(c.Params("cid"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "cid must be hex-encoded"})
	}
	connection, ok := s.table.Lookup(cid)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no such connection"})
	}
	return c.JSON(viewOf(connection))
}

type closeRequest struct {
	Reason string `json:"reason"`
	Code   uint64 `json:"code"`
}

func (s *Server) handleCloseConnection(c *fiber.Ctx) error {
	cid, err := hex.DecodeString(c.Params("cid"))
	if err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "cid must be hex-encoded"})
	}
	connection, ok := s.table.Lookup(cid)
	if !ok {
		return c.Status(404).JSON(fiber.Map{"error": "no such connection"})
	}

	var req closeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "invalid request body"})
	}

	datagram, err := connection.Close(req.Reason, req.Code)
	if err != nil {
		return c.Status(500).JSON(fiber.Map{"error": err.Error()})
	}
	// The close datagram is not written to the UDP socket, so the peer does
	// not receive it; the handler reports only its size, then marks the
	// connection Closed and drops it from the table.
	connection.MarkClosed()
	s.table.Remove(cid)

	return c.JSON(fiber.Map{
		"status":        "closed",
		"datagram_bytes": len(datagram),
	})
}
