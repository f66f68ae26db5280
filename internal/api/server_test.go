package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ewancrowle/quicd/internal/config"
	"github.com/ewancrowle/quicd/internal/conn"
)

func TestListConnectionsEmpty(t *testing.T) {
	var table conn.Table
	s := NewServer(&config.Config{}, &table)

	req := httptest.NewRequest(http.MethodGet, "/connections", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestGetConnectionNotFound(t *testing.T) {
	var table conn.Table
	s := NewServer(&config.Config{}, &table)

	req := httptest.NewRequest(http.MethodGet, "/connections/aabbcc", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetConnectionFound(t *testing.T) {
	var table conn.Table
	table.Insert(&conn.Connection{LocalCID: []byte{0xaa, 0xbb}})
	s := NewServer(&config.Config{}, &table)

	req := httptest.NewRequest(http.MethodGet, "/connections/aabb", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestBadCIDEncoding(t *testing.T) {
	var table conn.Table
	s := NewServer(&config.Config{}, &table)

	req := httptest.NewRequest(http.MethodGet, "/connections/zz", nil)
	resp, err := s.app.Test(req)
	if err != nil {
		t.Fatalf("Test: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}
