package conn

import (
	"context"
	"net"
	"testing"

	"github.com/ewancrowle/quicd/internal/tlsdriver"
)

func TestHandshakeEstablishesBothSides(t *testing.T) {
	cert, err := tlsdriver.NewSelfSignedCert("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("NewSelfSignedCert: %v", err)
	}

	clientAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}
	serverAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}

	ctx := context.Background()
	client, first, err := NewInitiator(ctx, serverAddr, tlsdriver.ClientTLSConfig("h3"))
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	if client.State != StateInitial {
		t.Fatalf("client state = %v, want initial (no handshake-level keys installed yet)", client.State)
	}
	if first == nil {
		t.Fatal("expected an initial datagram to send")
	}

	server, err := NewResponder(ctx, clientAddr, client.RemoteCID, tlsdriver.ServerTLSConfig(cert, "h3"))
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	toServer := [][]byte{first}
	const maxRounds = 10
	for round := 0; round < maxRounds; round++ {
		if client.State == StateEstablished && server.State == StateEstablished {
			break
		}
		var toClient [][]byte
		for _, dg := range toServer {
			resp, err := server.IngestDatagram(dg)
			if err != nil {
				t.Fatalf("server IngestDatagram: %v", err)
			}
			toClient = append(toClient, resp...)
		}
		toServer = nil
		for _, dg := range toClient {
			resp, err := client.IngestDatagram(dg)
			if err != nil {
				t.Fatalf("client IngestDatagram: %v", err)
			}
			toServer = append(toServer, resp...)
		}
	}

	if client.State != StateEstablished {
		t.Fatalf("client never reached established, got %v", client.State)
	}
	if server.State != StateEstablished {
		t.Fatalf("server never reached established, got %v", server.State)
	}
}

func TestCloseTransitionsToClosed(t *testing.T) {
	cert, err := tlsdriver.NewSelfSignedCert("localhost")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	server, err := NewResponder(ctx, addr, []byte{1, 2, 3, 4}, tlsdriver.ServerTLSConfig(cert, "h3"))
	if err != nil {
		t.Fatal(err)
	}
	server.RemoteCID = []byte{5, 6, 7, 8}

	datagram, err := server.Close("done", 0)
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(datagram) == 0 {
		t.Fatal("expected a non-empty CONNECTION_CLOSE datagram")
	}
	if server.State != StateClosing {
		t.Fatalf("state = %v, want closing immediately after Close", server.State)
	}

	server.MarkClosed()
	if server.State != StateClosed {
		t.Fatalf("state = %v, want closed after MarkClosed", server.State)
	}
	if _, err := server.Close("again", 0); err != ErrConnectionClosed {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
}

func TestTableInsertLookupRemove(t *testing.T) {
	var table Table
	c := &Connection{LocalCID: []byte{1, 2, 3}}
	table.Insert(c)

	got, ok := table.Lookup([]byte{1, 2, 3})
	if !ok || got != c {
		t.Fatalf("Lookup returned (%v, %v)", got, ok)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}

	table.Remove([]byte{1, 2, 3})
	if _, ok := table.Lookup([]byte{1, 2, 3}); ok {
		t.Fatal("expected connection to be gone after Remove")
	}
}
