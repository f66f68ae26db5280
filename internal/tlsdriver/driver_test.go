package tlsdriver

import (
	"context"
	"testing"
)

// TestHandshakeConverges pumps CRYPTO data directly between a client and
// server Driver (no datagram transport involved) and checks that both
// sides reach QUICHandshakeDone and each installs at least one secret,
// matching the engine's eventual usage pattern.
func TestHandshakeConverges(t *testing.T) {
	cert, err := NewSelfSignedCert("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("NewSelfSignedCert: %v", err)
	}

	client := NewClientDriver(ClientTLSConfig("h3"))
	server := NewServerDriver(ServerTLSConfig(cert, "h3"))

	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatalf("client Start: %v", err)
	}
	if err := server.Start(ctx); err != nil {
		t.Fatalf("server Start: %v", err)
	}

	var clientSecrets, serverSecrets int
	const maxRounds = 10
	for round := 0; round < maxRounds; round++ {
		if client.IsHandshakeComplete() && server.IsHandshakeComplete() {
			break
		}

		cev, err := client.Drain()
		if err != nil {
			t.Fatalf("client Drain: %v", err)
		}
		for _, e := range cev {
			switch e.Kind {
			case EventWriteData:
				if err := server.HandleData(e.Level, e.Data); err != nil {
					t.Fatalf("server HandleData: %v", err)
				}
			case EventInstallReadSecret, EventInstallWriteSecret:
				clientSecrets++
			}
		}

		sev, err := server.Drain()
		if err != nil {
			t.Fatalf("server Drain: %v", err)
		}
		for _, e := range sev {
			switch e.Kind {
			case EventWriteData:
				if err := client.HandleData(e.Level, e.Data); err != nil {
					t.Fatalf("client HandleData: %v", err)
				}
			case EventInstallReadSecret, EventInstallWriteSecret:
				serverSecrets++
			}
		}
	}

	if !client.IsHandshakeComplete() {
		t.Fatal("client handshake did not complete")
	}
	if !server.IsHandshakeComplete() {
		t.Fatal("server handshake did not complete")
	}
	if clientSecrets == 0 || serverSecrets == 0 {
		t.Fatal("expected both sides to install at least one secret")
	}
}
