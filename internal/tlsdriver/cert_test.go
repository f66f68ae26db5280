package tlsdriver

import "testing"

func TestNewSelfSignedCert(t *testing.T) {
	cert, err := NewSelfSignedCert("localhost", "127.0.0.1")
	if err != nil {
		t.Fatalf("NewSelfSignedCert: %v", err)
	}
	if len(cert.Certificate) != 1 {
		t.Fatalf("got %d certificate(s), want 1", len(cert.Certificate))
	}
	if cert.Leaf == nil {
		t.Fatal("expected parsed Leaf certificate")
	}
	if cert.Leaf.Subject.CommonName != "localhost" {
		t.Fatalf("CommonName = %q, want %q", cert.Leaf.Subject.CommonName, "localhost")
	}
	found := false
	for _, ip := range cert.Leaf.IPAddresses {
		if ip.String() == "127.0.0.1" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected 127.0.0.1 in IPAddresses SAN list")
	}
}
