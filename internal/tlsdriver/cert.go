package tlsdriver

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net"
	"time"

	"github.com/pkg/errors"
)

// selfSignedCertMaxSerial bounds the random serial number the same way
// ooni-netem's ca.go does.
var selfSignedCertMaxSerial = new(big.Int).Lsh(big.NewInt(1), 128)

// NewSelfSignedCert generates a single self-signed leaf certificate for the
// given common name and any extra DNS names or IP addresses, valid for one
// day. There is no separate CA: the leaf signs itself, which is enough
// because the initiator side (ClientTLSConfig) skips certificate verification.
func NewSelfSignedCert(commonName string, extraNames ...string) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generating certificate key")
	}

	serial, err := rand.Int(rand.Reader, selfSignedCertMaxSerial)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "generating certificate serial")
	}

	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, name := range append([]string{commonName}, extraNames...) {
		if ip := net.ParseIP(name); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, name)
		}
	}

	raw, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "creating certificate")
	}
	leaf, err := x509.ParseCertificate(raw)
	if err != nil {
		return tls.Certificate{}, errors.Wrap(err, "parsing generated certificate")
	}

	return tls.Certificate{Certificate: [][]byte{raw}, PrivateKey: key, Leaf: leaf}, nil
}
