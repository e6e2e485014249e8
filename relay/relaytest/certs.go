// Package relaytest contains test fixtures for package relay.
package relaytest

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CA is a throwaway certificate authority.
type CA struct {
	Cert    *x509.Certificate
	privKey ed25519.PrivateKey
}

// GenerateCA returns a new ed25519 CA valid for validFor.
func GenerateCA(validFor time.Duration) (*CA, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),

		Subject: pkix.Name{
			Organization: []string{"Beacon Test CA"},
			CommonName:   "Beacon Test CA Root",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  time.Now().Add(validFor),

		KeyUsage: x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
			x509.ExtKeyUsageClientAuth,
		},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(nil, template, template, pubKey, privKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return &CA{Cert: cert, privKey: privKey}, nil
}

// Pool returns a cert pool trusting only ca.
func (ca *CA) Pool() *x509.CertPool {
	p := x509.NewCertPool()
	p.AddCert(ca.Cert)
	return p
}

// CreateLeafCert returns a server certificate for localhost and 127.0.0.1.
func (ca *CA) CreateLeafCert() (tls.Certificate, error) {
	pubKey, privKey, err := ed25519.GenerateKey(nil)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: randomSerial(),
		Subject: pkix.Name{
			Organization: []string{"Beacon Test Leaf"},
			CommonName:   "localhost",
		},
		NotBefore: time.Now().Add(-15 * time.Second),
		NotAfter:  ca.Cert.NotAfter,

		KeyUsage: x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{
			x509.ExtKeyUsageServerAuth,
		},
		DNSNames: []string{"localhost"},

		// Without an IP SAN, dialing 127.0.0.1 fails verification.
		IPAddresses: []net.IP{net.IPv4(127, 0, 0, 1)},

		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(nil, template, ca.Cert, pubKey, ca.privKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("failed to parse certificate from DER: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  privKey,
		Leaf:        cert,
	}, nil
}

func randomSerial() *big.Int {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)
	num, err := crand.Int(crand.Reader, limit)
	if err != nil {
		panic(fmt.Errorf("failed to create random serial: %w", err))
	}
	return num
}
