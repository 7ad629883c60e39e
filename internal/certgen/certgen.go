// Package certgen mints the certificate authority and leaf certificates
// used for mutual TLS. A client certificate carries the tenant identity in
// its subject common name, which the server trusts once the certificate
// verifies against the CA.
package certgen

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"
)

const validity = 365 * 24 * time.Hour

// CA is a certificate authority able to sign server and client leaf
// certificates.
type CA struct {
	cert *x509.Certificate
	key  *ecdsa.PrivateKey

	// CertPEM is the PEM-encoded CA certificate for distribution to both
	// sides of the connection.
	CertPEM []byte
}

// NewCA generates a new ECDSA P-256 certificate authority.
func NewCA() (*CA, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate CA key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return nil, err
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "cmdworker ca"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(validity),
		KeyUsage:              x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CA certificate: %w", err)
	}

	return &CA{
		cert:    cert,
		key:     key,
		CertPEM: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
	}, nil
}

// ServerCert mints a server leaf certificate valid for the given hosts,
// which may be DNS names or IP addresses.
func (ca *CA) ServerCert(hosts []string) (certPEM, keyPEM []byte, err error) {
	template := &x509.Certificate{
		Subject:     pkix.Name{CommonName: "cmdworker server"},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	for _, host := range hosts {
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	return ca.sign(template)
}

// ClientCert mints a client leaf certificate whose common name is the
// tenant identity the server will see.
func (ca *CA) ClientCert(identity string) (certPEM, keyPEM []byte, err error) {
	if identity == "" {
		return nil, nil, fmt.Errorf("client identity cannot be empty")
	}

	template := &x509.Certificate{
		Subject:     pkix.Name{CommonName: identity},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	return ca.sign(template)
}

func (ca *CA) sign(template *x509.Certificate) (certPEM, keyPEM []byte, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serial, err := newSerial()
	if err != nil {
		return nil, nil, err
	}

	template.SerialNumber = serial
	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().Add(validity)

	der, err := x509.CreateCertificate(rand.Reader, template, ca.cert, &key.PublicKey, ca.key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal private key: %w", err)
	}

	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	return certPEM, keyPEM, nil
}

func newSerial() (*big.Int, error) {
	limit := new(big.Int).Lsh(big.NewInt(1), 128)

	serial, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	return serial, nil
}

// Request describes a full set of certificates to write to disk: one CA,
// one server certificate and one certificate per client identity.
type Request struct {
	Dir     string
	Hosts   []string
	Clients []string
}

// Generate mints and writes the requested certificate files. Filenames are
// ca.crt, server.crt, server.key, and <client>.crt/<client>.key per client.
func Generate(req Request) error {
	if err := os.MkdirAll(req.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	ca, err := NewCA()
	if err != nil {
		return err
	}

	if err := writeFile(req.Dir, "ca.crt", ca.CertPEM, 0o644); err != nil {
		return err
	}

	serverCert, serverKey, err := ca.ServerCert(req.Hosts)
	if err != nil {
		return err
	}

	if err := writeFile(req.Dir, "server.crt", serverCert, 0o644); err != nil {
		return err
	}

	if err := writeFile(req.Dir, "server.key", serverKey, 0o600); err != nil {
		return err
	}

	for _, client := range req.Clients {
		cert, key, err := ca.ClientCert(client)
		if err != nil {
			return err
		}

		if err := writeFile(req.Dir, client+".crt", cert, 0o644); err != nil {
			return err
		}

		if err := writeFile(req.Dir, client+".key", key, 0o600); err != nil {
			return err
		}
	}

	return nil
}

func writeFile(dir, name string, data []byte, mode os.FileMode) error {
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, mode); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}
