package signer

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// Local issues certificates in-process with crypto/x509 instead of
// shelling out to a CA tool. It applies the same profile as the openssl
// path: fixed 375-day validity, SHA-256 family digest, client
// authentication and email protection usages. Artifacts live under a work
// directory mirroring the openssl CA layout so the two signers are
// interchangeable on disk.
type Local struct {
	caCert  *x509.Certificate
	caKey   crypto.Signer
	csrDir  string
	certDir string
}

var _ Signer = (*Local)(nil)

// NewLocal loads the CA certificate and private key from the given PEM
// files and returns a Local signer that stages and issues under dir. The
// key must be an unencrypted PKCS#1, PKCS#8 or SEC1 PEM block.
func NewLocal(caCertPath, caKeyPath, dir string) (*Local, error) {
	certPEM, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("CA certificate %s: no CERTIFICATE PEM block", caCertPath)
	}
	caCert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing CA certificate: %w", err)
	}

	keyPEM, err := os.ReadFile(caKeyPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA key: %w", err)
	}
	caKey, err := parseSignerKey(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing CA key: %w", err)
	}

	return &Local{
		caCert:  caCert,
		caKey:   caKey,
		csrDir:  filepath.Join(dir, "csr"),
		certDir: filepath.Join(dir, "certs"),
	}, nil
}

func (l *Local) StageCSR(email string, csrPEM []byte) error {
	return stageCSR(l.csrDir, email, csrPEM)
}

func (l *Local) Sign(ctx context.Context, email string) ([]byte, error) {
	csrPEM, err := os.ReadFile(filepath.Join(l.csrDir, email+".csr.pem"))
	if err != nil {
		return nil, fmt.Errorf("%w: no staged CSR for %s", ErrSigningFailed, email)
	}

	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("%w: staged CSR for %s: no CERTIFICATE REQUEST PEM block", ErrSigningFailed, email)
	}
	req, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing staged CSR: %v", ErrSigningFailed, err)
	}
	if err := req.CheckSignature(); err != nil {
		return nil, fmt.Errorf("%w: CSR signature invalid: %v", ErrSigningFailed, err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("%w: generating serial: %v", ErrSigningFailed, err)
	}

	now := time.Now().UTC()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               req.Subject,
		NotBefore:             now,
		NotAfter:              now.AddDate(0, 0, ValidityDays),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageEmailProtection},
		BasicConstraintsValid: true,
		EmailAddresses:        req.EmailAddresses,
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, l.caCert, req.PublicKey, l.caKey)
	if err != nil {
		return nil, fmt.Errorf("%w: signing CSR: %v", ErrSigningFailed, err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: derBytes})

	// Mirror the openssl layout so operators find certificates in the
	// same place regardless of signer.
	if err := os.MkdirAll(l.certDir, 0o700); err != nil {
		return nil, fmt.Errorf("%w: creating cert directory: %v", ErrSigningFailed, err)
	}
	certPath := filepath.Join(l.certDir, email+".cert.pem")
	if err := os.Remove(certPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: replacing certificate artifact: %v", ErrSigningFailed, err)
	}
	if err := os.WriteFile(certPath, certPEM, 0o444); err != nil {
		return nil, fmt.Errorf("%w: writing certificate artifact: %v", ErrSigningFailed, err)
	}

	return certPEM, nil
}

func parseSignerKey(keyPEM []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("PKCS#8 key does not implement crypto.Signer")
		}
		return signer, nil
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	return nil, fmt.Errorf("unsupported private key format")
}
