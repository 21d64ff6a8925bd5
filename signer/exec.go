package signer

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/awnumar/memguard"
)

// Exec signs CSRs by invoking openssl ca against an openssl-managed
// intermediate CA directory:
//
//	<dir>/openssl.cnf        CA configuration
//	<dir>/csr/<email>.csr.pem
//	<dir>/certs/<email>.cert.pem
//
// The CA key password stays sealed in a memguard enclave between signings
// and is only opened for the duration of one invocation. It is never
// logged and never written to disk.
type Exec struct {
	configPath string
	extensions string
	csrDir     string
	certDir    string
	password   *memguard.Enclave
}

var _ Signer = (*Exec)(nil)

// NewExec returns an Exec signer rooted at the CA directory dir. The
// extension profile is the usr_cert section of the CA configuration, the
// profile the CA applies to client certificates.
func NewExec(dir string, password *memguard.Enclave) *Exec {
	return &Exec{
		configPath: filepath.Join(dir, "openssl.cnf"),
		extensions: "usr_cert",
		csrDir:     filepath.Join(dir, "csr"),
		certDir:    filepath.Join(dir, "certs"),
		password:   password,
	}
}

func (e *Exec) StageCSR(email string, csrPEM []byte) error {
	return stageCSR(e.csrDir, email, csrPEM)
}

func (e *Exec) Sign(ctx context.Context, email string) ([]byte, error) {
	csrPath := filepath.Join(e.csrDir, email+".csr.pem")
	if _, err := os.Stat(csrPath); err != nil {
		return nil, fmt.Errorf("%w: no staged CSR for %s", ErrSigningFailed, email)
	}
	certPath := filepath.Join(e.certDir, email+".cert.pem")

	password, err := e.password.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: opening CA password: %v", ErrSigningFailed, err)
	}
	defer password.Destroy()

	cmd := exec.CommandContext(ctx, "openssl", "ca", "-batch",
		"-config", e.configPath,
		"-extensions", e.extensions,
		"-days", strconv.Itoa(ValidityDays),
		"-notext",
		"-md", "sha256",
		"-passin", "pass:"+password.String(),
		"-in", csrPath,
		"-out", certPath,
	)
	if err := cmd.Run(); err != nil {
		// Stderr is discarded: openssl echoes invocation details and the
		// failure reason carries no information the caller can act on.
		return nil, fmt.Errorf("%w: openssl ca exited: %v", ErrSigningFailed, err)
	}

	cert, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("%w: reading issued certificate: %v", ErrSigningFailed, err)
	}
	if len(cert) == 0 {
		return nil, fmt.Errorf("%w: issued certificate for %s is empty", ErrSigningFailed, email)
	}
	return cert, nil
}

// stageCSR writes the per-email CSR artifact. The artifact is read-only
// once written; a resubmission for the same address replaces it.
func stageCSR(dir, email string, csrPEM []byte) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating CSR directory: %w", err)
	}
	path := filepath.Join(dir, email+".csr.pem")
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("replacing staged CSR: %w", err)
	}
	if err := os.WriteFile(path, csrPEM, 0o444); err != nil {
		return fmt.Errorf("staging CSR: %w", err)
	}
	return nil
}
