package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/rdurfee/certreq/api"
	"github.com/rdurfee/certreq/internal/util"
	"github.com/rdurfee/certreq/mail"
	"github.com/rdurfee/certreq/policy"
	"github.com/rdurfee/certreq/request"
	"github.com/rdurfee/certreq/signer"
	bboltstorage "github.com/rdurfee/certreq/storage/bbolt"
)

// Secrets come from the environment only; they never appear in flags,
// logs, or responses.
const (
	envSMTPPassword = "CERTREQ_SMTP_PASSWORD"
	envCAPassword   = "CERTREQ_CA_PASSWORD"
)

var (
	port         int
	dataDir      string
	tlsCert      string
	tlsKey       string
	emailDomains []string
	signerKind   string
	caDir        string
	caCertPath   string
	caKeyPath    string
	smtpHost     string
	smtpPort     int
	smtpFrom     string
	smtpUser     string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the certificate request server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		store, err := bboltstorage.NewStoreFromFile(filepath.Join(dataDir, "requests.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open request storage: %w", err)
		}
		defer store.Close()

		sg, err := buildSigner()
		if err != nil {
			return err
		}
		mailer, err := buildMailer()
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
		ctrl := request.NewController(store, sg, mailer, policy.NewAllowlist(emailDomains...))
		a := api.New(ctrl, api.WithLogger(logger))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})

		r.Mount("/", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		fmt.Printf("Starting server on port %d (data: %s)...\n", port, dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func buildSigner() (signer.Signer, error) {
	switch signerKind {
	case "openssl":
		password, err := secretFromEnv(envCAPassword)
		if err != nil {
			return nil, err
		}
		return signer.NewExec(caDir, password), nil
	case "local":
		sg, err := signer.NewLocal(caCertPath, caKeyPath, caDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load local CA: %w", err)
		}
		return sg, nil
	default:
		return nil, fmt.Errorf("unknown signer %q (want openssl or local)", signerKind)
	}
}

func buildMailer() (mail.Mailer, error) {
	if smtpUser == "" {
		fmt.Println("No SMTP account configured; verification codes will print to stdout")
		return mail.NewConsole(os.Stdout), nil
	}
	password, err := secretFromEnv(envSMTPPassword)
	if err != nil {
		return nil, err
	}
	return mail.NewSMTP(smtpHost, smtpPort, smtpFrom, smtpUser, password), nil
}

// secretFromEnv seals an environment variable's value into a memguard
// enclave and removes it from the environment.
func secretFromEnv(name string) (*memguard.Enclave, error) {
	value := os.Getenv(name)
	os.Unsetenv(name)
	if value == "" {
		return nil, fmt.Errorf("environment variable %s is not set", name)
	}
	return memguard.NewEnclave([]byte(value)), nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8003, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	serverCmd.Flags().StringSliceVar(&emailDomains, "email-domain", []string{"durfee.io"}, "Allow-listed email domains")
	serverCmd.Flags().StringVar(&signerKind, "signer", "openssl", "Signing backend: openssl or local")
	serverCmd.Flags().StringVar(&caDir, "ca-dir", "/root/ca/intermediate", "CA working directory (openssl.cnf, csr/, certs/)")
	serverCmd.Flags().StringVar(&caCertPath, "ca-cert", "", "CA certificate PEM (local signer)")
	serverCmd.Flags().StringVar(&caKeyPath, "ca-key", "", "CA private key PEM (local signer)")
	serverCmd.Flags().StringVar(&smtpHost, "smtp-host", "smtp.gmail.com", "SMTP server host")
	serverCmd.Flags().IntVar(&smtpPort, "smtp-port", 587, "SMTP server port")
	serverCmd.Flags().StringVar(&smtpFrom, "smtp-from", "Durfee Certificate Authority <noreply-ca@durfee.io>", "From header for verification mail")
	serverCmd.Flags().StringVar(&smtpUser, "smtp-user", "", "SMTP account username (empty prints codes to stdout)")
}
