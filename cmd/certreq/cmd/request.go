package cmd

import (
	"bufio"
	"bytes"
	"crypto/rand"
	"crypto/tls"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rdurfee/certreq/api"
	"github.com/rdurfee/certreq/policy"
)

var (
	serverURL     string
	clientCACert  string
	clientDomains []string
)

// oidEmailAddress is the PKCS#9 emailAddress attribute, which the server
// extracts from the CSR subject.
var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Request a client certificate interactively",
	Long: `Prompts for certificate subject fields, generates an RSA keypair and
CSR, submits the CSR to the server, and exchanges the emailed verification
code for a signed certificate. The key, CSR, and certificate are written to
the current directory named after the email address.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		in := bufio.NewReader(cmd.InOrStdin())
		out := cmd.OutOrStdout()

		country := prompt(in, out, "Country Name (2 letter code)", "US")
		state := prompt(in, out, "State or Province Name (full name)", "Wisconsin")
		locality := prompt(in, out, "Locality Name (eg, city)", "Waupaca")
		org := prompt(in, out, "Organization Name (eg, company)", "Durfee Ltd")

		// The same eligibility rule the server applies at submission; an
		// address rejected here would only fail later on the server.
		allow := policy.NewAllowlist(clientDomains...)
		email := prompt(in, out, "Email Address", "")
		if !allow.Allows(email) {
			return fmt.Errorf("email address %q is not in an allowed domain (%s)",
				email, strings.Join(clientDomains, ", "))
		}

		csrPEM, err := generateKeyAndCSR(email, country, state, locality, org)
		if err != nil {
			return err
		}

		client, err := pinnedClient(clientCACert)
		if err != nil {
			return err
		}

		var created api.RecordResponse
		err = postJSON(client, serverURL+"/certificateSigningRequests",
			api.SubmitRequest{CSR: string(csrPEM)}, &created)
		if err != nil {
			return fmt.Errorf("submitting CSR: %w", err)
		}
		fmt.Fprintf(out, "%s\n", created.StatusMessage)

		code := prompt(in, out, "Verification Code", "")

		var verified api.RecordResponse
		err = postJSON(client, fmt.Sprintf("%s/certificateSigningRequests/%s/verify", serverURL, created.ID),
			api.VerifyRequest{VerificationCode: code}, &verified)
		if err != nil {
			return fmt.Errorf("verifying request: %w", err)
		}

		certPath := email + ".cert.pem"
		if err := os.WriteFile(certPath, []byte(verified.Cert), 0o444); err != nil {
			return fmt.Errorf("writing certificate: %w", err)
		}
		fmt.Fprintf(out, "Certificate written to %s\n", certPath)
		return nil
	},
}

func prompt(in *bufio.Reader, out io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(out, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(out, "%s: ", label)
	}
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

// generateKeyAndCSR writes <email>.key.pem and <email>.csr.pem to the
// current directory and returns the CSR PEM.
func generateKeyAndCSR(email, country, state, locality, org string) ([]byte, error) {
	key, err := rsa.GenerateKey(rand.Reader, 4096)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: mustMarshalPKCS8(key),
	})
	if err := os.WriteFile(email+".key.pem", keyPEM, 0o600); err != nil {
		return nil, fmt.Errorf("writing key: %w", err)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Country:      []string{country},
			Province:     []string{state},
			Locality:     []string{locality},
			Organization: []string{org},
			CommonName:   email,
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: oidEmailAddress, Value: email},
			},
		},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return nil, fmt.Errorf("creating CSR: %w", err)
	}
	csrPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
	if err := os.WriteFile(email+".csr.pem", csrPEM, 0o444); err != nil {
		return nil, fmt.Errorf("writing CSR: %w", err)
	}
	return csrPEM, nil
}

func mustMarshalPKCS8(key *rsa.PrivateKey) []byte {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		// Marshalling an in-memory RSA key cannot fail.
		panic(err)
	}
	return der
}

// pinnedClient returns an HTTPS client trusting only the given CA
// certificate. An empty path falls back to the system trust store.
func pinnedClient(caCertPath string) (*http.Client, error) {
	if caCertPath == "" {
		return http.DefaultClient, nil
	}
	caPEM, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("reading CA certificate: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caCertPath)
	}
	return &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs:    pool,
				MinVersion: tls.VersionTLS12,
			},
		},
	}, nil
}

func postJSON(client *http.Client, url string, body, into any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error.Message != "" {
			return fmt.Errorf("%s (%d %s)", errResp.Error.Message, errResp.Error.Code, errResp.Error.Status)
		}
		return fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

func init() {
	rootCmd.AddCommand(requestCmd)
	requestCmd.Flags().StringVar(&serverURL, "server", "https://ca.durfee.io", "Server base URL")
	requestCmd.Flags().StringVar(&clientCACert, "ca-cert", "../ca.cert.pem", "CA certificate to trust for the server connection")
	requestCmd.Flags().StringSliceVar(&clientDomains, "email-domain", []string{"durfee.io"}, "Allow-listed email domains")
}
