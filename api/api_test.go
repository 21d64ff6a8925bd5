package api_test

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdurfee/certreq/api"
	"github.com/rdurfee/certreq/policy"
	"github.com/rdurfee/certreq/request"
	"github.com/rdurfee/certreq/storage/memory"
)

var oidEmailAddress = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 1}

const testCert = "-----BEGIN CERTIFICATE-----\ntest\n-----END CERTIFICATE-----\n"

type stubSigner struct {
	mu        sync.Mutex
	staged    map[string][]byte
	signCalls int
}

func (s *stubSigner) StageCSR(email string, csrPEM []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staged[email] = csrPEM
	return nil
}

func (s *stubSigner) Sign(_ context.Context, email string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signCalls++
	if _, ok := s.staged[email]; !ok {
		return nil, fmt.Errorf("no staged CSR for %s", email)
	}
	return []byte(testCert), nil
}

type captureMailer struct {
	mu   sync.Mutex
	last string
}

func (m *captureMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = body
	return nil
}

func (m *captureMailer) code(t *testing.T) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	code := strings.TrimPrefix(m.last, "Verification code: ")
	code = strings.TrimSuffix(strings.TrimSpace(code), ".")
	require.NotEmpty(t, code)
	return code
}

type env struct {
	server *httptest.Server
	signer *stubSigner
	mailer *captureMailer
}

func setup(t *testing.T) *env {
	t.Helper()
	sg := &stubSigner{staged: make(map[string][]byte)}
	mailer := &captureMailer{}
	ctrl := request.NewController(memory.NewStore(), sg, mailer, policy.NewAllowlist("durfee.io"))
	a := api.New(ctrl)

	r := chi.NewRouter()
	r.Mount("/", a.Router())
	server := httptest.NewServer(r)
	t.Cleanup(server.Close)
	return &env{server: server, signer: sg, mailer: mailer}
}

func newCSR(t *testing.T, email string) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			Organization: []string{"Durfee Ltd"},
			CommonName:   email,
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: oidEmailAddress, Value: email},
			},
		},
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der}))
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func submit(t *testing.T, e *env, email string) map[string]any {
	t.Helper()
	resp, body := postJSON(t, e.server.URL+"/certificateSigningRequests",
		api.SubmitRequest{CSR: newCSR(t, email)})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	return body
}

func verify(t *testing.T, e *env, id, code string) (*http.Response, map[string]any) {
	t.Helper()
	return postJSON(t, fmt.Sprintf("%s/certificateSigningRequests/%s/verify", e.server.URL, id),
		api.VerifyRequest{VerificationCode: code})
}

func assertError(t *testing.T, body map[string]any, code int, status string) {
	t.Helper()
	errObj, ok := body["error"].(map[string]any)
	require.True(t, ok, "error body: %v", body)
	assert.Equal(t, float64(code), errObj["code"])
	assert.Equal(t, status, errObj["status"])
	assert.NotEmpty(t, errObj["message"])
}

func TestSubmit(t *testing.T) {
	e := setup(t)

	body := submit(t, e, "alice@durfee.io")
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "Pending email verification. Please check your inbox.", body["statusMessage"])
	assert.NotEmpty(t, body["createdAt"])
	assert.NotEmpty(t, body["modifiedAt"])
	assert.NotEmpty(t, body["accessedAt"])
	assert.NotEmpty(t, body["csr"])

	// The verification code must never appear in a response, and a
	// pending record has no certificate.
	_, present := body["verificationCode"]
	assert.False(t, present, "verificationCode leaked into the response")
	_, present = body["cert"]
	assert.False(t, present, "cert should be omitted while pending")
}

func TestSubmitIneligibleEmail(t *testing.T) {
	e := setup(t)

	resp, body := postJSON(t, e.server.URL+"/certificateSigningRequests",
		api.SubmitRequest{CSR: newCSR(t, "mallory@example.com")})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertError(t, body, http.StatusBadRequest, "BAD_REQUEST")
}

func TestSubmitMalformedCSR(t *testing.T) {
	e := setup(t)

	resp, body := postJSON(t, e.server.URL+"/certificateSigningRequests",
		api.SubmitRequest{CSR: "garbage"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertError(t, body, http.StatusBadRequest, "BAD_REQUEST")
}

func TestVerifyLifecycle(t *testing.T) {
	e := setup(t)

	created := submit(t, e, "alice@durfee.io")
	id := created["id"].(string)

	// Wrong code: 400, no transition.
	resp, body := verify(t, e, id, "x")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertError(t, body, http.StatusBadRequest, "BAD_REQUEST")
	assert.Zero(t, e.signer.signCalls)

	// Correct code: 200 VERIFIED with the certificate attached.
	resp, body = verify(t, e, id, e.mailer.code(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VERIFIED", body["status"])
	assert.Equal(t, "Email address has been verified. Certificate signing request has been granted.", body["statusMessage"])
	assert.Equal(t, testCert, body["cert"])
	_, present := body["verificationCode"]
	assert.False(t, present, "verificationCode leaked into the response")

	// Re-verification is an idempotent read: same certificate, no second
	// signing.
	resp, again := verify(t, e, id, e.mailer.code(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "VERIFIED", again["status"])
	assert.Equal(t, body["cert"], again["cert"])
	assert.Equal(t, 1, e.signer.signCalls)
}

func TestVerifyUnknownID(t *testing.T) {
	e := setup(t)

	resp, body := verify(t, e, "5a2b6e10-99ee-47a0-a7b0-2f4bbf6cde93", "any")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	assertError(t, body, http.StatusNotFound, "NOT_FOUND")
}

func TestVerifyMalformedID(t *testing.T) {
	e := setup(t)

	resp, body := verify(t, e, "not-a-uuid", "any")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assertError(t, body, http.StatusBadRequest, "BAD_REQUEST")
}

func TestVerifyMalformedBody(t *testing.T) {
	e := setup(t)
	created := submit(t, e, "alice@durfee.io")
	id := created["id"].(string)

	resp, err := http.Post(
		fmt.Sprintf("%s/certificateSigningRequests/%s/verify", e.server.URL, id),
		"application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
