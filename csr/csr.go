// Package csr extracts subject attributes from PEM-encoded certificate
// signing requests.
package csr

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidCSR is returned when the input is not a well-formed,
// correctly signed certificate signing request.
var ErrInvalidCSR = errors.New("invalid certificate signing request")

// Subject attribute names, keyed by OID. Names follow the OpenSSL long
// forms, lower-cased, which is what callers key on (notably
// "emailaddress").
var attributeNames = map[string]string{
	"2.5.4.3":              "commonname",
	"2.5.4.6":              "countryname",
	"2.5.4.7":              "localityname",
	"2.5.4.8":              "stateorprovincename",
	"2.5.4.10":             "organizationname",
	"2.5.4.11":             "organizationalunitname",
	"1.2.840.113549.1.9.1": "emailaddress",
}

// Subject parses a PEM CSR and returns its distinguished-name attributes
// keyed by lower-cased attribute name. Values are whitespace-trimmed;
// attributes the subject omits are absent from the map rather than empty.
// Malformed or incorrectly signed input yields ErrInvalidCSR, never a
// partial map.
func Subject(csrPEM []byte) (map[string]string, error) {
	block, _ := pem.Decode(csrPEM)
	if block == nil || block.Type != "CERTIFICATE REQUEST" {
		return nil, fmt.Errorf("decoding PEM block: %w", ErrInvalidCSR)
	}
	req, err := x509.ParseCertificateRequest(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate request: %w", ErrInvalidCSR)
	}
	if err := req.CheckSignature(); err != nil {
		return nil, fmt.Errorf("checking request signature: %w", ErrInvalidCSR)
	}

	subject := make(map[string]string)
	for _, atv := range req.Subject.Names {
		name, ok := attributeNames[atv.Type.String()]
		if !ok {
			continue
		}
		value, ok := atv.Value.(string)
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		subject[name] = value
	}
	return subject, nil
}
