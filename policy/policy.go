// Package policy decides which email addresses may request certificates.
//
// The same rule runs on both ends of the workflow: the server applies it
// when accepting a submission and the CLI applies it when validating the
// address before generating a CSR, so the two can never disagree.
package policy

import "strings"

// Allowlist is a set of email domains permitted to request certificates.
// The zero value rejects every address.
type Allowlist struct {
	domains map[string]struct{}
}

// NewAllowlist builds an Allowlist from the given domains.
func NewAllowlist(domains ...string) *Allowlist {
	a := &Allowlist{domains: make(map[string]struct{}, len(domains))}
	for _, d := range domains {
		a.domains[d] = struct{}{}
	}
	return a
}

// Allows reports whether email is eligible: the address must contain
// exactly one "@" and the part after it must exactly match an allow-listed
// domain. Matching is case-sensitive with no wildcard or subdomain
// handling. Empty and multi-"@" addresses are rejected.
func (a *Allowlist) Allows(email string) bool {
	if a == nil || strings.Count(email, "@") != 1 {
		return false
	}
	_, domain, _ := strings.Cut(email, "@")
	_, ok := a.domains[domain]
	return ok
}
