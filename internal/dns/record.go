package dns

import (
	"fmt"
	"strings"
)

// TTLAutomatic asks the provider to use its default TTL. When a desired
// record carries TTLAutomatic, the TTL reported by the provider is accepted
// as-is and never triggers an update.
const TTLAutomatic = 0

// knownTypes lists the record types the reconciler manages.
var knownTypes = map[string]bool{
	"A":     true,
	"AAAA":  true,
	"CNAME": true,
	"MX":    true,
	"TXT":   true,
	"NS":    true,
	"SRV":   true,
}

// Record represents a single DNS record in a zone.
type Record struct {
	Type     string // "A", "CNAME", "MX", ...
	Host     string // FQDN, e.g. "app.example.com"
	Value    string // IP address, target hostname, or text payload
	Priority int    // MX preference; ignored for other types
	TTL      int    // seconds; TTLAutomatic = provider default
}

// Key identifies a record for desired/current matching. Two records with the
// same key but different content are the same record needing an update.
type Key struct {
	Type     string
	Host     string
	Priority int // set for MX only, so multiple MX records coexist
}

// Key returns the identity key of the record. Type and host are
// case-insensitive per DNS semantics.
func (r Record) Key() Key {
	k := Key{
		Type: strings.ToUpper(r.Type),
		Host: strings.ToLower(strings.TrimSuffix(r.Host, ".")),
	}
	if k.Type == "MX" {
		k.Priority = r.Priority
	}
	return k
}

func (k Key) String() string {
	if k.Type == "MX" {
		return fmt.Sprintf("%s %s %d", k.Type, k.Host, k.Priority)
	}
	return fmt.Sprintf("%s %s", k.Type, k.Host)
}

// hostnameValue reports whether the record's value is itself a hostname,
// which compares case-insensitively and ignoring a trailing dot.
func (r Record) hostnameValue() bool {
	switch strings.ToUpper(r.Type) {
	case "CNAME", "MX", "NS", "SRV":
		return true
	}
	return false
}

// NormalizedValue returns the value in comparable form.
func (r Record) NormalizedValue() string {
	if r.hostnameValue() {
		return strings.ToLower(strings.TrimSuffix(r.Value, "."))
	}
	return r.Value
}

// Equal reports whether two records are fully identical in content, i.e. no
// update is needed to turn current into desired. The receiver is the desired
// record: a desired TTL of TTLAutomatic accepts any TTL on the current side.
func (r Record) Equal(current Record) bool {
	if r.Key() != current.Key() {
		return false
	}
	if r.NormalizedValue() != current.NormalizedValue() {
		return false
	}
	if r.TTL != TTLAutomatic && r.TTL != current.TTL {
		return false
	}
	return true
}

// Validate checks the record is well-formed. It returns a *ValidationError
// describing the first problem found.
func (r Record) Validate() error {
	typ := strings.ToUpper(r.Type)
	if !knownTypes[typ] {
		return &ValidationError{Record: r, Reason: fmt.Sprintf("unknown record type %q", r.Type)}
	}
	if strings.TrimSuffix(r.Host, ".") == "" {
		return &ValidationError{Record: r, Reason: "empty host"}
	}
	if r.Value == "" {
		return &ValidationError{Record: r, Reason: "empty value"}
	}
	if typ != "MX" && r.Priority != 0 {
		return &ValidationError{Record: r, Reason: fmt.Sprintf("priority is only valid for MX records, not %s", typ)}
	}
	if r.Priority < 0 {
		return &ValidationError{Record: r, Reason: fmt.Sprintf("negative priority %d", r.Priority)}
	}
	if r.TTL < 0 {
		return &ValidationError{Record: r, Reason: fmt.Sprintf("negative TTL %d", r.TTL)}
	}
	return nil
}

func (r Record) String() string {
	if strings.ToUpper(r.Type) == "MX" {
		return fmt.Sprintf("%s %s %d %s", strings.ToUpper(r.Type), r.Host, r.Priority, r.Value)
	}
	return fmt.Sprintf("%s %s %s", strings.ToUpper(r.Type), r.Host, r.Value)
}
