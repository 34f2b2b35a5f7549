// Package verify checks whether desired DNS records have propagated to a
// resolver. It covers the waiting step of a migration: after apply, records
// served by the registrar still take time to show up on public resolvers.
package verify

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-logr/logr"
	mdns "github.com/miekg/dns"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

// DefaultResolver is queried when no resolver is configured.
const DefaultResolver = "1.1.1.1:53"

// Check is the propagation status of one desired record.
type Check struct {
	Record    dns.Record
	Converged bool
	Answers   []string // what the resolver actually returned
}

// Verifier queries a resolver for desired records.
type Verifier struct {
	Resolver string
	Timeout  time.Duration
	Log      logr.Logger
}

// New creates a Verifier. Empty resolver falls back to DefaultResolver.
func New(resolver string, timeout time.Duration, log logr.Logger) *Verifier {
	if resolver == "" {
		resolver = DefaultResolver
	}
	if _, _, err := net.SplitHostPort(resolver); err != nil {
		// No port yet; bare IPv6 literals need bracketing too.
		resolver = net.JoinHostPort(strings.Trim(resolver, "[]"), "53")
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Verifier{Resolver: resolver, Timeout: timeout, Log: log}
}

// Verify queries the resolver once per desired record and reports which ones
// already resolve to their desired value.
func (v *Verifier) Verify(ctx context.Context, records []dns.Record) ([]Check, error) {
	client := &mdns.Client{Timeout: v.Timeout}
	checks := make([]Check, 0, len(records))
	for _, rec := range records {
		answers, err := v.query(ctx, client, rec)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", rec.Key(), err)
		}
		converged, got := Matches(rec, answers)
		v.Log.V(1).Info("checked record", "key", rec.Key().String(), "converged", converged, "answers", got)
		checks = append(checks, Check{Record: rec, Converged: converged, Answers: got})
	}
	return checks, nil
}

func (v *Verifier) query(ctx context.Context, client *mdns.Client, rec dns.Record) ([]mdns.RR, error) {
	qtype, ok := mdns.StringToType[strings.ToUpper(rec.Type)]
	if !ok {
		return nil, fmt.Errorf("unsupported query type %q", rec.Type)
	}
	m := new(mdns.Msg)
	m.SetQuestion(mdns.Fqdn(rec.Host), qtype)
	in, _, err := client.ExchangeContext(ctx, m, v.Resolver)
	if err != nil {
		return nil, err
	}
	return in.Answer, nil
}

// Matches reports whether any answer carries the desired record's content,
// together with the string form of every answer of the right type. TTLs are
// ignored: resolvers report the remaining cache time, not the zone TTL.
func Matches(rec dns.Record, answers []mdns.RR) (bool, []string) {
	want := rec
	want.TTL = dns.TTLAutomatic

	var got []string
	converged := false
	for _, rr := range answers {
		value, priority, ok := answerContent(rr)
		if !ok {
			continue
		}
		candidate := dns.Record{Type: rec.Type, Host: rec.Host, Value: value, Priority: priority}
		if strings.ToUpper(rec.Type) == "MX" {
			got = append(got, fmt.Sprintf("%d %s", priority, value))
		} else {
			got = append(got, value)
		}
		if want.Equal(candidate) {
			converged = true
		}
	}
	return converged, got
}

// answerContent extracts the comparable value (and MX preference) from an
// answer RR. Unsupported types are skipped.
func answerContent(rr mdns.RR) (value string, priority int, ok bool) {
	switch a := rr.(type) {
	case *mdns.A:
		return a.A.String(), 0, true
	case *mdns.AAAA:
		return a.AAAA.String(), 0, true
	case *mdns.CNAME:
		return a.Target, 0, true
	case *mdns.MX:
		return a.Mx, int(a.Preference), true
	case *mdns.TXT:
		return strings.Join(a.Txt, ""), 0, true
	case *mdns.NS:
		return a.Ns, 0, true
	case *mdns.SRV:
		return a.Target, 0, true
	default:
		return "", 0, false
	}
}
