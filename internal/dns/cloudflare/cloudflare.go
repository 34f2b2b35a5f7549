package cloudflare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

const (
	defaultAPIBase = "https://api.cloudflare.com/client/v4"
	requestTimeout = 10 * time.Second

	// Cloudflare encodes "automatic" TTL as 1.
	cfTTLAutomatic = 1
)

// Error codes Cloudflare returns for missing records on delete.
var notFoundCodes = map[int]bool{81043: true, 81044: true}

func init() {
	dns.Register("cloudflare", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for the Cloudflare v4 DNS records API.
type Provider struct {
	baseURL string
	email   string
	apiKey  string
	zoneID  string
	client  *http.Client
	log     logr.Logger
}

// New creates a Cloudflare DNS provider from the given settings map.
// Required settings: email, api_key, zone_id.
// Optional settings: base_url (for testing against a fake API).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	email := settings["email"]
	if email == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'email'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'api_key'")
	}
	zoneID := settings["zone_id"]
	if zoneID == "" {
		return nil, fmt.Errorf("cloudflare: missing required setting 'zone_id'")
	}
	baseURL := settings["base_url"]
	if baseURL == "" {
		baseURL = defaultAPIBase
	}

	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		email:   email,
		apiKey:  apiKey,
		zoneID:  zoneID,
		client:  &http.Client{Timeout: requestTimeout},
		log:     log,
	}, nil
}

// apiRecord is the Cloudflare DNS record wire shape.
type apiRecord struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Content  string `json:"content"`
	TTL      int    `json:"ttl"`
	Priority *int   `json:"priority,omitempty"`
}

// apiResponse is the Cloudflare API response envelope.
type apiResponse struct {
	Success bool            `json:"success"`
	Errors  []apiError      `json:"errors"`
	Result  json.RawMessage `json:"result"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *Provider) record(a apiRecord) dns.Record {
	r := dns.Record{
		Type:  strings.ToUpper(a.Type),
		Host:  a.Name,
		Value: a.Content,
		TTL:   a.TTL,
	}
	if a.TTL == cfTTLAutomatic {
		r.TTL = dns.TTLAutomatic
	}
	if r.Type == "MX" && a.Priority != nil {
		r.Priority = *a.Priority
	}
	return r
}

func payload(record dns.Record) apiRecord {
	a := apiRecord{
		Type:    strings.ToUpper(record.Type),
		Name:    record.Host,
		Content: record.Value,
		TTL:     record.TTL,
	}
	if record.TTL == dns.TTLAutomatic {
		a.TTL = cfTTLAutomatic
	}
	if a.Type == "MX" {
		prio := record.Priority
		a.Priority = &prio
	}
	return a
}

// do executes one API call and decodes the response envelope. HTTP-level and
// envelope-level failures are mapped onto the error taxonomy.
func (p *Provider) do(ctx context.Context, method, path string, body interface{}) (*apiResponse, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("cloudflare: marshal payload: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("cloudflare: build request: %w", err)
	}
	req.Header.Set("X-Auth-Email", p.email)
	req.Header.Set("X-Auth-Key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &dns.TransientError{Err: fmt.Errorf("cloudflare: %s %s: %w", method, path, err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &dns.AuthError{Reason: fmt.Sprintf("cloudflare: %s returned status %d", path, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &dns.RateLimitedError{Reason: fmt.Sprintf("cloudflare: %s returned status %d", path, resp.StatusCode)}
	case resp.StatusCode >= 500:
		return nil, &dns.TransientError{Err: fmt.Errorf("cloudflare: %s returned status %d", path, resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &dns.TransientError{Err: fmt.Errorf("cloudflare: read response: %w", err)}
	}

	var env apiResponse
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("cloudflare: parse response: %w", err)
	}
	return &env, nil
}

func formatErrors(errs []apiError) string {
	if len(errs) == 0 {
		return "unknown error"
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, fmt.Sprintf("[%d] %s", e.Code, e.Message))
	}
	return strings.Join(msgs, "; ")
}

// List returns all DNS records in the zone.
func (p *Provider) List(ctx context.Context) ([]dns.Record, error) {
	env, err := p.do(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records?per_page=1000", p.zoneID), nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("cloudflare: list records: %s", formatErrors(env.Errors))
	}

	var rows []apiRecord
	if err := json.Unmarshal(env.Result, &rows); err != nil {
		return nil, fmt.Errorf("cloudflare: parse result: %w", err)
	}

	records := make([]dns.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, p.record(row))
	}
	p.log.V(1).Info("listed records", "zone", p.zoneID, "count", len(records))
	return records, nil
}

// findID looks up the provider-side ID of the record with the same identity
// key, preferring a row whose content also matches so that deleting one of
// several same-key rows removes the right one. Returns empty string if no
// such record exists.
func (p *Provider) findID(ctx context.Context, record dns.Record) (string, error) {
	q := url.Values{}
	q.Set("per_page", "1000")
	q.Set("type", strings.ToUpper(record.Type))
	q.Set("name", record.Host)
	env, err := p.do(ctx, http.MethodGet, fmt.Sprintf("/zones/%s/dns_records?%s", p.zoneID, q.Encode()), nil)
	if err != nil {
		return "", err
	}
	if !env.Success {
		return "", fmt.Errorf("cloudflare: find record: %s", formatErrors(env.Errors))
	}

	var rows []apiRecord
	if err := json.Unmarshal(env.Result, &rows); err != nil {
		return "", fmt.Errorf("cloudflare: parse result: %w", err)
	}

	want := record.Key()
	id := ""
	for _, row := range rows {
		got := p.record(row)
		if got.Key() != want {
			continue
		}
		if record.Equal(got) {
			return row.ID, nil
		}
		if id == "" {
			id = row.ID
		}
	}
	return id, nil
}

// Create adds a new record to the zone.
func (p *Provider) Create(ctx context.Context, record dns.Record) error {
	p.log.Info("creating record", "record", record.String())

	env, err := p.do(ctx, http.MethodPost, fmt.Sprintf("/zones/%s/dns_records", p.zoneID), payload(record))
	if err != nil {
		return err
	}
	if !env.Success {
		return &dns.ValidationError{Record: record, Reason: "cloudflare: " + formatErrors(env.Errors)}
	}
	return nil
}

// Update replaces the content of the record with the same identity key.
func (p *Provider) Update(ctx context.Context, record dns.Record) error {
	p.log.Info("updating record", "record", record.String())

	id, err := p.findID(ctx, record)
	if err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("cloudflare: no existing record found for %s", record.Key())
	}

	env, err := p.do(ctx, http.MethodPut, fmt.Sprintf("/zones/%s/dns_records/%s", p.zoneID, id), payload(record))
	if err != nil {
		return err
	}
	if !env.Success {
		return &dns.ValidationError{Record: record, Reason: "cloudflare: " + formatErrors(env.Errors)}
	}
	return nil
}

// Delete removes the record with the same identity key. A record that is
// already gone is treated as success; deletion is convergent.
func (p *Provider) Delete(ctx context.Context, record dns.Record) error {
	p.log.Info("deleting record", "record", record.String())

	id, err := p.findID(ctx, record)
	if err != nil {
		return err
	}
	if id == "" {
		p.log.Info("record already absent", "key", record.Key().String())
		return nil
	}

	env, err := p.do(ctx, http.MethodDelete, fmt.Sprintf("/zones/%s/dns_records/%s", p.zoneID, id), nil)
	if err != nil {
		return err
	}
	if !env.Success {
		for _, e := range env.Errors {
			if notFoundCodes[e.Code] {
				return nil
			}
		}
		return fmt.Errorf("cloudflare: delete record: %s", formatErrors(env.Errors))
	}
	return nil
}
