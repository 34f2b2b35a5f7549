package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider for OPNsense Unbound DNS host overrides.
//
// Unbound host overrides carry no per-record TTL. Listed records report the
// configured default_ttl, and Create/Update reject any other explicit TTL so
// an unsatisfiable desired set fails fast instead of replanning the same
// update on every run.
type Provider struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	defaultTTL int
	client     *http.Client
	log        logr.Logger
}

// New creates an OPNsense DNS provider from the given settings map.
// Required settings: base_url, api_key, api_secret.
// Optional settings: default_ttl (default 300), skip_tls_verify (default false).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	baseURL := settings["base_url"]
	if baseURL == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'base_url'")
	}
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_key'")
	}
	apiSecret := settings["api_secret"]
	if apiSecret == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'api_secret'")
	}

	defaultTTL := 300
	if v := settings["default_ttl"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("opnsense: invalid default_ttl %q: %w", v, err)
		}
		defaultTTL = parsed
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Provider{
		baseURL:    baseURL,
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		defaultTTL: defaultTTL,
		client:     &http.Client{Transport: transport},
		log:        log,
	}, nil
}

// doRequest builds and executes an HTTP request against the OPNsense API.
// Network failures come back as TransientError; non-OK statuses are mapped
// onto the error taxonomy by checkStatus.
func (p *Provider) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := strings.TrimRight(p.baseURL, "/") + "/" + strings.TrimLeft(path, "/")
	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("opnsense: build request: %w", err)
	}

	req.SetBasicAuth(p.apiKey, p.apiSecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &dns.TransientError{Err: fmt.Errorf("opnsense: %s %s: %w", method, path, err)}
	}
	return resp, nil
}

// checkStatus maps a non-200 response onto the error taxonomy. The caller
// owns the response body.
func checkStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &dns.AuthError{Reason: fmt.Sprintf("opnsense: %s returned status %d", op, resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &dns.RateLimitedError{Reason: fmt.Sprintf("opnsense: %s returned status %d", op, resp.StatusCode)}
	case resp.StatusCode >= 500:
		return &dns.TransientError{Err: fmt.Errorf("opnsense: %s returned status %d", op, resp.StatusCode)}
	default:
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: %s returned status %d: %s", op, resp.StatusCode, string(body))
	}
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{})
	if err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	defer resp.Body.Close()

	if err := checkStatus("reconfigure", resp); err != nil {
		return err
	}

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode reconfigure response: %w", err)
	}
	p.log.V(1).Info("reconfigure completed", "status", result.Status)
	return nil
}

// searchResponse is the shape returned by searchHostOverride.
type searchResponse struct {
	Rows []hostRow `json:"rows"`
}

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Enabled  string `json:"enabled"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
	MXPrio   string `json:"mxprio"`
	MX       string `json:"mx"`
}

// record converts a host override row into a dns.Record. Unbound host
// overrides carry no per-record TTL; every row reports the provider's
// configured default so a desired set using that TTL converges.
func (p *Provider) record(h hostRow) dns.Record {
	r := dns.Record{
		Type: strings.ToUpper(h.RR),
		Host: h.Hostname + "." + h.Domain,
		TTL:  p.defaultTTL,
	}
	if r.Type == "MX" {
		r.Value = h.MX
		r.Priority, _ = strconv.Atoi(h.MXPrio)
	} else {
		r.Value = h.Server
	}
	return r
}

// search fetches all host override rows.
func (p *Provider) search(ctx context.Context) ([]hostRow, error) {
	resp, err := p.doRequest(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkStatus("searchHostOverride", resp); err != nil {
		return nil, err
	}

	var sr searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("opnsense: decode search response: %w", err)
	}
	return sr.Rows, nil
}

// findOverride searches for an existing host override with the same identity
// key as the given record, preferring a row whose content also matches so
// that deleting one of several same-key rows removes the right one. Returns
// the UUID if found, or empty string if not.
func (p *Provider) findOverride(ctx context.Context, record dns.Record) (string, error) {
	rows, err := p.search(ctx)
	if err != nil {
		return "", err
	}
	want := record.Key()
	uuid := ""
	for _, row := range rows {
		got := p.record(row)
		if got.Key() != want {
			continue
		}
		if record.Equal(got) {
			return row.UUID, nil
		}
		if uuid == "" {
			uuid = row.UUID
		}
	}
	return uuid, nil
}

// checkTTL rejects TTLs the backend cannot store.
func (p *Provider) checkTTL(record dns.Record) error {
	if record.TTL != dns.TTLAutomatic && record.TTL != p.defaultTTL {
		return &dns.ValidationError{
			Record: record,
			Reason: fmt.Sprintf("opnsense: per-record TTL is not supported; use ttl \"automatic\" or the configured default_ttl (%d)", p.defaultTTL),
		}
	}
	return nil
}

// buildHostBody creates the JSON body for add/set host override calls.
func buildHostBody(record dns.Record) map[string]interface{} {
	host, domain := dns.SplitHostname(record.Host)
	server, mx, mxprio := record.Value, "", ""
	if strings.ToUpper(record.Type) == "MX" {
		server = ""
		mx = record.Value
		mxprio = strconv.Itoa(record.Priority)
	}
	return map[string]interface{}{
		"host": map[string]string{
			"enabled":  "1",
			"hostname": host,
			"domain":   domain,
			"rr":       strings.ToUpper(record.Type),
			"server":   server,
			"mxprio":   mxprio,
			"mx":       mx,
		},
	}
}

// List returns all managed host overrides as records.
func (p *Provider) List(ctx context.Context) ([]dns.Record, error) {
	rows, err := p.search(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]dns.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, p.record(row))
	}
	p.log.V(1).Info("listed records", "count", len(records))
	return records, nil
}

// Create adds a new DNS host override.
func (p *Provider) Create(ctx context.Context, record dns.Record) error {
	p.log.Info("creating record", "record", record.String())

	if err := p.checkTTL(record); err != nil {
		return err
	}
	body := buildHostBody(record)
	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/settings/addHostOverride", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus("addHostOverride", resp); err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
		UUID   string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode addHostOverride response: %w", err)
	}
	if result.Result != "saved" {
		return &dns.ValidationError{Record: record, Reason: "opnsense: addHostOverride result: " + result.Result}
	}

	p.log.Info("record created", "uuid", result.UUID)
	return p.reconfigure(ctx)
}

// Update modifies an existing DNS host override.
func (p *Provider) Update(ctx context.Context, record dns.Record) error {
	p.log.Info("updating record", "record", record.String())

	if err := p.checkTTL(record); err != nil {
		return err
	}
	uuid, err := p.findOverride(ctx, record)
	if err != nil {
		return err
	}
	if uuid == "" {
		return fmt.Errorf("opnsense: no existing override found for %s", record.Key())
	}

	body := buildHostBody(record)
	resp, err := p.doRequest(ctx, http.MethodPost, fmt.Sprintf("unbound/settings/setHostOverride/%s", uuid), body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus("setHostOverride", resp); err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode setHostOverride response: %w", err)
	}
	if result.Result != "saved" {
		return &dns.ValidationError{Record: record, Reason: "opnsense: setHostOverride result: " + result.Result}
	}

	p.log.Info("record updated", "uuid", uuid)
	return p.reconfigure(ctx)
}

// Delete removes a DNS host override.
func (p *Provider) Delete(ctx context.Context, record dns.Record) error {
	p.log.Info("deleting record", "record", record.String())

	uuid, err := p.findOverride(ctx, record)
	if err != nil {
		return err
	}
	if uuid == "" {
		// Already gone; deletion is convergent.
		p.log.Info("record already absent", "key", record.Key().String())
		return nil
	}

	resp, err := p.doRequest(ctx, http.MethodPost, fmt.Sprintf("unbound/settings/delHostOverride/%s", uuid), struct{}{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus("delHostOverride", resp); err != nil {
		return err
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode delHostOverride response: %w", err)
	}
	if result.Result != "deleted" {
		return fmt.Errorf("opnsense: delHostOverride unexpected result: %s", result.Result)
	}

	p.log.Info("record deleted", "uuid", uuid)
	return p.reconfigure(ctx)
}
