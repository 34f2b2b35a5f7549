package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns/opnsense"
	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/reconcile"
)

// fakeOPNsense is a minimal in-memory OPNsense Unbound API for testing.
type fakeOPNsense struct {
	mu     sync.Mutex
	store  map[string]hostOverride
	nextID int
	calls  []string // tracks endpoint calls in order

	// failures maps an endpoint prefix to HTTP statuses returned on
	// successive calls before the endpoint starts succeeding.
	failures map[string][]int
}

type hostOverride struct {
	Enabled     string `json:"enabled"`
	Hostname    string `json:"hostname"`
	Domain      string `json:"domain"`
	RR          string `json:"rr"`
	Server      string `json:"server"`
	Description string `json:"description"`
	MXPrio      string `json:"mxprio"`
	MX          string `json:"mx"`
}

func newFakeOPNsense() *fakeOPNsense {
	return &fakeOPNsense{
		store:    map[string]hostOverride{},
		failures: map[string][]int{},
	}
}

func (f *fakeOPNsense) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.calls = append(f.calls, r.Method+" "+r.URL.Path)
	for prefix, statuses := range f.failures {
		if strings.HasPrefix(r.URL.Path, prefix) && len(statuses) > 0 {
			status := statuses[0]
			f.failures[prefix] = statuses[1:]
			f.mu.Unlock()
			http.Error(w, "injected failure", status)
			return
		}
	}
	f.mu.Unlock()

	switch {
	case r.URL.Path == "/api/unbound/settings/searchHostOverride":
		f.handleSearch(w, r)
	case r.URL.Path == "/api/unbound/settings/addHostOverride":
		f.handleAdd(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/unbound/settings/setHostOverride/"):
		f.handleSet(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/unbound/settings/delHostOverride/"):
		f.handleDel(w, r)
	case r.URL.Path == "/api/unbound/service/reconfigure":
		f.handleReconfigure(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeOPNsense) handleSearch(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	type row struct {
		UUID string `json:"uuid"`
		hostOverride
	}
	rows := []row{}
	for id, h := range f.store {
		rows = append(rows, row{UUID: id, hostOverride: h})
	}
	writeJSON(w, map[string]interface{}{"rows": rows, "total": len(rows)})
}

func (f *fakeOPNsense) handleAdd(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Host hostOverride `json:"host"`
	}
	if err := readJSON(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("uuid-%d", f.nextID)
	f.store[id] = payload.Host
	f.mu.Unlock()

	writeJSON(w, map[string]string{"result": "saved", "uuid": id})
}

func (f *fakeOPNsense) handleSet(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/unbound/settings/setHostOverride/")
	var payload struct {
		Host hostOverride `json:"host"`
	}
	if err := readJSON(r, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[id]; !ok {
		http.Error(w, `{"result":"not found"}`, http.StatusNotFound)
		return
	}
	f.store[id] = payload.Host
	writeJSON(w, map[string]string{"result": "saved"})
}

func (f *fakeOPNsense) handleDel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/unbound/settings/delHostOverride/")

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[id]; !ok {
		http.Error(w, `{"result":"not found"}`, http.StatusNotFound)
		return
	}
	delete(f.store, id)
	writeJSON(w, map[string]string{"result": "deleted"})
}

func (f *fakeOPNsense) handleReconfigure(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, v interface{}) error {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func newProvider(t *testing.T, serverURL string) *opnsense.Provider {
	t.Helper()
	p, err := opnsense.New(logr.Discard(), map[string]string{
		"base_url":   serverURL + "/api",
		"api_key":    "test-key",
		"api_secret": "test-secret",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	return p
}

func newReconciler(p dns.Provider) *reconcile.Reconciler {
	r := reconcile.New(p, logr.Discard())
	r.Retry.InitialInterval = time.Millisecond
	return r
}

// migrationDesired is the shape of a hosting move: new apex IP, external
// mail, SPF record.
func migrationDesired() []dns.Record {
	return []dns.Record{
		{Type: "A", Host: "app.example.com", Value: "203.0.113.10"},
		{Type: "CNAME", Host: "www.example.com", Value: "app.example.com"},
		{Type: "MX", Host: "mail.example.com", Value: "mx1.mailhost.example", Priority: 10},
		{Type: "MX", Host: "mail.example.com", Value: "mx2.mailhost.example", Priority: 20},
		{Type: "TXT", Host: "spf.example.com", Value: "v=spf1 include:spf.mailhost.example ~all"},
	}
}

func TestReconcileFromEmptyZone(t *testing.T) {
	fake := newFakeOPNsense()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	ctx := context.Background()
	desired := migrationDesired()

	plan, err := r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := len(plan.Creates); got != 5 {
		t.Fatalf("expected 5 creates, got %d (plan %+v)", got, plan)
	}

	res, err := r.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Created != 5 {
		t.Errorf("expected 5 created, got %+v", res)
	}

	fake.mu.Lock()
	if len(fake.store) != 5 {
		t.Errorf("expected 5 host overrides, got %d", len(fake.store))
	}
	var mxCount int
	for _, h := range fake.store {
		if h.RR == "MX" {
			mxCount++
			if h.MX == "" || h.MXPrio == "" {
				t.Errorf("MX override missing mx/mxprio: %+v", h)
			}
			if h.Server != "" {
				t.Errorf("MX override must not set server: %+v", h)
			}
		}
	}
	fake.mu.Unlock()
	if mxCount != 2 {
		t.Errorf("expected 2 MX overrides, got %d", mxCount)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	fake := newFakeOPNsense()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	ctx := context.Background()
	desired := migrationDesired()

	plan, err := r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if _, err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	fake.mu.Lock()
	callsBefore := len(fake.calls)
	fake.mu.Unlock()

	plan, err = r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("second Plan: %v", err)
	}
	if !plan.Empty() {
		t.Fatalf("expected empty plan after apply, got %+v", plan)
	}

	// The second Plan may only read; no mutation endpoint calls allowed.
	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, call := range fake.calls[callsBefore:] {
		if !strings.Contains(call, "searchHostOverride") {
			t.Errorf("unexpected call during no-op plan: %s", call)
		}
	}
}

func TestReconcileReplacesStaleRecords(t *testing.T) {
	fake := newFakeOPNsense()
	// Old hosting: stale apex-ish A record and an old mail target.
	fake.store["uuid-old-a"] = hostOverride{
		Enabled: "1", Hostname: "app", Domain: "example.com", RR: "A", Server: "198.51.100.7",
	}
	fake.store["uuid-old-mx"] = hostOverride{
		Enabled: "1", Hostname: "legacy", Domain: "example.com", RR: "A", Server: "198.51.100.8",
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	ctx := context.Background()
	desired := migrationDesired()

	plan, err := r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Deletes) != 1 || len(plan.Updates) != 1 || len(plan.Creates) != 4 {
		t.Fatalf("unexpected plan: %d deletes, %d creates, %d updates",
			len(plan.Deletes), len(plan.Creates), len(plan.Updates))
	}

	if _, err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	// The zone now matches the desired set exactly.
	plan, err = r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("expected converged zone, got %+v", plan)
	}
}

// A zone holding two same-key rows (two TXT values at one host) must still
// converge: one row is claimed by the desired record, the surplus is deleted.
func TestReconcileCollapsesDuplicateRows(t *testing.T) {
	fake := newFakeOPNsense()
	fake.store["uuid-txt-a"] = hostOverride{
		Enabled: "1", Hostname: "spf", Domain: "example.com", RR: "TXT", Server: "old-a",
	}
	fake.store["uuid-txt-b"] = hostOverride{
		Enabled: "1", Hostname: "spf", Domain: "example.com", RR: "TXT", Server: "old-b",
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	ctx := context.Background()
	desired := []dns.Record{{Type: "TXT", Host: "spf.example.com", Value: "v=spf1 ~all"}}

	plan, err := r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(plan.Deletes) != 1 || len(plan.Updates) != 1 || len(plan.Creates) != 0 {
		t.Fatalf("expected 1 delete and 1 update, got %+v", plan)
	}

	if _, err := r.Apply(ctx, plan); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	fake.mu.Lock()
	if len(fake.store) != 1 {
		t.Errorf("expected a single row left, got %d", len(fake.store))
	}
	for _, h := range fake.store {
		if h.Server != "v=spf1 ~all" {
			t.Errorf("surviving row has value %q, want the desired one", h.Server)
		}
	}
	fake.mu.Unlock()

	plan, err = r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("replan: %v", err)
	}
	if !plan.Empty() {
		t.Errorf("expected converged zone, got %+v", plan)
	}
}

func TestReconcileRetriesServerErrors(t *testing.T) {
	fake := newFakeOPNsense()
	// First two attempts to add a record hit a 503, then the API recovers.
	fake.failures["/api/unbound/settings/addHostOverride"] = []int{
		http.StatusServiceUnavailable,
		http.StatusServiceUnavailable,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	ctx := context.Background()
	desired := []dns.Record{{Type: "A", Host: "app.example.com", Value: "203.0.113.10"}}

	plan, err := r.Plan(ctx, desired)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	res, err := r.Apply(ctx, plan)
	if err != nil {
		t.Fatalf("Apply should succeed after retries: %v", err)
	}
	if res.Created != 1 {
		t.Errorf("expected 1 created, got %+v", res)
	}
}

func TestReconcileSurfacesAuthErrors(t *testing.T) {
	fake := newFakeOPNsense()
	fake.failures["/api/unbound/settings/searchHostOverride"] = []int{http.StatusUnauthorized}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := newReconciler(newProvider(t, srv.URL))
	_, err := r.Plan(context.Background(), migrationDesired())
	if err == nil {
		t.Fatal("expected auth error from Plan")
	}
	if dns.Retryable(err) {
		t.Errorf("auth errors must not be retryable: %v", err)
	}
}
