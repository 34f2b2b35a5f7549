package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

// DesiredState is the validated target record set for one zone.
type DesiredState struct {
	Zone    string
	Records []dns.Record
}

// TTL unmarshals either an integer number of seconds or the string
// "automatic" (also empty/omitted) meaning the provider default.
type TTL int

func (t *TTL) UnmarshalYAML(value *yaml.Node) error {
	v := strings.TrimSpace(value.Value)
	if v == "" || strings.EqualFold(v, "automatic") {
		*t = TTL(dns.TTLAutomatic)
		return nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid ttl %q: want seconds or \"automatic\"", value.Value)
	}
	*t = TTL(secs)
	return nil
}

type recordEntry struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Value    string `yaml:"value"`
	Priority *int   `yaml:"priority"`
	TTL      TTL    `yaml:"ttl"`
}

type desiredFile struct {
	Zone    string        `yaml:"zone"`
	Records []recordEntry `yaml:"records"`
}

// LoadDesiredState reads and validates a desired-state file. Hosts in the
// file are zone-relative ("@" for the apex) and come back as FQDNs. Duplicate
// identity keys are rejected: the desired set must name each record at most
// once, with intentionally-multiple MX records told apart by priority.
func LoadDesiredState(path string) (*DesiredState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading desired-state file: %w", err)
	}

	var f desiredFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing desired-state file: %w", err)
	}

	if f.Zone == "" {
		return nil, fmt.Errorf("desired-state file: missing required field 'zone'")
	}
	if len(f.Records) == 0 {
		return nil, fmt.Errorf("desired-state file: no records declared")
	}

	ds := &DesiredState{Zone: strings.TrimSuffix(f.Zone, ".")}
	seen := make(map[dns.Key]bool, len(f.Records))
	for i, entry := range f.Records {
		rec := dns.Record{
			Type:  strings.ToUpper(entry.Type),
			Host:  dns.JoinZone(entry.Host, ds.Zone),
			Value: entry.Value,
			TTL:   int(entry.TTL),
		}
		if entry.Priority != nil {
			if rec.Type != "MX" {
				return nil, &dns.ValidationError{Record: rec, Reason: "priority is only valid for MX records"}
			}
			rec.Priority = *entry.Priority
		}
		if err := rec.Validate(); err != nil {
			return nil, fmt.Errorf("desired-state record %d: %w", i+1, err)
		}
		key := rec.Key()
		if seen[key] {
			return nil, &dns.ValidationError{Record: rec, Reason: fmt.Sprintf("duplicate record %s in desired set", key)}
		}
		seen[key] = true
		ds.Records = append(ds.Records, rec)
	}
	return ds, nil
}
