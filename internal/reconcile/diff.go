package reconcile

import (
	"sort"
	"strings"

	"github.com/yuriy-kovalchuk/yk-dns-reconciler/internal/dns"
)

// Update pairs the record currently at an identity key with the record that
// should replace it.
type Update struct {
	Old dns.Record
	New dns.Record
}

// Plan is the ordered set of operations that turns the current record set
// into the desired one. Operations apply in field order: deletes first, so a
// stale record never coexists with its replacement, then creates, then
// updates.
type Plan struct {
	Deletes []dns.Record
	Creates []dns.Record
	Updates []Update
}

// Empty reports whether the plan contains no operations, i.e. the zone
// already converged.
func (p Plan) Empty() bool {
	return len(p.Deletes) == 0 && len(p.Creates) == 0 && len(p.Updates) == 0
}

// Size returns the total number of operations in the plan.
func (p Plan) Size() int {
	return len(p.Deletes) + len(p.Creates) + len(p.Updates)
}

// Diff computes the plan converging current onto desired. Records match by
// identity key: a key present on both sides with different content is an
// update, desired-only keys are creates, current-only keys are deletes.
// Registrars can hold several rows under one identity key (two TXT values at
// a host); the desired record claims one of them and the surplus rows are
// deleted, so every current row ends up accounted for.
// Output ordering is deterministic for reproducible dry-run output.
func Diff(desired, current []dns.Record) Plan {
	currentByKey := make(map[dns.Key][]dns.Record, len(current))
	for _, r := range current {
		k := r.Key()
		currentByKey[k] = append(currentByKey[k], r)
	}

	var plan Plan
	desiredKeys := make(map[dns.Key]bool, len(desired))
	for _, want := range desired {
		key := want.Key()
		desiredKeys[key] = true
		rows := currentByKey[key]
		if len(rows) == 0 {
			plan.Creates = append(plan.Creates, want)
			continue
		}
		// Keep the row already matching desired when one exists, otherwise
		// the first row; everything else under the key is surplus.
		keep := 0
		for i, row := range rows {
			if want.Equal(row) {
				keep = i
				break
			}
		}
		for i, row := range rows {
			if i != keep {
				plan.Deletes = append(plan.Deletes, row)
			}
		}
		if !want.Equal(rows[keep]) {
			plan.Updates = append(plan.Updates, Update{Old: rows[keep], New: want})
		}
	}
	for _, have := range current {
		if !desiredKeys[have.Key()] {
			plan.Deletes = append(plan.Deletes, have)
		}
	}

	sortRecords(plan.Deletes)
	sortRecords(plan.Creates)
	sort.Slice(plan.Updates, func(i, j int) bool {
		return recordLess(plan.Updates[i].New, plan.Updates[j].New)
	})
	return plan
}

func sortRecords(records []dns.Record) {
	sort.Slice(records, func(i, j int) bool {
		return recordLess(records[i], records[j])
	})
}

func recordLess(a, b dns.Record) bool {
	if ta, tb := strings.ToUpper(a.Type), strings.ToUpper(b.Type); ta != tb {
		return ta < tb
	}
	if ha, hb := strings.ToLower(a.Host), strings.ToLower(b.Host); ha != hb {
		return ha < hb
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Value < b.Value
}
