package dns

import "context"

// Provider is the interface that registrar record-management APIs must
// implement. All record hosts are FQDNs. Implementations map failures onto
// the error taxonomy in errors.go so the reconciler can decide what to retry.
type Provider interface {
	// List returns every record in the managed zone.
	List(ctx context.Context) ([]Record, error)
	// Create adds a record that does not exist yet.
	Create(ctx context.Context, record Record) error
	// Update replaces the content of the record with the same identity key.
	Update(ctx context.Context, record Record) error
	// Delete removes the record with the same identity key.
	Delete(ctx context.Context, record Record) error
}
