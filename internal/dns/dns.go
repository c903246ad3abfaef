// Package dns manages the per-room DNS records.
package dns

import "context"

// RecordSpec describes a record to create inside a zone.
type RecordSpec struct {
	Type string
	Name string
	Data string
	TTL  int
}

// Provider is the DNS-provider adapter.
type Provider interface {
	CreateRecord(ctx context.Context, zone string, spec RecordSpec) (int64, error)
	DeleteRecord(ctx context.Context, zone string, recordID int64) error
}
