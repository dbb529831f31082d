// Package dns defines the provider contract for the single managed A
// record and a TTL-caching synchronizer in front of it.
package dns

import "context"

// Provider manages one A record at a DNS provider.
type Provider interface {
	// RecordIP fetches the record's currently published IP.
	RecordIP(ctx context.Context) (string, error)
	// SetRecordIP replaces the record's value set with the single given IP.
	SetRecordIP(ctx context.Context, ip string) error
}
