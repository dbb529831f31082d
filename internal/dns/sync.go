package dns

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/lokig99/multi-wan-daemon/internal/cache"
)

// recordIPTTL bounds how long the last published IP is trusted without
// asking the provider again.
const recordIPTTL = 600 * time.Second

type slot int

const slotRecordIP slot = iota

// Synchronizer caches the managed record's last known IP in front of a
// Provider, so the reconciliation loop can compare against it on every
// tick without hitting the provider's API each time.
type Synchronizer struct {
	provider Provider
	cache    *cache.Cache[slot, string]
	log      logr.Logger
}

// NewSynchronizer wraps the given provider.
func NewSynchronizer(log logr.Logger, provider Provider) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		cache:    cache.New[slot, string](),
		log:      log,
	}
}

// RecordIP returns the record's published IP, served from cache when fresh.
func (s *Synchronizer) RecordIP(ctx context.Context) (string, error) {
	if ip, ok := s.cache.Get(slotRecordIP); ok {
		return ip, nil
	}
	ip, err := s.provider.RecordIP(ctx)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(slotRecordIP, ip, recordIPTTL); err != nil {
		return "", err
	}
	s.log.V(1).Info("fetched DNS record", "ip", ip)
	return ip, nil
}

// Publish replaces the record with ip. The cached value is dropped before
// the remote call and restored only on confirmed success, so a failed
// publish forces a fresh fetch next time instead of serving a stale value.
func (s *Synchronizer) Publish(ctx context.Context, ip string) error {
	s.cache.Delete(slotRecordIP)
	if err := s.provider.SetRecordIP(ctx, ip); err != nil {
		return err
	}
	if err := s.cache.Set(slotRecordIP, ip, recordIPTTL); err != nil {
		return err
	}
	s.log.Info("DNS record updated", "ip", ip)
	return nil
}
