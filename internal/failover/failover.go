// Package failover runs the reconciliation loop that keeps the router's
// active uplink on the highest-priority healthy WAN and the managed DNS
// record pointed at its address.
package failover

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/tevino/abool"

	"github.com/lokig99/multi-wan-daemon/internal/opnsense"
)

// Router is the view of the router client the daemon needs.
type Router interface {
	Gateways(ctx context.Context) (map[string]opnsense.Gateway, error)
	ActiveGateway(ctx context.Context) (opnsense.Gateway, error)
	SetActiveGateway(ctx context.Context, name string) (bool, error)
}

// RecordSyncer is the view of the DNS synchronizer the daemon needs.
type RecordSyncer interface {
	RecordIP(ctx context.Context) (string, error)
	Publish(ctx context.Context, ip string) error
}

// Pinger signals tick start and success to an external monitor.
type Pinger interface {
	Start(ctx context.Context)
	Success(ctx context.Context)
}

type noopPinger struct{}

func (noopPinger) Start(context.Context)   {}
func (noopPinger) Success(context.Context) {}

// Daemon drives the reconciliation loop. Ticks run strictly one at a
// time; the shared caches and the router's two-phase alias swaps are not
// safe under overlapping ticks.
type Daemon struct {
	router   Router
	dns      RecordSyncer
	health   Pinger
	log      logr.Logger
	interval time.Duration
	ticking  *abool.AtomicBool
}

// New creates a daemon. A nil pinger disables monitoring.
func New(log logr.Logger, router Router, syncer RecordSyncer, health Pinger, interval time.Duration) *Daemon {
	if health == nil {
		health = noopPinger{}
	}
	return &Daemon{
		router:   router,
		dns:      syncer,
		health:   health,
		log:      log,
		interval: interval,
		ticking:  abool.New(),
	}
}

// Tick runs one reconciliation pass: refresh the active uplink's address,
// pick the highest-priority available gateway, switch over if the current
// one is outranked or dead, and republish the DNS record when it no longer
// matches the active address. A dead-gateway recovery always re-asserts
// both the switch and the record, even if the record already matched.
func (d *Daemon) Tick(ctx context.Context) error {
	start := time.Now()
	d.health.Start(ctx)

	// Refresh the IP alias first in case the active interface got a new
	// address without an active-WAN change.
	if _, err := d.router.SetActiveGateway(ctx, ""); err != nil {
		return fmt.Errorf("refreshing active gateway: %w", err)
	}

	current, err := d.router.ActiveGateway(ctx)
	if err != nil {
		return fmt.Errorf("resolving active gateway: %w", err)
	}
	gateways, err := d.router.Gateways(ctx)
	if err != nil {
		return fmt.Errorf("enumerating gateways: %w", err)
	}
	priority, err := opnsense.PriorityGateway(gateways)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(gateways))
	for name := range gateways {
		names = append(names, name)
	}
	d.log.Info("tick state",
		"gateways", names,
		"current", current.Name, "currentIP", current.IP,
		"priority", priority.Name, "priorityIP", priority.IP)

	if _, alive := gateways[current.Name]; alive {
		d.log.Info("current gateway is alive", "gateway", current.Name)
		if priority.Name != current.Name {
			d.log.Info("higher priority gateway available, switching", "from", current.Name, "to", priority.Name)
			if _, err := d.router.SetActiveGateway(ctx, priority.Name); err != nil {
				return fmt.Errorf("switching to %s: %w", priority.Name, err)
			}
			current = priority
		}

		recordIP, err := d.dns.RecordIP(ctx)
		if err != nil {
			return fmt.Errorf("fetching DNS record: %w", err)
		}
		if current.IP != recordIP {
			d.log.Info("public IP changed, updating DNS record", "old", recordIP, "new", current.IP)
			if err := d.dns.Publish(ctx, current.IP); err != nil {
				return fmt.Errorf("publishing DNS record: %w", err)
			}
		}
	} else {
		d.log.Error(nil, "current gateway is dead, failing over", "gateway", current.Name, "replacement", priority.Name)
		if _, err := d.router.SetActiveGateway(ctx, priority.Name); err != nil {
			return fmt.Errorf("switching to %s: %w", priority.Name, err)
		}
		if err := d.dns.Publish(ctx, priority.IP); err != nil {
			return fmt.Errorf("publishing DNS record: %w", err)
		}
	}

	d.health.Success(ctx)
	d.log.Info("tick finished", "duration", time.Since(start).Round(time.Millisecond).String())
	return nil
}

// Run executes a tick immediately and then on every interval until ctx is
// done. Tick failures are logged and never stop the loop; the next
// scheduled tick is the retry mechanism.
func (d *Daemon) Run(ctx context.Context) {
	d.runTick(ctx)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.runTick(ctx)
		}
	}
}

// runTick contains all failures so a bad tick never kills the daemon. The
// guard refuses to start a tick while a previous one is still executing.
func (d *Daemon) runTick(ctx context.Context) {
	if !d.ticking.SetToIf(false, true) {
		d.log.Info("previous tick still running, skipping this one")
		return
	}
	defer d.ticking.UnSet()

	defer func() {
		if r := recover(); r != nil {
			d.log.Error(fmt.Errorf("panic: %v", r), "tick panicked")
		}
	}()

	if err := d.Tick(ctx); err != nil {
		d.log.Error(err, "tick failed")
	}
}
