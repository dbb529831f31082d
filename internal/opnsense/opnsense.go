// Package opnsense talks to an OPNsense router's management API to track
// which WAN uplink is active and to repoint it when the preferred uplink
// changes. The active uplink is tracked through two firewall aliases: one
// holding its IP address and one holding its interface ID.
package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lokig99/multi-wan-daemon/internal/cache"
	"github.com/lokig99/multi-wan-daemon/internal/config"
)

const (
	// activeWANAlias is the router alias holding the active uplink's IP.
	activeWANAlias = "Active_WAN"
	// activeWANIDAlias is the router alias holding the active uplink's ID.
	activeWANIDAlias = "Active_WAN_Id"

	// The interface configuration endpoint is the most expensive call and
	// is needed on almost every tick, so its result is shared across one
	// tick window through a short TTL. Callers tolerate that staleness.
	gatewayDirectoryTTL = 5 * time.Second
	// activeStateTTL bounds how long a resolved active gateway is trusted
	// without re-reading the aliases. A switch invalidates it explicitly.
	activeStateTTL = 300 * time.Second
)

// ErrUnresolvableActiveGateway is returned when the active-WAN ID alias
// holds a value that matches no configured interface.
var ErrUnresolvableActiveGateway = errors.New("opnsense: active gateway id matches no configured interface")

// ErrNoGatewaysAvailable is returned when none of the configured uplinks
// currently report an assigned IPv4 address.
var ErrNoGatewaysAvailable = errors.New("opnsense: no gateways available")

// PartialSwitchError reports a delete-then-add alias swap that aborted
// after the delete succeeded, leaving the alias with neither the old nor
// the new value until the next successful switch. The two-call alias
// primitive cannot be made atomic, so this state is surfaced rather than
// retried.
type PartialSwitchError struct {
	Alias    string
	OldValue string
	NewValue string
	Err      error
}

func (e *PartialSwitchError) Error() string {
	return fmt.Sprintf("opnsense: alias %q stuck without a value: deleted %q but adding %q failed: %v",
		e.Alias, e.OldValue, e.NewValue, e.Err)
}

func (e *PartialSwitchError) Unwrap() error { return e.Err }

// Gateway is a configured WAN interface together with its currently
// assigned IPv4 address. Gateways are produced fresh on every directory
// query and never mutated in place.
type Gateway struct {
	config.Interface
	IP string
}

// Cache slots. Each logical record gets its own typed slot so new entries
// cannot collide on bare string keys.
type slot int

const (
	slotGateways slot = iota
	slotActive
)

// Client queries and mutates gateway state on an OPNsense router. It keeps
// a private cache of API results; the cache is not shared between clients.
type Client struct {
	host   string
	scheme string
	key    string
	secret string
	wans   []config.Interface
	client *http.Client
	log    logr.Logger

	directory *cache.Cache[slot, map[string]Gateway]
	active    *cache.Cache[slot, Gateway]
}

// New creates a router client for the given connection settings and the
// configured WAN interface list.
func New(log logr.Logger, cfg config.OPNsense, wans []config.Interface) (*Client, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("opnsense: missing host")
	}
	if cfg.Key == "" || cfg.Secret == "" {
		return nil, fmt.Errorf("opnsense: missing api credentials")
	}
	if len(wans) == 0 {
		return nil, fmt.Errorf("opnsense: no WAN interfaces configured")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Client{
		host:   cfg.Host,
		scheme: cfg.Scheme(),
		key:    cfg.Key,
		secret: cfg.Secret,
		wans:   append([]config.Interface(nil), wans...),
		client: &http.Client{Transport: transport, Timeout: timeout},
		log:    log,

		directory: cache.New[slot, map[string]Gateway](),
		active:    cache.New[slot, Gateway](),
	}, nil
}

func (c *Client) interfaceConfigURL() string {
	return fmt.Sprintf("%s://%s/api/diagnostics/interface/getInterfaceConfig", c.scheme, c.host)
}

func (c *Client) aliasListURL(alias string) string {
	return fmt.Sprintf("%s://%s/api/firewall/alias_util/list/%s", c.scheme, c.host, alias)
}

func (c *Client) aliasAddURL(alias string) string {
	return fmt.Sprintf("%s://%s/api/firewall/alias_util/add/%s", c.scheme, c.host, alias)
}

func (c *Client) aliasDeleteURL(alias string) string {
	return fmt.Sprintf("%s://%s/api/firewall/alias_util/delete/%s", c.scheme, c.host, alias)
}

// getJSON issues an authenticated GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("opnsense: build request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opnsense: GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: GET %s returned status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opnsense: decode response from %s: %w", url, err)
	}
	return nil
}

// postJSON issues an authenticated POST with a JSON body and decodes the
// JSON response into out.
func (c *Client) postJSON(ctx context.Context, url string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("opnsense: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("opnsense: build request: %w", err)
	}
	req.SetBasicAuth(c.key, c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("opnsense: POST %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: POST %s returned status %d: %s", url, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("opnsense: decode response from %s: %w", url, err)
	}
	return nil
}

// interfaceConfig is the per-interface shape of the getInterfaceConfig
// response; only the IPv4 assignments are of interest.
type interfaceConfig struct {
	IPv4 []struct {
		IPAddr string `json:"ipaddr"`
	} `json:"ipv4"`
}

// Gateways returns the configured interfaces that currently report an
// assigned IPv4 address, keyed by interface name. Interfaces without an
// address are silently omitted. The result is cached for a few seconds.
func (c *Client) Gateways(ctx context.Context) (map[string]Gateway, error) {
	if gws, ok := c.directory.Get(slotGateways); ok {
		return gws, nil
	}

	var res map[string]interfaceConfig
	if err := c.getJSON(ctx, c.interfaceConfigURL(), &res); err != nil {
		return nil, err
	}

	gws := make(map[string]Gateway)
	for _, wan := range c.wans {
		ifc, ok := res[wan.Name]
		if !ok || len(ifc.IPv4) == 0 {
			continue
		}
		gws[wan.Name] = Gateway{Interface: wan, IP: ifc.IPv4[0].IPAddr}
	}

	if err := c.directory.Set(slotGateways, gws, gatewayDirectoryTTL); err != nil {
		return nil, err
	}
	c.log.V(1).Info("refreshed gateway directory", "count", len(gws))
	return gws, nil
}

type aliasListResponse struct {
	Rows []struct {
		IP string `json:"ip"`
	} `json:"rows"`
}

// aliasValue fetches the first member value of the named alias.
func (c *Client) aliasValue(ctx context.Context, alias string) (string, error) {
	var res aliasListResponse
	if err := c.getJSON(ctx, c.aliasListURL(alias), &res); err != nil {
		return "", err
	}
	if len(res.Rows) == 0 {
		return "", fmt.Errorf("opnsense: alias %q has no value", alias)
	}
	return res.Rows[0].IP, nil
}

func (c *Client) wanByID(id string) (config.Interface, bool) {
	for _, wan := range c.wans {
		if wan.ID == id {
			return wan, true
		}
	}
	return config.Interface{}, false
}

// ActiveGateway resolves the uplink the router currently routes through,
// by reading the active-WAN aliases and matching the ID against the
// configured interface list. The match deliberately scans the configured
// list rather than the live directory, so an uplink that is down can still
// be reported as active.
//
// The resolved state is cached as one unit and trusted until its TTL
// lapses or a switch invalidates it. An ID that matches no configured
// interface clears the cached state and returns
// ErrUnresolvableActiveGateway; a partially matched tuple is never
// returned.
func (c *Client) ActiveGateway(ctx context.Context) (Gateway, error) {
	if gw, ok := c.active.Get(slotActive); ok {
		return gw, nil
	}

	ip, err := c.aliasValue(ctx, activeWANAlias)
	if err != nil {
		return Gateway{}, err
	}
	id, err := c.aliasValue(ctx, activeWANIDAlias)
	if err != nil {
		return Gateway{}, err
	}

	wan, ok := c.wanByID(id)
	if !ok {
		c.active.Delete(slotActive)
		return Gateway{}, fmt.Errorf("%w: id %q", ErrUnresolvableActiveGateway, id)
	}

	gw := Gateway{Interface: wan, IP: ip}
	if err := c.active.Set(slotActive, gw, activeStateTTL); err != nil {
		return Gateway{}, err
	}
	c.log.V(1).Info("resolved active gateway", "gateway", gw.Name, "ip", gw.IP)
	return gw, nil
}

type aliasMutation struct {
	Address string `json:"address"`
}

type aliasMutationResponse struct {
	Status string `json:"status"`
}

// setAlias swaps the alias value from oldValue to newValue as a
// delete-then-add pair. The router offers no atomic replace: if the delete
// succeeds but the add does not, the alias is left empty and a
// *PartialSwitchError is returned.
func (c *Client) setAlias(ctx context.Context, alias, newValue, oldValue string) error {
	var res aliasMutationResponse
	if err := c.postJSON(ctx, c.aliasDeleteURL(alias), aliasMutation{Address: oldValue}, &res); err != nil {
		return err
	}
	if res.Status == "failed" {
		return fmt.Errorf("opnsense: deleting %q from alias %q failed", oldValue, alias)
	}

	// The old value is gone; any failure from here on strands the alias.
	if err := c.postJSON(ctx, c.aliasAddURL(alias), aliasMutation{Address: newValue}, &res); err != nil {
		perr := &PartialSwitchError{Alias: alias, OldValue: oldValue, NewValue: newValue, Err: err}
		c.log.Error(perr, "alias swap stuck between delete and add", "alias", alias)
		return perr
	}
	if res.Status == "failed" {
		perr := &PartialSwitchError{Alias: alias, OldValue: oldValue, NewValue: newValue, Err: errors.New("add rejected by router")}
		c.log.Error(perr, "alias swap stuck between delete and add", "alias", alias)
		return perr
	}
	return nil
}

// SetActiveGateway points the router's active-WAN aliases at the named
// gateway. With an empty name it only refreshes the IP alias in case the
// active interface's address drifted. The returned bool reports whether
// any alias was changed; nothing to do is (false, nil), distinguishable
// from a transport or swap failure.
//
// A named target must be both configured and currently reporting an IP;
// otherwise the call fails fast without touching the router. The cached
// active state is invalidated before any mutation and re-cached only
// after the router confirmed every step.
func (c *Client) SetActiveGateway(ctx context.Context, name string) (bool, error) {
	gateways, err := c.Gateways(ctx)
	if err != nil {
		return false, err
	}
	if name != "" {
		if _, ok := gateways[name]; !ok {
			c.log.V(1).Info("switch target is not an available gateway", "target", name)
			return false, nil
		}
	}

	current, err := c.ActiveGateway(ctx)
	if err != nil {
		return false, err
	}

	// Explicit target that differs from the current active gateway: swap
	// the IP alias first, then the ID alias.
	if name != "" && name != current.Name {
		target := gateways[name]
		c.active.Delete(slotActive)
		if err := c.setAlias(ctx, activeWANAlias, target.IP, current.IP); err != nil {
			return false, err
		}
		if err := c.setAlias(ctx, activeWANIDAlias, target.ID, current.ID); err != nil {
			return false, err
		}
		if err := c.active.Set(slotActive, target, activeStateTTL); err != nil {
			return false, err
		}
		c.log.Info("active gateway switched", "from", current.Name, "to", target.Name, "ip", target.IP)
		return true, nil
	}

	// Same uplink still active: refresh the IP alias if its address moved.
	if gw, ok := gateways[current.Name]; ok && gw.IP != current.IP {
		c.active.Delete(slotActive)
		if err := c.setAlias(ctx, activeWANAlias, gw.IP, current.IP); err != nil {
			return false, err
		}
		if err := c.active.Set(slotActive, gw, activeStateTTL); err != nil {
			return false, err
		}
		c.log.Info("active gateway address refreshed", "gateway", gw.Name, "old", current.IP, "new", gw.IP)
		return true, nil
	}

	return false, nil
}

// PriorityGateway returns the gateway with the numerically lowest priority
// among the given directory. Ties are broken by the lexicographically
// smallest name so the selection is stable across ticks.
func PriorityGateway(gateways map[string]Gateway) (Gateway, error) {
	if len(gateways) == 0 {
		return Gateway{}, ErrNoGatewaysAvailable
	}
	var best Gateway
	found := false
	for _, gw := range gateways {
		if !found || gw.Priority < best.Priority ||
			(gw.Priority == best.Priority && gw.Name < best.Name) {
			best = gw
			found = true
		}
	}
	return best, nil
}
