// Package opnsense publishes the managed A record as an Unbound host
// override on an OPNsense box, for setups that serve the failover name
// from the router itself instead of a public DNS provider.
package opnsense

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-logr/logr"

	"github.com/lokig99/multi-wan-daemon/internal/dns"
)

func init() {
	dns.Register("opnsense", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

// Provider implements dns.Provider on top of OPNsense Unbound host overrides.
type Provider struct {
	baseURL   string
	apiKey    string
	apiSecret string
	host      string // subdomain part of the managed name
	domain    string // domain part of the managed name
	client    *http.Client
	log       logr.Logger
}

// New creates an OPNsense Unbound provider from the given settings map.
// Required settings: base_url, api_key, api_secret, hostname (the FQDN
// whose A record is managed). Optional: skip_tls_verify (default false).
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
	hostname := settings["hostname"]
	if hostname == "" {
		return nil, fmt.Errorf("opnsense: missing required setting 'hostname'")
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if v := settings["skip_tls_verify"]; v == "true" {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	host, domain := splitHostname(hostname)
	return &Provider{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		host:      host,
		domain:    domain,
		client:    &http.Client{Transport: transport},
		log:       log,
	}, nil
}

// splitHostname splits an FQDN into subdomain and domain parts.
// e.g. "wan.example.com" → ("wan", "example.com")
func splitHostname(fqdn string) (host, domain string) {
	fqdn = strings.TrimSuffix(fqdn, ".")
	parts := strings.SplitN(fqdn, ".", 2)
	if len(parts) < 2 {
		return fqdn, ""
	}
	return parts[0], parts[1]
}

// doRequest builds and executes an HTTP request against the OPNsense API.
func (p *Provider) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("opnsense: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	url := p.baseURL + "/" + strings.TrimLeft(path, "/")
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
		return nil, fmt.Errorf("opnsense: %s %s: %w", method, path, err)
	}
	return resp, nil
}

// reconfigure tells OPNsense to apply DNS changes.
func (p *Provider) reconfigure(ctx context.Context) error {
	resp, err := p.doRequest(ctx, http.MethodPost, "unbound/service/reconfigure", struct{}{})
	if err != nil {
		return fmt.Errorf("opnsense: reconfigure: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("opnsense: reconfigure returned status %d", resp.StatusCode)
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

// hostRow represents a single host override row from the search response.
type hostRow struct {
	UUID     string `json:"uuid"`
	Hostname string `json:"hostname"`
	Domain   string `json:"domain"`
	RR       string `json:"rr"`
	Server   string `json:"server"`
}

// findOverride searches for the managed host override. Returns the row if
// found, or a zero row with found=false if not.
func (p *Provider) findOverride(ctx context.Context) (hostRow, bool, error) {
	resp, err := p.doRequest(ctx, http.MethodGet, "unbound/settings/searchHostOverride", nil)
	if err != nil {
		return hostRow{}, false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return hostRow{}, false, fmt.Errorf("opnsense: searchHostOverride returned status %d", resp.StatusCode)
	}

	var sr struct {
		Rows []hostRow `json:"rows"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return hostRow{}, false, fmt.Errorf("opnsense: decode search response: %w", err)
	}

	for _, row := range sr.Rows {
		if strings.EqualFold(row.Hostname, p.host) &&
			strings.EqualFold(row.Domain, p.domain) &&
			strings.EqualFold(row.RR, "A") {
			return row, true, nil
		}
	}
	return hostRow{}, false, nil
}

// hostBody creates the JSON body for add/set host override calls.
func (p *Provider) hostBody(ip string) map[string]any {
	return map[string]any{
		"host": map[string]string{
			"enabled":     "1",
			"hostname":    p.host,
			"domain":      p.domain,
			"rr":          "A",
			"server":      ip,
			"description": "managed by multi-wan-daemon",
			"mxprio":      "",
			"mx":          "",
		},
	}
}

// RecordIP returns the managed override's current address.
func (p *Provider) RecordIP(ctx context.Context) (string, error) {
	row, found, err := p.findOverride(ctx)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("opnsense: no host override found for %s.%s", p.host, p.domain)
	}
	return row.Server, nil
}

// SetRecordIP creates or updates the managed override to point at ip and
// applies the change.
func (p *Provider) SetRecordIP(ctx context.Context, ip string) error {
	p.log.Info("updating host override", "hostname", p.host+"."+p.domain, "ip", ip)

	row, found, err := p.findOverride(ctx)
	if err != nil {
		return err
	}

	path := "unbound/settings/addHostOverride"
	if found {
		path = fmt.Sprintf("unbound/settings/setHostOverride/%s", row.UUID)
	}

	resp, err := p.doRequest(ctx, http.MethodPost, path, p.hostBody(ip))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("opnsense: %s returned status %d: %s", path, resp.StatusCode, string(respBody))
	}

	var result struct {
		Result string `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("opnsense: decode host override response: %w", err)
	}
	if result.Result != "saved" {
		return fmt.Errorf("opnsense: host override unexpected result: %s", result.Result)
	}

	return p.reconfigure(ctx)
}
