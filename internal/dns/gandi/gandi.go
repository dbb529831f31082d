// Package gandi manages the apex A record of a domain through the
// Gandi.net LiveDNS API.
package gandi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/lokig99/multi-wan-daemon/internal/dns"
)

func init() {
	dns.Register("gandi", func(log logr.Logger, settings map[string]string) (dns.Provider, error) {
		return New(log, settings)
	})
}

const defaultAPIURL = "https://api.gandi.net"

// Provider implements dns.Provider for the Gandi LiveDNS apex A record.
type Provider struct {
	recordURL string
	apiKey    string
	recordTTL int
	client    *http.Client
	log       logr.Logger
}

// New creates a Gandi provider from the given settings map.
// Required settings: api_key, domain.
// Optional settings: api_url (default https://api.gandi.net), record_ttl
// (published record TTL in seconds, default 300).
func New(log logr.Logger, settings map[string]string) (*Provider, error) {
	apiKey := settings["api_key"]
	if apiKey == "" {
		return nil, fmt.Errorf("gandi: missing required setting 'api_key'")
	}
	domain := settings["domain"]
	if domain == "" {
		return nil, fmt.Errorf("gandi: missing required setting 'domain'")
	}

	apiURL := settings["api_url"]
	if apiURL == "" {
		apiURL = defaultAPIURL
	}

	recordTTL := 300
	if v := settings["record_ttl"]; v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("gandi: invalid record_ttl %q: %w", v, err)
		}
		recordTTL = parsed
	}

	return &Provider{
		recordURL: fmt.Sprintf("%s/v5/livedns/domains/%s/records/%%40/A", strings.TrimRight(apiURL, "/"), domain),
		apiKey:    apiKey,
		recordTTL: recordTTL,
		client:    &http.Client{Timeout: 5 * time.Second},
		log:       log,
	}, nil
}

// doRequest builds and executes a request against the LiveDNS record endpoint.
func (p *Provider) doRequest(ctx context.Context, method string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("gandi: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.recordURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("gandi: build request: %w", err)
	}

	req.Header.Set("Authorization", "Apikey "+p.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gandi: %s record: %w", method, err)
	}
	return resp, nil
}

// RecordIP fetches the record's currently published IP.
func (p *Provider) RecordIP(ctx context.Context) (string, error) {
	resp, err := p.doRequest(ctx, http.MethodGet, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("gandi: fetching record returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var record struct {
		RRSetValues []string `json:"rrset_values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return "", fmt.Errorf("gandi: decode record response: %w", err)
	}
	if len(record.RRSetValues) == 0 {
		return "", fmt.Errorf("gandi: record has no values")
	}
	return record.RRSetValues[0], nil
}

// SetRecordIP replaces the record's value set with the single given IP.
func (p *Provider) SetRecordIP(ctx context.Context, ip string) error {
	p.log.Info("updating record", "ip", ip)

	body := map[string]any{
		"rrset_type":   "A",
		"rrset_values": []string{ip},
		"rrset_ttl":    p.recordTTL,
	}
	resp, err := p.doRequest(ctx, http.MethodPut, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("gandi: updating record returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var result struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("gandi: decode update response: %w", err)
	}
	if result.Message != "DNS Record Created" {
		return fmt.Errorf("gandi: unexpected update result: %s", result.Message)
	}
	return nil
}
