// Package providers imports all DNS provider packages to trigger their init() registration.
package providers

import (
	_ "github.com/lokig99/multi-wan-daemon/internal/dns/gandi"
	_ "github.com/lokig99/multi-wan-daemon/internal/dns/opnsense"
)
