package netctl

import (
	"context"
	"strings"
)

// Routes answers which interface currently serves a client address, so the
// shaping class lands on the right device when clients roam between the LAN
// bridge and a VLAN.
type Routes struct {
	runner   Runner
	fallback string
}

func NewRoutes(runner Runner, fallback string) *Routes {
	return &Routes{runner: runner, fallback: fallback}
}

// InterfaceFor parses `ip route get <ip>`; on any failure it falls back to
// the configured LAN interface rather than failing the admission.
func (r *Routes) InterfaceFor(ctx context.Context, ip string) string {
	out, err := r.runner.Run(ctx, "ip", "route", "get", ip)
	if err != nil {
		return r.fallback
	}

	fields := strings.Fields(out)
	for i := 0; i < len(fields)-1; i++ {
		if fields[i] == "dev" {
			return fields[i+1]
		}
	}
	return r.fallback
}
