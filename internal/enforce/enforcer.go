// Package enforce projects session state onto live firewall and
// traffic-shaping rules. Session rows are the source of truth; every
// mutation here is best-effort and expected to converge via the periodic
// reconcile sweep and probe-triggered re-applies.
package enforce

import (
	"context"

	"github.com/rs/zerolog/log"

	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/netctl"
)

// FirewallController is the allow/deny half of the enforcement seam.
type FirewallController interface {
	InitBase(ctx context.Context) error
	EnsureAllow(ctx context.Context, mac, ip string) error
	RemoveAllow(ctx context.Context, mac, ip string) error
}

// ShapingController is the bandwidth half of the enforcement seam.
type ShapingController interface {
	EnsureClass(ctx context.Context, iface, ip string, downKbps, upKbps int) error
	RemoveClass(ctx context.Context, iface, ip string) error
	ListTargets(ctx context.Context, iface string) ([]netctl.ShapeTarget, error)
}

// InterfaceLookup answers which interface currently serves an address.
type InterfaceLookup interface {
	InterfaceFor(ctx context.Context, ip string) string
}

type Enforcer struct {
	fw     FirewallController
	sh     ShapingController
	routes InterfaceLookup

	// interfaces carries every device that may hold shaping classes; the
	// reconcile sweep and revocation inspect all of them because a client
	// may have roamed off the interface it was admitted on.
	interfaces []string
}

func NewEnforcer(fw FirewallController, sh ShapingController, routes InterfaceLookup, interfaces []string) *Enforcer {
	return &Enforcer{fw: fw, sh: sh, routes: routes, interfaces: interfaces}
}

// InitBase installs the baseline packet-filtering policy.
func (e *Enforcer) InitBase(ctx context.Context) error {
	if err := e.fw.InitBase(ctx); err != nil {
		return apperrors.EnforcementFailure("init base policy", err)
	}
	return nil
}

// Admit ensures the allow rule and shaping class for a (mac, ip) pair exist.
// Idempotent: re-admitting with identical arguments leaves identical rules.
func (e *Enforcer) Admit(ctx context.Context, mac, ip string, downKbps, upKbps int) error {
	if err := e.fw.EnsureAllow(ctx, mac, ip); err != nil {
		log.Error().Err(err).Str("mac", mac).Str("ip", ip).Msg("failed to apply allow rule")
		return apperrors.EnforcementFailure("apply allow rule", err)
	}

	iface := e.routes.InterfaceFor(ctx, ip)
	if err := e.sh.EnsureClass(ctx, iface, ip, downKbps, upKbps); err != nil {
		log.Error().Err(err).Str("mac", mac).Str("ip", ip).Str("iface", iface).Msg("failed to apply shaping class")
		return apperrors.EnforcementFailure("apply shaping class", err)
	}

	log.Info().Str("mac", mac).Str("ip", ip).Str("iface", iface).
		Int("downKbps", downKbps).Int("upKbps", upKbps).Msg("admitted")
	return nil
}

// Revoke removes the allow rule and shaping class for a (mac, ip) pair.
// Absent rules are not an error.
func (e *Enforcer) Revoke(ctx context.Context, mac, ip string) error {
	var firstErr error

	if err := e.fw.RemoveAllow(ctx, mac, ip); err != nil {
		log.Error().Err(err).Str("mac", mac).Str("ip", ip).Msg("failed to remove allow rule")
		firstErr = apperrors.EnforcementFailure("remove allow rule", err)
	}

	// The class may sit on any interface the client has used.
	for _, iface := range e.sweepInterfaces(ctx, ip) {
		if err := e.sh.RemoveClass(ctx, iface, ip); err != nil {
			log.Error().Err(err).Str("ip", ip).Str("iface", iface).Msg("failed to remove shaping class")
			if firstErr == nil {
				firstErr = apperrors.EnforcementFailure("remove shaping class", err)
			}
		}
	}

	log.Info().Str("mac", mac).Str("ip", ip).Msg("revoked")
	return firstErr
}

// Reconcile deletes shaping rules whose target address has no active
// session. This bounds rule growth from address churn across long uptimes,
// independent of whether Revoke was called for every prior transition.
func (e *Enforcer) Reconcile(ctx context.Context, activeIPs []string) {
	active := make(map[string]struct{}, len(activeIPs))
	for _, ip := range activeIPs {
		active[ip] = struct{}{}
	}

	for _, iface := range e.interfaces {
		targets, err := e.sh.ListTargets(ctx, iface)
		if err != nil {
			log.Warn().Err(err).Str("iface", iface).Msg("reconcile: cannot list shaping targets")
			continue
		}
		for _, t := range targets {
			if _, ok := active[t.IP]; ok {
				continue
			}
			if err := e.sh.RemoveClass(ctx, iface, t.IP); err != nil {
				log.Warn().Err(err).Str("iface", iface).Str("ip", t.IP).Msg("reconcile: failed to remove orphan class")
				continue
			}
			log.Info().Str("iface", iface).Str("ip", t.IP).Msg("reconcile: removed orphan shaping class")
		}
	}
}

func (e *Enforcer) sweepInterfaces(ctx context.Context, ip string) []string {
	current := e.routes.InterfaceFor(ctx, ip)
	seen := map[string]struct{}{current: {}}
	ifaces := []string{current}
	for _, iface := range e.interfaces {
		if _, ok := seen[iface]; ok {
			continue
		}
		seen[iface] = struct{}{}
		ifaces = append(ifaces, iface)
	}
	return ifaces
}
