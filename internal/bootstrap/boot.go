package bootstrap

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/enforce"
	"github.com/wifidoor/gateway-server-go/internal/netctl"
	"github.com/wifidoor/gateway-server-go/internal/repository"
)

// Boot replays the stored network configuration and re-admits every session
// with remaining time. The kernel holds no state across a power cut; the
// store is the source of truth and boot converges the kernel to it.
type Boot struct {
	topologyRepo repository.TopologyRepository
	sessionRepo  repository.SessionRepository
	topology     *netctl.Topology
	enforcer     *enforce.Enforcer
}

func New(
	topologyRepo repository.TopologyRepository,
	sessionRepo repository.SessionRepository,
	topology *netctl.Topology,
	enforcer *enforce.Enforcer,
) *Boot {
	return &Boot{
		topologyRepo: topologyRepo,
		sessionRepo:  sessionRepo,
		topology:     topology,
		enforcer:     enforcer,
	}
}

// Run applies topology in dependency order, then the base admission policy,
// then per-session rules. Individual failures are logged and skipped; one
// broken VLAN must not keep every other kiosk offline.
func (b *Boot) Run(ctx context.Context) error {
	b.applyBridges(ctx)
	b.applyVLANs(ctx)
	b.applyHotspotScopes(ctx)
	b.applyWirelessAPs(ctx)
	b.applyQoS(ctx)

	if err := b.enforcer.InitBase(ctx); err != nil {
		return err
	}

	b.readmitSessions(ctx)

	log.Info().Msg("boot reconciliation complete")
	return nil
}

func (b *Boot) applyBridges(ctx context.Context) {
	bridges, err := b.topologyRepo.ListBridges(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load bridges")
		return
	}
	for _, bridge := range bridges {
		if err := b.topology.ApplyBridge(ctx, bridge); err != nil {
			log.Error().Err(err).Str("bridge", bridge.Name).Msg("failed to apply bridge")
		}
	}
}

func (b *Boot) applyVLANs(ctx context.Context) {
	vlans, err := b.topologyRepo.ListVLANs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load vlans")
		return
	}
	for _, vlan := range vlans {
		if err := b.topology.ApplyVLAN(ctx, vlan); err != nil {
			log.Error().Err(err).Int("vlanId", vlan.VLANID).Msg("failed to apply vlan")
		}
	}
}

func (b *Boot) applyHotspotScopes(ctx context.Context) {
	scopes, err := b.topologyRepo.ListHotspotScopes(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load hotspot scopes")
		return
	}
	for _, scope := range scopes {
		if err := b.topology.ApplyHotspotScope(ctx, scope); err != nil {
			log.Error().Err(err).Str("interface", scope.Interface).Msg("failed to apply hotspot scope")
		}
	}
}

func (b *Boot) applyWirelessAPs(ctx context.Context) {
	aps, err := b.topologyRepo.ListWirelessAPs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load wireless aps")
		return
	}
	for _, ap := range aps {
		if err := b.topology.ApplyWirelessAP(ctx, ap); err != nil {
			log.Error().Err(err).Str("ssid", ap.SSID).Msg("failed to apply wireless ap")
		}
	}
}

func (b *Boot) applyQoS(ctx context.Context) {
	settings, err := b.topologyRepo.ListQoSSettings(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load qos settings")
		return
	}
	for _, setting := range settings {
		if err := b.topology.ApplyQoS(ctx, setting); err != nil {
			log.Error().Err(err).Str("interface", setting.Interface).Msg("failed to apply qos")
		}
	}
}

func (b *Boot) readmitSessions(ctx context.Context) {
	sessions, err := b.sessionRepo.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to load active sessions")
		return
	}

	for _, session := range sessions {
		if session.IsPaused {
			continue
		}
		if err := b.enforcer.Admit(ctx, session.MACAddress, session.IPAddress, session.DownloadKbps, session.UploadKbps); err != nil {
			log.Error().Err(err).Str("mac", session.MACAddress).Msg("failed to re-admit session")
		}
	}

	log.Info().Int("count", len(sessions)).Msg("re-admitted active sessions")
}
