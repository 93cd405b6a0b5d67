package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/wifidoor/gateway-server-go/internal/model"
)

// TopologyRepository reads the admin-authored network layout consumed once
// at boot. The admission engine never writes these tables.
type TopologyRepository interface {
	ListBridges(ctx context.Context) ([]model.Bridge, error)
	ListVLANs(ctx context.Context) ([]model.VLAN, error)
	ListHotspotScopes(ctx context.Context) ([]model.HotspotScope, error)
	ListWirelessAPs(ctx context.Context) ([]model.WirelessAP, error)
	ListQoSSettings(ctx context.Context) ([]model.QoSSetting, error)
}

type topologyRepo struct {
	db queryer
}

func NewTopologyRepository(db *sqlx.DB) TopologyRepository {
	return &topologyRepo{db: db}
}

func (r *topologyRepo) ListBridges(ctx context.Context) ([]model.Bridge, error) {
	bridges := []model.Bridge{}
	err := r.db.SelectContext(ctx, &bridges, `SELECT * FROM network_bridges ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return bridges, nil
}

func (r *topologyRepo) ListVLANs(ctx context.Context) ([]model.VLAN, error) {
	vlans := []model.VLAN{}
	err := r.db.SelectContext(ctx, &vlans, `SELECT * FROM network_vlans ORDER BY vlan_id`)
	if err != nil {
		return nil, err
	}
	return vlans, nil
}

func (r *topologyRepo) ListHotspotScopes(ctx context.Context) ([]model.HotspotScope, error) {
	scopes := []model.HotspotScope{}
	err := r.db.SelectContext(ctx, &scopes, `SELECT * FROM hotspot_scopes ORDER BY interface`)
	if err != nil {
		return nil, err
	}
	return scopes, nil
}

func (r *topologyRepo) ListWirelessAPs(ctx context.Context) ([]model.WirelessAP, error) {
	aps := []model.WirelessAP{}
	err := r.db.SelectContext(ctx, &aps, `SELECT * FROM wireless_aps ORDER BY interface`)
	if err != nil {
		return nil, err
	}
	return aps, nil
}

func (r *topologyRepo) ListQoSSettings(ctx context.Context) ([]model.QoSSetting, error) {
	settings := []model.QoSSetting{}
	err := r.db.SelectContext(ctx, &settings, `SELECT * FROM qos_settings ORDER BY interface`)
	if err != nil {
		return nil, err
	}
	return settings, nil
}
