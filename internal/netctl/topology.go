package netctl

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wifidoor/gateway-server-go/internal/model"
)

const (
	dnsmasqConfDir = "/etc/dnsmasq.d"
	hostapdConfDir = "/etc/hostapd"
)

// Topology brings the admin-authored network layout up at boot: bridges,
// VLAN interfaces, hotspot DHCP scopes, wireless APs and the global QoS
// discipline. The admission engine only replays it; it never edits it.
type Topology struct {
	runner Runner
	shaper *Shaper
}

func NewTopology(runner Runner, shaper *Shaper) *Topology {
	return &Topology{runner: runner, shaper: shaper}
}

func (t *Topology) ApplyBridge(ctx context.Context, b model.Bridge) error {
	if _, err := t.runner.Run(ctx, "ip", "link", "add", "name", b.Name, "type", "bridge"); err != nil && !alreadyExists(err) {
		return err
	}
	if b.Address != "" {
		if _, err := t.runner.Run(ctx, "ip", "addr", "replace", b.Address, "dev", b.Name); err != nil {
			return err
		}
	}
	for _, port := range strings.Fields(b.Ports) {
		if _, err := t.runner.Run(ctx, "ip", "link", "set", "dev", port, "master", b.Name); err != nil {
			return err
		}
		if _, err := t.runner.Run(ctx, "ip", "link", "set", "dev", port, "up"); err != nil {
			return err
		}
	}
	_, err := t.runner.Run(ctx, "ip", "link", "set", "dev", b.Name, "up")
	return err
}

func (t *Topology) ApplyVLAN(ctx context.Context, v model.VLAN) error {
	if _, err := t.runner.Run(ctx, "ip", "link", "add", "link", v.Parent, "name", v.Name,
		"type", "vlan", "id", fmt.Sprintf("%d", v.VLANID)); err != nil && !alreadyExists(err) {
		return err
	}
	if v.Address != "" {
		if _, err := t.runner.Run(ctx, "ip", "addr", "replace", v.Address, "dev", v.Name); err != nil {
			return err
		}
	}
	_, err := t.runner.Run(ctx, "ip", "link", "set", "dev", v.Name, "up")
	return err
}

// ApplyHotspotScope renders a dnsmasq scope snippet and reloads dnsmasq.
func (t *Topology) ApplyHotspotScope(ctx context.Context, h model.HotspotScope) error {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", h.Interface)
	fmt.Fprintf(&b, "dhcp-range=%s,%s,%dh\n", h.RangeStart, h.RangeEnd, h.LeaseHours)
	if h.DNSServer != "" {
		fmt.Fprintf(&b, "dhcp-option=option:dns-server,%s\n", h.DNSServer)
	}

	path := filepath.Join(dnsmasqConfDir, fmt.Sprintf("gw-%s.conf", h.Interface))
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return err
	}

	_, err := t.runner.Run(ctx, "systemctl", "reload-or-restart", "dnsmasq")
	return err
}

// ApplyWirelessAP renders a hostapd config and restarts the AP service.
func (t *Topology) ApplyWirelessAP(ctx context.Context, ap model.WirelessAP) error {
	var b strings.Builder
	fmt.Fprintf(&b, "interface=%s\n", ap.Interface)
	fmt.Fprintf(&b, "ssid=%s\n", ap.SSID)
	fmt.Fprintf(&b, "channel=%d\n", ap.Channel)
	b.WriteString("hw_mode=g\n")
	if ap.Passphrase != "" {
		b.WriteString("wpa=2\nwpa_key_mgmt=WPA-PSK\nrsn_pairwise=CCMP\n")
		fmt.Fprintf(&b, "wpa_passphrase=%s\n", ap.Passphrase)
	}

	path := filepath.Join(hostapdConfDir, fmt.Sprintf("gw-%s.conf", ap.Interface))
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return err
	}

	_, err := t.runner.Run(ctx, "systemctl", "restart", fmt.Sprintf("hostapd@%s", ap.Interface))
	return err
}

// ApplyQoS installs the root discipline and, when a total downlink budget is
// set, a ceiling class the per-session classes borrow from.
func (t *Topology) ApplyQoS(ctx context.Context, q model.QoSSetting) error {
	if err := t.shaper.EnsureRoot(ctx, q.Interface); err != nil {
		return err
	}
	if q.TotalDownKbps > 0 {
		rate := fmt.Sprintf("%dkbit", q.TotalDownKbps)
		if _, err := t.runner.Run(ctx, "tc", "class", "replace", "dev", q.Interface,
			"parent", "1:", "classid", "1:1", "htb", "rate", rate, "ceil", rate); err != nil {
			return err
		}
	}
	return nil
}
