// Package identity maps a client's network address to its stable hardware
// address. It sits on the hot path of every portal request, so every lookup
// strategy bounds its own latency and swallows its own errors.
package identity

import (
	"context"
	"net"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/config"
	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/netctl"
)

// Resolver maps an IP address to a hardware address.
type Resolver interface {
	Resolve(ctx context.Context, ip string) (string, error)
}

const zeroMAC = "00:00:00:00:00:00"

// SystemResolver tries, in order: seed the kernel neighbor table with a
// single-packet probe, query `ip neigh`, parse the kernel ARP state file,
// scan DHCP lease files. First hit wins; total exhaustion means the address
// cannot be admitted.
type SystemResolver struct {
	runner     netctl.Runner
	leaseFiles []string

	// arpPath is /proc/net/arp in production; tests point it at a fixture.
	arpPath string
}

func NewSystemResolver(runner netctl.Runner, leaseFiles []string) *SystemResolver {
	return &SystemResolver{
		runner:     runner,
		leaseFiles: leaseFiles,
		arpPath:    "/proc/net/arp",
	}
}

func (r *SystemResolver) Resolve(ctx context.Context, ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil || parsed.IsLoopback() || parsed.IsUnspecified() {
		return "", apperrors.IdentityUnresolved(ip)
	}

	r.probe(ip)

	if mac := r.fromNeighborTable(ctx, ip); mac != "" {
		return mac, nil
	}
	if mac := r.fromARPFile(ip); mac != "" {
		return mac, nil
	}
	if mac := r.fromLeaseFiles(ip); mac != "" {
		return mac, nil
	}

	return "", apperrors.IdentityUnresolved(ip)
}

// probe fires one datagram at a discard port so the kernel performs ARP
// resolution for the address. The payload never needs to arrive.
func (r *SystemResolver) probe(ip string) {
	conn, err := net.DialTimeout("udp", net.JoinHostPort(ip, "9"), config.ProbeTimeout)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(config.ProbeTimeout))
	conn.Write([]byte{0})
}

func (r *SystemResolver) fromNeighborTable(ctx context.Context, ip string) string {
	out, err := r.runner.Run(ctx, "ip", "neigh", "show", ip)
	if err != nil {
		return ""
	}
	return parseNeighOutput(out, ip)
}

func (r *SystemResolver) fromARPFile(ip string) string {
	data, err := os.ReadFile(r.arpPath)
	if err != nil {
		return ""
	}
	return parseARPTable(string(data), ip)
}

func (r *SystemResolver) fromLeaseFiles(ip string) string {
	for _, path := range r.leaseFiles {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Debug().Err(err).Str("path", path).Msg("cannot read lease file")
			continue
		}
		if mac := parseLeaseFile(string(data), ip); mac != "" {
			return mac
		}
	}
	return ""
}

// parseNeighOutput extracts the lladdr from lines like:
//
//	10.0.0.5 dev br0 lladdr aa:bb:cc:dd:ee:ff REACHABLE
func parseNeighOutput(out, ip string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != ip {
			continue
		}
		for i := 0; i < len(fields)-1; i++ {
			if fields[i] == "lladdr" {
				return normalizeMAC(fields[i+1])
			}
		}
	}
	return ""
}

// parseARPTable scans /proc/net/arp. Only complete entries (flags 0x2)
// count; an all-zero hardware address is a stale placeholder.
func parseARPTable(data, ip string) string {
	lines := strings.Split(data, "\n")
	for i, line := range lines {
		if i == 0 {
			continue // header
		}
		fields := strings.Fields(line)
		if len(fields) < 4 || fields[0] != ip {
			continue
		}
		if fields[2] != "0x2" {
			continue
		}
		mac := normalizeMAC(fields[3])
		if mac == zeroMAC {
			continue
		}
		return mac
	}
	return ""
}

// parseLeaseFile scans dnsmasq lease lines: epoch mac ip hostname clientid.
func parseLeaseFile(data, ip string) string {
	for _, line := range strings.Split(data, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 || fields[2] != ip {
			continue
		}
		return normalizeMAC(fields[1])
	}
	return ""
}

func normalizeMAC(mac string) string {
	hw, err := net.ParseMAC(strings.TrimSpace(mac))
	if err != nil {
		return ""
	}
	return strings.ToLower(hw.String())
}
