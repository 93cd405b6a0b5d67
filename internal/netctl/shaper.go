package netctl

import (
	"context"
	"fmt"
	"net"
	"strings"
)

const (
	egressParent  = "1:"    // htb tree shaping traffic toward the client
	ingressParent = "ffff:" // ingress qdisc policing traffic from the client
)

// ShapeTarget is one installed per-address shaping rule on an interface,
// either an egress u32+class pair or an ingress police filter.
type ShapeTarget struct {
	Parent  string // "1:" for egress, "ffff:" for ingress
	Handle  string // u32 filter handle, e.g. 800::800
	IP      string // client address the rule applies to
	ClassID string // htb class for egress targets, e.g. 1:203
}

// Shaper manages per-address htb classes and u32 filters. Download limits
// shape egress toward the client; upload limits police ingress from it.
type Shaper struct {
	runner Runner
}

func NewShaper(runner Runner) *Shaper {
	return &Shaper{runner: runner}
}

// classID derives a stable class minor from the address's last two octets,
// so re-admitting the same address replaces rather than duplicates.
func classID(ip string) (string, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid address: %s", ip)
	}
	v4 := parsed.To4()
	if v4 == nil {
		return "", fmt.Errorf("not an IPv4 address: %s", ip)
	}
	minor := uint16(v4[2])<<8 | uint16(v4[3])
	if minor == 0 {
		minor = 0xffff
	}
	return fmt.Sprintf("1:%x", minor), nil
}

// EnsureRoot installs the htb root qdisc and (for upload policing) the
// ingress qdisc on an interface. Safe to call repeatedly.
func (s *Shaper) EnsureRoot(ctx context.Context, iface string) error {
	if _, err := s.runner.Run(ctx, "tc", "qdisc", "add", "dev", iface, "root", "handle", "1:", "htb", "default", "0"); err != nil && !alreadyExists(err) {
		return err
	}
	if _, err := s.runner.Run(ctx, "tc", "qdisc", "add", "dev", iface, "ingress"); err != nil && !alreadyExists(err) {
		return err
	}
	return nil
}

// EnsureClass installs (or replaces) the shaping rules for an address.
// Zero on both limits means unshaped: any lingering class is torn down.
func (s *Shaper) EnsureClass(ctx context.Context, iface, ip string, downKbps, upKbps int) error {
	if downKbps <= 0 && upKbps <= 0 {
		return s.RemoveClass(ctx, iface, ip)
	}

	if err := s.EnsureRoot(ctx, iface); err != nil {
		return err
	}

	cid, err := classID(ip)
	if err != nil {
		return err
	}

	if downKbps > 0 {
		rate := fmt.Sprintf("%dkbit", downKbps)
		if _, err := s.runner.Run(ctx, "tc", "class", "replace", "dev", iface,
			"parent", "1:", "classid", cid, "htb", "rate", rate, "ceil", rate); err != nil {
			return err
		}
		if _, err := s.runner.Run(ctx, "tc", "filter", "replace", "dev", iface,
			"protocol", "ip", "parent", "1:", "prio", "1",
			"u32", "match", "ip", "dst", ip+"/32", "flowid", cid); err != nil {
			return err
		}
	} else if err := s.removeTargets(ctx, iface, ip, egressParent); err != nil {
		return err
	}

	if upKbps > 0 {
		rate := fmt.Sprintf("%dkbit", upKbps)
		if _, err := s.runner.Run(ctx, "tc", "filter", "replace", "dev", iface,
			"parent", "ffff:", "protocol", "ip", "prio", "1",
			"u32", "match", "ip", "src", ip+"/32",
			"police", "rate", rate, "burst", "32k", "drop", "flowid", ":1"); err != nil {
			return err
		}
	} else if err := s.removeTargets(ctx, iface, ip, ingressParent); err != nil {
		return err
	}

	return nil
}

// RemoveClass tears down every shaping rule for an address, the egress
// class/filter pair and any ingress police filter. Absent rules are not an
// error.
func (s *Shaper) RemoveClass(ctx context.Context, iface, ip string) error {
	return s.removeTargets(ctx, iface, ip, "")
}

// removeTargets deletes the installed rules matching an address, optionally
// narrowed to one parent. Empty parent means both trees.
func (s *Shaper) removeTargets(ctx context.Context, iface, ip, parent string) error {
	targets, err := s.ListTargets(ctx, iface)
	if err != nil {
		return err
	}

	var firstErr error
	for _, t := range targets {
		if t.IP != ip || (parent != "" && t.Parent != parent) {
			continue
		}
		if _, err := s.runner.Run(ctx, "tc", "filter", "del", "dev", iface,
			"parent", t.Parent, "handle", t.Handle, "prio", "1", "protocol", "ip", "u32"); err != nil && firstErr == nil {
			firstErr = err
		}
		// Only egress targets carry an htb class.
		if t.Parent == egressParent {
			if _, err := s.runner.Run(ctx, "tc", "class", "del", "dev", iface,
				"classid", t.ClassID); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// ListTargets enumerates the per-address filters installed on an interface,
// egress and ingress, by parsing `tc filter show`.
func (s *Shaper) ListTargets(ctx context.Context, iface string) ([]ShapeTarget, error) {
	out, err := s.runner.Run(ctx, "tc", "filter", "show", "dev", iface, "parent", egressParent)
	if err != nil {
		return nil, err
	}
	targets := parseFilterShow(out, egressParent, "16")

	// The ingress qdisc may not exist yet on an interface that never held an
	// upload limit; treat a failed listing as no installed police filters.
	if in, err := s.runner.Run(ctx, "tc", "filter", "show", "dev", iface, "parent", ingressParent); err == nil {
		targets = append(targets, parseFilterShow(in, ingressParent, "12")...)
	}
	return targets, nil
}

// parseFilterShow extracts (handle, flowid, address) triples from tc output
// of the form:
//
//	filter parent 1: protocol ip pref 1 u32 chain 0 fh 800::800 ... flowid 1:203 ...
//	  match 0a000203/ffffffff at 16
//
// matchOffset selects which u32 key identifies the client: 16 for the IP
// dst (egress tree), 12 for the IP src (ingress police filters).
func parseFilterShow(out, parent, matchOffset string) []ShapeTarget {
	var targets []ShapeTarget
	var current ShapeTarget

	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		if fields[0] == "filter" {
			current = ShapeTarget{Parent: parent}
			for i := 0; i < len(fields)-1; i++ {
				switch fields[i] {
				case "fh":
					current.Handle = fields[i+1]
				case "flowid":
					current.ClassID = fields[i+1]
				}
			}
			continue
		}

		if fields[0] == "match" && len(fields) >= 4 && fields[2] == "at" && fields[3] == matchOffset {
			// hexip/ffffffff at the keyed offset
			parts := strings.SplitN(fields[1], "/", 2)
			ip := hexToIP(parts[0])
			if ip != "" && current.Handle != "" {
				current.IP = ip
				targets = append(targets, current)
				current = ShapeTarget{Parent: parent}
			}
		}
	}
	return targets
}

func hexToIP(h string) string {
	if len(h) != 8 {
		return ""
	}
	var octets [4]uint64
	for i := 0; i < 4; i++ {
		var v uint64
		if _, err := fmt.Sscanf(h[i*2:i*2+2], "%02x", &v); err != nil {
			return ""
		}
		octets[i] = v
	}
	return fmt.Sprintf("%d.%d.%d.%d", octets[0], octets[1], octets[2], octets[3])
}
