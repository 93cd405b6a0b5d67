package netctl

import (
	"context"
	"fmt"
	"strings"
)

const (
	// portalChain intercepts unadmitted HTTP traffic in nat PREROUTING and
	// sends it to the local portal. Admitted devices get a RETURN rule in
	// front of the redirect.
	portalChain = "GW_PORTAL"

	// forwardChain gates LAN→WAN forwarding; admitted devices get an ACCEPT
	// rule, everything else falls through to DROP.
	forwardChain = "GW_FORWARD"
)

// Firewall projects admission decisions onto iptables state.
type Firewall struct {
	runner     Runner
	lanIface   string
	portalPort int
}

func NewFirewall(runner Runner, lanIface string, portalPort int) *Firewall {
	return &Firewall{runner: runner, lanIface: lanIface, portalPort: portalPort}
}

// InitBase installs the baseline policy: both chains exist, are wired into
// PREROUTING/FORWARD, and end in redirect/drop. Safe to call repeatedly.
func (f *Firewall) InitBase(ctx context.Context) error {
	steps := [][]string{
		{"-t", "nat", "-N", portalChain},
		{"-t", "filter", "-N", forwardChain},
	}
	for _, args := range steps {
		// Chain may already exist from a previous run.
		if _, err := f.runner.Run(ctx, "iptables", args...); err != nil && !alreadyExists(err) {
			return err
		}
	}

	jumps := [][]string{
		{"-t", "nat", "PREROUTING", "-i", f.lanIface, "-p", "tcp", "--dport", "80", "-j", portalChain},
		{"-t", "filter", "FORWARD", "-i", f.lanIface, "-j", forwardChain},
	}
	for _, args := range jumps {
		if err := f.ensureRule(ctx, args[0], args[1], args[2:]...); err != nil {
			return err
		}
	}

	tails := [][]string{
		{"-t", "nat", portalChain, "-p", "tcp", "-j", "REDIRECT", "--to-ports", fmt.Sprintf("%d", f.portalPort)},
		{"-t", "filter", forwardChain, "-j", "DROP"},
	}
	for _, args := range tails {
		if err := f.ensureRule(ctx, args[0], args[1], args[2:]...); err != nil {
			return err
		}
	}

	return nil
}

// EnsureAllow installs the allow rules for an admitted (mac, ip) pair.
// Idempotent: rules already present are not duplicated.
func (f *Firewall) EnsureAllow(ctx context.Context, mac, ip string) error {
	for _, rule := range f.allowRules(mac, ip) {
		if err := f.ensureInsert(ctx, rule.table, rule.chain, rule.spec...); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAllow retracts the allow rules. A rule that is already absent is not
// an error.
func (f *Firewall) RemoveAllow(ctx context.Context, mac, ip string) error {
	var firstErr error
	for _, rule := range f.allowRules(mac, ip) {
		args := append([]string{"-t", rule.table, "-D", rule.chain}, rule.spec...)
		if _, err := f.runner.Run(ctx, "iptables", args...); err != nil && !ruleAbsent(err) {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

type fwRule struct {
	table string
	chain string
	spec  []string
}

func (f *Firewall) allowRules(mac, ip string) []fwRule {
	return []fwRule{
		{"nat", portalChain, []string{"-m", "mac", "--mac-source", mac, "-s", ip, "-j", "RETURN"}},
		{"filter", forwardChain, []string{"-m", "mac", "--mac-source", mac, "-s", ip, "-j", "ACCEPT"}},
	}
}

// ensureRule appends the rule if the check fails.
func (f *Firewall) ensureRule(ctx context.Context, table, chain string, spec ...string) error {
	check := append([]string{"-t", table, "-C", chain}, spec...)
	if _, err := f.runner.Run(ctx, "iptables", check...); err == nil {
		return nil
	}
	add := append([]string{"-t", table, "-A", chain}, spec...)
	_, err := f.runner.Run(ctx, "iptables", add...)
	return err
}

// ensureInsert prepends the rule if the check fails, so allow rules land in
// front of the chain's redirect/drop tail.
func (f *Firewall) ensureInsert(ctx context.Context, table, chain string, spec ...string) error {
	check := append([]string{"-t", table, "-C", chain}, spec...)
	if _, err := f.runner.Run(ctx, "iptables", check...); err == nil {
		return nil
	}
	add := append([]string{"-t", table, "-I", chain, "1"}, spec...)
	_, err := f.runner.Run(ctx, "iptables", add...)
	return err
}

func alreadyExists(err error) bool {
	return strings.Contains(err.Error(), "Chain already exists") ||
		strings.Contains(err.Error(), "File exists")
}

func ruleAbsent(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "does a matching rule exist") ||
		strings.Contains(msg, "No chain/target/match by that name") ||
		strings.Contains(msg, "Bad rule")
}
