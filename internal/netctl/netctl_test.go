package netctl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRunner records commands and serves canned responses keyed by a
// substring of the full command line.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	outputs  map[string]string
	errors   map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		outputs: make(map[string]string),
		errors:  make(map[string]error),
	}
}

func (r *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	r.commands = append(r.commands, cmd)
	for key, err := range r.errors {
		if strings.Contains(cmd, key) {
			return "", err
		}
	}
	for key, out := range r.outputs {
		if strings.Contains(cmd, key) {
			return out, nil
		}
	}
	return "", nil
}

func (r *fakeRunner) ran(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cmd := range r.commands {
		if strings.Contains(cmd, substr) {
			return true
		}
	}
	return false
}

func (r *fakeRunner) count(substr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmd := range r.commands {
		if strings.Contains(cmd, substr) {
			n++
		}
	}
	return n
}

func TestFirewallInitBaseToleratesExistingChains(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["-N GW_PORTAL"] = fmt.Errorf("iptables: Chain already exists.")
	// Checks succeed, so jumps and tails are not re-added.
	fw := NewFirewall(runner, "br0", 8080)

	require.NoError(t, fw.InitBase(context.Background()))

	assert.True(t, runner.ran("-t nat -N GW_PORTAL"))
	assert.True(t, runner.ran("-t filter -N GW_FORWARD"))
	assert.False(t, runner.ran("-A PREROUTING"))
}

func TestFirewallInitBaseInstallsTails(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["-C"] = fmt.Errorf("iptables: Bad rule (does a matching rule exist in that chain?).")
	fw := NewFirewall(runner, "br0", 8080)

	require.NoError(t, fw.InitBase(context.Background()))

	assert.True(t, runner.ran("-A PREROUTING -i br0 -p tcp --dport 80 -j GW_PORTAL"))
	assert.True(t, runner.ran("-A FORWARD -i br0 -j GW_FORWARD"))
	assert.True(t, runner.ran("-A GW_PORTAL -p tcp -j REDIRECT --to-ports 8080"))
	assert.True(t, runner.ran("-A GW_FORWARD -j DROP"))
}

func TestEnsureAllowInsertsWhenAbsent(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["-C"] = fmt.Errorf("iptables: Bad rule (does a matching rule exist in that chain?).")
	fw := NewFirewall(runner, "br0", 8080)

	require.NoError(t, fw.EnsureAllow(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50"))

	assert.True(t, runner.ran("-I GW_PORTAL 1 -m mac --mac-source aa:bb:cc:dd:ee:01 -s 10.0.0.50 -j RETURN"))
	assert.True(t, runner.ran("-I GW_FORWARD 1 -m mac --mac-source aa:bb:cc:dd:ee:01 -s 10.0.0.50 -j ACCEPT"))
}

func TestEnsureAllowIsIdempotent(t *testing.T) {
	runner := newFakeRunner()
	fw := NewFirewall(runner, "br0", 8080)

	// Checks pass, so nothing is inserted.
	require.NoError(t, fw.EnsureAllow(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50"))
	require.NoError(t, fw.EnsureAllow(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50"))

	assert.Equal(t, 0, runner.count("-I GW_PORTAL"))
	assert.Equal(t, 4, runner.count("-C"))
}

func TestRemoveAllowToleratesAbsentRules(t *testing.T) {
	runner := newFakeRunner()
	runner.errors["-D"] = fmt.Errorf("iptables: Bad rule (does a matching rule exist in that chain?).")
	fw := NewFirewall(runner, "br0", 8080)

	require.NoError(t, fw.RemoveAllow(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50"))
}

func TestClassIDStableFromAddress(t *testing.T) {
	tests := []struct {
		ip       string
		expected string
	}{
		{"10.0.2.3", "1:203"},
		{"192.168.1.50", "1:132"},
		{"10.0.0.0", "1:ffff"},
		{"10.1.255.255", "1:ffff"},
	}
	for _, tc := range tests {
		cid, err := classID(tc.ip)
		require.NoError(t, err)
		assert.Equal(t, tc.expected, cid, tc.ip)
	}

	_, err := classID("not-an-ip")
	assert.Error(t, err)
	_, err = classID("fe80::1")
	assert.Error(t, err)
}

func TestEnsureClassInstallsShaping(t *testing.T) {
	runner := newFakeRunner()
	sh := NewShaper(runner)

	require.NoError(t, sh.EnsureClass(context.Background(), "br0", "10.0.2.3", 2048, 1024))

	assert.True(t, runner.ran("class replace dev br0 parent 1: classid 1:203 htb rate 2048kbit ceil 2048kbit"))
	assert.True(t, runner.ran("filter replace dev br0 protocol ip parent 1: prio 1 u32 match ip dst 10.0.2.3/32 flowid 1:203"))
	assert.True(t, runner.ran("parent ffff: protocol ip prio 1 u32 match ip src 10.0.2.3/32 police rate 1024kbit"))
}

func TestEnsureClassUnlimitedRemoves(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["filter show dev br0 parent 1:"] = filterShowSample
	runner.outputs["filter show dev br0 parent ffff:"] = ingressFilterShowSample
	sh := NewShaper(runner)

	require.NoError(t, sh.EnsureClass(context.Background(), "br0", "10.0.2.3", 0, 0))

	assert.True(t, runner.ran("filter del dev br0 parent 1: handle 800::800"))
	assert.True(t, runner.ran("class del dev br0 classid 1:203"))
	assert.True(t, runner.ran("filter del dev br0 parent ffff: handle 800::800"))
	assert.False(t, runner.ran("class replace"))
}

func TestRemoveClassDeletesIngressPolice(t *testing.T) {
	runner := newFakeRunner()
	sh := NewShaper(runner)

	// Upload-only admission installs a police filter and no htb class.
	require.NoError(t, sh.EnsureClass(context.Background(), "br0", "10.0.2.3", 0, 512))
	assert.True(t, runner.ran("parent ffff: protocol ip prio 1 u32 match ip src 10.0.2.3/32 police rate 512kbit"))
	assert.False(t, runner.ran("class replace"))

	runner.outputs["filter show dev br0 parent ffff:"] = ingressFilterShowSample
	require.NoError(t, sh.RemoveClass(context.Background(), "br0", "10.0.2.3"))

	assert.True(t, runner.ran("filter del dev br0 parent ffff: handle 800::800"))
	assert.False(t, runner.ran("class del"))
}

func TestEnsureClassDownloadOnlyClearsStalePolice(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["filter show dev br0 parent ffff:"] = ingressFilterShowSample
	sh := NewShaper(runner)

	// A grant that drops its upload limit must not leave the old police rule.
	require.NoError(t, sh.EnsureClass(context.Background(), "br0", "10.0.2.3", 2048, 0))

	assert.True(t, runner.ran("class replace dev br0 parent 1: classid 1:203"))
	assert.True(t, runner.ran("filter del dev br0 parent ffff: handle 800::800"))
}

func TestListTargetsIncludesIngress(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["filter show dev br0 parent 1:"] = filterShowSample
	runner.outputs["filter show dev br0 parent ffff:"] = ingressFilterShowSample
	sh := NewShaper(runner)

	targets, err := sh.ListTargets(context.Background(), "br0")
	require.NoError(t, err)

	var ips []string
	for _, target := range targets {
		ips = append(ips, target.Parent+"/"+target.IP)
	}
	assert.Contains(t, ips, "1:/10.0.2.3")
	assert.Contains(t, ips, "ffff:/10.0.2.3")
}

func TestListTargetsToleratesMissingIngressQdisc(t *testing.T) {
	runner := newFakeRunner()
	runner.outputs["filter show dev br0 parent 1:"] = filterShowSample
	runner.errors["parent ffff:"] = fmt.Errorf(`Cannot find specified qdisc on dev br0.`)
	sh := NewShaper(runner)

	targets, err := sh.ListTargets(context.Background(), "br0")
	require.NoError(t, err)
	assert.Len(t, targets, 2)
}

const filterShowSample = `filter parent 1: protocol ip pref 1 u32 chain 0
filter parent 1: protocol ip pref 1 u32 chain 0 fh 800: ht divisor 1
filter parent 1: protocol ip pref 1 u32 chain 0 fh 800::800 order 2048 key ht 800 bkt 0 flowid 1:203 not_in_hw
  match 0a000203/ffffffff at 16
filter parent 1: protocol ip pref 1 u32 chain 0 fh 800::801 order 2049 key ht 800 bkt 0 flowid 1:204 not_in_hw
  match 0a000204/ffffffff at 16
`

const ingressFilterShowSample = `filter protocol ip pref 1 u32 chain 0
filter protocol ip pref 1 u32 chain 0 fh 800: ht divisor 1
filter protocol ip pref 1 u32 chain 0 fh 800::800 order 2048 key ht 800 bkt 0 flowid :1 not_in_hw
  match 0a000203/ffffffff at 12
	police 0x1 rate 512Kbit burst 32Kb mtu 2Kb action drop overhead 0b
`

func TestParseFilterShow(t *testing.T) {
	targets := parseFilterShow(filterShowSample, "1:", "16")

	require.Len(t, targets, 2)
	assert.Equal(t, ShapeTarget{Parent: "1:", Handle: "800::800", IP: "10.0.2.3", ClassID: "1:203"}, targets[0])
	assert.Equal(t, ShapeTarget{Parent: "1:", Handle: "800::801", IP: "10.0.2.4", ClassID: "1:204"}, targets[1])
}

func TestParseFilterShowIngress(t *testing.T) {
	targets := parseFilterShow(ingressFilterShowSample, "ffff:", "12")

	require.Len(t, targets, 1)
	assert.Equal(t, "ffff:", targets[0].Parent)
	assert.Equal(t, "800::800", targets[0].Handle)
	assert.Equal(t, "10.0.2.3", targets[0].IP)
}

func TestParseFilterShowEmpty(t *testing.T) {
	assert.Empty(t, parseFilterShow("", "1:", "16"))
	assert.Empty(t, parseFilterShow("filter parent 1: protocol ip pref 1 u32 chain 0\n", "1:", "16"))
}

func TestHexToIP(t *testing.T) {
	assert.Equal(t, "10.0.2.3", hexToIP("0a000203"))
	assert.Equal(t, "192.168.1.1", hexToIP("c0a80101"))
	assert.Equal(t, "", hexToIP("zz000203"))
	assert.Equal(t, "", hexToIP("0a0002"))
}
