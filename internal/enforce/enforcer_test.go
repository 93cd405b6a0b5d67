package enforce

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/wifidoor/gateway-server-go/internal/errors"
	"github.com/wifidoor/gateway-server-go/internal/netctl"
)

type fakeFirewall struct {
	mu       sync.Mutex
	allows   map[string]bool
	allowErr error
}

func newFakeFirewall() *fakeFirewall {
	return &fakeFirewall{allows: make(map[string]bool)}
}

func (f *fakeFirewall) InitBase(ctx context.Context) error { return nil }

func (f *fakeFirewall) EnsureAllow(ctx context.Context, mac, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.allowErr != nil {
		return f.allowErr
	}
	f.allows[mac+"/"+ip] = true
	return nil
}

func (f *fakeFirewall) RemoveAllow(ctx context.Context, mac, ip string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.allows, mac+"/"+ip)
	return nil
}

type fakeShaper struct {
	mu      sync.Mutex
	classes map[string]map[string]netctl.ShapeTarget // iface -> ip -> target
}

func newFakeShaper() *fakeShaper {
	return &fakeShaper{classes: make(map[string]map[string]netctl.ShapeTarget)}
}

func (s *fakeShaper) EnsureClass(ctx context.Context, iface, ip string, downKbps, upKbps int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.classes[iface] == nil {
		s.classes[iface] = make(map[string]netctl.ShapeTarget)
	}
	s.classes[iface][ip] = netctl.ShapeTarget{Handle: "800::800", IP: ip, ClassID: "1:1"}
	return nil
}

func (s *fakeShaper) RemoveClass(ctx context.Context, iface, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.classes[iface], ip)
	return nil
}

func (s *fakeShaper) ListTargets(ctx context.Context, iface string) ([]netctl.ShapeTarget, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []netctl.ShapeTarget
	for _, t := range s.classes[iface] {
		out = append(out, t)
	}
	return out, nil
}

type staticRoutes struct{ iface string }

func (r staticRoutes) InterfaceFor(ctx context.Context, ip string) string { return r.iface }

func TestAdmitAppliesAllowAndClass(t *testing.T) {
	fw := newFakeFirewall()
	sh := newFakeShaper()
	e := NewEnforcer(fw, sh, staticRoutes{"br0"}, []string{"br0"})

	require.NoError(t, e.Admit(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50", 2048, 1024))

	assert.True(t, fw.allows["aa:bb:cc:dd:ee:01/10.0.0.50"])
	_, ok := sh.classes["br0"]["10.0.0.50"]
	assert.True(t, ok)
}

func TestAdmitWrapsFirewallFailure(t *testing.T) {
	fw := newFakeFirewall()
	fw.allowErr = fmt.Errorf("iptables: permission denied")
	e := NewEnforcer(fw, newFakeShaper(), staticRoutes{"br0"}, []string{"br0"})

	err := e.Admit(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50", 0, 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeEnforcementFailure, apperrors.GetCode(err))
}

func TestRevokeSweepsAllInterfaces(t *testing.T) {
	fw := newFakeFirewall()
	sh := newFakeShaper()
	// Class installed on a VLAN the client roamed off of.
	require.NoError(t, sh.EnsureClass(context.Background(), "vlan10", "10.0.0.50", 1024, 0))
	e := NewEnforcer(fw, sh, staticRoutes{"br0"}, []string{"br0", "vlan10"})

	require.NoError(t, e.Revoke(context.Background(), "aa:bb:cc:dd:ee:01", "10.0.0.50"))

	_, ok := sh.classes["vlan10"]["10.0.0.50"]
	assert.False(t, ok)
}

func TestReconcileRemovesOrphans(t *testing.T) {
	sh := newFakeShaper()
	ctx := context.Background()
	require.NoError(t, sh.EnsureClass(ctx, "br0", "10.0.0.50", 1024, 0))
	require.NoError(t, sh.EnsureClass(ctx, "br0", "10.0.0.51", 1024, 0))
	e := NewEnforcer(newFakeFirewall(), sh, staticRoutes{"br0"}, []string{"br0"})

	e.Reconcile(ctx, []string{"10.0.0.50"})

	_, kept := sh.classes["br0"]["10.0.0.50"]
	_, orphan := sh.classes["br0"]["10.0.0.51"]
	assert.True(t, kept)
	assert.False(t, orphan)
}
