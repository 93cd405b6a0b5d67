// Package netctl wraps the OS networking tools (iptables, tc, ip) behind a
// single exec seam so rule mutations can be faked in tests.
package netctl

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/config"
)

// Runner executes one OS networking tool invocation and returns its combined
// output. Every implementation must bound its own run time.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func NewRunner() Runner {
	return &execRunner{}
}

func (e *execRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, config.CommandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	output := strings.TrimSpace(string(out))
	if err != nil {
		return output, fmt.Errorf("%s %s: %w (%s)", name, strings.Join(args, " "), err, output)
	}

	log.Debug().Str("cmd", name).Strs("args", args).Msg("ran network tool")
	return output, nil
}
