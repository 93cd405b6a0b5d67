package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/repository"
)

// Reconciler removes enforcement state that no longer maps to an active
// session. Implemented by enforce.Enforcer.
type Reconciler interface {
	Reconcile(ctx context.Context, activeIPs []string)
}

// ReconcileJob periodically sweeps kernel shaping state against the store.
// Rules can leak when the process dies between a revoke and its retract, or
// when an operator edits tc by hand; the sweep converges back to the store.
type ReconcileJob struct {
	sessionRepo repository.SessionRepository
	reconciler  Reconciler
	interval    time.Duration
	done        chan struct{}
}

func NewReconcileJob(sessionRepo repository.SessionRepository, reconciler Reconciler, interval time.Duration) *ReconcileJob {
	return &ReconcileJob{
		sessionRepo: sessionRepo,
		reconciler:  reconciler,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *ReconcileJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("reconcile job started")
}

func (j *ReconcileJob) Stop() {
	close(j.done)
	log.Info().Msg("reconcile job stopped")
}

func (j *ReconcileJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *ReconcileJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	active, err := j.sessionRepo.ListActive(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list active sessions for reconcile")
		return
	}

	ips := make([]string, 0, len(active))
	for _, session := range active {
		ips = append(ips, session.IPAddress)
	}

	j.reconciler.Reconcile(ctx, ips)
}
