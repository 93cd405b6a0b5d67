package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/repository"
)

// Expirer ends a session by MAC. Implemented by the session service so the
// reap path goes through the same per-device lock as grants.
type Expirer interface {
	Expire(ctx context.Context, mac string) error
}

// TickerJob decrements every active unpaused session once per interval and
// reaps the rows that hit zero. A device paid for N seconds gets N ticks of
// access regardless of how many requests it makes.
type TickerJob struct {
	sessionRepo repository.SessionRepository
	expirer     Expirer
	interval    time.Duration
	done        chan struct{}
}

func NewTickerJob(sessionRepo repository.SessionRepository, expirer Expirer, interval time.Duration) *TickerJob {
	return &TickerJob{
		sessionRepo: sessionRepo,
		expirer:     expirer,
		interval:    interval,
		done:        make(chan struct{}),
	}
}

func (j *TickerJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("session ticker started")
}

func (j *TickerJob) Stop() {
	close(j.done)
	log.Info().Msg("session ticker stopped")
}

func (j *TickerJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *TickerJob) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := j.sessionRepo.DecrementActive(ctx); err != nil {
		log.Error().Err(err).Msg("failed to decrement sessions")
		return
	}

	expired, err := j.sessionRepo.ListExpired(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list expired sessions")
		return
	}

	for _, session := range expired {
		if err := j.expirer.Expire(ctx, session.MACAddress); err != nil {
			log.Error().Err(err).Str("mac", session.MACAddress).Msg("failed to expire session")
		}
	}
}
