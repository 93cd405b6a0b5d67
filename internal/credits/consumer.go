package credits

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/identity"
	"github.com/wifidoor/gateway-server-go/internal/service"
)

const queueDepth = 64

// CreditEvent is a paid grant from the coin collaborator. The device is
// addressed by IP because the coin driver has no view of layer 2; the
// consumer resolves the hardware identity before granting.
type CreditEvent struct {
	IP      string
	Amount  float64
	Minutes int
}

// Consumer drains credit events on a single goroutine so grants from the
// hardware side serialize with portal-originated grants on the same locks.
type Consumer struct {
	sessions *service.SessionService
	resolver identity.Resolver

	events chan CreditEvent
	done   chan struct{}
}

func NewConsumer(sessions *service.SessionService, resolver identity.Resolver) *Consumer {
	return &Consumer{
		sessions: sessions,
		resolver: resolver,
		events:   make(chan CreditEvent, queueDepth),
		done:     make(chan struct{}),
	}
}

func (c *Consumer) Start() {
	go c.run()
	log.Info().Msg("Credit consumer started")
}

func (c *Consumer) Stop() {
	close(c.done)
}

// SubmitCredit queues a credit event. Returns false when the queue is full;
// the caller should report back-pressure rather than block the coin driver.
func (c *Consumer) SubmitCredit(event CreditEvent) bool {
	select {
	case c.events <- event:
		return true
	default:
		log.Warn().Str("ip", event.IP).Msg("Credit queue full, rejecting event")
		return false
	}
}

// RedeemVoucher is synchronous: the requester already carries a resolved
// identity and wants the token in the response.
func (c *Consumer) RedeemVoucher(ctx context.Context, mac, ip, code string) (*service.StartResult, error) {
	return c.sessions.RedeemVoucher(ctx, mac, ip, code)
}

func (c *Consumer) run() {
	for {
		select {
		case <-c.done:
			return
		case event := <-c.events:
			c.handleCredit(event)
		}
	}
}

func (c *Consumer) handleCredit(event CreditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	mac, err := c.resolver.Resolve(ctx, event.IP)
	if err != nil {
		log.Error().Err(err).Str("ip", event.IP).Msg("Dropping credit, identity unresolved")
		return
	}

	if err := c.sessions.Credit(ctx, mac, event.IP, event.Amount, event.Minutes); err != nil {
		log.Error().Err(err).
			Str("mac", mac).
			Float64("amount", event.Amount).
			Msg("Failed to apply credit")
		return
	}

	log.Info().
		Str("mac", mac).
		Str("ip", event.IP).
		Float64("amount", event.Amount).
		Int("minutes", event.Minutes).
		Msg("Credit applied")
}
