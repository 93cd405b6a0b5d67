package middleware

import (
	"context"
	"net"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/wifidoor/gateway-server-go/internal/identity"
	"github.com/wifidoor/gateway-server-go/internal/model"
)

type contextKey string

const ClientContextKey contextKey = "client"

// Client carries the per-request identity resolution result through the
// handler chain. The hardware address is resolved exactly once per request.
type Client struct {
	IP      string
	MAC     string // empty when identity could not be resolved
	Session *model.Session
}

// Admitted reports whether the client currently has time on the clock.
func (c *Client) Admitted() bool {
	return c != nil && c.Session != nil &&
		c.Session.RemainingSeconds > 0 && !c.Session.IsPaused
}

func GetClient(ctx context.Context) *Client {
	if client, ok := ctx.Value(ClientContextKey).(*Client); ok {
		return client
	}
	return nil
}

// SessionDirectory is the slice of the session engine this middleware needs.
type SessionDirectory interface {
	Get(ctx context.Context, mac string) (*model.Session, error)
	ReapplyAddress(ctx context.Context, mac, observedIP string) error
}

type IdentityMiddleware struct {
	resolver identity.Resolver
	sessions SessionDirectory
}

func NewIdentityMiddleware(resolver identity.Resolver, sessions SessionDirectory) *IdentityMiddleware {
	return &IdentityMiddleware{resolver: resolver, sessions: sessions}
}

// Handler resolves the requesting device once and, when the device roamed to
// a new address mid-session, re-applies enforcement before the request is
// answered. Unresolvable identity is not an error here; the portal treats it
// as unadmitted.
func (m *IdentityMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		client := &Client{IP: requestIP(r)}

		mac, err := m.resolver.Resolve(r.Context(), client.IP)
		if err == nil {
			client.MAC = mac

			session, err := m.sessions.Get(r.Context(), mac)
			if err != nil {
				log.Error().Err(err).Str("mac", mac).Msg("identity middleware: session lookup failed")
			} else if session != nil {
				if session.RemainingSeconds > 0 && session.IPAddress != client.IP {
					if err := m.sessions.ReapplyAddress(r.Context(), mac, client.IP); err != nil {
						log.Warn().Err(err).Str("mac", mac).Msg("identity middleware: address re-apply failed")
					} else {
						session.IPAddress = client.IP
					}
				}
				client.Session = session
			}
		}

		ctx := context.WithValue(r.Context(), ClientContextKey, client)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requestIP strips the port chi's RealIP may have left on RemoteAddr.
func requestIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
