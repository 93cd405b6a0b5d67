package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRateLimitKeyNamespacing(t *testing.T) {
	assert.Equal(t, "gw:ratelimit:ip:session-start:10.0.0.50", rateLimitKey("ip:session-start:10.0.0.50"))
}
