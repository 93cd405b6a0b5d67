package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wifidoor/gateway-server-go/internal/middleware"
	"github.com/wifidoor/gateway-server-go/internal/model"
)

func portalRequest(t *testing.T, h *PortalHandler, client *middleware.Client, host, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "http://"+host+path, nil)
	req.Host = host
	if client != nil {
		req = req.WithContext(context.WithValue(req.Context(), middleware.ClientContextKey, client))
	}

	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)
	return rec
}

func admittedClient() *middleware.Client {
	return &middleware.Client{
		IP:  "10.0.0.50",
		MAC: "aa:bb:cc:dd:ee:01",
		Session: &model.Session{
			MACAddress:       "aa:bb:cc:dd:ee:01",
			IPAddress:        "10.0.0.50",
			RemainingSeconds: 600,
		},
	}
}

func TestProbeUnadmittedGetsPortalPage(t *testing.T) {
	h := NewPortalHandler("10.0.0.1")

	for _, path := range []string{"/generate_204", "/hotspot-detect.html", "/ncsi.txt", "/connecttest.txt"} {
		rec := portalRequest(t, h, &middleware.Client{IP: "10.0.0.50"}, "10.0.0.1", path)

		// Never a redirect, never a probe answer: a 200 page is what makes
		// the OS raise its sign-in sheet.
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Contains(t, rec.Header().Get("Content-Type"), "text/html", path)
		assert.Contains(t, rec.Body.String(), "data-remaining=\"0\"", path)
	}
}

func TestProbeAdmittedAnswers(t *testing.T) {
	h := NewPortalHandler("10.0.0.1")
	client := admittedClient()

	rec := portalRequest(t, h, client, "connectivitycheck.gstatic.com", "/generate_204")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = portalRequest(t, h, client, "www.msftncsi.com", "/ncsi.txt")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Microsoft NCSI", rec.Body.String())

	rec = portalRequest(t, h, client, "captive.apple.com", "/hotspot-detect.html")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success", rec.Body.String())
}

func TestProbeHostSemanticsOnUnknownPath(t *testing.T) {
	h := NewPortalHandler("10.0.0.1")

	// Any path under a reserved probe hostname keeps probe semantics.
	rec := portalRequest(t, h, admittedClient(), "captive.apple.com", "/some/other/page")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Success", rec.Body.String())

	rec = portalRequest(t, h, &middleware.Client{IP: "10.0.0.50"}, "captive.apple.com", "/some/other/page")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
}

func TestUnadmittedTrafficRedirectsToPortalHost(t *testing.T) {
	h := NewPortalHandler("10.0.0.1")

	rec := portalRequest(t, h, &middleware.Client{IP: "10.0.0.50"}, "example.com", "/news")

	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://10.0.0.1/", rec.Header().Get("Location"))
}

func TestPortalHostServesPage(t *testing.T) {
	h := NewPortalHandler("10.0.0.1")

	rec := portalRequest(t, h, admittedClient(), "10.0.0.1", "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "data-remaining=\"600\""))
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))

	rec = portalRequest(t, h, admittedClient(), "10.0.0.1:8080", "/anything")
	assert.Equal(t, http.StatusOK, rec.Code)
}
