package handler

import (
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wifidoor/gateway-server-go/internal/middleware"
)

// probeKind selects the admitted response for a connectivity-check probe.
type probeKind int

const (
	probeNoContent probeKind = iota // empty 204
	probeNCSI                       // text/plain "Microsoft NCSI"
	probeSuccess                    // text/plain "Success"
)

// probePaths is the fixed table of OS connectivity-check endpoints. An
// unadmitted device always gets the portal page itself with HTTP 200 on
// these paths: captive-portal browsers treat a redirect or non-200 here as
// "not captive" and abandon the flow.
var probePaths = map[string]probeKind{
	"/generate_204":              probeNoContent,
	"/gen_204":                   probeNoContent,
	"/mobile/status.php":         probeNoContent,
	"/ncsi.txt":                  probeNCSI,
	"/connecttest.txt":           probeSuccess,
	"/success.txt":               probeSuccess,
	"/connectivity-check":        probeSuccess,
	"/hotspot-detect.html":       probeSuccess,
	"/library/test/success.html": probeSuccess,
}

// probeHosts are hostnames mobile OSes reserve for connectivity checks; any
// path under them gets probe semantics.
var probeHosts = map[string]probeKind{
	"connectivitycheck.gstatic.com":           probeNoContent,
	"clients3.google.com":                     probeNoContent,
	"connectivitycheck.android.com":           probeNoContent,
	"connectivitycheck.platform.hicloud.com":  probeNoContent,
	"connect.rom.miui.com":                    probeNoContent,
	"captive.apple.com":                       probeSuccess,
	"www.msftconnecttest.com":                 probeSuccess,
	"www.msftncsi.com":                        probeNCSI,
}

type PortalHandler struct {
	portalHost string
}

func NewPortalHandler(portalHost string) *PortalHandler {
	return &PortalHandler{portalHost: portalHost}
}

func (h *PortalHandler) Routes() chi.Router {
	r := chi.NewRouter()
	for path := range probePaths {
		r.HandleFunc(path, h.Probe)
	}
	r.Get("/", h.Portal)
	r.NotFound(h.CatchAll)
	return r
}

// Probe answers a registered connectivity-check path.
func (h *PortalHandler) Probe(w http.ResponseWriter, r *http.Request) {
	kind, ok := probePaths[r.URL.Path]
	if !ok {
		kind = probeHostKind(r)
	}
	h.answerProbe(w, r, kind)
}

// Portal serves the payment page.
func (h *PortalHandler) Portal(w http.ResponseWriter, r *http.Request) {
	h.portalPage(w, r)
}

// CatchAll routes everything else: probe hostnames keep probe semantics,
// portal-host traffic gets the page, and all remaining unadmitted traffic
// is redirected to the canonical portal host so the migration token lives
// on a single origin.
func (h *PortalHandler) CatchAll(w http.ResponseWriter, r *http.Request) {
	if kind, ok := probeHosts[requestHost(r)]; ok {
		h.answerProbe(w, r, kind)
		return
	}
	if requestHost(r) == h.portalHost {
		h.portalPage(w, r)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("http://%s/", h.portalHost), http.StatusFound)
}

func (h *PortalHandler) answerProbe(w http.ResponseWriter, r *http.Request, kind probeKind) {
	client := middleware.GetClient(r.Context())
	if !client.Admitted() {
		h.portalPage(w, r)
		return
	}

	switch kind {
	case probeNCSI:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Microsoft NCSI")
	case probeSuccess:
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "Success")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *PortalHandler) portalPage(w http.ResponseWriter, r *http.Request) {
	client := middleware.GetClient(r.Context())

	remaining := 0
	if client != nil && client.Session != nil {
		remaining = client.Session.RemainingSeconds
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, portalPageHTML, remaining)
}

func probeHostKind(r *http.Request) probeKind {
	if kind, ok := probeHosts[requestHost(r)]; ok {
		return kind
	}
	return probeNoContent
}

func requestHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.Host); err == nil {
		return host
	}
	return r.Host
}

const portalPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>WiFi Portal</title>
</head>
<body data-remaining="%d">
<h1>Internet Access</h1>
<p>Insert coins or enter a voucher code to connect.</p>
<div id="app"></div>
<script src="/portal.js"></script>
</body>
</html>
`
