package connectivity

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHTTPProber(endpoints []string, signature string) *netProber {
	return &netProber{
		cfg: ProbeConfig{
			HTTPEndpoints: endpoints,
			BodySignature: signature,
			Timeout:       time.Second,
		},
		log:      testLogger(),
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		http: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func okServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProbeHTTP_AllEndpointsAgree(t *testing.T) {
	a, b := okServer(t), okServer(t)
	p := newHTTPProber([]string{a.URL + "/healthz", b.URL + "/healthz"}, `"status":"ok"`)

	got := p.ProbeHTTP(context.Background())
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestProbeHTTP_RedirectIsCaptivePortal(t *testing.T) {
	ok := okServer(t)
	portal := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// what a hotel wifi does: answer with its login page
		http.Redirect(w, r, "http://portal.local/login", http.StatusFound)
	}))
	t.Cleanup(portal.Close)

	p := newHTTPProber([]string{ok.URL + "/healthz", portal.URL + "/healthz"}, `"status":"ok"`)

	got := p.ProbeHTTP(context.Background())
	assert.Zero(t, got, "any captive indicator forces the signal to 0")
}

func TestProbeHTTP_WrongBodyIsCaptivePortal(t *testing.T) {
	a := okServer(t)
	fake := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 OK but not our server: status code alone must not count
		_, _ = w.Write([]byte(`<html>Welcome to FreeAirportWifi</html>`))
	}))
	t.Cleanup(fake.Close)

	p := newHTTPProber([]string{a.URL + "/healthz", fake.URL + "/healthz"}, `"status":"ok"`)

	got := p.ProbeHTTP(context.Background())
	assert.Zero(t, got)
}

func TestProbeHTTP_SingleSurvivorFailsAgreement(t *testing.T) {
	a := okServer(t)
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused, not captive

	p := newHTTPProber([]string{a.URL + "/healthz", dead.URL + "/healthz"}, `"status":"ok"`)

	got := p.ProbeHTTP(context.Background())
	assert.Zero(t, got, "two-of-N agreement requires at least two good endpoints")
}

func TestProbeTCP(t *testing.T) {
	srv := okServer(t)
	p := newHTTPProber(nil, "")
	p.cfg.TCPAddr = srv.Listener.Addr().String()

	assert.True(t, p.ProbeTCP(context.Background()))

	p.cfg.TCPAddr = "127.0.0.1:1" // nothing listens there
	assert.False(t, p.ProbeTCP(context.Background()))
}

func TestSameURL(t *testing.T) {
	parse := func(s string) *url.URL {
		u, err := url.Parse(s)
		require.NoError(t, err)
		return u
	}

	assert.True(t, sameURL(parse("http://a.example.com/h"), "http://a.example.com/h"))
	assert.False(t, sameURL(parse("http://portal.local/login"), "http://a.example.com/h"))
	assert.False(t, sameURL(parse("https://a.example.com/h"), "http://a.example.com/h"))
}
