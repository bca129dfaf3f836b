package connectivity

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/tillsync/internal/logging"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Prober runs the individual signal checks of one probe round. It is an
// interface so monitor tests can script outcomes.
type Prober interface {
	ProbeDNS(ctx context.Context) bool
	ProbeTCP(ctx context.Context) bool
	// ProbeHTTP returns the http_consistency fraction in [0,1].
	ProbeHTTP(ctx context.Context) float64
	ProbeChannel(ctx context.Context) bool
	Close() error
}

// ProbeConfig configures the default network prober.
type ProbeConfig struct {
	// DNSHost is the hostname resolved by the DNS check.
	DNSHost string
	// TCPAddr is the host:port dialed by the TCP check.
	TCPAddr string
	// HTTPEndpoints are the independent endpoints queried by the HTTP
	// check; at least two are required for the agreement rule.
	HTTPEndpoints []string
	// BodySignature is a substring every endpoint must return. A response
	// without it looks like a captive-portal login page.
	BodySignature string
	// GRPCAddr is the upstream gRPC endpoint used for the
	// persistent-channel check.
	GRPCAddr string
	// Timeout bounds each individual signal check.
	Timeout time.Duration
}

// netProber is the production Prober.
type netProber struct {
	cfg      ProbeConfig
	log      logging.Logger
	resolver *net.Resolver
	dialer   *net.Dialer
	http     *http.Client
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
}

// NewProber builds the default prober. The gRPC channel is created once and
// reused across rounds; its connectivity is what the channel check reports.
func NewProber(cfg ProbeConfig, log logging.Logger) (Prober, error) {
	conn, err := grpc.NewClient(cfg.GRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &netProber{
		cfg:      cfg,
		log:      log,
		resolver: net.DefaultResolver,
		dialer:   &net.Dialer{},
		http: &http.Client{
			// redirects are a captive-portal indicator; surface the 3xx
			// instead of following it
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

func (p *netProber) Close() error {
	return p.conn.Close()
}

func (p *netProber) ProbeDNS(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	addrs, err := p.resolver.LookupHost(ctx, p.cfg.DNSHost)
	return err == nil && len(addrs) > 0
}

func (p *netProber) ProbeTCP(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	conn, err := p.dialer.DialContext(ctx, "tcp", p.cfg.TCPAddr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// endpointResult is the outcome of probing a single HTTP endpoint.
type endpointResult struct {
	ok      bool
	captive bool
}

// ProbeHTTP queries every configured endpoint and requires two-of-N
// agreement. Any captive-portal indicator on any endpoint forces the whole
// signal to 0 regardless of HTTP status codes.
func (p *netProber) ProbeHTTP(ctx context.Context) float64 {
	results := make([]endpointResult, len(p.cfg.HTTPEndpoints))
	var wg sync.WaitGroup
	for i, endpoint := range p.cfg.HTTPEndpoints {
		wg.Add(1)
		go func(i int, endpoint string) {
			defer wg.Done()
			results[i] = p.probeEndpoint(ctx, endpoint)
		}(i, endpoint)
	}
	wg.Wait()
	return Consistency(results)
}

func (p *netProber) probeEndpoint(ctx context.Context, endpoint string) endpointResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return endpointResult{}
	}
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := p.http.Do(req)
	if err != nil {
		return endpointResult{}
	}
	defer resp.Body.Close()

	// a 3xx answer or a response from a different URL means something
	// between us and the server answered instead of it
	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		p.log.Debug(ctx, "captive portal indicator: redirect", "endpoint", endpoint, "status", resp.StatusCode)
		return endpointResult{captive: true}
	}
	if !sameURL(resp.Request.URL, endpoint) {
		p.log.Debug(ctx, "captive portal indicator: response URL changed", "endpoint", endpoint, "got", resp.Request.URL.String())
		return endpointResult{captive: true}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return endpointResult{}
	}
	if p.cfg.BodySignature != "" && !strings.Contains(string(body), p.cfg.BodySignature) {
		p.log.Debug(ctx, "captive portal indicator: body signature missing", "endpoint", endpoint)
		return endpointResult{captive: true}
	}
	if resp.StatusCode != http.StatusOK {
		return endpointResult{}
	}
	return endpointResult{ok: true}
}

func sameURL(got *url.URL, want string) bool {
	w, err := url.Parse(want)
	if err != nil {
		return false
	}
	return got.Scheme == w.Scheme && got.Host == w.Host && got.Path == w.Path
}

// Consistency reduces per-endpoint results to the http_consistency
// fraction: 0 on any captive indicator, 0 without two-of-N agreement,
// otherwise the fraction of endpoints answering correctly.
func Consistency(results []endpointResult) float64 {
	if len(results) == 0 {
		return 0
	}
	okCount := 0
	for _, r := range results {
		if r.captive {
			return 0
		}
		if r.ok {
			okCount++
		}
	}
	if okCount < 2 {
		return 0
	}
	return float64(okCount) / float64(len(results))
}

func (p *netProber) ProbeChannel(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()
	resp, err := p.health.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return false
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
}
