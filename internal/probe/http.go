package probe

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/time/rate"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPConfig controls the HTTP prober.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
	// RPS paces requests so a probe never floods production. Zero means
	// unpaced.
	RPS       float64
	Transport http.RoundTripper
}

// HTTPProber sends Cases with a Colly collector.
type HTTPProber struct {
	cfg           HTTPConfig
	baseCollector *colly.Collector
	limiter       *rate.Limiter
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type response struct {
	url    string
	status int
	body   []byte
}

// NewHTTPProber builds a prober rooted at cfg.BaseURL.
func NewHTTPProber(cfg HTTPConfig) (*HTTPProber, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("probe base url is required")
	}
	cfg.BaseURL = base
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.Transport == nil {
		cfg.Transport = newHTTPTransport()
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.ParseHTTPErrorResponse = true
	c.WithTransport(cfg.Transport)
	c.SetRequestTimeout(cfg.Timeout)

	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}

	return &HTTPProber{cfg: cfg, baseCollector: c, limiter: rate.NewLimiter(limit, 1)}, nil
}

// Run executes every case in order.
func (p *HTTPProber) Run(ctx context.Context, cases []Case) []Outcome {
	out := make([]Outcome, 0, len(cases))
	for _, c := range cases {
		out = append(out, p.Check(ctx, c))
	}
	return out
}

// Check executes one case. Transport failures fail the case rather than
// returning an error.
func (p *HTTPProber) Check(ctx context.Context, c Case) Outcome {
	url := p.cfg.BaseURL + "/" + strings.TrimLeft(c.Path, "/")
	outcome := Outcome{Case: c.Name, Kind: KindHTTP, URL: url}
	if err := p.limiter.Wait(ctx); err != nil {
		outcome.Detail = fmt.Sprintf("probe pacing: %v", err)
		return outcome
	}
	start := time.Now()
	res, err := p.do(ctx, c, url)
	outcome.Duration = time.Since(start)
	if err != nil {
		outcome.Detail = err.Error()
		return outcome
	}
	outcome.Status = res.status
	outcome.Passed, outcome.Detail = evaluate(c, res)
	return outcome
}

func (p *HTTPProber) do(ctx context.Context, c Case, url string) (response, error) {
	var (
		res      response
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	collector.WithTransport(p.cfg.Transport)
	collector.SetRequestTimeout(p.cfg.Timeout)
	configureHooks(collector, &res, &fetchErr)

	method := c.Method
	if method == "" {
		method = http.MethodGet
	}
	headers := c.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
	}
	if ua := headers.Get("User-Agent"); ua != "" {
		collector.UserAgent = ua
	}

	done := make(chan error, 1)
	go func() {
		done <- collector.Request(method, url, bytes.NewReader(c.Body), nil, headers)
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("probe canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return response{}, fmt.Errorf("probe request failed: %w", err)
		}
		if fetchErr != nil {
			return response{}, fmt.Errorf("probe response failed: %w", fetchErr)
		}
		return res, nil
	}
}

func configureHooks(hooks collectorHooks, res *response, fetchErr *error) {
	hooks.OnResponse(func(r *colly.Response) {
		*res = response{
			url:    r.Request.URL.String(),
			status: r.StatusCode,
			body:   append([]byte(nil), r.Body...),
		}
	})
	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func evaluate(c Case, res response) (bool, string) {
	if c.WantStatus != 0 && res.status != c.WantStatus {
		return false, fmt.Sprintf("status %d, want %d", res.status, c.WantStatus)
	}
	if c.WantBody != "" && !bytes.Contains(res.body, []byte(c.WantBody)) {
		return false, fmt.Sprintf("body missing %q", c.WantBody)
	}
	return true, ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
