package uptime

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sf7293/pipeline-board/internal/domain"
	"github.com/sf7293/pipeline-board/internal/errval"
)

const userAgent = "pipeline-board-uptime/1.0"

// Prober classifies a single domain. Every failure is reported as UptimeDown with an
// error wrapping errval.ErrProbe.
type Prober interface {
	Probe(ctx context.Context, target string) (domain.UptimeStatus, error)
}

// HTTPProber sends one HEAD request per probe. The dial timeout bounds connection
// setup and the probe timeout bounds the whole exchange.
type HTTPProber struct {
	client    *http.Client
	transport *http.Transport
	timeout   time.Duration
}

func NewHTTPProber(dialTimeout, probeTimeout time.Duration) *HTTPProber {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout: dialTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   dialTimeout,
		ResponseHeaderTimeout: probeTimeout,
		DisableKeepAlives:     true,
		MaxIdleConns:          0,
	}

	return &HTTPProber{
		transport: transport,
		timeout:   probeTimeout,
		client: &http.Client{
			Transport: transport,
			// 3xx already counts as up, following it would probe another host
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type probeResult struct {
	resp *http.Response
	err  error
}

func (p *HTTPProber) Probe(ctx context.Context, target string) (domain.UptimeStatus, error) {
	url := targetURL(target)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, url, nil)
	if err != nil {
		return domain.UptimeDown, fmt.Errorf("%w: %v", errval.ErrProbe, err)
	}
	req.Header.Set("User-Agent", userAgent)

	done := make(chan probeResult, 1)
	go func() {
		resp, err := p.client.Do(req)
		done <- probeResult{resp: resp, err: err}
	}()

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			return domain.UptimeDown, fmt.Errorf("%w: %v", errval.ErrProbe, res.err)
		}
		closeBody(res.resp)
		return classify(res.resp.StatusCode)

	case <-timer.C:
		// The request lost the race: abort it and release whatever it still holds.
		cancel()
		go func() {
			if res := <-done; res.err == nil {
				closeBody(res.resp)
			}
		}()
		return domain.UptimeDown, fmt.Errorf("%w: timed out after %s", errval.ErrProbe, p.timeout)

	case <-ctx.Done():
		cancel()
		go func() {
			if res := <-done; res.err == nil {
				closeBody(res.resp)
			}
		}()
		return domain.UptimeDown, fmt.Errorf("%w: %v", errval.ErrProbe, ctx.Err())
	}
}

// Close drops any pooled connections left after a cycle.
func (p *HTTPProber) Close() {
	p.transport.CloseIdleConnections()
}

func classify(statusCode int) (domain.UptimeStatus, error) {
	if statusCode >= 200 && statusCode < 400 {
		return domain.UptimeUp, nil
	}
	return domain.UptimeDown, fmt.Errorf("%w: status %d", errval.ErrProbe, statusCode)
}

func closeBody(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}

// targetURL turns a bare hostname into an https URL. Explicit schemes are kept.
func targetURL(target string) string {
	target = strings.TrimSpace(target)
	lower := strings.ToLower(target)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return target
	}
	return "https://" + strings.TrimPrefix(target, "//")
}
