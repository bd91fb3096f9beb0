// Package probe performs the HTTP check behind every tick.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/JakeFAU/realtime-uptime/internal/monitor"
)

const (
	defaultTimeout = 10 * time.Second
	drainLimit     = 64 << 10
)

// Error messages recorded for transport failures.
const (
	MsgTimeout           = "Request timeout"
	MsgDomainNotFound    = "Domain not found"
	MsgConnectionRefused = "Connection refused"
)

var _ monitor.Prober = (*HTTPProber)(nil)

// Config controls the probe client.
type Config struct {
	Timeout      time.Duration
	UserAgent    string
	MaxBodyBytes int64
	// HostRPS caps probes per second against a single host. Zero disables it.
	HostRPS   float64
	HostBurst int
}

// HTTPProber issues GET requests and classifies the result. It never returns
// an error: every failure is a DOWN observation.
type HTTPProber struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	limiter   *Limiter
}

// New builds an HTTPProber with a pooled transport.
func New(cfg Config) *HTTPProber {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &HTTPProber{
		client: &http.Client{
			Timeout:   timeout,
			Transport: newHTTPTransport(),
		},
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		limiter:   limiterFor(cfg),
	}
}

// NewWithClient wraps an existing client (primarily for testing).
func NewWithClient(client *http.Client, cfg Config) *HTTPProber {
	return &HTTPProber{
		client:    client,
		userAgent: cfg.UserAgent,
		maxBody:   cfg.MaxBodyBytes,
		limiter:   limiterFor(cfg),
	}
}

func limiterFor(cfg Config) *Limiter {
	if cfg.HostRPS <= 0 {
		return nil
	}
	return NewLimiter(LimiterConfig{RPS: cfg.HostRPS, Burst: cfg.HostBurst})
}

// Probe checks url once. ResponseTime is wall-clock elapsed whatever the result.
func (p *HTTPProber) Probe(ctx context.Context, url string) monitor.ProbeResult {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, url); err != nil {
			return down(0, Classify(err))
		}
	}
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return down(time.Since(start), err.Error())
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return down(time.Since(start), Classify(err))
	}
	defer func() { _ = resp.Body.Close() }()

	var body *string
	if p.maxBody > 0 {
		b, readErr := io.ReadAll(io.LimitReader(resp.Body, p.maxBody))
		if readErr == nil {
			s := string(b)
			body = &s
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	elapsed := time.Since(start)

	result := monitor.ProbeResult{
		Status:       monitor.StatusUp,
		StatusCode:   resp.StatusCode,
		ResponseTime: elapsed,
		Body:         body,
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := fmt.Sprintf("HTTP %d - %s", resp.StatusCode, reasonPhrase(resp))
		result.Status = monitor.StatusDown
		result.ErrorMessage = &msg
	}
	return result
}

// Classify maps a transport error to the message stored on the tick.
func Classify(err error) string {
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return MsgTimeout
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		return MsgDomainNotFound
	case errors.Is(err, syscall.ECONNREFUSED):
		return MsgConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return MsgTimeout
	}
	return err.Error()
}

// reasonPhrase returns the status text the server sent, falling back to the
// standard text for the code.
func reasonPhrase(resp *http.Response) string {
	reason := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	if reason == "" {
		reason = "Unknown Status"
	}
	return reason
}

func down(elapsed time.Duration, msg string) monitor.ProbeResult {
	return monitor.ProbeResult{
		Status:       monitor.StatusDown,
		ResponseTime: elapsed,
		ErrorMessage: &msg,
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
