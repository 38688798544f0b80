package remote

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	apperrors "github.com/engagehub/maintenance-core/internal/errors"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// ProberConfig configures the HTTP prober.
type ProberConfig struct {
	BaseURL string
	APIKey  string
	// RateGap is the minimum spacing between outbound calls, global across
	// callers.
	RateGap     time.Duration
	Timeout     time.Duration
	MaxRetries  int
	NotFoundTTL time.Duration
	Cache       ProbeCache
	Client      *http.Client
}

// Prober asks the remote service about posts, likes and follows over HTTP.
// A single token bucket of size one spaces every outbound call; callers wait
// cooperatively for the token.
type Prober struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	limiter     *rate.Limiter
	cache       ProbeCache
	notFoundTTL time.Duration
	maxRetries  int
	log         *logger.Logger
}

var _ Validator = (*Prober)(nil)

// NewProber creates a prober from configuration.
func NewProber(cfg ProberConfig, log *logger.Logger) (*Prober, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("remote base URL is required")
	}
	if log == nil {
		log = logger.NewDefault("remote-prober")
	}
	gap := cfg.RateGap
	if gap <= 0 {
		gap = 2 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	ttl := cfg.NotFoundTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}

	return &Prober{
		client:      client,
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		limiter:     rate.NewLimiter(rate.Every(gap), 1),
		cache:       cache,
		notFoundTTL: ttl,
		maxRetries:  retries,
		log:         log,
	}, nil
}

// ProbePost reports whether the post at target still exists.
func (p *Prober) ProbePost(ctx context.Context, target string) (bool, error) {
	return p.probe(ctx, "post:"+target, "/v1/posts/probe", url.Values{"url": {target}}, "exists")
}

// ProbeLikeByUser reports whether the session's user has liked target.
func (p *Prober) ProbeLikeByUser(ctx context.Context, session, target string) (bool, error) {
	return p.probe(ctx, "like:"+session+"|"+target, "/v1/likes/probe",
		url.Values{"session": {session}, "url": {target}}, "liked")
}

// ProbeFollow reports whether the session's user follows targetUser.
func (p *Prober) ProbeFollow(ctx context.Context, session, targetUser string) (bool, error) {
	return p.probe(ctx, "follow:"+session+"|"+targetUser, "/v1/follows/probe",
		url.Values{"session": {session}, "target": {targetUser}}, "follows")
}

func (p *Prober) probe(ctx context.Context, cacheKey, path string, query url.Values, field string) (bool, error) {
	if p.cache.IsNotFound(ctx, cacheKey) {
		metrics.ObserveProbe("cached_not_found")
		return false, nil
	}

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, backoff(attempt)); err != nil {
				return false, apperrors.Transient("probe_cancelled", err)
			}
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return false, apperrors.Transient("probe_cancelled", err)
		}

		found, retryable, err := p.request(ctx, path, query, field)
		if err == nil {
			if !found {
				p.cache.MarkNotFound(ctx, cacheKey, p.notFoundTTL)
				metrics.ObserveProbe("not_found")
			} else {
				metrics.ObserveProbe("found")
			}
			return found, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		p.log.WithError(err).Debugf("probe %s attempt %d failed", path, attempt+1)
	}

	metrics.ObserveProbe("transient")
	return false, apperrors.Transient("probe_failed", lastErr)
}

// request performs one probe call. The bool results are (found, retryable).
func (p *Prober) request(ctx context.Context, path string, query url.Values, field string) (bool, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return false, false, err
	}
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return false, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.ObserveProbe("rate_limited")
		return false, true, fmt.Errorf("remote rate limited")
	case resp.StatusCode >= 500:
		return false, true, fmt.Errorf("remote status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return false, false, fmt.Errorf("remote status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return false, true, err
	}
	return gjson.GetBytes(body, field).Bool(), false, nil
}

// backoff returns an exponential delay with jitter for the given attempt.
func backoff(attempt int) time.Duration {
	base := time.Duration(1<<uint(attempt-1)) * 500 * time.Millisecond
	return base + time.Duration(rand.Int63n(int64(base/2)+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
