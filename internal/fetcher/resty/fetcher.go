// Package restyfetcher implements harvest.Fetcher on top of resty.
package restyfetcher

import (
	"context"
	"fmt"
	"time"

	"resty.dev/v3"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
)

// Config controls the resty client.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Proxy     string
}

// Fetcher performs plain HTTP GETs. Retries are left to harvest.RetryFetcher.
type Fetcher struct {
	client *resty.Client
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	if cfg.UserAgent != "" {
		client.SetHeader("User-Agent", cfg.UserAgent)
	}
	if cfg.Proxy != "" {
		client.SetProxy(cfg.Proxy)
	}
	return &Fetcher{client: client}
}

// Fetch issues a GET and returns the response whatever its status.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	req := f.client.R().SetContext(ctx)
	for key, values := range request.Headers {
		if len(values) > 0 {
			req.SetHeader(key, values[0])
		}
	}

	start := time.Now()
	resp, err := req.Get(request.URL)
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("resty get %s: %w", request.URL, err)
	}
	return harvest.FetchResponse{
		URL:        request.URL,
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header().Clone(),
		Body:       resp.Bytes(),
		Duration:   time.Since(start),
	}, nil
}
