// Package hybrid probes with a plain HTTP fetcher and re-fetches in a browser
// only when the probe looks script rendered.
package hybrid

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/harvest"
	"github.com/JakeFAU/catalog-harvester/internal/metrics"
)

// Detector decides whether a probe response needs rendering.
type Detector interface {
	ShouldPromote(resp harvest.FetchResponse) bool
}

// Fetcher implements harvest.Fetcher.
type Fetcher struct {
	probe    harvest.Fetcher
	renderer harvest.Fetcher
	detector Detector
	logger   *zap.Logger
}

// New builds a Fetcher.
func New(probe, renderer harvest.Fetcher, detector Detector, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		probe:    probe,
		renderer: renderer,
		detector: detector,
		logger:   logger.Named("hybrid"),
	}
}

// Fetch returns the probe response unless the detector promotes it. A failed
// render falls back to the probe response.
func (f *Fetcher) Fetch(ctx context.Context, request harvest.FetchRequest) (harvest.FetchResponse, error) {
	resp, err := f.probe.Fetch(ctx, request)
	if err != nil {
		return harvest.FetchResponse{}, fmt.Errorf("probe: %w", err)
	}
	if !f.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := f.renderer.Fetch(ctx, request)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return harvest.FetchResponse{}, fmt.Errorf("render canceled: %w", ctxErr)
		}
		f.logger.Warn("headless render failed, keeping probe response",
			zap.String("url", request.URL),
			zap.Error(err),
		)
		metrics.ObservePromotion("fallback")
		return resp, nil
	}
	metrics.ObservePromotion("rendered")
	f.logger.Debug("promoted to headless", zap.String("url", request.URL))
	return rendered, nil
}
