package fetcher

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/schema-crawler/internal/crawler"
)

// PromotingRenderer probes with a cheap renderer and re-renders headlessly
// when the detector says the probe looks like a client-rendered shell.
type PromotingRenderer struct {
	probe    crawler.Renderer
	headless crawler.Renderer
	detector crawler.HeadlessDetector
	logger   *zap.Logger
}

// NewPromotingRenderer wires a probe renderer, an optional headless renderer and a detector.
func NewPromotingRenderer(
	probe crawler.Renderer,
	headless crawler.Renderer,
	detector crawler.HeadlessDetector,
	logger *zap.Logger,
) *PromotingRenderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotingRenderer{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Render implements crawler.Renderer.
func (p *PromotingRenderer) Render(ctx context.Context, url string) (crawler.RenderResult, error) {
	res, err := p.probe.Render(ctx, url)
	if err != nil {
		return crawler.RenderResult{}, fmt.Errorf("probe render: %w", err)
	}
	if p.headless == nil || p.detector == nil || !p.detector.ShouldPromote(res) {
		return res, nil
	}

	headlessRes, err := p.headless.Render(ctx, url)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", url), zap.Error(err))
		return res, nil
	}
	headlessRes.UsedHeadless = true
	p.logger.Debug("headless promotion applied", zap.String("url", url))
	return headlessRes, nil
}
