package aggregator

import (
	"bytes"
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/feedroll/internal/storage"
)

// PageContentType is attached to published pages.
const PageContentType = "text/html; charset=utf-8"

// Write selects the articles to show, renders the page and publishes it to
// the output file, then to the mirror if one is configured. A BeforeWrite
// subscriber that reports the output as handled suppresses all of that.
func (a *Aggregator) Write(ctx context.Context) error {
	a.logger.Info("Starting write")
	now := a.clock.Now()

	sel, err := a.selector.Select(a.state, now)
	if err != nil {
		return fmt.Errorf("select articles: %w", err)
	}
	a.logger.Info("Selected articles to write",
		zap.Int("selected", len(sel.Articles)),
		zap.Int("total", sel.Total),
		zap.Int("duplicates", sel.Duplicates))

	if a.bus.BeforeWrite(ctx, sel.Articles, sel.Dates) {
		a.logger.Info("Output handled by subscriber")
		return nil
	}

	page, err := a.renderer.Render(ctx, a.state.Feeds, sel.Articles, sel.Dates)
	if err != nil {
		return fmt.Errorf("render page: %w", err)
	}

	target := a.cfg.OutputFile
	if target != storage.StdoutTarget {
		target = a.cfg.ResolvePath(target)
		a.logger.Info("Writing output file", zap.String("path", target))
	}
	uri, err := a.output.PutObject(ctx, target, PageContentType, bytes.NewReader(page))
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	if a.mirror != nil {
		mirrored, err := a.mirror.PutObject(ctx, a.mirrorPath, PageContentType, bytes.NewReader(page))
		if err != nil {
			return fmt.Errorf("publish output: %w", err)
		}
		a.logger.Info("Published output", zap.String("uri", mirrored))
	}
	if uri == "" {
		uri = target
	}
	a.bus.AfterWrite(ctx, uri, page)
	a.logger.Info("Finished write")
	return nil
}
