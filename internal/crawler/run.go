package crawler

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ilse31/anime-scrapper/internal/metrics"
)

// runState threads the summary through every step of a bulk run. Each step
// either advances cleanly or advances with one recorded error.
type runState struct {
	summary RunSummary
	logger  *zap.Logger
}

func (r *runState) advance(stage string, err error) bool {
	if err == nil {
		return true
	}
	r.summary.Errors = append(r.summary.Errors, err.Error())
	metrics.ObserveRunError(stage)
	r.logger.Warn("run step skipped", zap.String("stage", stage), zap.Error(err))
	return false
}

// RunOnce walks the catalog from page 1 until a page yields no items or the
// page bound is reached, persisting every listed title, its episodes, and
// their sources. Failures are recorded in the summary and never stop the run.
// A canceled ctx stops the run at the next page, title, or episode boundary.
func (o *Orchestrator) RunOnce(ctx context.Context) RunSummary {
	return o.Run(ctx, o.newRunID())
}

// Run is RunOnce with a caller-assigned run ID.
func (o *Orchestrator) Run(ctx context.Context, runID string) RunSummary {
	run := &runState{
		summary: RunSummary{
			RunID:       runID,
			StartedAt:   o.clock.Now(),
			Errors:      []string{},
			Termination: TerminationPageLimit,
		},
	}
	run.logger = o.logger.With(zap.String("run_id", run.summary.RunID))
	run.logger.Info("bulk run started", zap.Int("max_pages", o.cfg.MaxPages))
	metrics.SetRunInProgress(true)
	defer metrics.SetRunInProgress(false)

	for page := 1; page <= o.cfg.MaxPages; page++ {
		if err := ctx.Err(); err != nil {
			run.summary.Termination = TerminationCanceled
			run.advance("run", fmt.Errorf("run canceled before catalog page %d: %w", page, err))
			break
		}
		records, err := o.fetchCatalogPage(ctx, page)
		if !run.advance("catalog_fetch", err) {
			metrics.ObserveCatalogPage("failed")
			continue
		}
		run.summary.PagesProcessed++
		if len(records) == 0 {
			metrics.ObserveCatalogPage("empty")
			run.summary.Termination = TerminationEndOfCatalog
			break
		}
		metrics.ObserveCatalogPage("fetched")
		o.processCatalogPage(ctx, run, page, records)
	}
	if run.summary.Termination != TerminationCanceled && ctx.Err() != nil {
		run.summary.Termination = TerminationCanceled
	}

	run.summary.FinishedAt = o.clock.Now()
	metrics.ObserveRun(string(run.summary.Termination), run.summary.Items, run.summary.Children, run.summary.LeafRecords)
	run.logger.Info("bulk run finished",
		zap.String("termination", string(run.summary.Termination)),
		zap.Int("pages_processed", run.summary.PagesProcessed),
		zap.Int("items", run.summary.Items),
		zap.Int("children", run.summary.Children),
		zap.Int("leaf_records", run.summary.LeafRecords),
		zap.Int("errors", len(run.summary.Errors)),
	)
	return run.summary
}

func (o *Orchestrator) fetchCatalogPage(ctx context.Context, page int) ([]CatalogRecord, error) {
	res, err := o.fetcher.Fetch(ctx, o.endpoints.CatalogPage(page))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch catalog page %d: %w", page, err)
	}
	o.archivePage(ctx, "catalog", res)
	records := o.parser.ParseCatalog(res.Body)
	for i := range records {
		if records[i].Slug == "" {
			records[i].Slug = SlugFromURL(records[i].URL)
		}
	}
	return records, nil
}

func (o *Orchestrator) processCatalogPage(ctx context.Context, run *runState, page int, records []CatalogRecord) {
	err := o.store.UpsertCatalogBatch(ctx, records)
	if run.advance("catalog_save", wrapf(err, "failed to save catalog batch on page %d", page)) {
		run.summary.CatalogRecords += len(records)
	}
	for _, rec := range records {
		if ctx.Err() != nil {
			return
		}
		o.processTitle(ctx, run, rec.Slug)
	}
}

func (o *Orchestrator) processTitle(ctx context.Context, run *runState, slug string) {
	res, err := o.fetcher.Fetch(ctx, o.endpoints.Detail(slug))
	if !run.advance("detail_fetch", wrapf(err, "failed to fetch detail for %s", slug)) {
		return
	}
	o.archivePage(ctx, "detail", res)

	detail := o.parser.ParseDetail(res.Body)
	if detail.Empty() {
		run.logger.Warn("detail page has no title, skipping", zap.String("slug", slug))
		return
	}
	detail.Slug = slug

	err = o.store.UpsertDetailWithChildren(ctx, slug, detail)
	if run.advance("detail_save", wrapf(err, "failed to save detail for %s", slug)) {
		run.summary.Items++
		run.summary.Children += len(detail.Children)
		if err := o.cache.MarkRefreshed(ctx, DetailCacheKey(slug)); err != nil {
			run.logger.Warn("mark refreshed failed", zap.String("slug", slug), zap.Error(err))
		}
	}

	for _, child := range detail.Children {
		if ctx.Err() != nil {
			return
		}
		o.processChild(ctx, run, child)
	}
}

func (o *Orchestrator) processChild(ctx context.Context, run *runState, child ChildItem) {
	slug := child.Slug
	if slug == "" {
		slug = SlugFromURL(child.URL)
	}
	res, err := o.fetcher.Fetch(ctx, o.endpoints.Child(slug))
	if !run.advance("episode_fetch", wrapf(err, "failed to fetch episode %s", slug)) {
		return
	}
	o.archivePage(ctx, "episode", res)

	page := o.parser.ParseChild(res.Body)
	if len(page.Leaves) == 0 {
		return
	}
	err = o.store.ReplaceChildrenOf(ctx, slug, page.Leaves)
	if run.advance("sources_save", wrapf(err, "failed to save sources for %s", slug)) {
		run.summary.LeafRecords += len(page.Leaves)
	}
}

func (o *Orchestrator) newRunID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("generate run id", zap.Error(err))
		return ""
	}
	return id
}

func wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
