package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/filestore"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/opendata"
	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
	"github.com/couchcryptid/prtr-penalty-etl/internal/observability"
)

// Run modes, as reported in Summary.Mode.
const (
	ModeRange    = "range"
	ModeRecent   = "recent"
	ModeBackfill = "backfill"
)

const (
	dateParamLayout = "2006-01-02"

	// maxPages guards against an upstream that ignores offset and keeps
	// returning full pages.
	maxPages = 500
)

// Fetcher issues one upstream request.
type Fetcher interface {
	Fetch(ctx context.Context, query url.Values) (opendata.Response, error)
}

// Saver persists a batch of records.
type Saver interface {
	Save(records []domain.RawRecord) filestore.SaveResult
}

// Publisher announces saved records to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, saved []filestore.Saved) error
}

// Options tunes period slicing, paging and pacing.
type Options struct {
	PeriodWidthMonths int
	RecentMonths      int
	MaxEmptyPeriods   int
	PageSize          int // 0 disables offset/limit paging
	PacingDelay       time.Duration
	Location          *time.Location
}

// DefaultOptions mirrors the configuration defaults.
func DefaultOptions() Options {
	return Options{
		PeriodWidthMonths: domain.DefaultPeriodMonths,
		RecentMonths:      3,
		MaxEmptyPeriods:   3,
		PageSize:          1000,
		PacingDelay:       time.Second,
	}
}

// PeriodResult is the outcome of fetching and storing one period.
type PeriodResult struct {
	Period     domain.Period
	HasData    bool
	Pages      int
	SavedCount int
	ErrorCount int
	Skipped    int
}

// Summary is the outcome of a whole run.
type Summary struct {
	Mode              string
	Success           bool
	PeriodsProcessed  int
	TotalRecordsSaved int
	TotalErrors       int
	EmptyStreak       int
	StartedAt         time.Time
	FinishedAt        time.Time
}

// Pipeline drives period-by-period ingestion from the open-data API into the
// record store. A run is strictly sequential: one request in flight and one
// record written at a time.
type Pipeline struct {
	fetcher   Fetcher
	saver     Saver
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
}

// New creates a Pipeline. publisher may be nil.
func New(f Fetcher, s Saver, publisher Publisher, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	def := DefaultOptions()
	if opts.PeriodWidthMonths <= 0 {
		opts.PeriodWidthMonths = def.PeriodWidthMonths
	}
	if opts.RecentMonths <= 0 {
		opts.RecentMonths = def.RecentMonths
	}
	if opts.MaxEmptyPeriods <= 0 {
		opts.MaxEmptyPeriods = def.MaxEmptyPeriods
	}
	if opts.PageSize < 0 {
		opts.PageSize = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	return &Pipeline{
		fetcher:   f,
		saver:     s,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
	}
}

// FetchAndStore fetches every page of one period, extracts its records and
// saves them. Fetch and decode failures are returned; row failures are only
// counted.
func (p *Pipeline) FetchAndStore(ctx context.Context, period domain.Period, extra url.Values) (PeriodResult, error) {
	res := PeriodResult{Period: period}
	log := p.logger.With("period", period.String())

	var prevPage string
	for page := 0; ; page++ {
		if page >= maxPages {
			log.Warn("page limit reached, stopping period early", "pages", page)
			break
		}
		if page > 0 {
			if err := p.pace(ctx); err != nil {
				return res, err
			}
		}

		query := periodQuery(period, extra)
		if p.opts.PageSize > 0 {
			query.Set("offset", strconv.Itoa(page*p.opts.PageSize))
			query.Set("limit", strconv.Itoa(p.opts.PageSize))
		}

		start := p.clock.Now()
		resp, err := p.fetcher.Fetch(ctx, query)
		p.metrics.FetchDuration.Observe(p.clock.Since(start).Seconds())
		if err != nil {
			p.metrics.PeriodsFetched.WithLabelValues("error").Inc()
			return res, fmt.Errorf("fetch period %s: %w", period, err)
		}
		res.Pages++

		records, err := opendata.Extract(resp.Body, resp.ContentType, log)
		if err != nil {
			p.metrics.PeriodsFetched.WithLabelValues("error").Inc()
			return res, fmt.Errorf("extract period %s: %w", period, err)
		}
		sig := pageSignature(records)
		if page > 0 && sig == prevPage {
			log.Warn("page repeats the previous one, upstream ignores offset; stopping period",
				"page", page, "records", len(records))
			break
		}
		prevPage = sig

		p.metrics.RecordsExtracted.Add(float64(len(records)))
		if len(records) > 0 {
			res.HasData = true
			p.store(ctx, log, records, &res)
		}

		if p.opts.PageSize == 0 || resp.IsArchive() || len(records) < p.opts.PageSize {
			break
		}
	}

	if res.HasData {
		p.metrics.PeriodsFetched.WithLabelValues("data").Inc()
	} else {
		p.metrics.PeriodsFetched.WithLabelValues("empty").Inc()
	}
	log.Info("period processed",
		"has_data", res.HasData,
		"pages", res.Pages,
		"saved", res.SavedCount,
		"errors", res.ErrorCount,
		"skipped", res.Skipped,
	)
	return res, nil
}

func (p *Pipeline) store(ctx context.Context, log *slog.Logger, records []domain.RawRecord, res *PeriodResult) {
	saved := p.saver.Save(records)
	res.SavedCount += len(saved.SavedPaths)
	res.ErrorCount += len(saved.Errors)
	res.Skipped += saved.Skipped

	p.metrics.RecordsSaved.Add(float64(len(saved.SavedPaths)))
	p.metrics.RowErrors.Add(float64(len(saved.Errors)))
	p.metrics.RecordsSkipped.Add(float64(saved.Skipped))

	if p.publisher == nil || len(saved.Saved) == 0 {
		return
	}
	if err := p.publisher.Publish(ctx, saved.Saved); err != nil {
		p.metrics.PublishErrors.Inc()
		log.Warn("publish saved records failed", "error", err, "records", len(saved.Saved))
	}
}

// RunRange ingests [start, end] in fixed-width periods. The first fetch or
// decode failure aborts the run and is returned with the partial summary.
func (p *Pipeline) RunRange(ctx context.Context, start, end time.Time) (Summary, error) {
	return p.runRange(ctx, ModeRange, start, end)
}

// RunRecent ingests the trailing RecentMonths window ending today.
func (p *Pipeline) RunRecent(ctx context.Context) (Summary, error) {
	today := domain.Today(p.clock, p.opts.Location)
	return p.runRange(ctx, ModeRecent, today.AddDate(0, -p.opts.RecentMonths, 0), today)
}

func (p *Pipeline) runRange(ctx context.Context, mode string, start, end time.Time) (Summary, error) {
	sum := p.begin(mode)
	periods := domain.FixedWidthPeriods(start, end, p.opts.PeriodWidthMonths)
	p.logger.Info("run started",
		"mode", mode,
		"start", start.Format(dateParamLayout),
		"end", end.Format(dateParamLayout),
		"periods", len(periods),
	)

	for i, period := range periods {
		if i > 0 {
			if err := p.pace(ctx); err != nil {
				return p.finish(sum, false), err
			}
		}
		res, err := p.FetchAndStore(ctx, period, nil)
		if err != nil {
			p.logger.Error("period failed, aborting run", "mode", mode, "period", period.String(), "error", err)
			return p.finish(sum, false), err
		}
		sum.add(res)
	}
	return p.finish(sum, true), nil
}

// RunBackfill walks quarters backward from the current one until
// MaxEmptyPeriods consecutive quarters yield no data. Failed quarters are
// logged and counted as empty.
func (p *Pipeline) RunBackfill(ctx context.Context) (Summary, error) {
	sum := p.begin(ModeBackfill)
	today := domain.Today(p.clock, p.opts.Location)
	walker := domain.QuarterWalkBackward(today.Year(), domain.CurrentQuarter(today), p.opts.Location)
	p.logger.Info("run started", "mode", ModeBackfill, "max_empty_periods", p.opts.MaxEmptyPeriods)

	for first := true; sum.EmptyStreak < p.opts.MaxEmptyPeriods; first = false {
		if !first {
			if err := p.pace(ctx); err != nil {
				return p.finish(sum, false), err
			}
		}
		period := walker.Next()
		res, err := p.FetchAndStore(ctx, period, nil)
		if err != nil {
			if ctx.Err() != nil {
				return p.finish(sum, false), ctx.Err()
			}
			p.logger.Warn("quarter failed, counting as empty", "period", period.String(), "error", err)
			sum.EmptyStreak++
			sum.PeriodsProcessed++
			continue
		}
		sum.add(res)
		if res.HasData {
			sum.EmptyStreak = 0
		} else {
			sum.EmptyStreak++
		}
	}

	p.logger.Info("backfill reached empty threshold", "empty_streak", sum.EmptyStreak)
	return p.finish(sum, true), nil
}

func (s *Summary) add(r PeriodResult) {
	s.PeriodsProcessed++
	s.TotalRecordsSaved += r.SavedCount
	s.TotalErrors += r.ErrorCount
}

func (p *Pipeline) begin(mode string) Summary {
	return Summary{Mode: mode, StartedAt: p.clock.Now()}
}

func (p *Pipeline) finish(sum Summary, success bool) Summary {
	sum.Success = success
	sum.FinishedAt = p.clock.Now()

	v := 0.0
	if success {
		v = 1
	}
	p.metrics.LastRunSuccess.WithLabelValues(sum.Mode).Set(v)
	p.metrics.LastRunTimestamp.WithLabelValues(sum.Mode).Set(float64(sum.FinishedAt.Unix()))

	p.logger.Info("run finished",
		"mode", sum.Mode,
		"success", sum.Success,
		"periods", sum.PeriodsProcessed,
		"saved", sum.TotalRecordsSaved,
		"errors", sum.TotalErrors,
		"duration", sum.FinishedAt.Sub(sum.StartedAt),
	)
	return sum
}

// pageSignature identifies a page by its size and its first and last
// records. fmt prints maps in key order, so equal pages give equal strings.
func pageSignature(records []domain.RawRecord) string {
	if len(records) == 0 {
		return ""
	}
	return fmt.Sprintf("%d|%v|%v", len(records), records[0], records[len(records)-1])
}

// pace waits PacingDelay on the pipeline clock between requests.
func (p *Pipeline) pace(ctx context.Context) error {
	if !sleepWithContext(ctx, p.clock, p.opts.PacingDelay) {
		return fmt.Errorf("pacing interrupted: %w", context.Cause(ctx))
	}
	return nil
}

func periodQuery(period domain.Period, extra url.Values) url.Values {
	q := url.Values{}
	for k, v := range extra {
		q[k] = append([]string(nil), v...)
	}
	q.Set("start_date", period.Start.Format(dateParamLayout))
	q.Set("end_date", period.End.Format(dateParamLayout))
	return q
}

func sleepWithContext(ctx context.Context, clock clockwork.Clock, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	timer := clock.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// IsHardFailure reports whether err came from the upstream fetch or from
// decoding its body, as opposed to cancellation.
func IsHardFailure(err error) bool {
	return errors.Is(err, opendata.ErrFetch) || errors.Is(err, opendata.ErrDecode)
}
