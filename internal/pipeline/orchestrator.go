// Package pipeline runs the poll cycle: fetch the circulars page, parse it,
// drop known notices, then translate, dispatch, and record the new ones.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ftmlabs/bknmu-notifier/internal/dispatch"
	"github.com/ftmlabs/bknmu-notifier/internal/metrics"
	"github.com/ftmlabs/bknmu-notifier/internal/notices"
)

// Config controls cycle pacing and dispatch concurrency.
type Config struct {
	SourceURL    string
	Interval     time.Duration
	CycleTimeout time.Duration
	SendDelay    time.Duration
	Concurrency  int
	FromDate     *time.Time
}

// Orchestrator coordinates one poll cycle across the fetch, parse, translate,
// dispatch, and store contracts. It carries no per-cycle state between runs;
// a failed cycle leaves nothing behind for the next one.
type Orchestrator struct {
	fetcher    notices.Fetcher
	parser     notices.Parser
	translator notices.Translator
	store      notices.DeliveryStore
	dispatcher notices.Dispatcher
	clock      notices.Clock
	ids        notices.IDGenerator
	cfg        Config
	logger     *zap.Logger

	mu         sync.RWMutex
	stage      notices.Stage
	lastReport *notices.CycleReport
}

// Status is the orchestrator view served by the HTTP API.
type Status struct {
	Stage      notices.Stage        `json:"stage"`
	LastReport *notices.CycleReport `json:"last_report,omitempty"`
}

// New wires an Orchestrator. All collaborators are required except clock and
// ids, which default to the real implementations' behavior via the caller.
func New(
	fetcher notices.Fetcher,
	parser notices.Parser,
	translator notices.Translator,
	store notices.DeliveryStore,
	dispatcher notices.Dispatcher,
	clock notices.Clock,
	ids notices.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if fetcher == nil || parser == nil || translator == nil || store == nil || dispatcher == nil {
		return nil, fmt.Errorf("fetcher, parser, translator, store, and dispatcher are required")
	}
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	if cfg.SourceURL == "" {
		return nil, fmt.Errorf("source url is required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		fetcher:    fetcher,
		parser:     parser,
		translator: translator,
		store:      store,
		dispatcher: dispatcher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
		stage:      notices.StageIdle,
	}, nil
}

// Run executes cycles until ctx is canceled. The interval is measured from
// cycle completion, so a slow cycle never stacks up behind a ticker.
func (o *Orchestrator) Run(ctx context.Context) error {
	consecutiveFailures := 0
	for {
		report, err := o.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			consecutiveFailures++
			o.logger.Error("cycle failed",
				zap.String("cycle_id", report.CycleID),
				zap.Int("consecutive_failures", consecutiveFailures),
				zap.Error(err))
		} else {
			consecutiveFailures = 0
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(o.cfg.Interval):
		}
	}
}

// RunCycle performs a single poll cycle and reports what happened. The error
// is non-nil only when the cycle as a whole failed; per-notice failures are
// carried in the report counts.
func (o *Orchestrator) RunCycle(ctx context.Context) (notices.CycleReport, error) {
	if o.cfg.CycleTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.CycleTimeout)
		defer cancel()
	}

	cycleID, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("cycle id generation failed", zap.Error(err))
	}
	report := notices.CycleReport{CycleID: cycleID, StartedAt: o.clock.Now()}
	log := o.logger.With(zap.String("cycle_id", cycleID))

	finish := func(failure error) (notices.CycleReport, error) {
		report.FinishedAt = o.clock.Now()
		status := "ok"
		if failure != nil {
			report.ErrorText = failure.Error()
			status = "failed"
		}
		metrics.ObserveCycle(status, report.FinishedAt.Sub(report.StartedAt))
		o.setStage(notices.StageIdle, &report)
		log.Info("cycle finished",
			zap.String("status", status),
			zap.Int("parsed", report.Parsed),
			zap.Int("known", report.Known),
			zap.Int("skipped", report.Skipped),
			zap.Int("dispatched", report.Dispatched),
			zap.Int("failed", report.Failed),
			zap.Int("unrecorded", report.Unrecorded))
		return report, failure
	}

	o.setStage(notices.StageFetching, nil)
	doc, err := o.fetcher.Fetch(ctx, o.cfg.SourceURL)
	if err != nil {
		return finish(fmt.Errorf("fetch circulars page: %w", err))
	}

	o.setStage(notices.StageParsing, nil)
	parsed, err := o.parser.Parse(doc)
	if err != nil {
		return finish(fmt.Errorf("parse circulars page: %w", err))
	}
	report.Parsed = len(parsed)
	if len(parsed) == 0 {
		log.Warn("page yielded no notices", zap.String("url", o.cfg.SourceURL))
		return finish(nil)
	}

	o.setStage(notices.StageFiltering, nil)
	fresh, err := o.filterNew(ctx, parsed, &report)
	if err != nil {
		return finish(err)
	}
	if len(fresh) == 0 {
		return finish(nil)
	}

	// Dispatch oldest first so the chat reads chronologically when several
	// notices land in one cycle. The page lists newest first.
	reverse(fresh)

	if err := o.dispatchBatch(ctx, fresh, &report, log); err != nil {
		return finish(err)
	}
	return finish(nil)
}

// filterNew applies the publication cutoff and the dedup ledger. A ledger
// error aborts the cycle: novelty cannot be determined safely without it.
func (o *Orchestrator) filterNew(
	ctx context.Context,
	parsed []notices.Notice,
	report *notices.CycleReport,
) ([]notices.Notice, error) {
	fresh := make([]notices.Notice, 0, len(parsed))
	for _, n := range parsed {
		if o.beforeCutoff(n) {
			report.Skipped++
			metrics.ObserveNotice(metrics.NoticeSkipped)
			continue
		}
		known, err := o.store.IsKnown(ctx, n.ExternalID)
		if err != nil {
			return nil, fmt.Errorf("check delivery ledger: %w", err)
		}
		if known {
			report.Known++
			metrics.ObserveNotice(metrics.NoticeDuplicate)
			continue
		}
		fresh = append(fresh, n)
	}
	return fresh, nil
}

// beforeCutoff reports whether the notice falls before the configured start
// date. Undateable notices are skipped while a cutoff is active so the old
// backlog cannot leak through as undated rows.
func (o *Orchestrator) beforeCutoff(n notices.Notice) bool {
	if o.cfg.FromDate == nil {
		return false
	}
	if n.Published == nil {
		return true
	}
	return n.Published.Before(*o.cfg.FromDate)
}

// dispatchBatch translates, sends, and records the fresh notices through a
// bounded worker pool. A fatal dispatch classification cancels the remaining
// sends and fails the cycle; any other failure only marks its own notice.
func (o *Orchestrator) dispatchBatch(
	ctx context.Context,
	fresh []notices.Notice,
	report *notices.CycleReport,
	log *zap.Logger,
) error {
	o.setStage(notices.StageTranslating, nil)

	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		fatalErr error
		wg       sync.WaitGroup
		slots    = make(chan struct{}, o.cfg.Concurrency)
	)
	fail := func(err error) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		mu.Unlock()
		cancel()
	}
	count := func(fn func(*notices.CycleReport)) {
		mu.Lock()
		fn(report)
		mu.Unlock()
	}

loop:
	for _, n := range fresh {
		select {
		case <-batchCtx.Done():
			break loop
		case slots <- struct{}{}:
		}
		wg.Add(1)
		go func(n notices.Notice) {
			defer wg.Done()
			defer func() { <-slots }()
			o.handleNotice(batchCtx, n, count, fail, log)
		}(n)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if fatalErr != nil {
		return fmt.Errorf("dispatch aborted: %w", fatalErr)
	}
	return nil
}

// handleNotice runs the translate/dispatch/record sequence for one notice.
func (o *Orchestrator) handleNotice(
	ctx context.Context,
	n notices.Notice,
	count func(func(*notices.CycleReport)),
	fail func(error),
	log *zap.Logger,
) {
	tr := o.translator.Translate(ctx, n.Title)
	n.Translated = tr.Translated
	if tr.Translated {
		n.TitleTranslated = tr.Text
	}

	o.setStage(notices.StageDispatching, nil)
	ack, err := o.dispatcher.Send(ctx, n)
	if err != nil {
		count(func(r *notices.CycleReport) { r.Failed++ })
		metrics.ObserveNotice(metrics.NoticeFailed)
		if dispatch.IsFatal(err) {
			fail(err)
			return
		}
		log.Error("notice dispatch failed",
			zap.String("external_id", n.ExternalID),
			zap.Error(err))
		return
	}

	o.setStage(notices.StageRecording, nil)
	o.record(ctx, n, ack, count, log)

	if o.cfg.SendDelay > 0 {
		sleepCtx(ctx, o.cfg.SendDelay)
	}
}

// record persists the acknowledged delivery. It runs detached from cycle
// cancellation: once Telegram confirmed the send, losing the record would
// mean a duplicate message after restart, so the write always gets to finish.
func (o *Orchestrator) record(
	ctx context.Context,
	n notices.Notice,
	ack notices.Ack,
	count func(func(*notices.CycleReport)),
	log *zap.Logger,
) {
	rec := notices.DeliveryRecord{
		ExternalID:      n.ExternalID,
		Title:           n.Title,
		TitleTranslated: n.TitleTranslated,
		URL:             n.URL,
		Published:       n.Published,
		ChatID:          ack.ChatID,
		MessageID:       ack.MessageID,
		DeliveredAt:     ack.DeliveredAt,
	}
	if err := o.store.MarkDelivered(context.WithoutCancel(ctx), rec); err != nil {
		count(func(r *notices.CycleReport) { r.Dispatched++; r.Unrecorded++ })
		metrics.ObserveNotice(metrics.NoticeUnrecorded)
		log.Error("delivered but not recorded",
			zap.String("external_id", n.ExternalID),
			zap.Int64("message_id", ack.MessageID),
			zap.Error(err))
		return
	}
	count(func(r *notices.CycleReport) { r.Dispatched++ })
	metrics.ObserveNotice(metrics.NoticeDispatched)
	log.Info("notice delivered",
		zap.String("external_id", n.ExternalID),
		zap.String("title", n.DisplayTitle()),
		zap.Int64("message_id", ack.MessageID))
}

// LatestNotices fetches and parses the page on demand, translating the first
// limit notices in page order. The delivery ledger is not consulted; this
// serves the on-demand listing, not the notification flow.
func (o *Orchestrator) LatestNotices(ctx context.Context, limit int) ([]notices.Notice, error) {
	if limit <= 0 {
		limit = 10
	}
	doc, err := o.fetcher.Fetch(ctx, o.cfg.SourceURL)
	if err != nil {
		return nil, fmt.Errorf("fetch circulars page: %w", err)
	}
	parsed, err := o.parser.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse circulars page: %w", err)
	}
	if len(parsed) > limit {
		parsed = parsed[:limit]
	}
	for i := range parsed {
		tr := o.translator.Translate(ctx, parsed[i].Title)
		parsed[i].Translated = tr.Translated
		if tr.Translated {
			parsed[i].TitleTranslated = tr.Text
		}
	}
	return parsed, nil
}

// Status returns the current stage and the last finished cycle report.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := Status{Stage: o.stage}
	if o.lastReport != nil {
		report := *o.lastReport
		st.LastReport = &report
	}
	return st
}

// setStage advances the visible stage, storing the report when one finishes.
func (o *Orchestrator) setStage(stage notices.Stage, report *notices.CycleReport) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stage = stage
	if report != nil {
		saved := *report
		o.lastReport = &saved
	}
}

func reverse(ns []notices.Notice) {
	for i, j := 0, len(ns)-1; i < j; i, j = i+1, j-1 {
		ns[i], ns[j] = ns[j], ns[i]
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
