package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/digest-fetcher/internal/metrics"
)

// DefaultMaxParallel caps batch fan-out when callers pass zero.
const DefaultMaxParallel = 5

// EngineConfig wires tiers and collaborators into an Engine. Nil tiers are skipped.
type EngineConfig struct {
	Browser     Tier
	Lightweight Tier
	Archive     Tier
	Limiter     Limiter
	Budget      BudgetProvider
	MaxParallel int
}

// Engine runs batches of URLs through the tier state machine.
type Engine struct {
	browser     Tier
	lightweight Tier
	archive     Tier
	limiter     Limiter
	budget      BudgetProvider
	maxParallel int
	logger      *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = DefaultMaxParallel
	}
	metrics.Init()
	return &Engine{
		browser:     cfg.Browser,
		lightweight: cfg.Lightweight,
		archive:     cfg.Archive,
		limiter:     cfg.Limiter,
		budget:      cfg.Budget,
		maxParallel: cfg.MaxParallel,
		logger:      logger.Named("engine"),
	}
}

// Fetch retrieves every URL and returns results in input order together with
// the resource-budget snapshot. It never fails as a whole; per-URL problems
// are reported on the individual results.
func (e *Engine) Fetch(ctx context.Context, urls []string, maxParallel int) Batch {
	start := time.Now()
	if maxParallel <= 0 {
		maxParallel = e.maxParallel
	}
	results := make([]Result, len(urls))

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, raw := range urls {
		g.Go(func() error {
			results[i] = e.fetchOne(ctx, raw)
			return nil
		})
	}
	// Tasks convert every failure into a result, so Wait has nothing to report.
	_ = g.Wait()

	metrics.ObserveBatch(len(urls), time.Since(start))
	e.logger.Info("batch finished",
		zap.Int("urls", len(urls)),
		zap.Int("max_parallel", maxParallel),
		zap.Duration("duration", time.Since(start)),
	)
	return Batch{Results: results, ResourceBudget: e.snapshot(ctx)}
}

func (e *Engine) snapshot(ctx context.Context) map[string]any {
	if e.budget == nil {
		return map[string]any{}
	}
	snap := e.budget.Snapshot(ctx)
	if snap == nil {
		return map[string]any{}
	}
	return snap
}

func (e *Engine) fetchOne(ctx context.Context, raw string) (result Result) {
	target := NormalizeURL(raw)
	defer func() {
		if rec := recover(); rec != nil {
			e.logger.Error("fetch pipeline panicked", zap.String("url", target), zap.Any("panic", rec))
			result = Result{URL: target, Status: StatusFailure, Error: fmt.Sprintf("internal error: %v", rec)}
		}
		metrics.ObserveResult(target, string(result.Status))
	}()

	if target == "" {
		return Result{URL: raw, Status: StatusFailure, Error: ErrEmptyURL.Error()}
	}
	return e.run(ctx, target)
}

type attemptLog struct {
	reasons   []string
	last      Outcome
	softBlock bool
}

func (a *attemptLog) add(name string, out Outcome) {
	a.last = out
	if out.Result.IsSoftBlock || errors.Is(out.Err, ErrSoftBlock) {
		a.softBlock = true
	}
	a.reasons = append(a.reasons, name+": "+reasonOf(out))
}

func (e *Engine) run(ctx context.Context, target string) Result {
	log := &attemptLog{}
	for i, tier := range e.originTiers() {
		var out Outcome
		if i == 0 {
			out = e.withPermit(ctx, target, tier)
		} else {
			out = tier.Fetch(ctx, target)
		}
		e.observe(tier.Name(), target, out)
		if out.Kind == OutcomeSuccess {
			return finish(target, out)
		}
		log.add(tier.Name(), out)
	}

	if e.archive != nil && len(log.reasons) > 0 && log.last.SignalsBlock() {
		out := e.archive.Fetch(ctx, target)
		e.observe(e.archive.Name(), target, out)
		if out.Kind == OutcomeSuccess {
			return finish(target, out)
		}
		log.add(e.archive.Name(), out)
	}

	failure := Result{
		URL:         target,
		Status:      StatusFailure,
		StatusCode:  log.last.Result.StatusCode,
		IsSoftBlock: log.softBlock,
		Error:       strings.Join(log.reasons, "; "),
	}
	if len(log.reasons) == 0 {
		failure.Error = "no fetch tiers configured"
	}
	e.logger.Warn("all tiers failed", zap.String("url", target), zap.String("error", failure.Error))
	return failure
}

func (e *Engine) originTiers() []Tier {
	tiers := make([]Tier, 0, 2)
	if e.browser != nil {
		tiers = append(tiers, e.browser)
	}
	if e.lightweight != nil {
		tiers = append(tiers, e.lightweight)
	}
	return tiers
}

// withPermit runs the first origin tier under the per-domain limiter.
func (e *Engine) withPermit(ctx context.Context, target string, tier Tier) Outcome {
	if e.limiter == nil {
		return tier.Fetch(ctx, target)
	}
	if err := e.limiter.Acquire(ctx, target); err != nil {
		return Failed(Result{URL: target}, fmt.Errorf("rate limit wait: %w", err))
	}
	defer e.limiter.Release(target)
	return tier.Fetch(ctx, target)
}

func (e *Engine) observe(tier, target string, out Outcome) {
	metrics.ObserveTierOutcome(tier, out.Kind.String())
	if out.Kind == OutcomeBlocked {
		metrics.ObserveSoftBlock(tier)
	}
	e.logger.Debug("tier finished",
		zap.String("tier", tier),
		zap.String("url", target),
		zap.String("outcome", out.Kind.String()),
		zap.Int("status_code", out.Result.StatusCode),
		zap.Error(out.Err),
	)
}

func finish(target string, out Outcome) Result {
	res := out.Result
	if res.URL == "" {
		res.URL = target
	}
	res.Status = StatusSuccess
	res.Error = ""
	return res
}

func reasonOf(out Outcome) string {
	switch {
	case out.Err != nil:
		return out.Err.Error()
	case out.Result.Error != "":
		return out.Result.Error
	default:
		return out.Kind.String()
	}
}
