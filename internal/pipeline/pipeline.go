package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/filing-summary/internal/config"
	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/internal/store"
	"github.com/sells-group/filing-summary/pkg/anthropic"
	"github.com/sells-group/filing-summary/pkg/facts"
)

// FactsSource supplies standardized facts for a CIK. Satisfied by the
// two-tier facts cache.
type FactsSource interface {
	Get(ctx context.Context, cik string) (*facts.CompanyFacts, error)
}

// Pipeline orchestrates the summary stages for one filing: extraction,
// section recovery, editorial synthesis, and the coverage gate.
type Pipeline struct {
	cfg   *config.Config
	store store.Store
	ai    anthropic.Client
	facts FactsSource
}

// New creates a Pipeline with all dependencies.
func New(cfg *config.Config, st store.Store, ai anthropic.Client, factsSource FactsSource) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: st,
		ai:    ai,
		facts: factsSource,
	}
}

// Run executes the full summary pipeline for a single filing. Stage failures
// degrade the result rather than aborting it: the only fatal errors are a
// cancelled context and a store that cannot record the run. A full result is
// persisted for reuse; a partial result is returned to the caller once and
// discarded.
func (p *Pipeline) Run(ctx context.Context, doc model.FilingDocument, listeners ...ProgressFunc) (*model.SummaryResult, error) {
	log := zap.L().With(
		zap.String("accession", doc.AccessionNumber),
		zap.String("filing_type", doc.FilingType),
	)
	log.Info("pipeline: starting summary run")

	emitter := NewEmitter()
	for _, fn := range listeners {
		emitter.Subscribe(fn)
	}
	defer emitter.Close()
	emitter.Emit(model.StageQueued, "run queued")

	run, err := p.store.CreateRun(ctx, doc)
	if err != nil {
		emitter.Emit(model.StageError, "failed to record run")
		return nil, eris.Wrap(err, "pipeline: create run")
	}

	result := &model.SummaryResult{
		RunID:     run.ID,
		Accession: doc.AccessionNumber,
	}

	setStatus := func(status model.RunStatus) {
		if statusErr := p.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("pipeline: failed to update status", zap.Error(statusErr))
		}
	}

	hbCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	emitter.StartHeartbeat(hbCtx, time.Duration(p.cfg.Pipeline.HeartbeatSecs)*time.Second)

	trackStage := func(name string, fn func() (*model.StageResult, error)) *model.StageResult {
		start := time.Now()
		stageResult, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		if stageResult == nil {
			stageResult = &model.StageResult{}
		}
		stageResult.Name = name
		stageResult.Duration = duration

		if fnErr != nil {
			stageResult.Status = model.StageStatusFailed
			stageResult.Error = fnErr.Error()
			log.Error("pipeline: stage failed",
				zap.String("stage", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else if stageResult.Status == "" {
			stageResult.Status = model.StageStatusComplete
			log.Info("pipeline: stage complete",
				zap.String("stage", name),
				zap.Int64("duration_ms", duration),
			)
		}

		result.Stages = append(result.Stages, *stageResult)
		return stageResult
	}

	var timedOut, extractFailed bool
	var recoverySucceeded, recoveryFailed int
	noteTimeout := func(err error) {
		if err == nil {
			return
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, model.ErrTimeoutExceeded) {
			timedOut = true
		}
	}

	// ===== Facts lookup =====
	emitter.Emit(model.StageFetching, "fetching standardized facts")
	var companyFacts *facts.CompanyFacts

	trackStage("facts", func() (*model.StageResult, error) {
		if p.facts == nil || doc.CIK == "" {
			return &model.StageResult{Status: model.StageStatusSkipped}, nil
		}
		factsCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Facts.TimeoutSecs)*time.Second)
		defer cancel()

		cf, factsErr := p.facts.Get(factsCtx, doc.CIK)
		if factsErr != nil {
			// Facts enrich extraction; their absence is degradation, not failure.
			// Client wrapping hides the deadline error, so consult the stage
			// context directly.
			noteTimeout(factsCtx.Err())
			return nil, factsErr
		}
		companyFacts = cf
		return &model.StageResult{
			Metadata: map[string]any{"concepts": len(cf.Concepts)},
		}, nil
	})

	// ===== Extraction =====
	emitter.Emit(model.StageParsing, "preparing filing excerpt")
	emitter.Emit(model.StageAnalyzing, "extracting structured summary")
	summary := model.StructuredSummary{}

	trackStage("extract", func() (*model.StageResult, error) {
		extractCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Pipeline.ExtractionTimeoutSecs)*time.Second)
		defer cancel()

		er, exErr := ExtractStage(extractCtx, doc, companyFacts, p.ai, p.cfg.Anthropic, p.cfg.Pipeline)
		if er != nil {
			summary = er.Summary
			result.TokenUsage.Add(er.Usage)
		}
		if exErr != nil {
			extractFailed = true
			if extractCtx.Err() != nil {
				noteTimeout(extractCtx.Err())
				exErr = eris.Wrap(model.ErrTimeoutExceeded, exErr.Error())
			}
			return nil, exErr
		}
		return &model.StageResult{
			TokenUsage: er.Usage,
			Metadata: map[string]any{
				"sections":     len(er.Summary),
				"facts_seeded": er.FactsSeeded,
			},
		}, nil
	})
	setStatus(model.RunStatusExtractionDone)

	// ===== Section recovery =====
	emitter.Emit(model.StageAnalyzing, "recovering missing sections")

	trackStage("recover", func() (*model.StageResult, error) {
		missing := summary.MissingSections()
		if len(missing) == 0 {
			return &model.StageResult{Status: model.StageStatusSkipped}, nil
		}
		recoverCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Pipeline.RecoveryTimeoutSecs)*time.Second)
		defer cancel()

		outcome := RecoverStage(recoverCtx, doc, summary, p.ai, p.cfg.Anthropic, p.cfg.Pipeline)
		result.TokenUsage.Add(outcome.Usage)
		for _, task := range outcome.Tasks {
			switch task.Status {
			case model.RecoveryStatusSuccess:
				recoverySucceeded++
			case model.RecoveryStatusFailed:
				recoveryFailed++
			}
		}
		if recoverCtx.Err() != nil {
			noteTimeout(recoverCtx.Err())
		}
		return &model.StageResult{
			TokenUsage: outcome.Usage,
			Metadata: map[string]any{
				"missing":   len(missing),
				"recovered": len(outcome.MergedKeys),
			},
		}, nil
	})
	setStatus(model.RunStatusRecoveryDone)

	// ===== Editorial synthesis =====
	emitter.Emit(model.StageSummarizing, "synthesizing editorial narrative")

	trackStage("synthesize", func() (*model.StageResult, error) {
		synthCtx, cancel := context.WithTimeout(ctx, time.Duration(p.cfg.Pipeline.SynthesisTimeoutSecs)*time.Second)
		defer cancel()

		editorial, usage := SynthesizeStage(synthCtx, doc, summary, p.ai, p.cfg.Anthropic)
		result.Editorial = editorial
		result.TokenUsage.Add(usage)
		return &model.StageResult{
			TokenUsage: usage,
			Metadata: map[string]any{
				"fallback_used": editorial.FallbackUsed,
			},
		}, nil
	})
	setStatus(model.RunStatusSynthesisDone)

	// ===== Coverage gate =====
	// An extraction failure alone degrades to recovery, which is the intended
	// path; only a run where the provider failed every call counts as an
	// upstream error.
	upstreamFailed := extractFailed && recoverySucceeded == 0 && recoveryFailed > 0

	result.Summary = summary
	result.Coverage = ComputeCoverage(summary)
	result.ResultType, result.PartialReason = EvaluateGate(GateInput{
		Coverage:       result.Coverage,
		Threshold:      p.cfg.Pipeline.CoverageThreshold,
		StageTimedOut:  timedOut,
		UpstreamFailed: upstreamFailed,
	})
	setStatus(model.RunStatusEvaluated)

	log.Info("pipeline: gate decision",
		zap.String("result_type", string(result.ResultType)),
		zap.String("partial_reason", string(result.PartialReason)),
		zap.Int("covered", result.Coverage.CoveredCount),
		zap.Int("total", result.Coverage.TotalCount),
	)

	// ===== Delivery =====
	if result.ResultType == model.ResultTypeFull {
		if saveErr := p.store.CompleteRun(ctx, run.ID, result); saveErr != nil {
			log.Warn("pipeline: failed to save run result", zap.Error(saveErr))
		}
		if putErr := p.store.PutSummary(ctx, result); putErr != nil {
			log.Warn("pipeline: failed to persist summary", zap.Error(putErr))
		} else {
			setStatus(model.RunStatusPersisted)
		}
	} else {
		// Partial results are delivered to the caller and then forgotten.
		// Only the run's terminal status is recorded, never its content.
		setStatus(model.RunStatusDiscarded)
	}

	emitter.Emit(model.StageCompleted, fmt.Sprintf("%s result, %d/%d sections",
		result.ResultType, result.Coverage.CoveredCount, result.Coverage.TotalCount))

	return result, nil
}

// GetOrRun returns a previously persisted summary for the accession when one
// exists, otherwise executes a fresh run.
func (p *Pipeline) GetOrRun(ctx context.Context, doc model.FilingDocument, listeners ...ProgressFunc) (*model.SummaryResult, error) {
	ps, err := p.store.GetSummary(ctx, doc.AccessionNumber)
	if err != nil {
		zap.L().Warn("pipeline: summary lookup failed", zap.Error(err))
	}
	if ps != nil {
		return &model.SummaryResult{
			Accession:  ps.Accession,
			ResultType: model.ResultTypeFull,
			Summary:    ps.Summary,
			Editorial: model.EditorialResult{
				Markdown:     ps.Editorial,
				FallbackUsed: ps.FallbackUsed,
			},
			Coverage: ps.Coverage,
		}, nil
	}
	return p.Run(ctx, doc, listeners...)
}
