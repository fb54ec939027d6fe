package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/filing-summary/internal/config"
	"github.com/sells-group/filing-summary/internal/model"
	"github.com/sells-group/filing-summary/pkg/anthropic"
)

const recoverySystemText = `You are a financial filings analyst recovering one specific section of a filing summary. Return a single valid JSON object with exactly one key: the requested section identifier. If the filing genuinely does not contain the requested information, return {"%s": null} using the requested key.`

const recoveryPrompt = `From the filing text below, produce only the %q section.

Section instruction: %s
Expected shape: %s

Filing: %s %s
Filing text:
%s

Return a JSON object with the single key %q.`

// RecoveryOutcome is the collected result of the recovery fan-out.
type RecoveryOutcome struct {
	Tasks      []model.RecoveryTask
	MergedKeys []string
	Usage      model.TokenUsage
}

// RecoverStage re-asks for each missing section in isolation. Tasks run
// concurrently with a hard in-flight limit; each failure is recorded on its
// own task and never disturbs a sibling. Recovered values are collected
// first and merged in one pass, so a populated section is never overwritten
// no matter how the tasks interleave.
func RecoverStage(
	ctx context.Context,
	doc model.FilingDocument,
	summary model.StructuredSummary,
	ai anthropic.Client,
	cfg config.AnthropicConfig,
	pipeCfg config.PipelineConfig,
) *RecoveryOutcome {
	missing := summary.MissingSections()
	outcome := &RecoveryOutcome{}
	if len(missing) == 0 {
		return outcome
	}

	limit := pipeCfg.RecoveryConcurrency
	if limit <= 0 {
		limit = 4
	}

	excerpt := truncateText(doc.Text, pipeCfg.RecoveryExcerptChars)

	tasks := make([]model.RecoveryTask, len(missing))
	var mu sync.Mutex
	var usage model.TokenUsage

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, key := range missing {
		tasks[i] = model.RecoveryTask{SectionKey: key, Status: model.RecoveryStatusPending}
		g.Go(func() error {
			value, taskUsage, err := recoverSection(gCtx, doc, key, excerpt, ai, cfg)

			mu.Lock()
			defer mu.Unlock()
			usage.Add(taskUsage)
			if err != nil {
				err = eris.Wrap(model.ErrRecoveryFailure, err.Error())
				tasks[i].Status = model.RecoveryStatusFailed
				tasks[i].FailureReason = err.Error()
				zap.L().Warn("recovery: section task failed",
					zap.String("section", key),
					zap.Error(err),
				)
				return nil
			}
			tasks[i].Status = model.RecoveryStatusSuccess
			tasks[i].Value = value
			return nil
		})
	}
	_ = g.Wait()

	// Collect-then-merge: successful values go through the summary's merge,
	// which skips anything already populated.
	recovered := make(map[string]any, len(tasks))
	for _, task := range tasks {
		if task.Status == model.RecoveryStatusSuccess {
			recovered[task.SectionKey] = task.Value
		}
	}

	outcome.Tasks = tasks
	outcome.MergedKeys = summary.MergeRecovered(recovered)
	outcome.Usage = usage

	zap.L().Info("recovery: fan-out complete",
		zap.Int("missing", len(missing)),
		zap.Int("recovered", len(outcome.MergedKeys)),
	)
	return outcome
}

// recoverSection makes one isolated repair call for a single section.
func recoverSection(
	ctx context.Context,
	doc model.FilingDocument,
	key, excerpt string,
	ai anthropic.Client,
	cfg config.AnthropicConfig,
) (any, model.TokenUsage, error) {
	spec := model.SectionByKey(key)

	prompt := fmt.Sprintf(recoveryPrompt,
		key, spec.Instruction, spec.Kind,
		companyLabel(doc), doc.FilingType,
		excerpt,
		key,
	)

	resp, err := ai.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     cfg.RecoveryModel,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(fmt.Sprintf(recoverySystemText, key)),
		Messages:  []anthropic.Message{{Role: "user", Content: prompt}},
	})

	var usage model.TokenUsage
	if resp != nil {
		usage = model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		}
		resp.Usage.LogCost(cfg.RecoveryModel, "recovery")
	}
	if err != nil {
		return nil, usage, err
	}

	var raw map[string]json.RawMessage
	if uerr := json.Unmarshal([]byte(cleanJSON(resp.Text())), &raw); uerr != nil {
		return nil, usage, uerr
	}

	payload, ok := raw[key]
	if !ok {
		return nil, usage, fmt.Errorf("pipeline: response missing key %s", key)
	}
	var value any
	if uerr := json.Unmarshal(payload, &value); uerr != nil {
		return nil, usage, uerr
	}

	validated, verr := validateSection(*spec, value)
	if verr != nil {
		return nil, usage, verr
	}
	return validated, usage, nil
}
