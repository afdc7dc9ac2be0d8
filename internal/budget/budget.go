// Package budget reports the caller's token-budget snapshot attached to every batch.
package budget

import (
	"context"
	"encoding/json"
	"maps"
	"math"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultMaxInputTokens is the context window the snapshot is measured against.
const DefaultMaxInputTokens = 200000

// WarningThreshold is the usage percentage above which a wrap-up warning is issued.
const WarningThreshold = 90.0

// UsageWarning is the text emitted once usage crosses WarningThreshold.
const UsageWarning = "SYSTEM WARNING: Token usage has exceeded 90% of max token usage limit, you MUST wrap up the research and start presenting the findings!!!"

const noWarning = "None"

// FileProvider derives the snapshot from a JSON usage file of the form
// {"prompt_token_count": n}.
type FileProvider struct {
	fs        afero.Fs
	path      string
	maxTokens int
	logger    *zap.Logger
}

// NewFileProvider builds a provider reading path from fs.
func NewFileProvider(fs afero.Fs, path string, maxTokens int, logger *zap.Logger) *FileProvider {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxInputTokens
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileProvider{fs: fs, path: path, maxTokens: maxTokens, logger: logger.Named("budget")}
}

type usageFile struct {
	PromptTokenCount int `json:"prompt_token_count"`
}

// Snapshot implements fetch.BudgetProvider. Unreadable files count as zero usage.
func (p *FileProvider) Snapshot(context.Context) map[string]any {
	return Compute(p.currentTokens(), p.maxTokens)
}

func (p *FileProvider) currentTokens() int {
	data, err := afero.ReadFile(p.fs, p.path)
	if err != nil {
		p.logger.Debug("usage file unavailable", zap.String("path", p.path), zap.Error(err))
		return 0
	}
	var usage usageFile
	if err := json.Unmarshal(data, &usage); err != nil {
		p.logger.Warn("usage file unreadable", zap.String("path", p.path), zap.Error(err))
		return 0
	}
	return usage.PromptTokenCount
}

// Compute builds the snapshot for current out of maxTokens.
func Compute(current, maxTokens int) map[string]any {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxInputTokens
	}
	percent := math.Round(float64(current)/float64(maxTokens)*100*100) / 100
	warning := noWarning
	if percent > WarningThreshold {
		warning = UsageWarning
	}
	return map[string]any{
		"max_input_tokens":      maxTokens,
		"current_prompt_tokens": current,
		"tokens_remaining":      maxTokens - current,
		"usage_percent":         formatPercent(percent),
		"usage_warning":         warning,
	}
}

// formatPercent renders a percentage with at most two decimals and at least one.
func formatPercent(percent float64) string {
	s := strconv.FormatFloat(percent, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s + "%"
}

// Static returns the same snapshot every time.
type Static map[string]any

// Snapshot implements fetch.BudgetProvider.
func (s Static) Snapshot(context.Context) map[string]any {
	return maps.Clone(s)
}
