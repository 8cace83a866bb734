package stats

import (
	"sort"

	"go.uber.org/zap"
)

const (
	// ModeAll selects every section of a mode table.
	ModeAll = "all"
	// SectionMetadata is emitted regardless of mode.
	SectionMetadata = "metadata"
)

// Test-result stats sections.
const (
	SectionMetricPassRates   = "metric_pass_rates"
	SectionBehaviorPassRates = "behavior_pass_rates"
	SectionCategoryPassRates = "category_pass_rates"
	SectionTopicPassRates    = "topic_pass_rates"
	SectionOverallPassRates  = "overall_pass_rates"
	SectionTimeline          = "timeline"
	SectionTestRunSummary    = "test_run_summary"
)

// Test-run stats sections.
const (
	SectionOverallSummary     = "overall_summary"
	SectionStatusDistribution = "status_distribution"
	SectionResultDistribution = "result_distribution"
	SectionMostRunTestSets    = "most_run_test_sets"
	SectionTopExecutors       = "top_executors"
)

// ModeTable maps a mode name to the sections it requires.
type ModeTable map[string][]string

// TestResultModes is the mode table of the test-result stats.
func TestResultModes() ModeTable {
	return ModeTable{
		ModeAll: {
			SectionMetricPassRates, SectionBehaviorPassRates, SectionCategoryPassRates,
			SectionTopicPassRates, SectionOverallPassRates, SectionTimeline, SectionTestRunSummary,
		},
		"summary":   {SectionOverallPassRates},
		"metrics":   {SectionMetricPassRates},
		"behavior":  {SectionBehaviorPassRates},
		"category":  {SectionCategoryPassRates},
		"topic":     {SectionTopicPassRates},
		"overall":   {SectionOverallPassRates},
		"timeline":  {SectionTimeline},
		"test_runs": {SectionTestRunSummary},
	}
}

// TestRunModes is the mode table of the test-run stats.
func TestRunModes() ModeTable {
	return ModeTable{
		ModeAll: {
			SectionOverallSummary, SectionStatusDistribution, SectionResultDistribution,
			SectionMostRunTestSets, SectionTopExecutors, SectionTimeline,
		},
		"summary":   {SectionOverallSummary},
		"status":    {SectionStatusDistribution},
		"results":   {SectionResultDistribution},
		"test_sets": {SectionMostRunTestSets},
		"executors": {SectionTopExecutors},
		"timeline":  {SectionTimeline},
	}
}

// Selection is the resolved set of sections for one request.
type Selection struct {
	Mode     string
	sections map[string]struct{}
}

// Select resolves mode against the table. An empty mode means "all";
// unknown modes fall back to "all" with a warning.
func (t ModeTable) Select(mode string, logger *zap.Logger) Selection {
	if mode == "" {
		mode = ModeAll
	}
	sections, ok := t[mode]
	if !ok {
		if logger != nil {
			logger.Warn("unknown stats mode, falling back to all",
				zap.String("mode", mode))
		}
		mode = ModeAll
		sections = t[ModeAll]
	}

	sel := Selection{Mode: mode, sections: make(map[string]struct{}, len(sections)+1)}
	for _, s := range sections {
		sel.sections[s] = struct{}{}
	}
	sel.sections[SectionMetadata] = struct{}{}
	return sel
}

// Has reports whether section is part of the selection.
func (s Selection) Has(section string) bool {
	_, ok := s.sections[section]
	return ok
}

// Sections returns the selected section names, sorted.
func (s Selection) Sections() []string {
	out := make([]string, 0, len(s.sections))
	for name := range s.sections {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
