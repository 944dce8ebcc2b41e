package analysis

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/brockf/manybabies-analysis/pkg/config"
	"github.com/brockf/manybabies-analysis/pkg/lmm"
)

// Reporter renders run results into markdown and JSON artifacts.
type Reporter struct {
	cfg    config.ReportConfig
	logger *zap.Logger
}

// NewReporter builds a reporter.
func NewReporter(cfg config.ReportConfig, logger *zap.Logger) *Reporter {
	return &Reporter{cfg: cfg, logger: logger}
}

// Write renders the configured artifacts into the output directory and
// returns the paths written.
func (rp *Reporter) Write(results *RunResults) ([]string, error) {
	if err := os.MkdirAll(rp.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	var paths []string
	if rp.cfg.WriteJSON {
		path := filepath.Join(rp.cfg.OutputDir, fmt.Sprintf("run-%s.json", results.RunID))
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("encode results: %w", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}
	if rp.cfg.WriteMarkdown {
		path := filepath.Join(rp.cfg.OutputDir, fmt.Sprintf("run-%s.md", results.RunID))
		if err := os.WriteFile(path, []byte(rp.Markdown(results)), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", path, err)
		}
		paths = append(paths, path)
	}

	rp.logger.Info("Report written", zap.Strings("paths", paths))
	return paths, nil
}

// Markdown renders the full report document.
func (rp *Reporter) Markdown(results *RunResults) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# IDS preference analysis — run %s\n\n", results.RunID)
	fmt.Fprintf(&b, "Started %s, completed %s.\n\n",
		results.StartedAt.Format("2006-01-02 15:04:05"),
		results.CompletedAt.Format("2006-01-02 15:04:05"))

	rp.writeCleaning(&b, results)
	rp.writeDescriptives(&b, results)
	rp.writeHistogram(&b, results)
	rp.writePreference(&b, results)
	rp.writeModel(&b, "Condition effect", results.Condition)
	rp.writeModel(&b, "Condition x age", results.ConditionByAge)
	rp.writeComparison(&b, "Quadratic age", results.AgeQuadratic)
	rp.writeComparison(&b, "Cubic age", results.AgeCubic)
	rp.writeModel(&b, "Trial order", results.TrialOrder)
	rp.writeModerators(&b, results)
	rp.writeDiagnostics(&b, results)

	return b.String()
}

func (rp *Reporter) writeCleaning(b *strings.Builder, results *RunResults) {
	c := results.Cleaning
	if c == nil {
		return
	}
	b.WriteString("## Cleaning\n\n")
	fmt.Fprintf(b, "| Stage | Removed |\n|---|---|\n")
	fmt.Fprintf(b, "| Short trials (LT < 2 s) | %d |\n", c.ShortTrialsRemoved)
	fmt.Fprintf(b, "| Outlier subjects | %d (%d trials) |\n", c.OutlierSubjects, c.OutlierTrialsRemoved)
	fmt.Fprintf(b, "| Low-count subjects | %d (%d trials) |\n", c.LowCountSubjects, c.LowCountTrialsRemoved)
	fmt.Fprintf(b, "\n%d of %d trials retained; %d paired subjects enter analysis",
		c.OutputTrials, c.InputTrials, results.Subjects)
	if results.UnpairedSubjects > 0 {
		fmt.Fprintf(b, " (%d subjects lacked a condition and were dropped from paired scores)", results.UnpairedSubjects)
	}
	b.WriteString(".\n\n")
}

func (rp *Reporter) writeDescriptives(b *strings.Builder, results *RunResults) {
	if len(results.ConditionDescriptives) == 0 {
		return
	}
	b.WriteString("## Mean log looking time by condition\n\n")
	b.WriteString("| Condition | N | Mean | SD | Median | Q1 | Q3 |\n|---|---|---|---|---|---|---|\n")
	keys := make([]string, 0, len(results.ConditionDescriptives))
	for k := range results.ConditionDescriptives {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d := results.ConditionDescriptives[k]
		fmt.Fprintf(b, "| %s | %d | %.3f | %.3f | %.3f | %.3f | %.3f |\n",
			k, d.Count, d.Mean, d.StdDev, d.Median, d.Q1, d.Q3)
	}
	b.WriteString("\n")
}

func (rp *Reporter) writeHistogram(b *strings.Builder, results *RunResults) {
	if results.AgeByMethod == nil || len(results.AgeByMethod.Facets) == 0 {
		return
	}
	b.WriteString("## Age distribution by method\n\n```\n")
	b.WriteString(results.AgeByMethod.Render())
	b.WriteString("```\n\n")
}

func (rp *Reporter) writePreference(b *strings.Builder, results *RunResults) {
	t := results.Preference
	if t == nil {
		return
	}
	b.WriteString("## Paired IDS preference\n\n")
	fmt.Fprintf(b, "One-sample t-test of IDS-ADS difference scores against zero: ")
	fmt.Fprintf(b, "t(%.0f) = %.3f, p = %s, d = %.3f (mean %.3f, SD %.3f, n = %d).\n",
		t.DF, t.T, formatP(t.PValue), t.CohensD, t.Mean, t.StdDev, t.N)
	if t.Degenerate {
		b.WriteString("Difference scores had zero variance; statistics follow the degenerate-case policy.\n")
	}
	b.WriteString("\n")
}

func (rp *Reporter) writeModel(b *strings.Builder, title string, m *ModelAnalysis) {
	if m == nil {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	if m.Fit == nil {
		fmt.Fprintf(b, "Model could not be fitted: %s\n\n", strings.Join(m.Warnings, "; "))
		return
	}
	fmt.Fprintf(b, "`%s`\n\n", m.Fit.Name)
	writeCoefficients(b, m.Fit)
	writeRandom(b, m.Fit)
	if m.Drop1 != nil {
		fmt.Fprintf(b, "Dropping `%s`: chi2(%d) = %.3f, p = %s",
			m.Term, m.Drop1.DF, m.Drop1.Chi2, formatP(m.Drop1.PValue))
		if m.Drop1.Warning != "" {
			fmt.Fprintf(b, " _(%s)_", m.Drop1.Warning)
		}
		b.WriteString(".\n\n")
	}
	writeFitWarnings(b, m.Fit, m.Warnings)
}

func (rp *Reporter) writeComparison(b *strings.Builder, title string, c *ComparisonAnalysis) {
	if c == nil {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	if c.Fit == nil {
		fmt.Fprintf(b, "Model could not be fitted: %s\n\n", strings.Join(c.Warnings, "; "))
		return
	}
	fmt.Fprintf(b, "`%s`\n\n", c.Fit.Name)
	if c.LRT != nil {
		fmt.Fprintf(b, "Versus the previous degree: chi2(%d) = %.3f, p = %s",
			c.LRT.DF, c.LRT.Chi2, formatP(c.LRT.PValue))
		if c.LRT.Warning != "" {
			fmt.Fprintf(b, " _(%s)_", c.LRT.Warning)
		}
		b.WriteString(".\n\n")
	}
	writeFitWarnings(b, c.Fit, c.Warnings)
}

func (rp *Reporter) writeModerators(b *strings.Builder, results *RunResults) {
	if len(results.Moderators) == 0 {
		return
	}
	b.WriteString("## Moderator analyses\n\n")
	for _, m := range results.Moderators {
		fmt.Fprintf(b, "### %s\n\n", m.Moderator)
		if m.Skipped != "" {
			fmt.Fprintf(b, "Skipped: %s\n\n", m.Skipped)
			continue
		}
		if m.LRT != nil {
			fmt.Fprintf(b, "Moderation test: chi2(%d) = %.3f, p = %s",
				m.LRT.DF, m.LRT.Chi2, formatP(m.LRT.PValue))
			if m.LRT.Warning != "" {
				fmt.Fprintf(b, " _(%s)_", m.LRT.Warning)
			}
			b.WriteString(".\n\n")
		}
		if len(m.Trends) > 0 {
			b.WriteString("Condition effect by level (no multiplicity adjustment):\n\n")
			b.WriteString("| Level | Slope | SE | z | p |\n|---|---|---|---|---|\n")
			for _, tr := range m.Trends {
				fmt.Fprintf(b, "| %s | %.3f | %.3f | %.3f | %s |\n",
					tr.Level, tr.Estimate, tr.StdErr, tr.Z, formatP(tr.PValue))
			}
			b.WriteString("\n")
		}
		writeFitWarnings(b, m.Fit, m.Warnings)
	}
}

func (rp *Reporter) writeDiagnostics(b *strings.Builder, results *RunResults) {
	if len(results.Diagnostics) == 0 && len(results.Warnings) == 0 {
		return
	}
	b.WriteString("## Diagnostics\n\n")
	if len(results.Diagnostics) > 0 {
		b.WriteString("| Metric | Labels | Value |\n|---|---|---|\n")
		for _, s := range results.Diagnostics {
			fmt.Fprintf(b, "| %s | %s | %g |\n", s.Name, s.Labels, s.Value)
		}
		b.WriteString("\n")
	}
	if len(results.Warnings) > 0 {
		b.WriteString("Warnings:\n\n")
		for _, w := range results.Warnings {
			fmt.Fprintf(b, "- %s\n", w)
		}
		b.WriteString("\n")
	}
}

func writeCoefficients(b *strings.Builder, fit *lmm.Fit) {
	b.WriteString("| Fixed effect | Estimate | SE | z | p |\n|---|---|---|---|---|\n")
	for _, c := range fit.Coefficients {
		fmt.Fprintf(b, "| %s | %.4f | %.4f | %.3f | %s |\n",
			c.Name, c.Estimate, c.StdErr, c.Z, formatP(c.PValue))
	}
	b.WriteString("\n")
}

func writeRandom(b *strings.Builder, fit *lmm.Fit) {
	b.WriteString("| Random term | Effect | SD |\n|---|---|---|\n")
	for _, comp := range fit.Random {
		for i, name := range comp.Names {
			fmt.Fprintf(b, "| %s | %s | %.4f |\n", comp.Group, name, comp.StdDevs[i])
		}
	}
	fmt.Fprintf(b, "| Residual | | %.4f |\n\n", sqrtOrZero(fit.ResidualVar))
}

func writeFitWarnings(b *strings.Builder, fit *lmm.Fit, warnings []string) {
	all := warnings
	if fit != nil && !fit.Converged {
		all = append([]string{"fit did not converge: " + fit.Message}, all...)
	}
	if len(all) == 0 {
		return
	}
	for _, w := range all {
		fmt.Fprintf(b, "> warning: %s\n", w)
	}
	b.WriteString("\n")
}

func formatP(p float64) string {
	if p < 0.001 {
		return "< .001"
	}
	return fmt.Sprintf("%.3f", p)
}

func sqrtOrZero(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}
