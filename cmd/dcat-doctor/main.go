// Command dcat-doctor reports on the integrity of a project's
// issues.jsonl log: structural problems, dangling references, dependency
// cycles, and, when HEAD is a merge commit, fields both sides of the
// merge touched concurrently.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/dogcats/dcat/internal/config"
	"github.com/dogcats/dcat/internal/gitutil"
	"github.com/dogcats/dcat/internal/logio"
	"github.com/dogcats/dcat/internal/store"
	"github.com/dogcats/dcat/internal/validate"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dcat-doctor: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dir        string
		jsonOutput bool
		watch      bool
	)

	cmd := &cobra.Command{
		Use:   "dcat-doctor",
		Short: "Validate a dogcats issue log's integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = "."
			}
			if watch {
				return runWatch(dir, jsonOutput)
			}
			rep, err := buildReport(dir)
			if err != nil {
				return err
			}
			printReport(rep, jsonOutput)
			if rep.Status != statusOK {
				os.Exit(1)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&dir, "dir", "", "project directory containing issues.jsonl (default: current directory)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the machine-readable report shape instead of a human report")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run validation whenever issues.jsonl changes")
	return cmd
}

const (
	statusOK         = "ok"
	statusIssueFound = "issues_found"
)

// checkResult is one named check's pass/fail summary.
type checkResult struct {
	Passed      bool   `json:"passed"`
	Description string `json:"description"`
	Fix         string `json:"fix,omitempty"`
}

// concurrentEditReport names an issue touched by both sides of a merge.
type concurrentEditReport struct {
	IssueID string   `json:"issue_id"`
	Fields  []string `json:"fields"`
}

// report is the JSON shape surfaced to users, per the validator output
// contract.
type report struct {
	Status            string                 `json:"status"`
	Checks            map[string]checkResult `json:"checks"`
	ValidationDetails []validate.Finding     `json:"validation_details"`
	ConcurrentEdits   []concurrentEditReport `json:"concurrent_edits,omitempty"`
}

func buildReport(dir string) (report, error) {
	lines, err := logio.ReadLines(filepath.Join(dir, store.LogFilename))
	if err != nil {
		return report{}, err
	}

	snap := buildSnapshot(lines)
	findings := validate.Validate(snap)
	if cfg, cfgErr := config.Load(dir, filepath.Base(dir)); cfgErr == nil {
		for _, w := range []string{cfg.MutuallyExclusiveFiltersWarning(), cfg.SchemaWarning()} {
			if w != "" {
				findings = append(findings, validate.Finding{Level: validate.LevelWarning, Message: "config.toml: " + w})
			}
		}
	}

	hasError, hasCycle := false, false
	for _, f := range findings {
		if f.Level == validate.LevelError {
			hasError = true
		}
		if containsSubstr(f.Message, "cycle") {
			hasCycle = true
		}
	}

	concurrent := concurrentEditsAtHead(dir)

	checks := map[string]checkResult{
		"structural_and_referential": {
			Passed:      !hasError,
			Description: "every issue has valid fields and every reference resolves",
			Fix:         fixHint(hasError, "review validation_details and edit issues.jsonl directly"),
		},
		"dependency_cycles": {
			Passed:      !hasCycle,
			Description: "no cycle exists among blocks-type dependencies",
			Fix:         fixHint(hasCycle, "remove or retype one of the blocking edges named in validation_details"),
		},
	}
	if len(concurrent) > 0 {
		checks["concurrent_edits"] = checkResult{
			Passed:      false,
			Description: "no field was edited by both sides of the last merge",
			Fix:         "review concurrent_edits and confirm the winning side's value is correct",
		}
	}

	status := statusOK
	if hasError || len(concurrent) > 0 {
		status = statusIssueFound
	}

	return report{
		Status:            status,
		Checks:            checks,
		ValidationDetails: findings,
		ConcurrentEdits:   concurrent,
	}, nil
}

func containsSubstr(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func fixHint(failed bool, hint string) string {
	if !failed {
		return ""
	}
	return hint
}

// concurrentEditsAtHead runs the advisory post-merge check when HEAD is a
// merge commit: it reads issues.jsonl as it existed on each parent and
// at their common ancestor, then flags fields both sides changed.
func concurrentEditsAtHead(dir string) []concurrentEditReport {
	ours, theirs, ok := validate.MergeCommitParents(dir)
	if !ok {
		return nil
	}
	base, baseOK := gitutil.MergeBase(dir, ours, theirs)
	if !baseOK {
		return nil
	}

	oursContent, oursOK := gitutil.ShowFile(dir, ours, store.LogFilename)
	theirsContent, theirsOK := gitutil.ShowFile(dir, theirs, store.LogFilename)
	baseContent, baseContentOK := gitutil.ShowFile(dir, base, store.LogFilename)
	if !oursOK || !theirsOK || !baseContentOK {
		return nil
	}

	findings := validate.CheckConcurrentEdits(
		issueSetAt(bytes.Split(baseContent, []byte("\n"))),
		issueSetAt(bytes.Split(oursContent, []byte("\n"))),
		issueSetAt(bytes.Split(theirsContent, []byte("\n"))),
	)

	byIssue := map[string][]string{}
	var order []string
	for _, f := range findings {
		if _, seen := byIssue[f.IssueID]; !seen {
			order = append(order, f.IssueID)
		}
		byIssue[f.IssueID] = append(byIssue[f.IssueID], f.Field)
	}
	out := make([]concurrentEditReport, 0, len(order))
	for _, id := range order {
		out = append(out, concurrentEditReport{IssueID: id, Fields: byIssue[id]})
	}
	return out
}

func printReport(r report, asJSON bool) {
	if asJSON {
		enc, _ := json.MarshalIndent(r, "", "  ")
		fmt.Println(string(enc))
		return
	}

	ok := lipgloss.NewStyle().Foreground(lipgloss.Color("35")).Bold(true)
	bad := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warn := lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	if r.Status == statusOK {
		fmt.Println(ok.Render("✓ ") + "no issues found")
	} else {
		fmt.Println(bad.Render("✗ ") + "issues found")
	}
	for name, c := range r.Checks {
		mark := ok.Render("✓")
		if !c.Passed {
			mark = bad.Render("✗")
		}
		fmt.Printf("  %s %s — %s\n", mark, name, c.Description)
		if c.Fix != "" {
			fmt.Println("    " + warn.Render("fix: "+c.Fix))
		}
	}
	for _, f := range r.ValidationDetails {
		fmt.Printf("  line %d [%s] %s\n", f.Line, f.Level, f.Message)
	}
	for _, c := range r.ConcurrentEdits {
		fmt.Printf("  %s: both sides edited %v\n", c.IssueID, c.Fields)
	}
}

func runWatch(dir string, jsonOutput bool) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("dcat-doctor: starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("dcat-doctor: watching %s: %w", dir, err)
	}

	runOnce := func() {
		rep, err := buildReport(dir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dcat-doctor: %v\n", err)
			return
		}
		printReport(rep, jsonOutput)
	}
	runOnce()

	target := filepath.Join(dir, store.LogFilename)
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(target) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				runOnce()
			}
		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(os.Stderr, "dcat-doctor: watch error: %v\n", watchErr)
		}
	}
}
