// Command dcat-merge is a git merge driver for a project's issues.jsonl
// log. Configured in .gitattributes as:
//
//	issues.jsonl merge=dcat
//
// and in .git/config (or .gitconfig):
//
//	[merge "dcat"]
//	name = dogcats three-way JSONL merge
//	driver = dcat-merge %O %A %B
//
// git invokes the driver as "dcat-merge %O %A %B" (base, ours, theirs).
// On success the merged result is written to the "ours" path atomically
// and the process exits 0. Any internal failure exits 1, which tells
// git to fall back to textual conflict markers.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dogcats/dcat/internal/logio"
	"github.com/dogcats/dcat/internal/merge"
	"github.com/dogcats/dcat/internal/obslog"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "dcat-merge: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var logPath string

	cmd := &cobra.Command{
		Use:   "dcat-merge <base> <ours> <theirs>",
		Short: "Three-way JSONL merge driver for dogcats issue logs",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if logPath == "" {
				logPath = filepath.Join(os.TempDir(), "dcat-merge.log")
			}
			logger := obslog.New(logPath)
			return runMerge(args[0], args[1], args[2], logger)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.Flags().StringVar(&logPath, "log", "", "path to the merge driver's log file (default: $TMPDIR/dcat-merge.log)")
	return cmd
}

func runMerge(basePath, oursPath, theirsPath string, logger *obslog.Logger) error {
	base, err := readSide(basePath)
	if err != nil {
		logger.Errorf("reading base %s: %v", basePath, err)
		return err
	}
	ours, err := readSide(oursPath)
	if err != nil {
		logger.Errorf("reading ours %s: %v", oursPath, err)
		return err
	}
	theirs, err := readSide(theirsPath)
	if err != nil {
		logger.Errorf("reading theirs %s: %v", theirsPath, err)
		return err
	}

	result, err := merge.Merge3Way(base, ours, theirs)
	if err != nil {
		logger.Errorf("merging %s: %v", oursPath, err)
		return err
	}

	encoded, err := merge.Encode(result)
	if err != nil {
		logger.Errorf("encoding merged result for %s: %v", oursPath, err)
		return err
	}

	if err := logio.AtomicWriteFile(oursPath, encoded); err != nil {
		logger.Errorf("writing merged result to %s: %v", oursPath, err)
		return err
	}

	logger.Infof("merged %s: %d issues, %d deps, %d links, %d events, %d proposals",
		oursPath, len(result.Issues), len(result.Dependencies), len(result.Links), len(result.Events), len(result.Proposals))
	return nil
}

func readSide(path string) (merge.Input, error) {
	lines, err := logio.ReadLines(path)
	if err != nil {
		return merge.Input{}, err
	}
	return merge.Input{Lines: lines}, nil
}
