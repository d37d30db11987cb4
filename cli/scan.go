package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"
	"github.com/yoanbernabeu/codetags/codetag"
	"github.com/yoanbernabeu/codetags/config"
	"github.com/yoanbernabeu/codetags/engine"
	"github.com/yoanbernabeu/codetags/store"
	"github.com/yoanbernabeu/codetags/summary"
)

var (
	scanJSON bool
	scanTOON bool
)

// TagJSON is the machine-readable form of a tag.
type TagJSON struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Modified string `json:"modified"`
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan the current directory once",
	Long: `Scan the current directory without watching it.

The scan will:
- Stamp every codetag that has no identifier yet (files are rewritten in place)
- Skip paths matched by .ctagsignore
- Write codetags.md
- Print the tags found`,
	Args: cobra.NoArgs,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().BoolVarP(&scanJSON, "json", "j", false, "Output tags in JSON format (for AI agents)")
	scanCmd.Flags().BoolVarP(&scanTOON, "toon", "t", false, "Output tags in TOON format (token-efficient for AI agents)")
	scanCmd.MarkFlagsMutuallyExclusive("json", "toon")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	if home, err := config.HomeDir(); err == nil {
		if loaded, err := config.Load(home); err == nil {
			cfg = loaded
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	repo := config.Repository{Name: filepath.Base(cwd), Root: cwd}
	tags, err := scanRepository(cmd.Context(), repo, cfg)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case scanJSON:
		return outputTagsJSON(out, tags)
	case scanTOON:
		return outputTagsTOON(out, tags)
	}
	outputTags(out, repo, tags)
	fmt.Fprintln(out, mutedStyle.Render("Summary: "+filepath.Join(repo.Root, cfg.SummaryFile)))
	return nil
}

// scanRepository runs one synchronous scan of repo and returns its tags.
func scanRepository(ctx context.Context, repo config.Repository, cfg *config.Config) ([]codetag.Tag, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	st := store.NewMemoryStore()
	e := engine.New(repo, st, engine.NewConfig(cfg, log.New(io.Discard, "", 0)))
	if err := e.Scan(ctx); err != nil {
		return nil, err
	}
	return st.AllTags(), nil
}

func toTagJSON(tags []codetag.Tag) []TagJSON {
	out := make([]TagJSON, len(tags))
	for i, t := range tags {
		out[i] = TagJSON{
			ID:       t.ID,
			Type:     t.Type,
			Content:  t.Content,
			File:     t.RelPath,
			Line:     t.Line,
			Modified: t.LastModified.Local().Format(summary.TimeLayout),
		}
	}
	return out
}

func outputTagsJSON(w io.Writer, tags []codetag.Tag) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(toTagJSON(tags))
}

// outputTagsTOON outputs tags in TOON format for AI agents
func outputTagsTOON(w io.Writer, tags []codetag.Tag) error {
	output, err := gotoon.Encode(toTagJSON(tags))
	if err != nil {
		return fmt.Errorf("failed to encode TOON: %w", err)
	}
	fmt.Fprintln(w, output)
	return nil
}

// outputTags prints tags grouped by type, in summary order.
func outputTags(w io.Writer, repo config.Repository, tags []codetag.Tag) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s: %d tags", repo.Name, len(tags))))

	current := ""
	for _, t := range tags {
		if t.Type != current {
			current = t.Type
			fmt.Fprintln(w, sectionStyle.Render(current))
		}
		fmt.Fprintf(w, "  %s %s\n", idStyle.Render(t.ID), t.Content)
		fmt.Fprintf(w, "    %s\n", mutedStyle.Render(fmt.Sprintf("%s:%d", t.RelPath, t.Line)))
	}
}
