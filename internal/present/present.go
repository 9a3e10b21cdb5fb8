// Package present renders plans, catalogs and run summaries for a terminal
// and asks the user to confirm a plan.
package present

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/schaermu/savesync/internal/catalog"
	"github.com/schaermu/savesync/internal/config"
	"github.com/schaermu/savesync/internal/plan"
	"github.com/schaermu/savesync/internal/sync"
)

// Names maps replica ids to display names
type Names map[string]string

// NamesFromConfig collects the display names of every configured replica
func NamesFromConfig(cfg *config.Config) Names {
	names := make(Names, len(cfg.Replicas))
	for id, r := range cfg.Replicas {
		names[id] = r.DisplayName
	}
	return names
}

// Of returns the display name of id, or id itself when it has none
func (n Names) Of(id string) string {
	if name := n[id]; name != "" {
		return name
	}
	return id
}

func (n Names) list(ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = n.Of(id)
	}
	return strings.Join(out, ", ")
}

// RenderPlan writes the actions of p followed by the games already in sync
// and those an override left alone
func RenderPlan(w io.Writer, p *plan.Plan, names Names) {
	fmt.Fprintln(w, "Summary of actions:")
	copies := p.Copies()
	if len(copies) == 0 {
		fmt.Fprintln(w, "  (nothing to copy)")
	}
	for _, e := range copies {
		d := e.Decision
		fmt.Fprintf(w, "  %s: Copy from %s to %s (%s)\n", e.Game, names.Of(d.Source), names.list(d.Targets), d.Snapshot)
	}

	inSync := p.InSync()
	if len(inSync) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Already in sync:")
		for _, game := range inSync {
			fmt.Fprintf(w, "  %s\n", game)
		}
	}
	renderOverridden(w, p)
}

func renderOverridden(w io.Writer, p *plan.Plan) {
	skipped := p.Skipped()
	if len(skipped) == 0 {
		return
	}
	fmt.Fprintf(w, "\nSkipped by --from/--to (%d):\n", len(skipped))
	for _, game := range skipped {
		fmt.Fprintf(w, "  %s\n", game)
	}
}

// RenderCatalog writes one table per replica with each game's newest
// snapshot and how many snapshots the replica holds
func RenderCatalog(w io.Writer, scans []*catalog.Result, names Names) {
	for i, s := range scans {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%d games)\n", names.Of(s.Replica), len(s.Entries))

		games := make([]string, 0, len(s.Entries))
		for game := range s.Entries {
			games = append(games, game)
		}
		sort.Strings(games)

		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		for _, game := range games {
			e := s.Entries[game]
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%d snapshots\n", game, e.Newest, humanize.Time(e.Newest.Time()), e.Snapshots)
		}
		_ = tw.Flush()

		for _, game := range s.Skipped {
			fmt.Fprintf(w, "  %s: no valid snapshot, skipped\n", game)
		}
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warn)
		}
	}
}

// RenderSummary writes the outcome of a run: synced, in-sync, failed and
// skipped games, and any scan warnings
func RenderSummary(w io.Writer, res *sync.Result, names Names) {
	fmt.Fprintln(w)
	switch {
	case res.DryRun:
		fmt.Fprintln(w, "Dry run, no changes applied.")
	case res.Declined:
		fmt.Fprintln(w, "Sync cancelled, no changes applied.")
	}

	if r := res.Report; r != nil {
		synced := r.Synced()
		fmt.Fprintf(w, "Synced (%d):\n", len(synced))
		for _, g := range synced {
			fmt.Fprintf(w, "  %s: %s -> %s, %d files, %s\n",
				g.Game, names.Of(g.Source), names.Of(g.Target), len(g.Files), humanize.Bytes(uint64(g.Bytes())))
		}

		failed := r.Failed()
		if len(failed) > 0 {
			fmt.Fprintf(w, "Failed (%d):\n", len(failed))
			for _, g := range failed {
				fmt.Fprintf(w, "  %s: %s -> %s\n", g.Game, names.Of(g.Source), names.Of(g.Target))
				if g.Err != nil {
					fmt.Fprintf(w, "    %v\n", g.Err)
				}
				for _, f := range g.FailedFiles() {
					fmt.Fprintf(w, "    %s: %v\n", f.Name, f.Err)
				}
			}
		}
		for _, g := range r.Games {
			for _, d := range g.DirWarnings() {
				fmt.Fprintf(w, "  warning: %s: could not create %s: %v\n", names.Of(g.Target), d.Path, d.Err)
			}
		}
		fmt.Fprintf(w, "Transferred %s in %s\n", humanize.Bytes(uint64(r.Bytes())), r.Finished.Sub(r.Started).Round(time.Millisecond))
	}

	if res.Plan != nil {
		inSync := res.Plan.InSync()
		fmt.Fprintf(w, "Already in sync (%d):\n", len(inSync))
		for _, game := range inSync {
			fmt.Fprintf(w, "  %s\n", game)
		}
		renderOverridden(w, res.Plan)
	}

	for _, s := range res.Scans {
		for _, game := range s.Skipped {
			fmt.Fprintf(w, "Skipped on %s: %s (no valid snapshot)\n", names.Of(s.Replica), game)
		}
		for _, warn := range s.Warnings {
			fmt.Fprintf(w, "Warning: %s\n", warn)
		}
	}
}

var _ sync.Presenter = (*Prompt)(nil)

// Prompt renders a plan and reads a yes/no answer
type Prompt struct {
	in    *bufio.Reader
	out   io.Writer
	names Names
}

// NewPrompt creates a prompt reading answers from in
func NewPrompt(in io.Reader, out io.Writer, names Names) *Prompt {
	return &Prompt{in: bufio.NewReader(in), out: out, names: names}
}

// Confirm implements sync.Presenter. Only "y" or "yes" proceeds; end of
// input declines.
func (p *Prompt) Confirm(ctx context.Context, pl *plan.Plan) (bool, error) {
	RenderPlan(p.out, pl, p.names)
	fmt.Fprint(p.out, "\nProceed with sync? (y/n): ")

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		// the reader stays blocked until input arrives or the process exits
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && !errors.Is(a.err, io.EOF) {
			return false, fmt.Errorf("failed to read answer: %w", a.err)
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}
