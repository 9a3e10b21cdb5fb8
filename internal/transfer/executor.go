package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/savesync/internal/plan"
	"github.com/schaermu/savesync/internal/remote"
	"github.com/schaermu/savesync/internal/snapshot"
)

// DirResult is the outcome of ensuring one directory of a target path
type DirResult struct {
	Path    string
	Created bool
	Err     error
}

// FileResult is the outcome of copying one file
type FileResult struct {
	Name  string
	Path  string // remote path, identical on source and target
	Bytes int64
	Err   error
}

// GameResult is the outcome of copying one game's snapshot to one target
type GameResult struct {
	Game     string
	Source   string
	Target   string
	Snapshot snapshot.ID
	Path     string
	Dirs     []DirResult
	Files    []FileResult
	// Err is set when the game could not be transferred at all, e.g. the
	// source snapshot folder could not be listed
	Err error
}

// Failed reports whether the game or any of its files failed
func (g *GameResult) Failed() bool {
	if g.Err != nil {
		return true
	}
	for _, f := range g.Files {
		if f.Err != nil {
			return true
		}
	}
	return false
}

// FailedFiles returns the files that could not be copied
func (g *GameResult) FailedFiles() []FileResult {
	var out []FileResult
	for _, f := range g.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// DirWarnings returns the directories that could not be created
func (g *GameResult) DirWarnings() []DirResult {
	var out []DirResult
	for _, d := range g.Dirs {
		if d.Err != nil {
			out = append(out, d)
		}
	}
	return out
}

// Bytes returns the number of bytes written to the target
func (g *GameResult) Bytes() int64 {
	var n int64
	for _, f := range g.Files {
		if f.Err == nil {
			n += f.Bytes
		}
	}
	return n
}

// Report collects the outcome of executing a plan
type Report struct {
	RunID    string
	Games    []GameResult
	InSync   []string
	Started  time.Time
	Finished time.Time
}

// Synced returns the games that copied every file
func (r *Report) Synced() []GameResult {
	var out []GameResult
	for _, g := range r.Games {
		if !g.Failed() {
			out = append(out, g)
		}
	}
	return out
}

// Failed returns the games with at least one failure
func (r *Report) Failed() []GameResult {
	var out []GameResult
	for _, g := range r.Games {
		if g.Failed() {
			out = append(out, g)
		}
	}
	return out
}

// Bytes returns the total number of bytes written
func (r *Report) Bytes() int64 {
	var n int64
	for i := range r.Games {
		n += r.Games[i].Bytes()
	}
	return n
}

// Executor copies snapshots between replicas through a local staging area
type Executor struct {
	staging     *Staging
	parallelism int
	logger      *slog.Logger
}

// NewExecutor creates an executor. Games are copied one at a time unless
// parallelism is greater than one.
func NewExecutor(staging *Staging, parallelism int, logger *slog.Logger) *Executor {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Executor{
		staging:     staging,
		parallelism: parallelism,
		logger:      logger,
	}
}

// EnsureDir makes sure every directory of p exists on r, root to leaf. Each
// prefix is entered if possible and created otherwise. A failed creation is
// recorded and the walk moves on to the next prefix.
func (e *Executor) EnsureDir(ctx context.Context, r *remote.Replica, p string) []DirResult {
	var results []DirResult
	for _, dir := range remote.Segments(p) {
		if err := ctx.Err(); err != nil {
			results = append(results, DirResult{Path: dir, Err: err})
			continue
		}
		if err := r.Client.ChangeDir(dir); err == nil {
			results = append(results, DirResult{Path: dir})
			continue
		}

		e.logger.Info("creating directory", "replica", r.ID, "display_name", r.DisplayName, "path", dir)
		if err := r.Client.MakeDir(dir); err != nil {
			// Another writer may have created it in the meantime
			if r.Client.ChangeDir(dir) == nil {
				results = append(results, DirResult{Path: dir})
				continue
			}
			e.logger.Warn("failed to create directory", "replica", r.ID, "display_name", r.DisplayName, "path", dir, "error", err)
			results = append(results, DirResult{Path: dir, Err: err})
			continue
		}
		results = append(results, DirResult{Path: dir, Created: true})
	}
	return results
}

// Copy transfers every file directly under the decision's snapshot folder
// from source to target. A failing file is recorded and the remaining files
// are still copied.
func (e *Executor) Copy(ctx context.Context, game string, d plan.Decision, source, target *remote.Replica) GameResult {
	res := GameResult{
		Game:     game,
		Source:   source.ID,
		Target:   target.ID,
		Snapshot: d.Snapshot,
		Path:     d.Path,
	}
	logger := e.logger.With("game", game, "source", source.ID, "target", target.ID, "snapshot", d.Snapshot)

	res.Dirs = e.EnsureDir(ctx, target, d.Path)

	entries, err := source.Client.List(d.Path)
	if err != nil {
		res.Err = fmt.Errorf("list %s on %s: %w", d.Path, source, err)
		logger.Error("unable to list source snapshot", "path", d.Path, "error", err)
		return res
	}

	for _, entry := range entries {
		if entry.Type != remote.EntryFile {
			continue
		}
		fr := FileResult{Name: entry.Name, Path: remote.Join(d.Path, entry.Name)}
		if err := ctx.Err(); err != nil {
			fr.Err = err
			res.Files = append(res.Files, fr)
			continue
		}

		fr.Bytes, fr.Err = e.copyFile(source, target, game, d.Snapshot, fr)
		if fr.Err != nil {
			logger.Warn("file transfer failed", "file", entry.Name, "error", fr.Err)
		} else {
			logger.Debug("transferred file", "file", entry.Name, "bytes", fr.Bytes)
		}
		res.Files = append(res.Files, fr)
	}

	if res.Failed() {
		logger.Warn("sync incomplete", "failed_files", len(res.FailedFiles()), "files", len(res.Files))
	} else {
		logger.Info("synced", "from", source.DisplayName, "to", target.DisplayName, "path", d.Path, "files", len(res.Files))
	}
	return res
}

// copyFile downloads one file into staging and uploads it from there
func (e *Executor) copyFile(source, target *remote.Replica, game string, snap snapshot.ID, fr FileResult) (int64, error) {
	staged := e.staging.Path(source.ID, target.ID, game, string(snap), fr.Name)

	rc, err := source.Client.Retrieve(fr.Path)
	if err != nil {
		return 0, fmt.Errorf("read %s from %s: %w", fr.Path, source, err)
	}
	n, err := e.staging.Put(staged, rc)
	closeErr := rc.Close()
	if err != nil {
		return 0, fmt.Errorf("read %s from %s: %w", fr.Path, source, err)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("read %s from %s: %w", fr.Path, source, closeErr)
	}

	f, err := e.staging.Open(staged)
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close()
	}()
	if err := target.Client.Store(fr.Path, f); err != nil {
		return 0, fmt.Errorf("write %s to %s: %w", fr.Path, target, err)
	}
	return n, nil
}

type job struct {
	game   string
	d      plan.Decision
	target string
}

// Execute runs every copy in p. replicas maps replica id to its connection.
// Failures never stop the run; they are collected in the report. With
// parallelism above one, every replica connection is serialized so a handle
// carries at most one operation at a time.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, replicas map[string]*remote.Replica) *Report {
	report := &Report{
		InSync:  p.InSync(),
		Started: time.Now(),
	}

	var jobs []job
	for _, entry := range p.Copies() {
		for _, target := range entry.Decision.Targets {
			jobs = append(jobs, job{game: entry.Game, d: entry.Decision, target: target})
		}
	}

	if e.parallelism > 1 {
		serialized := make(map[string]*remote.Replica, len(replicas))
		for id, r := range replicas {
			serialized[id] = &remote.Replica{ID: r.ID, DisplayName: r.DisplayName, Client: remote.Serialize(r.Client)}
		}
		replicas = serialized
	}

	report.Games = make([]GameResult, len(jobs))
	g := new(errgroup.Group)
	g.SetLimit(e.parallelism)
	for i, j := range jobs {
		g.Go(func() error {
			report.Games[i] = e.run(ctx, j, replicas)
			return nil
		})
	}
	_ = g.Wait()

	report.Finished = time.Now()
	return report
}

func (e *Executor) run(ctx context.Context, j job, replicas map[string]*remote.Replica) GameResult {
	source, ok := replicas[j.d.Source]
	if !ok {
		return GameResult{Game: j.game, Source: j.d.Source, Target: j.target, Snapshot: j.d.Snapshot, Path: j.d.Path,
			Err: fmt.Errorf("unknown source replica %q", j.d.Source)}
	}
	target, ok := replicas[j.target]
	if !ok {
		return GameResult{Game: j.game, Source: j.d.Source, Target: j.target, Snapshot: j.d.Snapshot, Path: j.d.Path,
			Err: fmt.Errorf("unknown target replica %q", j.target)}
	}
	if err := ctx.Err(); err != nil {
		return GameResult{Game: j.game, Source: source.ID, Target: target.ID, Snapshot: j.d.Snapshot, Path: j.d.Path, Err: err}
	}
	return e.Copy(ctx, j.game, j.d, source, target)
}
