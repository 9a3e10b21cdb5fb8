package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-git/go-billy/v5"
	"github.com/google/uuid"

	"github.com/schaermu/savesync/internal/catalog"
	"github.com/schaermu/savesync/internal/config"
	"github.com/schaermu/savesync/internal/plan"
	"github.com/schaermu/savesync/internal/remote"
	"github.com/schaermu/savesync/internal/transfer"
)

// ErrConnect is returned when a configured replica cannot be reached
var ErrConnect = errors.New("failed to connect to replica")

// Presenter shows a plan and decides whether it may be executed
type Presenter interface {
	Confirm(ctx context.Context, p *plan.Plan) (bool, error)
}

// AutoConfirm approves every plan without asking
type AutoConfirm struct{}

// Confirm implements Presenter
func (AutoConfirm) Confirm(context.Context, *plan.Plan) (bool, error) {
	return true, nil
}

// Options adjust a single run
type Options struct {
	DryRun bool
	// From and To restrict copies to one source and redirect them to one
	// target. Either may be empty.
	From string
	To   string
}

// Result is everything a run produced, for reporting
type Result struct {
	RunID    string
	Plan     *plan.Plan
	Scans    []*catalog.Result
	Report   *transfer.Report
	DryRun   bool
	Declined bool
}

// Failed reports whether any game transfer failed
func (r *Result) Failed() bool {
	return r.Report != nil && len(r.Report.Failed()) > 0
}

// Engine orchestrates the sync process
type Engine struct {
	cfg       *config.Config
	dialer    remote.Dialer
	presenter Presenter
	logger    *slog.Logger
	opts      Options

	replicas  []*remote.Replica
	stagingFS billy.Filesystem
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, dialer remote.Dialer, presenter Presenter, logger *slog.Logger, opts Options) *Engine {
	return &Engine{
		cfg:       cfg,
		dialer:    dialer,
		presenter: presenter,
		logger:    logger,
		opts:      opts,
	}
}

// Run executes the complete sync process: connect, scan, plan, confirm and
// transfer. Per-game failures are reported in the result, not as an error.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	e.logger.Info("starting sync",
		"replicas", len(e.cfg.Replicas),
		"filter", e.cfg.Sync.Filter,
		"dry_run", e.opts.DryRun)

	if prev, err := e.loadState(); err != nil {
		e.logger.Warn("failed to load previous run record", "error", err)
	} else if prev != nil {
		e.logger.Debug("previous run", "run_id", prev.RunID, "finished", prev.Finished, "games", len(prev.Games))
	}

	p, scans, err := e.Plan(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{Plan: p, Scans: scans, DryRun: e.opts.DryRun}

	e.logger.Info("sync plan",
		"copy", len(p.Copies()),
		"in_sync", len(p.InSync()),
		"skipped", len(p.Skipped()))

	// check for dry-run mode
	if e.opts.DryRun {
		e.logPlanDetails(p)
		e.logger.Info("dry-run complete, no changes applied")
		return res, nil
	}

	if p.Empty() {
		e.logger.Info("all games already in sync")
		return res, nil
	}

	ok, err := e.presenter.Confirm(ctx, p)
	if err != nil {
		return res, fmt.Errorf("failed to confirm sync plan: %w", err)
	}
	if !ok {
		e.logger.Info("sync cancelled")
		res.Declined = true
		return res, nil
	}

	report, err := e.Execute(ctx, p)
	if err != nil {
		return res, err
	}
	res.RunID = report.RunID
	res.Report = report
	return res, nil
}

// Plan connects to every replica, scans them and computes the plan. It does
// not transfer anything.
func (e *Engine) Plan(ctx context.Context) (*plan.Plan, []*catalog.Result, error) {
	if err := e.checkOverride(); err != nil {
		return nil, nil, err
	}
	cat, scans, err := e.Scan(ctx)
	if err != nil {
		return nil, nil, err
	}

	planner := plan.NewPlanner(e.cfg.Sync.TargetPolicy)
	p := planner.Build(cat, e.cfg.ReplicaIDs())
	if e.opts.From != "" || e.opts.To != "" {
		e.logger.Info("restricting plan", "from", e.opts.From, "to", e.opts.To)
		p = p.Restrict(cat, e.opts.From, e.opts.To)
	}
	return p, scans, nil
}

// Scan connects to every replica and builds their catalogs
func (e *Engine) Scan(ctx context.Context) (catalog.Catalog, []*catalog.Result, error) {
	if err := e.Connect(ctx); err != nil {
		return nil, nil, err
	}

	builder := catalog.NewBuilder(e.cfg.Paths.SaveRoot, e.logger)
	cat, scans, err := builder.BuildAll(ctx, e.replicas, e.cfg.Sync.Filter)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to scan replicas: %w", err)
	}
	for _, s := range scans {
		for _, w := range s.Warnings {
			e.logger.Warn("scan warning", "replica", w.Replica, "game", w.Game, "path", w.Path, "error", w.Err)
		}
		e.logger.Info("scanned replica", "replica", s.Replica, "games", len(s.Entries), "skipped", len(s.Skipped))
	}
	return cat, scans, nil
}

// Connect opens a connection to every configured replica. Already open
// connections are reused. Any failure is fatal and closes what was opened.
func (e *Engine) Connect(ctx context.Context) error {
	if e.replicas != nil {
		return nil
	}
	replicas := make([]*remote.Replica, 0, len(e.cfg.Replicas))
	for _, id := range e.cfg.ReplicaIDs() {
		rc := e.cfg.Replicas[id]
		r := &remote.Replica{ID: id, DisplayName: rc.DisplayName}
		e.logger.Info("connecting", "replica", id, "display_name", rc.DisplayName, "kind", rc.Kind)
		client, err := e.dialer.Dial(ctx, id, rc)
		if err != nil {
			closeAll(replicas, e.logger)
			return fmt.Errorf("%w %s: %w", ErrConnect, r, err)
		}
		r.Client = client
		replicas = append(replicas, r)
	}
	e.replicas = replicas
	return nil
}

// Close disconnects from every replica
func (e *Engine) Close() {
	closeAll(e.replicas, e.logger)
	e.replicas = nil
}

// Execute transfers every copy in p through a fresh staging area and records
// the outcome. It must only be called with a confirmed plan.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan) (*transfer.Report, error) {
	if err := e.Connect(ctx); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	staging, err := e.newStaging(runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := staging.Close(); err != nil {
			e.logger.Warn("failed to clean up staging", "dir", staging.Dir(), "error", err)
		}
	}()

	e.logger.Info("executing sync plan", "run_id", runID, "copies", len(p.Copies()), "parallelism", e.cfg.Transfer.Parallelism)
	byID := make(map[string]*remote.Replica, len(e.replicas))
	for _, r := range e.replicas {
		byID[r.ID] = r
	}

	executor := transfer.NewExecutor(staging, e.cfg.Transfer.Parallelism, e.logger)
	report := executor.Execute(ctx, p, byID)
	report.RunID = runID

	if err := e.saveState(stateFromReport(report)); err != nil {
		e.logger.Warn("failed to save run record", "error", err)
	}

	if failed := report.Failed(); len(failed) > 0 {
		e.logger.Warn("sync completed with failures", "failed", len(failed), "synced", len(report.Synced()))
	} else {
		e.logger.Info("sync completed successfully", "synced", len(report.Synced()))
	}
	return report, nil
}

func (e *Engine) newStaging(runID string) (*transfer.Staging, error) {
	if e.stagingFS != nil {
		return transfer.NewStaging(e.stagingFS, runID), nil
	}
	return transfer.NewLocalStaging(e.cfg.Paths.StagingDir, runID)
}

// checkOverride validates the --from and --to replica ids
func (e *Engine) checkOverride() error {
	for _, id := range []string{e.opts.From, e.opts.To} {
		if id == "" {
			continue
		}
		if _, ok := e.cfg.Replicas[id]; !ok {
			return fmt.Errorf("unknown replica %q", id)
		}
	}
	if e.opts.From != "" && e.opts.From == e.opts.To {
		return fmt.Errorf("source and target are the same replica %q", e.opts.From)
	}
	return nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(p *plan.Plan) {
	for _, entry := range p.Copies() {
		d := entry.Decision
		for _, target := range d.Targets {
			e.logger.Info("[dry-run] would copy",
				"game", entry.Game,
				"source", d.Source,
				"target", target,
				"snapshot", d.Snapshot,
				"path", d.Path)
		}
	}
	for _, game := range p.InSync() {
		e.logger.Info("[dry-run] in sync", "game", game)
	}
	for _, game := range p.Skipped() {
		e.logger.Info("[dry-run] skipped by override", "game", game)
	}
}

// loadState loads the previous run record from disk. A missing file or an
// unset state directory yields nil.
func (e *Engine) loadState() (*State, error) {
	statePath := e.cfg.StateFilePath()
	if statePath == "" {
		return nil, nil
	}
	data, err := os.ReadFile(statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}

	return &state, nil
}

// saveState persists the run record to disk
func (e *Engine) saveState(state *State) error {
	statePath := e.cfg.StateFilePath()
	if statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(statePath), 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(statePath, data, 0644)
}

func closeAll(replicas []*remote.Replica, logger *slog.Logger) {
	for _, r := range replicas {
		if err := r.Client.Close(); err != nil {
			logger.Debug("failed to close connection", "replica", r.ID, "error", err)
		}
	}
}
