package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/schaermu/savesync/internal/remote"
	"github.com/schaermu/savesync/internal/snapshot"
)

// GameEntry is the newest snapshot of one game on one replica
type GameEntry struct {
	Game      string
	Newest    snapshot.ID
	Path      string // absolute remote path of the newest snapshot folder
	Snapshots int    // number of valid snapshot folders seen
}

// Entries maps game name to its newest snapshot on a single replica
type Entries map[string]GameEntry

// Catalog maps replica id to that replica's entries
type Catalog map[string]Entries

// Games returns the sorted union of game names across all replicas
func (c Catalog) Games() []string {
	set := make(map[string]struct{})
	for _, entries := range c {
		for game := range entries {
			set[game] = struct{}{}
		}
	}
	games := make([]string, 0, len(set))
	for game := range set {
		games = append(games, game)
	}
	sort.Strings(games)
	return games
}

// Lookup returns the entry of game on replica
func (c Catalog) Lookup(replica, game string) (GameEntry, bool) {
	e, ok := c[replica][game]
	return e, ok
}

// Warning is a recoverable problem met while scanning a replica
type Warning struct {
	Replica string
	Game    string
	Path    string
	Err     error
}

func (w Warning) String() string {
	if w.Game == "" {
		return fmt.Sprintf("%s: %s: %v", w.Replica, w.Path, w.Err)
	}
	return fmt.Sprintf("%s: game %q: %v", w.Replica, w.Game, w.Err)
}

// Result is the outcome of scanning a single replica
type Result struct {
	Replica  string
	Entries  Entries
	Skipped  []string // games without any valid snapshot folder
	Warnings []Warning
}

// Builder scans replicas for the newest snapshot of every game
type Builder struct {
	root   string
	logger *slog.Logger
}

// NewBuilder creates a builder that scans the save root on each replica
func NewBuilder(root string, logger *slog.Logger) *Builder {
	return &Builder{root: root, logger: logger}
}

// Matches reports whether game contains filter, ignoring case. An empty
// filter matches every game.
func Matches(game, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(game), strings.ToLower(filter))
}

// Build scans one replica. A missing or unreadable save root yields an empty
// result and a warning; only transport failures are returned as errors.
func (b *Builder) Build(ctx context.Context, r *remote.Replica, filter string) (*Result, error) {
	result := &Result{
		Replica: r.ID,
		Entries: make(Entries),
	}
	logger := b.logger.With("replica", r.ID)
	logger.Info("checking games", "display_name", r.DisplayName, "root", b.root)

	games, err := r.Client.List(b.root)
	if err != nil {
		if remote.IsUnavailable(err) {
			logger.Warn("unable to access save root", "path", b.root, "error", err)
			result.Warnings = append(result.Warnings, Warning{Replica: r.ID, Path: b.root, Err: err})
			return result, nil
		}
		return nil, fmt.Errorf("list %s on %s: %w", b.root, r, err)
	}

	for _, g := range games {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if g.Type != remote.EntryDir {
			continue
		}
		name := strings.TrimSpace(g.Name)
		if name == "" || !Matches(name, filter) {
			continue
		}

		gamePath := remote.Join(b.root, g.Name)
		children, err := r.Client.List(gamePath)
		if err != nil {
			if remote.IsUnavailable(err) {
				logger.Warn("unable to access game directory", "game", name, "path", gamePath, "error", err)
				result.Warnings = append(result.Warnings, Warning{Replica: r.ID, Game: name, Path: gamePath, Err: err})
				continue
			}
			return nil, fmt.Errorf("list %s on %s: %w", gamePath, r, err)
		}

		names := make([]string, 0, len(children))
		for _, c := range children {
			if c.Type == remote.EntryDir {
				names = append(names, c.Name)
			}
		}

		newest, count, ok := snapshot.Newest(names)
		if !ok {
			logger.Info("no save found, skipping", "game", name)
			result.Skipped = append(result.Skipped, name)
			continue
		}

		entry := GameEntry{
			Game:      name,
			Newest:    newest,
			Path:      remote.Join(gamePath, string(newest)),
			Snapshots: count,
		}
		result.Entries[name] = entry
		logger.Debug("found latest save", "game", name, "snapshot", newest, "path", entry.Path)
	}

	sort.Strings(result.Skipped)
	logger.Info("scan complete", "games", len(result.Entries), "skipped", len(result.Skipped))
	return result, nil
}

// BuildAll scans every replica concurrently. Each replica is scanned through
// its own connection. The first transport failure cancels the remaining scans
// and is returned.
func (b *Builder) BuildAll(ctx context.Context, replicas []*remote.Replica, filter string) (Catalog, []*Result, error) {
	results := make([]*Result, len(replicas))

	g, gctx := errgroup.WithContext(ctx)
	for i, r := range replicas {
		g.Go(func() error {
			res, err := b.Build(gctx, r, filter)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	cat := make(Catalog, len(replicas))
	for _, res := range results {
		cat[res.Replica] = res.Entries
	}
	return cat, results, nil
}
