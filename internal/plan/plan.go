package plan

import (
	"sort"

	"github.com/schaermu/savesync/internal/catalog"
	"github.com/schaermu/savesync/internal/config"
	"github.com/schaermu/savesync/internal/snapshot"
)

// Action is what a run does for one game
type Action string

const (
	// ActionCopy copies the source snapshot to every target replica
	ActionCopy Action = "copy"

	// ActionInSync means every holder already has the newest snapshot
	ActionInSync Action = "in-sync"

	// ActionSkipped marks a game left alone by a --from/--to override
	ActionSkipped Action = "skipped"
)

// Decision is the resolved action for one game
type Decision struct {
	Action   Action
	Source   string
	Targets  []string
	Snapshot snapshot.ID
	// Path is the snapshot folder on the source; targets receive the files
	// at the same path
	Path string
}

// Entry pairs a game with its decision
type Entry struct {
	Game     string
	Decision Decision
}

// Plan is the full set of per-game decisions for a run. Entries are sorted
// by game name.
type Plan struct {
	Replicas []string
	Entries  []Entry
}

// Copies returns the entries that transfer data
func (p *Plan) Copies() []Entry {
	var out []Entry
	for _, e := range p.Entries {
		if e.Decision.Action == ActionCopy {
			out = append(out, e)
		}
	}
	return out
}

// InSync returns the names of games that need no transfer
func (p *Plan) InSync() []string {
	var out []string
	for _, e := range p.Entries {
		if e.Decision.Action == ActionInSync {
			out = append(out, e.Game)
		}
	}
	return out
}

// Lookup returns the decision for game
func (p *Plan) Lookup(game string) (Decision, bool) {
	i := sort.Search(len(p.Entries), func(i int) bool { return p.Entries[i].Game >= game })
	if i < len(p.Entries) && p.Entries[i].Game == game {
		return p.Entries[i].Decision, true
	}
	return Decision{}, false
}

// Skipped returns the names of games an override excluded from the run
func (p *Plan) Skipped() []string {
	var out []string
	for _, e := range p.Entries {
		if e.Decision.Action == ActionSkipped {
			out = append(out, e.Game)
		}
	}
	return out
}

// Empty reports whether the plan transfers nothing
func (p *Plan) Empty() bool {
	return len(p.Copies()) == 0
}

// Restrict keeps only copies whose source is from and sends them to to
// instead of their planned targets. An empty from or to leaves that side
// unconstrained. Copies from other sources stay in the plan as skipped. A
// copy whose new target already holds the snapshot becomes in-sync. The
// override never replaces a newer save: from must hold the newest snapshot.
func (p *Plan) Restrict(cat catalog.Catalog, from, to string) *Plan {
	out := &Plan{Replicas: p.Replicas}
	for _, e := range p.Entries {
		d := e.Decision
		if d.Action == ActionCopy {
			switch {
			case from != "" && d.Source != from:
				d.Action, d.Targets = ActionSkipped, nil
			case to == "":
				// planned targets stay
			case d.Source == to:
				d.Action, d.Targets = ActionInSync, nil
			default:
				if held, ok := cat.Lookup(to, e.Game); ok && snapshot.Compare(held.Newest, d.Snapshot) == 0 {
					d.Action, d.Targets = ActionInSync, nil
				} else {
					d.Targets = []string{to}
				}
			}
		}
		out.Entries = append(out.Entries, Entry{Game: e.Game, Decision: d})
	}
	return out
}

// Planner turns catalogs into a plan. It performs no I/O.
type Planner struct {
	policy config.TargetPolicy
}

// NewPlanner creates a planner. An unknown policy falls back to broadcast.
func NewPlanner(policy config.TargetPolicy) *Planner {
	if policy != config.TargetFirst {
		policy = config.TargetBroadcast
	}
	return &Planner{policy: policy}
}

// Build resolves every game in the union of the catalogs. replicas lists
// every configured replica, including those that returned no entries.
func (p *Planner) Build(cat catalog.Catalog, replicas []string) *Plan {
	all := replicaSet(cat, replicas)
	plan := &Plan{Replicas: all}

	for _, game := range cat.Games() {
		plan.Entries = append(plan.Entries, Entry{
			Game:     game,
			Decision: p.decide(cat, all, game),
		})
	}
	return plan
}

// decide resolves one game from its holder set alone. The newest snapshot
// wins; ties between equally new holders go to the lowest replica id.
// Targets are the holders with an older snapshot plus the non-holders the
// policy selects. With exactly two replicas this is the plain pairwise rule.
func (p *Planner) decide(cat catalog.Catalog, all []string, game string) Decision {
	var (
		source  string
		newest  catalog.GameEntry
		holders []string
		missing []string
	)
	for _, id := range all {
		e, ok := cat.Lookup(id, game)
		if !ok {
			missing = append(missing, id)
			continue
		}
		holders = append(holders, id)
		if source == "" || snapshot.Compare(e.Newest, newest.Newest) > 0 {
			source, newest = id, e
		}
	}

	var targets []string
	for _, id := range holders {
		if e, _ := cat.Lookup(id, game); snapshot.Compare(e.Newest, newest.Newest) < 0 {
			targets = append(targets, id)
		}
	}
	if len(missing) > 0 {
		if p.policy == config.TargetFirst {
			missing = missing[:1]
		}
		targets = append(targets, missing...)
	}

	if len(targets) == 0 {
		return Decision{Action: ActionInSync, Source: source, Snapshot: newest.Newest, Path: newest.Path}
	}
	sort.Strings(targets)
	return Decision{
		Action:   ActionCopy,
		Source:   source,
		Targets:  targets,
		Snapshot: newest.Newest,
		Path:     newest.Path,
	}
}

func replicaSet(cat catalog.Catalog, replicas []string) []string {
	set := make(map[string]struct{}, len(replicas))
	for _, id := range replicas {
		set[id] = struct{}{}
	}
	for id := range cat {
		set[id] = struct{}{}
	}
	all := make([]string, 0, len(set))
	for id := range set {
		all = append(all, id)
	}
	sort.Strings(all)
	return all
}
