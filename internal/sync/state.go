package sync

import (
	"time"

	"github.com/schaermu/savesync/internal/transfer"
)

// Game outcome values recorded in the last-run state
const (
	StatusSynced = "synced"
	StatusFailed = "failed"
)

// State is the record of the most recent run that executed a plan
type State struct {
	RunID    string      `json:"run_id"`
	Started  time.Time   `json:"started"`
	Finished time.Time   `json:"finished"`
	Games    []GameState `json:"games"`
	InSync   []string    `json:"in_sync"`
}

// GameState is the outcome of one game transfer to one target
type GameState struct {
	Game     string `json:"game"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Snapshot string `json:"snapshot"`
	Status   string `json:"status"`
	Files    int    `json:"files"`
	Bytes    int64  `json:"bytes"`
	Error    string `json:"error,omitempty"`
}

// stateFromReport converts an execution report into its persisted form
func stateFromReport(r *transfer.Report) *State {
	state := &State{
		RunID:    r.RunID,
		Started:  r.Started,
		Finished: r.Finished,
		Games:    make([]GameState, 0, len(r.Games)),
		InSync:   r.InSync,
	}
	for i := range r.Games {
		g := &r.Games[i]
		gs := GameState{
			Game:     g.Game,
			Source:   g.Source,
			Target:   g.Target,
			Snapshot: string(g.Snapshot),
			Status:   StatusSynced,
			Files:    len(g.Files),
			Bytes:    g.Bytes(),
		}
		if g.Failed() {
			gs.Status = StatusFailed
			if g.Err != nil {
				gs.Error = g.Err.Error()
			} else if failed := g.FailedFiles(); len(failed) > 0 {
				gs.Error = failed[0].Err.Error()
			}
		}
		state.Games = append(state.Games, gs)
	}
	return state
}
