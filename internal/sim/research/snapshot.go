package research

import (
	"fmt"
	"sort"
)

// InstanceState is the persisted progress of one instance.
type InstanceState struct {
	DefinitionID string  `json:"definition_id"`
	Progress     float64 `json:"progress"`
	Finished     bool    `json:"finished,omitempty"`
}

// State is everything the host needs to persist to resume research.
type State struct {
	ActiveObjective string             `json:"active_objective,omitempty"`
	Objectives      map[string]float64 `json:"objectives"`
	Instances       []InstanceState    `json:"instances,omitempty"`
}

func (e *Engine) ExportSnapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := State{Objectives: make(map[string]float64, len(e.objectives))}
	for id, o := range e.objectives {
		s.Objectives[id] = o.Progress()
	}
	if obj := e.mgr.Objective(); obj != nil {
		s.ActiveObjective = obj.ID()
		for _, inst := range e.mgr.Instances() {
			if inst.Progress() == 0 && !inst.IsFinished() {
				continue
			}
			s.Instances = append(s.Instances, InstanceState{
				DefinitionID: inst.Definition().ID,
				Progress:     inst.Progress(),
				Finished:     inst.IsFinished(),
			})
		}
	}
	sort.Slice(s.Instances, func(i, j int) bool { return s.Instances[i].DefinitionID < s.Instances[j].DefinitionID })
	return s
}

// ImportSnapshot restores objective progress, re-activates the saved
// objective and replays instance progress onto the regenerated set. State
// referring to definitions that no longer exist is dropped with a log line.
func (e *Engine) ImportSnapshot(s State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id := range s.Objectives {
		if _, ok := e.cats.Objectives.ByID[id]; !ok {
			return fmt.Errorf("%w: %q", ErrSnapshotObjective, id)
		}
	}
	if s.ActiveObjective != "" {
		if _, ok := e.cats.Objectives.ByID[s.ActiveObjective]; !ok {
			return fmt.Errorf("%w: active %q", ErrSnapshotObjective, s.ActiveObjective)
		}
	}

	// Start from a clean instance set so replayed progress is not added twice.
	e.mgr.Regenerate(nil)
	for id, p := range s.Objectives {
		e.objectiveLocked(e.cats.Objectives.ByID[id]).RestoreProgress(p)
	}
	e.generation++
	if s.ActiveObjective == "" {
		return nil
	}
	if err := e.setActiveLocked(s.ActiveObjective); err != nil {
		return err
	}
	for _, st := range s.Instances {
		inst, ok := e.mgr.Instance(st.DefinitionID)
		if !ok {
			e.printf("engine: snapshot progress for unknown opportunity %s dropped", st.DefinitionID)
			continue
		}
		inst.Restore(st.Progress, st.Finished)
	}
	return nil
}

// AddObjectiveProgress credits the active objective directly, for research
// that is not tied to any opportunity.
func (e *Engine) AddObjectiveProgress(delta float64) (float64, error) {
	e.mu.Lock()
	obj := e.mgr.Objective()
	if obj == nil {
		e.mu.Unlock()
		return 0, ErrNoActiveObjective
	}
	wasComplete := obj.Complete()
	applied := obj.AddProgress(delta)
	ev := ProgressEvent{
		Tick:              e.tick,
		ObjectiveID:       obj.ID(),
		Delta:             applied,
		ObjectiveProgress: obj.Progress(),
		ObjectiveCost:     obj.Cost(),
		ObjectiveComplete: !wasComplete && obj.Complete(),
	}
	if ev.ObjectiveComplete {
		e.generation++
		e.printf("engine: objective %s complete at tick %d", obj.ID(), e.tick)
	}
	sinks := e.sinks
	e.mu.Unlock()

	if applied > 0 {
		for _, s := range sinks {
			s.OnProgress(ev)
		}
	}
	return applied, nil
}
