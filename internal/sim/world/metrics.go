package world

import (
	"time"

	"fieldresearch.ai/internal/sim/research/opportunity"
)

// WorldMetrics is a thread-safe read-only view of key colony runtime signals.
// It is updated from the world loop goroutine and read from HTTP handlers/tests.
type WorldMetrics struct {
	Tick uint64 `json:"tick"`

	Colonists   int `json:"colonists"`
	Prisoners   int `json:"prisoners"`
	Things      int `json:"things"`
	ActiveTasks int `json:"active_tasks"`
	Observers   int `json:"observers"`

	ActiveObjective   string  `json:"active_objective,omitempty"`
	ObjectiveProgress float64 `json:"objective_progress"`
	ObjectiveCost     float64 `json:"objective_cost"`

	Opportunities          int `json:"opportunities"`
	AvailableOpportunities int `json:"available_opportunities"`
	FinishedOpportunities  int `json:"finished_opportunities"`

	QueueDepths QueueDepths `json:"queue_depths"`

	StepMS float64 `json:"step_ms"`
}

type QueueDepths struct {
	Ingest    int `json:"ingest"`
	Objective int `json:"objective"`
	Admin     int `json:"admin"`
}

func (w *World) Metrics() WorldMetrics {
	if w == nil {
		return WorldMetrics{}
	}
	v := w.metrics.Load()
	if v == nil {
		return WorldMetrics{}
	}
	m, ok := v.(WorldMetrics)
	if !ok {
		return WorldMetrics{}
	}
	return m
}

func (w *World) publishMetrics(tick uint64) { w.publishMetricsStep(tick, 0) }

func (w *World) publishMetricsStep(tick uint64, took time.Duration) {
	m := WorldMetrics{
		Tick:      tick,
		Things:    len(w.things),
		Observers: len(w.observers),
		QueueDepths: QueueDepths{
			Ingest:    len(w.ingestReq),
			Objective: len(w.objectiveReq),
			Admin:     len(w.admin),
		},
		StepMS: float64(took.Microseconds()) / 1000,
	}
	for _, p := range w.pawns {
		if p.prisoner {
			m.Prisoners++
		} else {
			m.Colonists++
		}
		if p.task != nil {
			m.ActiveTasks++
		}
	}
	if w.eng != nil {
		if obj := w.eng.ActiveObjective(); obj != nil {
			m.ActiveObjective = obj.ID()
			m.ObjectiveProgress = obj.Progress()
			m.ObjectiveCost = obj.Cost()
		}
		for _, inst := range w.eng.Instances() {
			m.Opportunities++
			switch w.eng.Availability(inst) {
			case opportunity.Available:
				m.AvailableOpportunities++
			case opportunity.Finished:
				m.FinishedOpportunities++
			}
		}
	}
	w.metrics.Store(m)
}
