package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"fieldresearch.ai/internal/config"
	"fieldresearch.ai/internal/persistence/indexdb"
	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/world"
	"fieldresearch.ai/internal/transport/observer"
)

const maxBodyBytes = 16 << 10

func newMux(w *world.World, cfg config.Config, idx *indexdb.SQLiteIndex, logger *log.Logger) *http.ServeMux {
	colony := cfg.ColonyID
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		m := w.Metrics()
		tick := w.CurrentTick()
		if m.Tick != 0 {
			tick = m.Tick
		}

		// Minimal Prometheus exposition format.
		fmt.Fprintf(rw, "# HELP fieldresearch_colony_tick Current colony tick.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_colony_tick gauge\n")
		fmt.Fprintf(rw, "fieldresearch_colony_tick{colony=%q} %d\n", colony, tick)

		fmt.Fprintf(rw, "# HELP fieldresearch_colony_pawns Pawns in the colony.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_colony_pawns gauge\n")
		fmt.Fprintf(rw, "fieldresearch_colony_pawns{colony=%q,kind=%q} %d\n", colony, "colonist", m.Colonists)
		fmt.Fprintf(rw, "fieldresearch_colony_pawns{colony=%q,kind=%q} %d\n", colony, "prisoner", m.Prisoners)

		fmt.Fprintf(rw, "# HELP fieldresearch_colony_active_tasks Running research jobs.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_colony_active_tasks gauge\n")
		fmt.Fprintf(rw, "fieldresearch_colony_active_tasks{colony=%q} %d\n", colony, m.ActiveTasks)

		fmt.Fprintf(rw, "# HELP fieldresearch_colony_observers Connected observer sessions.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_colony_observers gauge\n")
		fmt.Fprintf(rw, "fieldresearch_colony_observers{colony=%q} %d\n", colony, m.Observers)

		fmt.Fprintf(rw, "# HELP fieldresearch_objective_progress Progress of the active objective.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_objective_progress gauge\n")
		fmt.Fprintf(rw, "fieldresearch_objective_progress{colony=%q,objective=%q} %.3f\n", colony, m.ActiveObjective, m.ObjectiveProgress)
		fmt.Fprintf(rw, "fieldresearch_objective_cost{colony=%q,objective=%q} %.3f\n", colony, m.ActiveObjective, m.ObjectiveCost)

		fmt.Fprintf(rw, "# HELP fieldresearch_opportunities Opportunities of the active objective by availability.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_opportunities gauge\n")
		fmt.Fprintf(rw, "fieldresearch_opportunities{colony=%q,state=%q} %d\n", colony, "available", m.AvailableOpportunities)
		fmt.Fprintf(rw, "fieldresearch_opportunities{colony=%q,state=%q} %d\n", colony, "finished", m.FinishedOpportunities)
		fmt.Fprintf(rw, "fieldresearch_opportunities{colony=%q,state=%q} %d\n", colony, "unavailable", m.Opportunities-m.AvailableOpportunities-m.FinishedOpportunities)

		fmt.Fprintf(rw, "# HELP fieldresearch_queue_depth Channel backlog depth.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_queue_depth gauge\n")
		fmt.Fprintf(rw, "fieldresearch_queue_depth{colony=%q,queue=%q} %d\n", colony, "ingest", m.QueueDepths.Ingest)
		fmt.Fprintf(rw, "fieldresearch_queue_depth{colony=%q,queue=%q} %d\n", colony, "objective", m.QueueDepths.Objective)
		fmt.Fprintf(rw, "fieldresearch_queue_depth{colony=%q,queue=%q} %d\n", colony, "admin", m.QueueDepths.Admin)

		fmt.Fprintf(rw, "# HELP fieldresearch_step_ms Last tick step duration in milliseconds.\n")
		fmt.Fprintf(rw, "# TYPE fieldresearch_step_ms gauge\n")
		fmt.Fprintf(rw, "fieldresearch_step_ms{colony=%q} %.3f\n", colony, m.StepMS)

		if idx != nil {
			s := idx.Stats()
			fmt.Fprintf(rw, "# HELP fieldresearch_index_queue_depth SQLite index writer backlog.\n")
			fmt.Fprintf(rw, "# TYPE fieldresearch_index_queue_depth gauge\n")
			fmt.Fprintf(rw, "fieldresearch_index_queue_depth %d\n", s.QueueDepth)
			fmt.Fprintf(rw, "fieldresearch_index_dropped_total{kind=%q} %d\n", "progress", s.DropProgressTotal)
			fmt.Fprintf(rw, "fieldresearch_index_dropped_total{kind=%q} %d\n", "snapshot", s.DropSnapshotTotal)
			fmt.Fprintf(rw, "fieldresearch_index_commit_fail_total %d\n", s.CommitFailTotal)
		}
	})

	if !cfg.Admin {
		if logger != nil {
			logger.Printf("admin endpoints disabled (admin_http=false)")
		}
		return mux
	}

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/state", loopbackOnly(func(rw http.ResponseWriter, r *http.Request) {
		resp := struct {
			ColonyID string             `json:"colony_id"`
			Tick     uint64             `json:"tick"`
			Metrics  world.WorldMetrics `json:"metrics"`
		}{
			ColonyID: colony,
			Tick:     w.CurrentTick(),
			Metrics:  w.Metrics(),
		}
		writeJSON(rw, http.StatusOK, resp)
	}))
	mux.HandleFunc("/admin/v1/snapshot", loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		tick, err := w.RequestSnapshot(ctx)
		if err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "tick": tick, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "tick": tick})
	})))
	mux.HandleFunc("/admin/v1/objective", loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
		var body struct {
			ID string `json:"id"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes)).Decode(&body); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		err := w.RequestObjective(ctx, strings.TrimSpace(body.ID))
		switch {
		case errors.Is(err, research.ErrUnknownObjective):
			writeJSON(rw, http.StatusNotFound, map[string]any{"ok": false, "error": err.Error()})
		case err != nil:
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		default:
			writeJSON(rw, http.StatusOK, map[string]any{"ok": true, "objective": body.ID})
		}
	})))
	mux.HandleFunc("/admin/v1/ingest", loopbackOnly(postOnly(func(rw http.ResponseWriter, r *http.Request) {
		var ev world.IngestEvent
		if err := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "bad json"})
			return
		}
		if ev.ObserverID == "" || ev.IngesterID == "" || ev.ThingID == "" {
			writeJSON(rw, http.StatusBadRequest, map[string]any{"ok": false, "error": "observer_id, ingester_id and thing_id are required"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := w.RequestIngest(ctx, ev); err != nil {
			writeJSON(rw, http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
			return
		}
		writeJSON(rw, http.StatusAccepted, map[string]any{"ok": true})
	})))

	obsSrv := observer.NewServer(w, logger)
	mux.HandleFunc("/admin/v1/observer/bootstrap", obsSrv.BootstrapHandler())
	mux.HandleFunc("/admin/v1/observer/ws", obsSrv.WSHandler())
	return mux
}

func loopbackOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func postOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(rw, r)
	}
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
