// Package observerproto defines the observer feed messages: a bootstrap
// document over HTTP and a stream of per-tick research frames over websocket.
package observerproto

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`

	// Modes limits opportunities to those handled by any of the named modes
	// ("JOB_ANALYSIS", "SOCIAL", ...). Empty means all.
	Modes []string `json:"modes,omitempty"`
	// IncludeUnavailable also lists invalid and prerequisite-blocked instances.
	IncludeUnavailable bool `json:"include_unavailable,omitempty"`
	// EveryTicks thins the stream; 0 or 1 sends every tick.
	EveryTicks int `json:"every_ticks,omitempty"`
}

// HTTP response for GET /admin/v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	ColonyID        string       `json:"colony_id"`
	Tick            uint64       `json:"tick"`
	ColonyParams    ColonyParams `json:"colony_params"`

	// Terrain is the map as RLE over TerrainPalette indexes, row-major by Z.
	TerrainPalette  []string `json:"terrain_palette"`
	TerrainEncoding string   `json:"terrain_encoding"`
	Terrain         string   `json:"terrain"`

	Objectives []ObjectiveInfo `json:"objectives"`
}

type ColonyParams struct {
	TickRateHz int      `json:"tick_rate_hz"`
	Size       int      `json:"size"`
	Seed       int64    `json:"seed"`
	HomeRadius int      `json:"home_radius"`
	Prototypes [][2]int `json:"prototypes,omitempty"`
}

type ObjectiveInfo struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Cost  float64 `json:"cost"`
}

// Server -> Client. Sent every tick.
type TickMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Tick            uint64 `json:"tick"`

	Objective     *ObjectiveState    `json:"objective,omitempty"`
	Opportunities []OpportunityState `json:"opportunities"`
	Pawns         []PawnState        `json:"pawns"`
	Progress      []ProgressEntry    `json:"progress,omitempty"`
}

type ObjectiveState struct {
	ID       string  `json:"id"`
	Progress float64 `json:"progress"`
	Cost     float64 `json:"cost"`
	Complete bool    `json:"complete,omitempty"`
}

type OpportunityState struct {
	ID           string  `json:"id"`
	Label        string  `json:"label"`
	Modes        string  `json:"modes"`
	Relation     string  `json:"relation"`
	Category     string  `json:"category"`
	Progress     float64 `json:"progress"`
	Target       float64 `json:"target"`
	Availability string  `json:"availability"`
	Rare         bool    `json:"rare,omitempty"`
}

type PawnState struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Prisoner bool       `json:"prisoner,omitempty"`
	Pos      [2]int     `json:"pos"`
	Task     *TaskState `json:"task,omitempty"`
}

type TaskState struct {
	Kind          string `json:"kind"`
	OpportunityID string `json:"opportunity_id"`
	TargetID      string `json:"target_id,omitempty"`
	BenchID       string `json:"bench_id,omitempty"`
	Cell          [2]int `json:"cell,omitempty"`
	WorkTicks     int    `json:"work_ticks"`
	ExpiresTick   uint64 `json:"expires_tick,omitempty"`
}

type ProgressEntry struct {
	OpportunityID string  `json:"opportunity_id,omitempty"`
	Delta         float64 `json:"delta"`
	Finished      bool    `json:"finished,omitempty"`
}
