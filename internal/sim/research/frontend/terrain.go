package frontend

import (
	"fmt"
	"math"
	"math/rand"

	"fieldresearch.ai/internal/sim/research"
	"fieldresearch.ai/internal/sim/research/opportunity"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
	"fieldresearch.ai/internal/sim/tuning"
)

// Cell is a map cell seen through its terrain template.
type Cell struct {
	Pos     tasks.Vec2i
	Terrain string
}

func (c Cell) Template() requirement.TemplateRef { return requirement.TerrainRef(c.Terrain) }
func (c Cell) Key() string                       { return fmt.Sprintf("cell:%d,%d", c.Pos.X, c.Pos.Z) }
func (c Cell) Position() tasks.Vec2i             { return c.Pos }

// TerrainMap is the host's cell grid.
type TerrainMap interface {
	TerrainAt(pos tasks.Vec2i) (string, bool)
	IsPrototype(pos tasks.Vec2i) bool
	HomeCells() []tasks.Vec2i
}

// Terrain studies the ground inside the home area.
type Terrain struct {
	base
	grid   TerrainMap
	access Access
	rng    *rand.Rand
}

func NewTerrain(eng *research.Engine, grid TerrainMap, access Access, tun tuning.Research, rng *rand.Rand) *Terrain {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Terrain{
		base: base{
			eng:    eng,
			filter: research.Filter{Modes: opportunity.ModeJobAnalysis, Driver: tasks.DriverAnalyseTerrain},
			tun:    tun,
		},
		grid:   grid,
		access: access,
		rng:    rng,
	}
}

func (f *Terrain) ShouldSkip(p Pawn) bool {
	if f.objective() == nil {
		return true
	}
	if f.needsKit(p) {
		return true
	}
	return !f.eng.AnyOpportunity(f.filter)
}

// PotentialCells is the home area; cells are filtered per HasJobOn.
func (f *Terrain) PotentialCells() []tasks.Vec2i {
	if f.objective() == nil {
		return nil
	}
	return f.grid.HomeCells()
}

func (f *Terrain) cell(pos tasks.Vec2i) (Cell, bool) {
	id, ok := f.grid.TerrainAt(pos)
	if !ok {
		return Cell{}, false
	}
	return Cell{Pos: pos, Terrain: id}, true
}

func (f *Terrain) HasJobOn(p Pawn, pos tasks.Vec2i) (bool, FailReason) {
	if f.objective() == nil {
		return false, FailNoObjective
	}
	if f.grid.IsPrototype(pos) {
		return false, FailIsPrototype
	}
	c, ok := f.cell(pos)
	if !ok {
		return false, FailNoOpportunity
	}
	if _, ok := f.eng.FirstForTemplate(c.Template(), f.filter); !ok {
		return false, FailNoOpportunity
	}
	if f.access != nil && !f.access.CanWorkOn(p, c) {
		return false, FailUnavailable
	}
	return true, FailNone
}

func (f *Terrain) JobOn(p Pawn, pos tasks.Vec2i, nowTick uint64) (*tasks.WorkTask, error) {
	c, ok := f.cell(pos)
	if !ok {
		return nil, fmt.Errorf("no terrain at %d,%d", pos.X, pos.Z)
	}
	inst, ok := f.eng.FirstForTemplate(c.Template(), f.filter)
	if !ok {
		return nil, errNoOpportunity(c)
	}
	task, err := f.newTask(p, inst, c, nowTick)
	if err != nil {
		return nil, err
	}
	task.Cell = pos
	return task, nil
}

// Priority prefers cells a short walk away over ones right underfoot, with a
// little jitter so pawns spread out.
func (f *Terrain) Priority(p Pawn, pos tasks.Vec2i) float64 {
	c, ok := f.cell(pos)
	if !ok {
		return 0
	}
	inst, ok := f.eng.FirstForTemplate(c.Template(), f.filter)
	if !ok {
		return 0
	}
	near := f.tun.MinPriorityDistance
	if near <= 0 {
		near = 4
	}
	dist := distance(pos, p.Position())
	if dist < near {
		dist = (near - dist) + near
	}
	prio := 1/dist - (near - 1)
	prio += f.rng.Float64() * f.tun.PriorityJitter
	return prio * p.Stat(StatFieldResearchSpeedMultiplier) * inst.SpeedMultiplier()
}

func (f *Terrain) WorkTick(p Pawn, task *tasks.WorkTask) TickResult {
	if f.grid.IsPrototype(task.Cell) {
		return TickStopped
	}
	return f.workTick(p, task, f.tun.AnalyseTerrainDurationTicks)
}

func distance(a, b tasks.Vec2i) float64 {
	dx := float64(a.X - b.X)
	dz := float64(a.Z - b.Z)
	return math.Sqrt(dx*dx + dz*dz)
}
