package tasks

// Driver names the job driver a task template runs. Front-ends select the
// task templates of an opportunity by driver.
type Driver string

const (
	DriverAnalyse        Driver = "ANALYSE"
	DriverAnalyseInPlace Driver = "ANALYSE_IN_PLACE"
	DriverAnalyseTerrain Driver = "ANALYSE_TERRAIN"
)

func (d Driver) Valid() bool {
	switch d {
	case DriverAnalyse, DriverAnalyseInPlace, DriverAnalyseTerrain:
		return true
	}
	return false
}

// WorkTask is a running analysis job held by a host agent.
type WorkTask struct {
	TaskID       string
	Driver       Driver
	TaskTemplate string

	// ANALYSE_IN_PLACE / ANALYSE
	ThingID string
	BenchID string
	// ANALYSE_TERRAIN
	Cell Vec2i

	OpportunityID string
	// ObjectiveID is the objective active when the task started; the task
	// stops once another one is active.
	ObjectiveID string

	StartedTick uint64
	ExpiresTick uint64
	WorkTicks   int // elapsed ticks on current unit of work
}

func (t *WorkTask) Expired(nowTick uint64) bool {
	return t.ExpiresTick != 0 && nowTick >= t.ExpiresTick
}

// Vec2i is duplicated here to avoid import cycles (tasks is used by world).
type Vec2i struct{ X, Z int }
