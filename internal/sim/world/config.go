package world

import "fieldresearch.ai/internal/sim/tuning"

type WorldConfig struct {
	ID                 string
	TickRateHz         int
	SnapshotEveryTicks int
	HomeRadius         int
	Seed               int64

	Research tuning.Research
}

func ConfigFromTuning(id string, seed int64, t tuning.Tuning) WorldConfig {
	return WorldConfig{
		ID:                 id,
		TickRateHz:         t.TickRateHz,
		SnapshotEveryTicks: t.SnapshotEveryTicks,
		HomeRadius:         t.HomeRadius,
		Seed:               seed,
		Research:           t.Research,
	}
}
