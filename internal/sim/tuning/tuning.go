package tuning

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Tuning struct {
	TickRateHz         int `yaml:"tick_rate_hz" json:"tick_rate_hz"`
	SnapshotEveryTicks int `yaml:"snapshot_every_ticks" json:"snapshot_every_ticks"`
	HomeRadius         int `yaml:"home_radius" json:"home_radius"`

	Research Research `yaml:"research" json:"research"`
}

// Research holds the base amounts and cadences the front-ends feed into the
// engine. The engine itself never reads these.
type Research struct {
	AdministerIngestibleObserver float64 `yaml:"administer_ingestible_observer" json:"administer_ingestible_observer"`
	InteractionLearnFromPrisoner float64 `yaml:"interaction_learn_from_prisoner" json:"interaction_learn_from_prisoner"`
	BenchAnalysisAmount          float64 `yaml:"bench_analysis_amount" json:"bench_analysis_amount"`
	AnalyseInPlaceDurationTicks  int     `yaml:"analyse_in_place_duration_ticks" json:"analyse_in_place_duration_ticks"`
	AnalyseTerrainDurationTicks  int     `yaml:"analyse_terrain_duration_ticks" json:"analyse_terrain_duration_ticks"`
	BenchAnalysisDurationTicks   int     `yaml:"bench_analysis_duration_ticks" json:"bench_analysis_duration_ticks"`
	JobExpiryTicks               int     `yaml:"job_expiry_ticks" json:"job_expiry_ticks"`
	SkillLearnPerTick            float64 `yaml:"skill_learn_per_tick" json:"skill_learn_per_tick"`
	SocialEveryTicks             int     `yaml:"social_every_ticks" json:"social_every_ticks"`
	MinPriorityDistance          float64 `yaml:"min_priority_distance" json:"min_priority_distance"`
	PriorityJitter               float64 `yaml:"priority_jitter" json:"priority_jitter"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz:         20,
		SnapshotEveryTicks: 6000,
		HomeRadius:         12,
		Research: Research{
			AdministerIngestibleObserver: 25,
			InteractionLearnFromPrisoner: 10,
			BenchAnalysisAmount:          80,
			AnalyseInPlaceDurationTicks:  600,
			AnalyseTerrainDurationTicks:  480,
			BenchAnalysisDurationTicks:   300,
			JobExpiryTicks:               1500,
			SkillLearnPerTick:            0.1,
			SocialEveryTicks:             120,
			MinPriorityDistance:          4,
			PriorityJitter:               0.25,
		},
	}
}

// Load reads tuning.yaml over Defaults, so a file may set only what it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if t.TickRateHz <= 0 {
		return t, fmt.Errorf("tuning.yaml: tick_rate_hz must be positive")
	}
	return t, nil
}
