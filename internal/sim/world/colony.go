package world

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fieldresearch.ai/internal/sim/research/frontend"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
)

// Pawn is a colonist or prisoner.
type Pawn struct {
	id       string
	name     string
	template string
	pos      tasks.Vec2i

	prisoner         bool
	researchDisabled bool
	kit              bool

	stats  map[string]float64
	skills map[string]float64

	task *tasks.WorkTask
}

func (p *Pawn) Template() requirement.TemplateRef { return requirement.ThingRef(p.template) }
func (p *Pawn) ID() string                        { return p.id }
func (p *Pawn) Name() string                      { return p.name }
func (p *Pawn) Position() tasks.Vec2i             { return p.pos }
func (p *Pawn) Prisoner() bool                    { return p.prisoner }
func (p *Pawn) HasResearchKit() bool              { return p.kit }
func (p *Pawn) Task() *tasks.WorkTask             { return p.task }
func (p *Pawn) Skill(name string) float64         { return p.skills[name] }

// Stat returns 1 for stats the pawn does not override.
func (p *Pawn) Stat(name string) float64 {
	if v, ok := p.stats[name]; ok {
		return v
	}
	return 1
}

func (p *Pawn) CanDoResearch() bool {
	return !p.prisoner && !p.researchDisabled
}

func (p *Pawn) Learn(skill string, xp float64) {
	if xp <= 0 {
		return
	}
	p.skills[skill] += xp
}

var _ frontend.Pawn = (*Pawn)(nil)

// Thing is an item or building on the map.
type Thing struct {
	id        string
	template  string
	pos       tasks.Vec2i
	forbidden bool
}

func (t *Thing) Template() requirement.TemplateRef { return requirement.ThingRef(t.template) }
func (t *Thing) Key() string                       { return t.id }
func (t *Thing) Position() tasks.Vec2i             { return t.pos }
func (t *Thing) Forbidden() bool                   { return t.forbidden }

type Bench struct {
	Thing
	speed float64
}

func (b *Bench) SpeedFactor() float64 { return b.speed }

var _ frontend.Bench = (*Bench)(nil)

type PawnSpec struct {
	ID               string             `yaml:"id"`
	Name             string             `yaml:"name"`
	Template         string             `yaml:"template,omitempty"`
	Pos              [2]int             `yaml:"pos"`
	Prisoner         bool               `yaml:"prisoner,omitempty"`
	ResearchDisabled bool               `yaml:"research_disabled,omitempty"`
	Kit              bool               `yaml:"kit,omitempty"`
	Stats            map[string]float64 `yaml:"stats,omitempty"`
}

type ThingSpec struct {
	ID        string `yaml:"id"`
	Template  string `yaml:"template"`
	Pos       [2]int `yaml:"pos"`
	Forbidden bool   `yaml:"forbidden,omitempty"`
}

type BenchSpec struct {
	ID       string  `yaml:"id"`
	Template string  `yaml:"template,omitempty"`
	Pos      [2]int  `yaml:"pos"`
	Speed    float64 `yaml:"speed,omitempty"`
}

// Layout is the initial colony. Terrain, when set, holds Size*Size ids
// row-major by Z and replaces the generated map.
type Layout struct {
	Size       int         `yaml:"size"`
	Terrain    []string    `yaml:"terrain,omitempty"`
	Pawns      []PawnSpec  `yaml:"pawns"`
	Things     []ThingSpec `yaml:"things,omitempty"`
	Benches    []BenchSpec `yaml:"benches,omitempty"`
	Prototypes [][2]int    `yaml:"prototypes,omitempty"`
	Supports   []string    `yaml:"supports,omitempty"`
}

const (
	defaultPawnTemplate  = "Human"
	defaultBenchTemplate = "ResearchBench"
)

// DefaultLayout is a small colony that gives every front-end something to do.
func DefaultLayout() Layout {
	return Layout{
		Size: 48,
		Pawns: []PawnSpec{
			{ID: "c1", Name: "Ada", Pos: [2]int{24, 24}, Kit: true},
			{ID: "c2", Name: "Bram", Pos: [2]int{25, 24}},
			{ID: "c3", Name: "Cyra", Pos: [2]int{23, 25}, Stats: map[string]float64{frontend.StatResearchSpeed: 1.2}},
			{ID: "p1", Name: "Dorn", Pos: [2]int{30, 24}, Prisoner: true},
		},
		Things: []ThingSpec{
			{ID: "battery1", Template: "Battery", Pos: [2]int{26, 27}},
			{ID: "generator1", Template: "WoodFiredGenerator", Pos: [2]int{20, 22}},
			{ID: "component1", Template: "ComponentIndustrial", Pos: [2]int{22, 26}},
			{ID: "chunk1", Template: "ChunkGranite", Pos: [2]int{27, 21}},
			{ID: "beer1", Template: "Beer", Pos: [2]int{24, 28}},
			{ID: "beer2", Template: "Beer", Pos: [2]int{25, 28}},
			{ID: "joint1", Template: "SmokeleafJoint", Pos: [2]int{23, 28}},
			{ID: "herbal1", Template: "MedicineHerbal", Pos: [2]int{22, 28}},
		},
		Benches: []BenchSpec{
			{ID: "bench1", Pos: [2]int{24, 20}, Speed: 1},
			{ID: "bench2", Pos: [2]int{26, 20}, Speed: 1.25},
		},
		Prototypes: [][2]int{{25, 25}},
		Supports:   []string{"ResearchKit"},
	}
}

// LoadLayout reads a colony layout from YAML.
func LoadLayout(path string) (Layout, error) {
	var l Layout
	raw, err := os.ReadFile(path)
	if err != nil {
		return l, err
	}
	if err := yaml.Unmarshal(raw, &l); err != nil {
		return l, fmt.Errorf("%s: %w", path, err)
	}
	return l, nil
}

func vec(p [2]int) tasks.Vec2i { return tasks.Vec2i{X: p[0], Z: p[1]} }
