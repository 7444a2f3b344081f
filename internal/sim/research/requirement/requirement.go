// Package requirement implements the predicates that decide which world
// templates satisfy an opportunity.
//
// The variant set is closed: a Requirement is a tagged value and every
// operation dispatches on its Kind. All methods are pure with respect to
// (requirement, ruleset, template) and fail closed when a referenced template
// is missing from the ruleset.
package requirement

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"fieldresearch.ai/internal/sim/catalogs"
)

// Space separates the thing and terrain template namespaces.
type Space uint8

const (
	SpaceThing Space = iota + 1
	SpaceTerrain
)

func (s Space) String() string {
	switch s {
	case SpaceThing:
		return "thing"
	case SpaceTerrain:
		return "terrain"
	}
	return "unknown"
}

// TemplateRef addresses a static template in the ruleset.
type TemplateRef struct {
	Space Space
	ID    string
}

func ThingRef(id string) TemplateRef   { return TemplateRef{Space: SpaceThing, ID: id} }
func TerrainRef(id string) TemplateRef { return TemplateRef{Space: SpaceTerrain, ID: id} }

func (t TemplateRef) String() string { return t.Space.String() + ":" + t.ID }

// Entity is a concrete world object or cell. Entities are matched through
// their template.
type Entity interface {
	Template() TemplateRef
}

// Ruleset is the view of the loaded templates a requirement needs.
// *catalogs.Ruleset implements it.
type Ruleset interface {
	Thing(id string) (catalogs.ThingDef, bool)
	Terrain(id string) (catalogs.TerrainDef, bool)
	Group(id string) (catalogs.GroupDef, bool)
	GroupHas(group, thingID string) bool
}

type Kind uint8

const (
	KindNothing Kind = iota
	KindThing
	KindTerrain
	KindGroup
	KindExpr
)

func (k Kind) String() string {
	switch k {
	case KindNothing:
		return "nothing"
	case KindThing:
		return "thing"
	case KindTerrain:
		return "terrain"
	case KindGroup:
		return "group"
	case KindExpr:
		return "expr"
	}
	return "unknown"
}

var ErrUnknownKind = errors.New("requirement: unknown kind")

// Requirement is immutable after New.
type Requirement struct {
	kind   Kind
	target string
	rare   bool

	src        string
	program    *vm.Program
	compileErr error
}

// Nothing is the requirement of generic, manual-only opportunities.
func Nothing() Requirement { return Requirement{kind: KindNothing} }

func Thing(id string) Requirement   { return Requirement{kind: KindThing, target: id} }
func Terrain(id string) Requirement { return Requirement{kind: KindTerrain, target: id} }
func Group(id string) Requirement   { return Requirement{kind: KindGroup, target: id} }

// New builds a requirement from content. An expression that does not compile
// still yields a Requirement (permanently invalid) together with the error,
// so the caller can report it once and keep the definition loaded.
func New(def catalogs.RequirementDef) (Requirement, error) {
	r := Requirement{target: def.Target, rare: def.Rare}
	switch def.Kind {
	case "", "nothing":
		r.kind = KindNothing
	case "thing":
		r.kind = KindThing
	case "terrain":
		r.kind = KindTerrain
	case "group":
		r.kind = KindGroup
	case "expr":
		r.kind = KindExpr
		r.src = def.Expr
		p, err := expr.Compile(def.Expr, expr.Env(Env{}), expr.AsBool())
		if err != nil {
			r.compileErr = fmt.Errorf("requirement expr %q: %w", def.Expr, err)
			return r, r.compileErr
		}
		r.program = p
	default:
		return Requirement{kind: KindNothing}, fmt.Errorf("%w %q", ErrUnknownKind, def.Kind)
	}
	return r, nil
}

func (r Requirement) Kind() Kind     { return r.kind }
func (r Requirement) Target() string { return r.target }
func (r Requirement) Expr() string   { return r.src }
func (r Requirement) IsRare() bool   { return r.rare }
func (r Requirement) Err() error     { return r.compileErr }

// TargetIsNull distinguishes template-bound requirements that lost their
// target from free-floating ones. Nothing and expressions are never null.
func (r Requirement) TargetIsNull() bool {
	switch r.kind {
	case KindThing, KindTerrain, KindGroup:
		return r.target == ""
	}
	return false
}

// Space is the template namespace the requirement matches in, or 0 when it
// is not bound to one.
func (r Requirement) Space() Space {
	switch r.kind {
	case KindThing, KindGroup:
		return SpaceThing
	case KindTerrain:
		return SpaceTerrain
	}
	return 0
}

// IsValid reports whether the referenced template still exists in rs.
func (r Requirement) IsValid(rs Ruleset) bool {
	if rs == nil {
		return r.kind == KindNothing
	}
	switch r.kind {
	case KindNothing:
		return true
	case KindThing:
		_, ok := rs.Thing(r.target)
		return ok
	case KindTerrain:
		_, ok := rs.Terrain(r.target)
		return ok
	case KindGroup:
		_, ok := rs.Group(r.target)
		return ok
	case KindExpr:
		return r.program != nil
	}
	return false
}

// MetBy reports whether the template satisfies the requirement.
func (r Requirement) MetBy(rs Ruleset, ref TemplateRef) bool {
	if rs == nil || ref.ID == "" {
		return false
	}
	switch r.kind {
	case KindNothing:
		return false
	case KindThing:
		if ref.Space != SpaceThing || ref.ID != r.target {
			return false
		}
		_, ok := rs.Thing(ref.ID)
		return ok
	case KindTerrain:
		if ref.Space != SpaceTerrain || ref.ID != r.target {
			return false
		}
		_, ok := rs.Terrain(ref.ID)
		return ok
	case KindGroup:
		return ref.Space == SpaceThing && rs.GroupHas(r.target, ref.ID)
	case KindExpr:
		if r.program == nil {
			return false
		}
		env, ok := envFor(rs, ref)
		if !ok {
			return false
		}
		out, err := expr.Run(r.program, env)
		if err != nil {
			return false
		}
		b, _ := out.(bool)
		return b
	}
	return false
}

func (r Requirement) MetByEntity(rs Ruleset, e Entity) bool {
	if e == nil {
		return false
	}
	return r.MetBy(rs, e.Template())
}

// ShortDesc is a human readable summary for UI and diagnostics.
func (r Requirement) ShortDesc(rs Ruleset) string {
	switch r.kind {
	case KindNothing:
		return "Generic research"
	case KindThing:
		if rs != nil {
			if d, ok := rs.Thing(r.target); ok && d.Label != "" {
				return d.Label
			}
		}
		return r.target
	case KindTerrain:
		if rs != nil {
			if d, ok := rs.Terrain(r.target); ok && d.Label != "" {
				return d.Label
			}
		}
		return r.target
	case KindGroup:
		if rs != nil {
			if d, ok := rs.Group(r.target); ok && d.Label != "" {
				return "any " + d.Label
			}
		}
		return "any " + r.target
	case KindExpr:
		return "matching " + r.src
	}
	return "?"
}
