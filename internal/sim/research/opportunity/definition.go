package opportunity

import (
	"fmt"

	"fieldresearch.ai/internal/sim/catalogs"
	"fieldresearch.ai/internal/sim/research/requirement"
	"fieldresearch.ai/internal/sim/tasks"
)

const defaultCategoryKey = "default"

// fallbackCategory applies when content names no category for a relation and
// no default: full speed, capped only by the objective.
var fallbackCategory = catalogs.CategoryDef{ID: "", SpeedMultiplier: 1, TargetFraction: 1}

// TaskTemplate is a job template compatible with a definition.
type TaskTemplate struct {
	ID     string
	Driver tasks.Driver
}

// Definition is the immutable, resolved form of a content opportunity.
type Definition struct {
	ID              string
	Label           string
	Modes           HandlingMode
	Requirement     requirement.Requirement
	TaskTemplates   []TaskTemplate
	RequiresSupport []string

	// RequirementErr is the expression compile error, if any. The definition
	// stays loaded and its instances are invalid.
	RequirementErr error

	categories map[string]catalogs.CategoryDef
	links      map[string]Relation
}

// NewDefinition resolves od against the loaded catalogs. Cross references were
// checked at load time; an error here means the catalog is inconsistent.
func NewDefinition(od catalogs.OpportunityDef, c *catalogs.Catalogs) (*Definition, error) {
	modes, err := ParseHandlingModes(od.HandledBy)
	if err != nil {
		return nil, fmt.Errorf("opportunity %s: %w", od.ID, err)
	}
	req, reqErr := requirement.New(od.Requirement)
	if reqErr != nil && req.Kind() != requirement.KindExpr {
		return nil, fmt.Errorf("opportunity %s: %w", od.ID, reqErr)
	}

	d := &Definition{
		ID:              od.ID,
		Label:           od.Label,
		Modes:           modes,
		Requirement:     req,
		RequirementErr:  reqErr,
		RequiresSupport: append([]string(nil), od.RequiresSupport...),
		categories:      map[string]catalogs.CategoryDef{},
		links:           map[string]Relation{},
	}
	if d.Label == "" {
		d.Label = od.ID
	}
	for _, id := range od.TaskTemplates {
		tt, ok := c.TaskTemplates.ByID[id]
		if !ok {
			return nil, fmt.Errorf("opportunity %s: unknown task template %q", od.ID, id)
		}
		d.TaskTemplates = append(d.TaskTemplates, TaskTemplate{ID: tt.ID, Driver: tasks.Driver(tt.Driver)})
	}
	for rel, catID := range od.Categories {
		cat, ok := c.Categories.ByID[catID]
		if !ok {
			return nil, fmt.Errorf("opportunity %s: unknown category %q", od.ID, catID)
		}
		d.categories[rel] = cat
	}
	for _, l := range od.Objectives {
		rel := Relation(l.Relation)
		if rel == "" {
			rel = RelationDirect
		}
		d.links[l.Objective] = rel
	}
	return d, nil
}

// RelationTo reports how the definition relates to objective id. A wildcard
// link relates generically to every objective.
func (d *Definition) RelationTo(objectiveID string) (Relation, bool) {
	if rel, ok := d.links[objectiveID]; ok {
		return rel, true
	}
	if rel, ok := d.links[catalogs.Wildcard]; ok {
		if rel == RelationDirect {
			rel = RelationGeneric
		}
		return rel, true
	}
	return "", false
}

func (d *Definition) Category(rel Relation) catalogs.CategoryDef {
	if c, ok := d.categories[string(rel)]; ok {
		return c
	}
	if c, ok := d.categories[defaultCategoryKey]; ok {
		return c
	}
	return fallbackCategory
}

// TaskTemplateFor returns the first compatible template run by drv.
func (d *Definition) TaskTemplateFor(drv tasks.Driver) (TaskTemplate, bool) {
	for _, tt := range d.TaskTemplates {
		if tt.Driver == drv {
			return tt, true
		}
	}
	return TaskTemplate{}, false
}

func (d *Definition) HasTaskDriver(drv tasks.Driver) bool {
	_, ok := d.TaskTemplateFor(drv)
	return ok
}
