package catalogs

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Wildcard links an opportunity definition to every objective.
const Wildcard = "*"

var ErrDuplicateID = errors.New("duplicate id")

// Catalogs is the content loaded once at startup. Only Ruleset may be replaced
// afterwards (see Watcher); everything else is immutable for the process lifetime.
type Catalogs struct {
	Ruleset *Ruleset

	TaskTemplates TaskTemplateCatalog
	Categories    CategoryCatalog
	Objectives    ObjectiveCatalog
	Opportunities OpportunityCatalog
}

// Ruleset holds the world templates requirements are matched against.
type Ruleset struct {
	Things   ThingCatalog
	Terrains TerrainCatalog
	Groups   GroupCatalog
	Digest   string
}

type ThingCatalog struct {
	Defs   map[string]ThingDef
	Digest string
}

type ThingDef struct {
	ID                 string   `json:"id"`
	Label              string   `json:"label"`
	Kind               string   `json:"kind"` // "item","building","plant","animal","humanlike"
	Tags               []string `json:"tags,omitempty"`
	Ingestible         bool     `json:"ingestible,omitempty"`
	Haulable           bool     `json:"haulable,omitempty"`
	HasInteractionCell bool     `json:"has_interaction_cell,omitempty"`
	MarketValue        float64  `json:"market_value,omitempty"`
}

type TerrainCatalog struct {
	Defs   map[string]TerrainDef
	Digest string
}

type TerrainDef struct {
	ID        string   `json:"id"`
	Label     string   `json:"label"`
	Tags      []string `json:"tags,omitempty"`
	Fertility float64  `json:"fertility,omitempty"`
}

type GroupCatalog struct {
	Defs    map[string]GroupDef
	members map[string]map[string]struct{}
	Digest  string
}

type GroupDef struct {
	ID      string   `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

type TaskTemplateCatalog struct {
	ByID   map[string]TaskTemplateDef
	Digest string
}

type TaskTemplateDef struct {
	ID     string `json:"id"`
	Driver string `json:"driver"`
}

type CategoryCatalog struct {
	ByID   map[string]CategoryDef
	Digest string
}

type CategoryDef struct {
	ID              string  `json:"id"`
	SpeedMultiplier float64 `json:"speed_multiplier"`
	TargetFraction  float64 `json:"target_fraction"`
}

type ObjectiveCatalog struct {
	ByID   map[string]ObjectiveDef
	Digest string
}

type ObjectiveDef struct {
	ID          string  `json:"id"`
	Label       string  `json:"label"`
	Cost        float64 `json:"cost"`
	RequiresKit bool    `json:"requires_kit,omitempty"`
}

type OpportunityCatalog struct {
	Defs   []OpportunityDef // sorted by id
	ByID   map[string]OpportunityDef
	Digest string
}

type OpportunityDef struct {
	ID              string            `json:"id"`
	Label           string            `json:"label,omitempty"`
	HandledBy       []string          `json:"handled_by"`
	Requirement     RequirementDef    `json:"requirement"`
	TaskTemplates   []string          `json:"task_templates,omitempty"`
	Categories      map[string]string `json:"categories,omitempty"` // relation -> category id; "default" fallback
	Objectives      []ObjectiveLink   `json:"objectives,omitempty"`
	RequiresSupport []string          `json:"requires_support,omitempty"`
}

type RequirementDef struct {
	Kind   string `json:"kind"` // "nothing","thing","terrain","group","expr"
	Target string `json:"target,omitempty"`
	Expr   string `json:"expr,omitempty"`
	Rare   bool   `json:"rare,omitempty"`
}

type ObjectiveLink struct {
	Objective string `json:"objective"`
	Relation  string `json:"relation,omitempty"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	rs, err := LoadRuleset(configDir)
	if err != nil {
		return nil, err
	}
	c.Ruleset = rs

	if err := loadTaskTemplates(filepath.Join(configDir, "task_templates.json"), &c.TaskTemplates); err != nil {
		return nil, err
	}
	if err := loadCategories(filepath.Join(configDir, "categories.json"), &c.Categories); err != nil {
		return nil, err
	}
	if err := loadObjectives(filepath.Join(configDir, "objectives.json"), &c.Objectives); err != nil {
		return nil, err
	}
	if err := loadOpportunities(filepath.Join(configDir, "opportunities"), &c.Opportunities); err != nil {
		return nil, err
	}
	if err := c.crossCheck(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadRuleset reads only the template files. Used on startup and on hot reload.
func LoadRuleset(configDir string) (*Ruleset, error) {
	var rs Ruleset
	if err := loadThings(filepath.Join(configDir, "things.json"), &rs.Things); err != nil {
		return nil, err
	}
	if err := loadTerrains(filepath.Join(configDir, "terrains.json"), &rs.Terrains); err != nil {
		return nil, err
	}
	if err := loadGroups(filepath.Join(configDir, "groups.json"), &rs.Groups); err != nil {
		return nil, err
	}
	rs.Digest = sha256Hex([]byte(rs.Things.Digest + rs.Terrains.Digest + rs.Groups.Digest))
	return &rs, nil
}

func (r *Ruleset) Thing(id string) (ThingDef, bool) {
	if r == nil {
		return ThingDef{}, false
	}
	d, ok := r.Things.Defs[id]
	return d, ok
}

func (r *Ruleset) Terrain(id string) (TerrainDef, bool) {
	if r == nil {
		return TerrainDef{}, false
	}
	d, ok := r.Terrains.Defs[id]
	return d, ok
}

func (r *Ruleset) Group(id string) (GroupDef, bool) {
	if r == nil {
		return GroupDef{}, false
	}
	d, ok := r.Groups.Defs[id]
	return d, ok
}

// Clone returns a deep copy that can be edited without affecting r.
func (r *Ruleset) Clone() *Ruleset {
	if r == nil {
		return nil
	}
	c := &Ruleset{Digest: r.Digest}
	c.Things = ThingCatalog{Defs: maps.Clone(r.Things.Defs), Digest: r.Things.Digest}
	c.Terrains = TerrainCatalog{Defs: maps.Clone(r.Terrains.Defs), Digest: r.Terrains.Digest}
	c.Groups = GroupCatalog{Defs: maps.Clone(r.Groups.Defs), Digest: r.Groups.Digest, members: map[string]map[string]struct{}{}}
	for id, set := range r.Groups.members {
		c.Groups.members[id] = maps.Clone(set)
	}
	return c
}

// GroupHas reports whether thingID is a member of group. Members that are not
// defined as things in this ruleset never match.
func (r *Ruleset) GroupHas(group, thingID string) bool {
	if r == nil {
		return false
	}
	m, ok := r.Groups.members[group]
	if !ok {
		return false
	}
	if _, ok := m[thingID]; !ok {
		return false
	}
	_, ok = r.Things.Defs[thingID]
	return ok
}

func (c *Catalogs) crossCheck() error {
	for _, od := range c.Opportunities.Defs {
		for _, tt := range od.TaskTemplates {
			if _, ok := c.TaskTemplates.ByID[tt]; !ok {
				return fmt.Errorf("opportunity %s: unknown task template %q", od.ID, tt)
			}
		}
		for rel, cat := range od.Categories {
			if _, ok := c.Categories.ByID[cat]; !ok {
				return fmt.Errorf("opportunity %s: relation %s: unknown category %q", od.ID, rel, cat)
			}
		}
		for _, l := range od.Objectives {
			if l.Objective == Wildcard {
				continue
			}
			if _, ok := c.Objectives.ByID[l.Objective]; !ok {
				return fmt.Errorf("opportunity %s: unknown objective %q", od.ID, l.Objective)
			}
		}
	}
	return nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func readJSONList[T any](path string, out *[]T) (digest string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return "", fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return sha256Hex(raw), nil
}

func loadThings(path string, out *ThingCatalog) error {
	var defs []ThingDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		return err
	}
	out.Digest = digest
	out.Defs = make(map[string]ThingDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("things.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("things.json: %w %q", ErrDuplicateID, d.ID)
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadTerrains(path string, out *TerrainCatalog) error {
	var defs []TerrainDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		return err
	}
	out.Digest = digest
	out.Defs = make(map[string]TerrainDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("terrains.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("terrains.json: %w %q", ErrDuplicateID, d.ID)
		}
		out.Defs[d.ID] = d
	}
	return nil
}

func loadGroups(path string, out *GroupCatalog) error {
	out.Defs = map[string]GroupDef{}
	out.members = map[string]map[string]struct{}{}

	var defs []GroupDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		// Groups are optional.
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}
	out.Digest = digest
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("groups.json: empty id")
		}
		set := make(map[string]struct{}, len(d.Members))
		for _, m := range d.Members {
			set[m] = struct{}{}
		}
		out.Defs[d.ID] = d
		out.members[d.ID] = set
	}
	return nil
}

func loadTaskTemplates(path string, out *TaskTemplateCatalog) error {
	var defs []TaskTemplateDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		return err
	}
	out.Digest = digest
	out.ByID = make(map[string]TaskTemplateDef, len(defs))
	for _, d := range defs {
		if d.ID == "" || d.Driver == "" {
			return fmt.Errorf("task_templates.json: id and driver are required")
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadCategories(path string, out *CategoryCatalog) error {
	var defs []CategoryDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		return err
	}
	out.Digest = digest
	out.ByID = make(map[string]CategoryDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("categories.json: empty id")
		}
		if d.TargetFraction < 0 || d.SpeedMultiplier < 0 {
			return fmt.Errorf("categories.json: %s: negative multiplier", d.ID)
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadObjectives(path string, out *ObjectiveCatalog) error {
	var defs []ObjectiveDef
	digest, err := readJSONList(path, &defs)
	if err != nil {
		return err
	}
	out.Digest = digest
	out.ByID = make(map[string]ObjectiveDef, len(defs))
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("objectives.json: empty id")
		}
		if d.Cost <= 0 {
			return fmt.Errorf("objectives.json: %s: cost must be positive", d.ID)
		}
		out.ByID[d.ID] = d
	}
	return nil
}

func loadOpportunities(dir string, out *OpportunityCatalog) error {
	out.ByID = map[string]OpportunityDef{}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			out.Digest = sha256Hex(nil)
			return nil
		}
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if IsOpportunityFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	var concat bytes.Buffer
	for _, p := range files {
		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		concat.Write(b)
		concat.WriteByte('\n')

		defs, err := DecodeOpportunities(filepath.Base(p), b)
		if err != nil {
			return err
		}
		for _, d := range defs {
			if _, dup := out.ByID[d.ID]; dup {
				return fmt.Errorf("opportunity %s: %w %q", filepath.Base(p), ErrDuplicateID, d.ID)
			}
			out.ByID[d.ID] = d
		}
	}

	out.Defs = make([]OpportunityDef, 0, len(out.ByID))
	for _, d := range out.ByID {
		out.Defs = append(out.Defs, d)
	}
	sort.Slice(out.Defs, func(i, j int) bool { return out.Defs[i].ID < out.Defs[j].ID })
	out.Digest = sha256Hex(concat.Bytes())
	return nil
}

// IsOpportunityFile reports whether name is an opportunity pack file.
func IsOpportunityFile(name string) bool {
	return strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".toml")
}
