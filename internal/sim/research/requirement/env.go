package requirement

// Env is the value an expression requirement is evaluated against. Field
// names are the identifiers available to content authors.
type Env struct {
	ID    string
	Label string
	Space string
	Kind  string
	Tags  []string

	Ingestible         bool
	Haulable           bool
	HasInteractionCell bool

	MarketValue float64
	Fertility   float64
}

func envFor(rs Ruleset, ref TemplateRef) (Env, bool) {
	switch ref.Space {
	case SpaceThing:
		d, ok := rs.Thing(ref.ID)
		if !ok {
			return Env{}, false
		}
		return Env{
			ID:                 d.ID,
			Label:              d.Label,
			Space:              SpaceThing.String(),
			Kind:               d.Kind,
			Tags:               d.Tags,
			Ingestible:         d.Ingestible,
			Haulable:           d.Haulable,
			HasInteractionCell: d.HasInteractionCell,
			MarketValue:        d.MarketValue,
		}, true
	case SpaceTerrain:
		d, ok := rs.Terrain(ref.ID)
		if !ok {
			return Env{}, false
		}
		return Env{
			ID:        d.ID,
			Label:     d.Label,
			Space:     SpaceTerrain.String(),
			Kind:      "terrain",
			Tags:      d.Tags,
			Fertility: d.Fertility,
		}, true
	}
	return Env{}, false
}
