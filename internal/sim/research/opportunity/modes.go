package opportunity

import (
	"fmt"
	"strings"
)

// HandlingMode is a bit set of the triggering actions an opportunity supports.
type HandlingMode uint32

const (
	ModeJob HandlingMode = 1 << iota
	ModeJobAnalysis
	ModeJobTheory
	ModeSocial
	ModeSpecialOnIngest
	ModeSpecialOnIngestObservable
	ModeSpecialMedicine
	ModeSpecialPrototype
)

var modeNames = []struct {
	mode HandlingMode
	name string
}{
	{ModeJob, "JOB"},
	{ModeJobAnalysis, "JOB_ANALYSIS"},
	{ModeJobTheory, "JOB_THEORY"},
	{ModeSocial, "SOCIAL"},
	{ModeSpecialOnIngest, "SPECIAL_ON_INGEST"},
	{ModeSpecialOnIngestObservable, "SPECIAL_ON_INGEST_OBSERVABLE"},
	{ModeSpecialMedicine, "SPECIAL_MEDICINE"},
	{ModeSpecialPrototype, "SPECIAL_PROTOTYPE"},
}

// Has reports whether every bit of m is set. The zero mode is contained in
// every set.
func (h HandlingMode) Has(m HandlingMode) bool { return h&m == m }

func (h HandlingMode) String() string {
	if h == 0 {
		return "NONE"
	}
	var parts []string
	for _, mn := range modeNames {
		if h&mn.mode != 0 {
			parts = append(parts, mn.name)
		}
	}
	return strings.Join(parts, "|")
}

func ParseHandlingModes(names []string) (HandlingMode, error) {
	var h HandlingMode
	for _, n := range names {
		m, ok := parseMode(n)
		if !ok {
			return 0, fmt.Errorf("unknown handling mode %q", n)
		}
		h |= m
	}
	return h, nil
}

func parseMode(name string) (HandlingMode, bool) {
	for _, mn := range modeNames {
		if mn.name == name {
			return mn.mode, true
		}
	}
	return 0, false
}

// Relation describes where an opportunity sits relative to the objective.
type Relation string

const (
	RelationDirect     Relation = "direct"
	RelationAncestor   Relation = "ancestor"
	RelationDescendant Relation = "descendant"
	RelationGeneric    Relation = "generic"
)

// Availability is the instance state.
type Availability uint8

const (
	Unavailable Availability = iota
	Available
	Finished
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "AVAILABLE"
	case Finished:
		return "FINISHED"
	}
	return "UNAVAILABLE"
}
