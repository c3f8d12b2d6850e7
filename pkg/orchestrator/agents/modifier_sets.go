package agents

import (
	"context"
	"sort"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

// ModifierPhase selects which partition of the vetted table a line item
// may draw from.
type ModifierPhase int

const (
	PhaseCompliance ModifierPhase = 1
	PhaseAncillary  ModifierPhase = 2
)

// phase1Modifiers is the compliance-related family: bypass modifiers for
// procedure-pair and unit-limit edits plus the global-period family.
var phase1Modifiers = map[string]bool{
	"59": true, "XE": true, "XS": true, "XP": true, "XU": true,
	"25": true, "57": true, "24": true, "58": true, "78": true, "79": true,
}

// Bypass sets per procedure-pair modifier indicator. Indicator 0 permits
// no bypass at all.
var (
	ptpBypassIndicator1 = map[string]bool{
		"59": true, "XE": true, "XP": true, "XS": true, "XU": true,
		"25": true, "57": true,
	}
	ptpBypassIndicator2 = map[string]bool{
		"59": true, "XE": true, "XP": true, "XS": true, "XU": true,
	}
)

// conflictingModifierPairs are combinations that must not appear together
// on one line item.
var conflictingModifierPairs = [][2]string{
	{"59", "XE"},
	{"59", "XP"},
	{"59", "XS"},
	{"59", "XU"},
	{"50", "RT"},
	{"50", "LT"},
	{"26", "TC"},
}

// PTPBypassAllowed reports whether the modifier code bypasses a pair edit
// with the given indicator.
func PTPBypassAllowed(indicator string, code string) bool {
	switch indicator {
	case "1":
		return ptpBypassIndicator1[code]
	case "2":
		return ptpBypassIndicator2[code]
	default:
		return false
	}
}

// vettedTable is the pre-approved modifier catalog loaded from the
// reference store, indexed by code.
type vettedTable map[string]refdata.VettedModifier

// loadVettedTable reads the pre-vetted modifier list. A missing table
// yields an empty one: nothing may be proposed.
func loadVettedTable(ctx context.Context, repo *refdata.Repository) (vettedTable, error) {
	mods, err := repo.GetVettedModifiers(ctx)
	if err != nil {
		if refdata.IsNotFound(err) {
			return vettedTable{}, nil
		}
		return nil, err
	}
	table := make(vettedTable, len(mods))
	for _, m := range mods {
		table[m.Code] = m
	}
	return table, nil
}

// allowedModifiers intersects the procedure's applicable-modifier list,
// the vetted table, and the phase filter. An empty applicable list means
// the procedure declares no restriction of its own.
func allowedModifiers(p *types.ProcedureCode, vetted vettedTable, phase ModifierPhase) []string {
	applicable := make(map[string]bool, len(p.AllowedModifiers))
	for _, code := range p.AllowedModifiers {
		applicable[code] = true
	}

	var out []string
	for code := range vetted {
		if len(applicable) > 0 && !applicable[code] {
			continue
		}
		inPhase1 := phase1Modifiers[code]
		if (phase == PhaseCompliance) != inPhase1 {
			continue
		}
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// conflictsWith returns the code's configured conflict partner present in
// codes, or "".
func conflictsWith(code string, codes []string) string {
	for _, pair := range conflictingModifierPairs {
		var other string
		switch code {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		for _, c := range codes {
			if c == other {
				return other
			}
		}
	}
	return ""
}
