package refdata

import (
	"time"

	"medcoder/pkg/types"
)

// DefaultConversionFactor converts total relative value units to a dollar
// amount when the locality record does not carry its own factor.
const DefaultConversionFactor = 32.35

// ProcedureRecord is the repository's procedure entry.
type ProcedureRecord struct {
	Code               string             `json:"code"`
	Description        string             `json:"description"`
	GlobalPeriod       string             `json:"global_period,omitempty"`
	AllowedModifiers   []string           `json:"allowed_modifiers,omitempty"`
	DiagnosisFamilies  []string           `json:"diagnosis_families,omitempty"`
	UnitLimit          *int               `json:"unit_limit,omitempty"`
	UnitLimitIndicator *types.MAI         `json:"unit_limit_indicator,omitempty"`
	IsAddOn            bool               `json:"is_add_on,omitempty"`
	Unlisted           bool               `json:"unlisted,omitempty"`
	HierarchyPath      []string           `json:"hierarchy_path,omitempty"`
	Insight            *types.CodeInsight `json:"insight,omitempty"`
}

// ToProcedureCode copies the record's policy fields onto a state procedure,
// preserving units and evidence the caller already holds.
func (r *ProcedureRecord) ToProcedureCode(units int) types.ProcedureCode {
	return types.ProcedureCode{
		Code:               r.Code,
		Description:        r.Description,
		Units:              units,
		IsAddOn:            r.IsAddOn,
		UnitLimit:          r.UnitLimit,
		UnitLimitIndicator: r.UnitLimitIndicator,
		GlobalPeriod:       r.GlobalPeriod,
		AllowedModifiers:   append([]string(nil), r.AllowedModifiers...),
		DiagnosisFamilies:  append([]string(nil), r.DiagnosisFamilies...),
		HierarchyPath:      append([]string(nil), r.HierarchyPath...),
		Insight:            r.Insight,
	}
}

// DiagnosisRecord is the repository's diagnosis entry.
type DiagnosisRecord struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`
	Billable    bool   `json:"billable,omitempty"`
}

// PTPEdit is one row of the procedure-pair edit table: column-two codes are
// not separately payable with the column-one code unless a modifier with
// the right indicator intervenes.
type PTPEdit struct {
	Column1           string `json:"column1"`
	Column2           string `json:"column2"`
	ModifierIndicator int    `json:"modifier_indicator"`
	EffectiveDate     string `json:"effective_date"`
	DeletionDate      string `json:"deletion_date,omitempty"`
	Rationale         string `json:"rationale,omitempty"`
}

const editDateLayout = "2006-01-02"

// ActiveOn reports whether the edit applies on the date of service. An edit
// is active from its effective date through its deletion date inclusive; an
// unparseable effective date deactivates the edit, a missing deletion date
// leaves it open-ended.
func (e PTPEdit) ActiveOn(dos time.Time) bool {
	effective, err := time.Parse(editDateLayout, e.EffectiveDate)
	if err != nil {
		return false
	}
	day := dos.Truncate(24 * time.Hour)
	if day.Before(effective) {
		return false
	}
	if e.DeletionDate == "" {
		return true
	}
	deletion, err := time.Parse(editDateLayout, e.DeletionDate)
	if err != nil {
		return true
	}
	return !day.After(deletion)
}

// GPCIRecord is one locality's geographic practice cost indices.
type GPCIRecord struct {
	Locality        string  `json:"locality"`
	State           string  `json:"state,omitempty"`
	Work            float64 `json:"work"`
	PracticeExpense float64 `json:"practice_expense"`
	Malpractice     float64 `json:"malpractice"`
}

// CrosswalkEntry maps a ZIP code to its locality and contractor.
type CrosswalkEntry struct {
	ZIP              string  `json:"zip"`
	Locality         string  `json:"locality"`
	ContractorID     string  `json:"contractor_id"`
	State            string  `json:"state,omitempty"`
	ConversionFactor float64 `json:"conversion_factor,omitempty"`
}

// RVURecord carries a procedure's relative value components.
type RVURecord struct {
	Code            string  `json:"code"`
	Work            float64 `json:"work"`
	PracticeExpense float64 `json:"practice_expense"`
	Malpractice     float64 `json:"malpractice"`
}

// Total sums the components without geographic adjustment.
func (r RVURecord) Total() float64 {
	return r.Work + r.PracticeExpense + r.Malpractice
}

// VettedModifier is a modifier the practice has pre-approved for automated
// assignment.
type VettedModifier struct {
	Code        string              `json:"code"`
	Description string              `json:"description,omitempty"`
	Class       types.ModifierClass `json:"class,omitempty"`
}

// CoveragePolicy is the repository's coverage entry for a procedure.
type CoveragePolicy struct {
	ProcedureCode         string   `json:"procedure_code"`
	PolicyID              string   `json:"policy_id"`
	Title                 string   `json:"title,omitempty"`
	Covered               bool     `json:"covered"`
	Criteria              []string `json:"criteria,omitempty"`
	DocumentationRequired []string `json:"documentation_required,omitempty"`
	Source                string   `json:"source,omitempty"`
}
