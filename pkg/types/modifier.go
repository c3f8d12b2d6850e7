package types

import "fmt"

// Modifier is a modifier decision for a procedure line. Code is nullable:
// a record with a nil code asserts "no modifier applies here" and must
// carry a rationale saying why.
type Modifier struct {
	Code                  *string       `json:"code"`
	Description           string        `json:"description,omitempty"`
	Rationale             string        `json:"rationale"`
	Class                 ModifierClass `json:"class,omitempty"`
	DocumentationRequired string        `json:"documentation_required,omitempty"`
	FeeAdjustment         string        `json:"fee_adjustment,omitempty"`
	EditType              EditType      `json:"edit_type,omitempty"`
	AppliesTo             string        `json:"applies_to,omitempty"`
	LinkedProcedure       string        `json:"linked_procedure"`
	Evidence              []Evidence    `json:"evidence,omitempty"`
}

// HasCode reports whether the modifier carries a concrete code.
func (m *Modifier) HasCode() bool {
	return m.Code != nil && *m.Code != ""
}

// CodeValue returns the modifier code or "" when null.
func (m *Modifier) CodeValue() string {
	if m.Code == nil {
		return ""
	}
	return *m.Code
}

// ComplianceFlag explains a unit adjustment applied to a line item.
type ComplianceFlag struct {
	OriginalUnits  int      `json:"original_units"`
	TruncatedUnits int      `json:"truncated_units"`
	Severity       Severity `json:"severity"`
	Reason         string   `json:"reason"`
}

// LineItem is one billable claim line for a procedure.
type LineItem struct {
	LineID          string          `json:"line_id"`
	ProcedureCode   string          `json:"procedure_code"`
	Units           int             `json:"units"`
	Phase1Modifiers []Modifier      `json:"phase1_modifiers,omitempty"`
	Phase2Modifiers []Modifier      `json:"phase2_modifiers,omitempty"`
	ComplianceFlag  *ComplianceFlag `json:"compliance_flag,omitempty"`
}

// LineItemID builds the stable line id for the n-th line of a procedure.
func LineItemID(procedureCode string, n int) string {
	return fmt.Sprintf("%s-line-%d", procedureCode, n)
}

// AllModifiers returns the combined phase-1 and phase-2 modifiers.
func (li *LineItem) AllModifiers() []Modifier {
	out := make([]Modifier, 0, len(li.Phase1Modifiers)+len(li.Phase2Modifiers))
	out = append(out, li.Phase1Modifiers...)
	out = append(out, li.Phase2Modifiers...)
	return out
}

// HasModifier reports whether any modifier on the line carries the code.
func (li *LineItem) HasModifier(code string) bool {
	for _, m := range li.AllModifiers() {
		if m.CodeValue() == code {
			return true
		}
	}
	return false
}
