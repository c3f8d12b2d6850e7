package types

// CodeInsight is the policy metadata block attached to a procedure record
// in the reference store. The pipeline consumes it structurally; its
// clinical content is opaque here.
type CodeInsight struct {
	Summary      string            `json:"summary,omitempty"`
	BillingNotes string            `json:"billing_notes,omitempty"`
	PolicyCites  []string          `json:"policy_cites,omitempty"`
	Attributes   map[string]string `json:"attributes,omitempty"`
}

// ProcedureCode is the enhanced procedure record carried through state.
type ProcedureCode struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
	Units       int    `json:"units"`
	IsAddOn     bool   `json:"is_add_on,omitempty"`

	// Unit-limit policy. UnitLimit nil means no limit on record;
	// UnitLimitIndicator is only meaningful when UnitLimit is set.
	UnitLimit          *int `json:"unit_limit,omitempty"`
	UnitLimitIndicator *MAI `json:"unit_limit_indicator,omitempty"`

	GlobalPeriod string `json:"global_period,omitempty"`

	AllowedModifiers  []string `json:"allowed_modifiers,omitempty"`
	DiagnosisFamilies []string `json:"diagnosis_families,omitempty"`

	// DiagnosisHints are the prefix hints returned by procedure selection;
	// LinkedDiagnoses are the concrete records attached after diagnosis
	// selection.
	DiagnosisHints  []string        `json:"diagnosis_hints,omitempty"`
	LinkedDiagnoses []DiagnosisCode `json:"linked_diagnoses,omitempty"`

	HierarchyPath []string     `json:"hierarchy_path,omitempty"`
	Insight       *CodeInsight `json:"insight,omitempty"`

	// RVUTotal is populated by value-unit calculation; zero until then.
	RVUTotal float64 `json:"rvu_total,omitempty"`
}

// EffectiveUnitLimit reports the unit limit and whether one is set.
func (p *ProcedureCode) EffectiveUnitLimit() (int, bool) {
	if p.UnitLimit == nil {
		return 0, false
	}
	return *p.UnitLimit, true
}

// DiagnosisCode links a diagnosis to the procedure it establishes medical
// necessity for. LinkedProcedure is a code reference, not a pointer; the
// state owns all records in flat lists keyed by code.
type DiagnosisCode struct {
	Code            string     `json:"code"`
	Description     string     `json:"description,omitempty"`
	Evidence        []Evidence `json:"evidence,omitempty"`
	LinkedProcedure string     `json:"linked_procedure,omitempty"`
	Confidence      float64    `json:"confidence,omitempty"`
	Rationale       string     `json:"rationale,omitempty"`
}
