package types

// RVU flag codes raised during value-unit calculation.
const (
	FlagHighRVUValue  = "HIGH_RVU_VALUE"
	FlagHCPCSNotFound = "HCPCS_NOT_FOUND"
	FlagManualReview  = "MANUAL_REVIEW"
)

// RVUCalculation is the per-procedure value-unit breakdown.
type RVUCalculation struct {
	ProcedureCode string  `json:"procedure_code"`
	WorkRVU       float64 `json:"work_rvu"`
	PERVU         float64 `json:"pe_rvu"`
	MPRVU         float64 `json:"mp_rvu"`
	WorkGPCI      float64 `json:"work_gpci"`
	PEGPCI        float64 `json:"pe_gpci"`
	MPGPCI        float64 `json:"mp_gpci"`

	// Total is the geographically adjusted sum after modifier adjustments.
	Total   float64 `json:"total"`
	Payment float64 `json:"payment"`

	ModifierAdjustments []string `json:"modifier_adjustments,omitempty"`
	Flags               []string `json:"flags,omitempty"`
}

// RVUResult is the structured output of value-unit calculation.
type RVUResult struct {
	State            string           `json:"state"`
	ContractorID     string           `json:"contractor_id"`
	ConversionFactor float64          `json:"conversion_factor"`
	Calculations     []RVUCalculation `json:"calculations"`
	TotalRVU         float64          `json:"total_rvu"`
	TotalPayment     float64          `json:"total_payment"`
	Flags            []string         `json:"flags,omitempty"`
}

// Clone returns a deep copy.
func (r *RVUResult) Clone() *RVUResult {
	if r == nil {
		return nil
	}
	out := *r
	out.Calculations = make([]RVUCalculation, len(r.Calculations))
	for i, c := range r.Calculations {
		out.Calculations[i] = c
		out.Calculations[i].ModifierAdjustments = append([]string(nil), c.ModifierAdjustments...)
		out.Calculations[i].Flags = append([]string(nil), c.Flags...)
	}
	out.Flags = append([]string(nil), r.Flags...)
	return &out
}

// CoverageDecision is one diagnosis-procedure coverage lookup outcome.
type CoverageDecision struct {
	ProcedureCode string `json:"procedure_code"`
	DiagnosisCode string `json:"diagnosis_code"`
	Covered       bool   `json:"covered"`
	PolicyID      string `json:"policy_id,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// CoverageResult is the structured output of the coverage-policy stage.
type CoverageResult struct {
	Decisions []CoverageDecision `json:"decisions"`
	Summary   string             `json:"summary,omitempty"`
}

// Clone returns a deep copy.
func (c *CoverageResult) Clone() *CoverageResult {
	if c == nil {
		return nil
	}
	out := *c
	out.Decisions = append([]CoverageDecision(nil), c.Decisions...)
	return &out
}
