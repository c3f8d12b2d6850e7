package types

import "time"

// WorkflowState is the single source of truth for one case run. It is
// owned by the orchestrator's state manager; stages receive deep-copied
// snapshots and contribute changes only through the merge protocol.
type WorkflowState struct {
	CaseMeta     CaseMetadata `json:"case_meta"`
	Demographics Demographics `json:"demographics"`
	Notes        CaseNotes    `json:"notes"`

	CandidateProcedures []ProcedureCode `json:"candidate_procedures,omitempty"`
	Procedures          []ProcedureCode `json:"procedures,omitempty"`
	Diagnoses           []DiagnosisCode `json:"diagnoses,omitempty"`

	ModifierSuggestions []Modifier `json:"modifier_suggestions,omitempty"`

	AgentResults map[string]*AgentResult `json:"agent_results,omitempty"`

	Compliance *ComplianceResult `json:"compliance,omitempty"`
	Coverage   *CoverageResult   `json:"coverage,omitempty"`
	RVU        *RVUResult        `json:"rvu,omitempty"`

	FinalModifiers []Modifier `json:"final_modifiers,omitempty"`
	LineItems      []LineItem `json:"line_items,omitempty"`

	ClaimSequence int `json:"claim_sequence"`

	CurrentStep    string   `json:"current_step,omitempty"`
	CompletedSteps []string `json:"completed_steps,omitempty"`

	Errors   []ProcessingError `json:"errors,omitempty"`
	History  []HistoryEntry    `json:"history,omitempty"`
	Evidence []Evidence        `json:"evidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// NewWorkflowState constructs the initial state for a case at ingestion.
func NewWorkflowState(meta CaseMetadata, demo Demographics, notes CaseNotes) *WorkflowState {
	now := time.Now().UTC()
	if meta.Status == "" {
		meta.Status = CasePending
	}
	return &WorkflowState{
		CaseMeta:      meta,
		Demographics:  demo,
		Notes:         notes,
		AgentResults:  make(map[string]*AgentResult),
		ClaimSequence: meta.ClaimKind.Sequence(),
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
}

// FindProcedure returns the final procedure with the given code, or nil.
func (s *WorkflowState) FindProcedure(code string) *ProcedureCode {
	for i := range s.Procedures {
		if s.Procedures[i].Code == code {
			return &s.Procedures[i]
		}
	}
	return nil
}

// HasCompletedStep reports whether the step already completed.
func (s *WorkflowState) HasCompletedStep(step string) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

// HasCriticalError reports whether any recorded error is critical.
func (s *WorkflowState) HasCriticalError() bool {
	for _, e := range s.Errors {
		if e.Severity == ErrorCritical {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the state. Snapshots handed to stages are
// produced with this; nothing a stage does to its snapshot can reach the
// owned state except through a merge.
func (s *WorkflowState) Clone() *WorkflowState {
	if s == nil {
		return nil
	}
	out := *s

	out.Notes.Additional = append([]AdditionalNote(nil), s.Notes.Additional...)

	out.CandidateProcedures = cloneProcedures(s.CandidateProcedures)
	out.Procedures = cloneProcedures(s.Procedures)
	out.Diagnoses = cloneDiagnoses(s.Diagnoses)
	out.ModifierSuggestions = cloneModifiers(s.ModifierSuggestions)

	if s.AgentResults != nil {
		out.AgentResults = make(map[string]*AgentResult, len(s.AgentResults))
		for k, v := range s.AgentResults {
			out.AgentResults[k] = cloneAgentResult(v)
		}
	}

	out.Compliance = s.Compliance.Clone()
	out.Coverage = s.Coverage.Clone()
	out.RVU = s.RVU.Clone()

	out.FinalModifiers = cloneModifiers(s.FinalModifiers)
	out.LineItems = cloneLineItems(s.LineItems)

	out.CompletedSteps = append([]string(nil), s.CompletedSteps...)
	out.Errors = cloneErrors(s.Errors)
	out.History = append([]HistoryEntry(nil), s.History...)
	out.Evidence = cloneEvidence(s.Evidence)

	return &out
}

func cloneProcedures(in []ProcedureCode) []ProcedureCode {
	if in == nil {
		return nil
	}
	out := make([]ProcedureCode, len(in))
	for i, p := range in {
		out[i] = p
		if p.UnitLimit != nil {
			v := *p.UnitLimit
			out[i].UnitLimit = &v
		}
		if p.UnitLimitIndicator != nil {
			v := *p.UnitLimitIndicator
			out[i].UnitLimitIndicator = &v
		}
		out[i].AllowedModifiers = append([]string(nil), p.AllowedModifiers...)
		out[i].DiagnosisFamilies = append([]string(nil), p.DiagnosisFamilies...)
		out[i].DiagnosisHints = append([]string(nil), p.DiagnosisHints...)
		out[i].LinkedDiagnoses = cloneDiagnoses(p.LinkedDiagnoses)
		out[i].HierarchyPath = append([]string(nil), p.HierarchyPath...)
		if p.Insight != nil {
			ins := *p.Insight
			ins.PolicyCites = append([]string(nil), p.Insight.PolicyCites...)
			if p.Insight.Attributes != nil {
				attrs := make(map[string]string, len(p.Insight.Attributes))
				for k, v := range p.Insight.Attributes {
					attrs[k] = v
				}
				ins.Attributes = attrs
			}
			out[i].Insight = &ins
		}
	}
	return out
}

func cloneDiagnoses(in []DiagnosisCode) []DiagnosisCode {
	if in == nil {
		return nil
	}
	out := make([]DiagnosisCode, len(in))
	for i, d := range in {
		out[i] = d
		out[i].Evidence = cloneEvidence(d.Evidence)
	}
	return out
}

func cloneErrors(in []ProcessingError) []ProcessingError {
	if in == nil {
		return nil
	}
	out := make([]ProcessingError, len(in))
	for i, e := range in {
		out[i] = e
		if e.Context != nil {
			ctx := make(map[string]any, len(e.Context))
			for k, v := range e.Context {
				ctx[k] = v
			}
			out[i].Context = ctx
		}
	}
	return out
}

func cloneAgentResult(in *AgentResult) *AgentResult {
	if in == nil {
		return nil
	}
	out := *in
	out.Evidence = cloneEvidence(in.Evidence)
	out.Errors = cloneErrors(in.Errors)
	if in.Data != nil {
		d := AgentData{
			CandidateProcedures: cloneProcedures(in.Data.CandidateProcedures),
			Procedures:          cloneProcedures(in.Data.Procedures),
			Diagnoses:           cloneDiagnoses(in.Data.Diagnoses),
			Compliance:          in.Data.Compliance.Clone(),
			Coverage:            in.Data.Coverage.Clone(),
			RVU:                 in.Data.RVU.Clone(),
			FinalModifiers:      cloneModifiers(in.Data.FinalModifiers),
			LineItems:           cloneLineItems(in.Data.LineItems),
		}
		if in.Data.Raw != nil {
			d.Raw = make(map[string]any, len(in.Data.Raw))
			for k, v := range in.Data.Raw {
				d.Raw[k] = v
			}
		}
		out.Data = &d
	}
	return &out
}
