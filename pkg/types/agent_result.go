package types

import "time"

// AgentMetadata stamps provenance onto a result.
type AgentMetadata struct {
	AgentName       string `json:"agent_name"`
	Version         string `json:"version"`
	ExecutionTimeMs int64  `json:"execution_time_ms"`
}

// AgentData carries the well-known structured payloads an agent can emit.
// The merge protocol overwrites the matching state field for every non-nil
// entry; Raw is a catch-all for anything else.
type AgentData struct {
	CandidateProcedures []ProcedureCode   `json:"candidate_procedures,omitempty"`
	Procedures          []ProcedureCode   `json:"procedures,omitempty"`
	Diagnoses           []DiagnosisCode   `json:"diagnoses,omitempty"`
	Compliance          *ComplianceResult `json:"compliance,omitempty"`
	Coverage            *CoverageResult   `json:"coverage,omitempty"`
	RVU                 *RVUResult        `json:"rvu,omitempty"`
	FinalModifiers      []Modifier        `json:"final_modifiers,omitempty"`
	LineItems           []LineItem        `json:"line_items,omitempty"`
	Raw                 map[string]any    `json:"raw,omitempty"`
}

// IsEmpty reports whether the data carries no payload at all.
func (d *AgentData) IsEmpty() bool {
	if d == nil {
		return true
	}
	return d.CandidateProcedures == nil && d.Procedures == nil &&
		d.Diagnoses == nil && d.Compliance == nil && d.Coverage == nil &&
		d.RVU == nil && d.FinalModifiers == nil && d.LineItems == nil &&
		len(d.Raw) == 0
}

// AgentResult is the standardized stage output.
type AgentResult struct {
	Success  bool              `json:"success"`
	Evidence []Evidence        `json:"evidence,omitempty"`
	Data     *AgentData        `json:"data,omitempty"`
	Errors   []ProcessingError `json:"errors,omitempty"`
	Metadata AgentMetadata     `json:"metadata"`
}

// HistoryEntry is one append-only record of a stage outcome.
type HistoryEntry struct {
	AgentName string    `json:"agent_name"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Details   string    `json:"details,omitempty"`
}

// History result values.
const (
	HistorySuccess = "success"
	HistoryFailure = "failure"
	HistoryWarning = "warning"
	HistorySkipped = "skipped"
)
