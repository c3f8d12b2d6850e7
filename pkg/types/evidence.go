package types

// EvidenceContentKind tags the well-known typed payloads carried on
// evidence entries. Anything else travels in Raw.
type EvidenceContentKind string

const (
	ContentComplianceResult    EvidenceContentKind = "compliance_result"
	ContentRVUResult           EvidenceContentKind = "rvu_result"
	ContentFinalModifiers      EvidenceContentKind = "final_modifiers"
	ContentPTPConflictResolved EvidenceContentKind = "ptp_conflict_resolved"
	ContentRaw                 EvidenceContentKind = "raw"
)

// PTPConflictResolved records a procedure-pair conflict bypassed by a
// permitted modifier.
type PTPConflictResolved struct {
	Column1Code string `json:"column1_code"`
	Column2Code string `json:"column2_code"`
	Modifier    string `json:"modifier"`
	LineID      string `json:"line_id"`
}

// FinalModifiers is the flat modifier list emitted at the end of modifier
// assignment for state-manager consumption.
type FinalModifiers struct {
	Modifiers []Modifier `json:"modifiers"`
	LineItems []LineItem `json:"line_items"`
}

// EvidenceContent is the tagged union of structured payloads an evidence
// entry can carry.
type EvidenceContent struct {
	Kind                EvidenceContentKind  `json:"kind"`
	ComplianceResult    *ComplianceResult    `json:"compliance_result,omitempty"`
	RVUResult           *RVUResult           `json:"rvu_result,omitempty"`
	FinalModifiers      *FinalModifiers      `json:"final_modifiers,omitempty"`
	PTPConflictResolved *PTPConflictResolved `json:"ptp_conflict_resolved,omitempty"`
	Raw                 map[string]any       `json:"raw,omitempty"`
}

// Evidence supports an agent assertion with verbatim note quotes.
type Evidence struct {
	Quotes         []string         `json:"quotes"`
	Rationale      string           `json:"rationale"`
	SourceAgent    string           `json:"source_agent"`
	SourceNoteKind NoteKind         `json:"source_note_kind,omitempty"`
	Confidence     float64          `json:"confidence"`
	Content        *EvidenceContent `json:"content,omitempty"`
}

// ClampConfidence forces the confidence into [0, 1].
func (e *Evidence) ClampConfidence() {
	if e.Confidence < 0 {
		e.Confidence = 0
	}
	if e.Confidence > 1 {
		e.Confidence = 1
	}
}

// clone helpers used by WorkflowState.Clone

func cloneEvidence(in []Evidence) []Evidence {
	if in == nil {
		return nil
	}
	out := make([]Evidence, len(in))
	for i, e := range in {
		out[i] = e
		out[i].Quotes = append([]string(nil), e.Quotes...)
		if e.Content != nil {
			c := *e.Content
			if e.Content.ComplianceResult != nil {
				cr := e.Content.ComplianceResult.Clone()
				c.ComplianceResult = cr
			}
			if e.Content.RVUResult != nil {
				rv := e.Content.RVUResult.Clone()
				c.RVUResult = rv
			}
			if e.Content.FinalModifiers != nil {
				fm := FinalModifiers{
					Modifiers: cloneModifiers(e.Content.FinalModifiers.Modifiers),
					LineItems: cloneLineItems(e.Content.FinalModifiers.LineItems),
				}
				c.FinalModifiers = &fm
			}
			if e.Content.PTPConflictResolved != nil {
				p := *e.Content.PTPConflictResolved
				c.PTPConflictResolved = &p
			}
			if e.Content.Raw != nil {
				raw := make(map[string]any, len(e.Content.Raw))
				for k, v := range e.Content.Raw {
					raw[k] = v
				}
				c.Raw = raw
			}
			out[i].Content = &c
		}
	}
	return out
}

func cloneModifiers(in []Modifier) []Modifier {
	if in == nil {
		return nil
	}
	out := make([]Modifier, len(in))
	for i, m := range in {
		out[i] = m
		if m.Code != nil {
			code := *m.Code
			out[i].Code = &code
		}
		out[i].Evidence = cloneEvidence(m.Evidence)
	}
	return out
}

func cloneLineItems(in []LineItem) []LineItem {
	if in == nil {
		return nil
	}
	out := make([]LineItem, len(in))
	for i, li := range in {
		out[i] = li
		out[i].Phase1Modifiers = cloneModifiers(li.Phase1Modifiers)
		out[i].Phase2Modifiers = cloneModifiers(li.Phase2Modifiers)
		if li.ComplianceFlag != nil {
			f := *li.ComplianceFlag
			out[i].ComplianceFlag = &f
		}
	}
	return out
}
