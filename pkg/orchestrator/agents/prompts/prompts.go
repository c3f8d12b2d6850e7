// Package prompts builds the model-facing prompt text for the coding
// stages. The English here is not normative; the schemas appended by the
// structured-output layer define the contract.
package prompts

import (
	"fmt"
	"strings"

	"medcoder/pkg/types"
)

// ProcedureExtractionSystem primes the model for low-temperature surgical
// procedure extraction.
func ProcedureExtractionSystem() string {
	return "You are a surgical coding analyst. Extract every distinct billable procedure " +
		"from the operative documentation. Report only what the documentation states; use " +
		"\"unknown\" when a detail is not documented. Quote evidence verbatim."
}

// ProcedureExtraction asks for the structured procedure inventory of the
// case notes.
func ProcedureExtraction(notes types.CaseNotes) string {
	var sb strings.Builder
	sb.WriteString("PROCEDURE EXTRACTION\n\n")
	sb.WriteString("Identify each distinct procedure performed. Assign sequential ids P1, P2, ...\n")
	sb.WriteString("For each, capture approach, anatomy, laterality, recurrence, incarceration,\n")
	sb.WriteString("obstruction, gangrene, mesh placement, defect size, concurrent procedures,\n")
	sb.WriteString("assistant role, verbatim evidence snippets, and billable units.\n\n")
	sb.WriteString("CLINICAL NOTES:\n")
	sb.WriteString(notes.Primary)
	for _, note := range notes.Additional {
		fmt.Fprintf(&sb, "\n\n[%s note]\n%s", note.Kind, note.Text)
	}
	return sb.String()
}

// ProcedureSelectionSystem primes the model for final code selection.
func ProcedureSelectionSystem() string {
	return "You are a senior procedure coder. Select the single best code for each " +
		"extracted procedure from the supplied candidates only. Never invent codes."
}

// CandidateCode is one retrieval result shown to the selection prompt.
type CandidateCode struct {
	Code              string
	OfficialTitle     string
	CommonDescription string
	UnlistedBelow     string
	UnlistedAbove     string
}

// ProcedureSelection asks for the final code per extracted procedure.
func ProcedureSelection(extracted string, candidates map[string][]CandidateCode) string {
	var sb strings.Builder
	sb.WriteString("FINAL PROCEDURE SELECTION\n\n")
	sb.WriteString("Choose exactly one code per extracted procedure, with units, verbatim\n")
	sb.WriteString("evidence, linked diagnosis prefixes, and a rationale. If no candidate\n")
	sb.WriteString("fits, use the nearest unlisted code listed with the candidates.\n\n")
	sb.WriteString("EXTRACTED PROCEDURES:\n")
	sb.WriteString(extracted)
	sb.WriteString("\n\nCANDIDATE CODES:\n")
	for id, list := range candidates {
		fmt.Fprintf(&sb, "\nFor %s:\n", id)
		for _, c := range list {
			fmt.Fprintf(&sb, "  - %s: %s", c.Code, c.OfficialTitle)
			if c.CommonDescription != "" {
				fmt.Fprintf(&sb, " (%s)", c.CommonDescription)
			}
			if c.UnlistedBelow != "" || c.UnlistedAbove != "" {
				fmt.Fprintf(&sb, " [nearest unlisted: %s / %s]", c.UnlistedBelow, c.UnlistedAbove)
			}
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// DiagnosisSelectionSystem primes the model for diagnosis linkage.
func DiagnosisSelectionSystem() string {
	return "You are a diagnosis coding specialist. For each procedure, select the diagnosis " +
		"codes that establish medical necessity, strictly from the supplied candidates."
}

// DiagnosisCandidate is one diagnosis record shown to the model.
type DiagnosisCandidate struct {
	Code        string
	Description string
}

// DiagnosisSelection bundles procedures and their candidate diagnoses.
func DiagnosisSelection(notes types.CaseNotes, procs []types.ProcedureCode, candidates map[string][]DiagnosisCandidate) string {
	var sb strings.Builder
	sb.WriteString("DIAGNOSIS SELECTION\n\n")
	sb.WriteString("Link each procedure to the diagnosis codes the documentation supports.\n")
	sb.WriteString("Rate confidence as high, medium, or low and quote supporting evidence.\n\n")
	sb.WriteString("PROCEDURES AND CANDIDATES:\n")
	for _, p := range procs {
		fmt.Fprintf(&sb, "\nProcedure %s (%s), units %d:\n", p.Code, p.Description, p.Units)
		for _, c := range candidates[p.Code] {
			fmt.Fprintf(&sb, "  - %s: %s\n", c.Code, c.Description)
		}
	}
	sb.WriteString("\nCLINICAL NOTES:\n")
	sb.WriteString(notes.FullText())
	return sb.String()
}

// ModifierSystem primes the model for modifier placement.
func ModifierSystem() string {
	return "You are a claims modifier specialist. Assign modifiers only from the allowed " +
		"set given per line item, and only when the documentation supports them. A null " +
		"modifier with a rationale is a valid answer."
}

// ModifierLineContext is the per-line block shown to both modifier phases.
type ModifierLineContext struct {
	LineID           string
	ProcedureCode    string
	Description      string
	Units            int
	AllowedModifiers []string
	Conflicts        []string
}

// ModifierPhase1 describes the compliance conflicts and asks for at most
// one bypass decision per line.
func ModifierPhase1(notes types.CaseNotes, lines []ModifierLineContext) string {
	var sb strings.Builder
	sb.WriteString("PHASE 1 MODIFIER ASSIGNMENT\n\n")
	sb.WriteString("For each line item decide whether a compliance modifier is warranted.\n")
	sb.WriteString("Every answer needs a rationale, including null decisions. For lines with\n")
	sb.WriteString("a documented-split question, state whether documentation supports the\n")
	sb.WriteString("bypass.\n\n")
	writeLineBlocks(&sb, lines)
	sb.WriteString("\nCLINICAL NOTES:\n")
	sb.WriteString(notes.FullText())
	return sb.String()
}

// ModifierPhase2 asks for ancillary modifiers, zero or more per line.
func ModifierPhase2(notes types.CaseNotes, lines []ModifierLineContext) string {
	var sb strings.Builder
	sb.WriteString("PHASE 2 MODIFIER ASSIGNMENT\n\n")
	sb.WriteString("Propose any ancillary modifiers supported by the documentation, zero or\n")
	sb.WriteString("more per line, each with a rationale and evidence.\n\n")
	writeLineBlocks(&sb, lines)
	sb.WriteString("\nCLINICAL NOTES:\n")
	sb.WriteString(notes.FullText())
	return sb.String()
}

func writeLineBlocks(sb *strings.Builder, lines []ModifierLineContext) {
	sb.WriteString("LINE ITEMS:\n")
	for _, line := range lines {
		fmt.Fprintf(sb, "\n%s: %s (%s), units %d\n", line.LineID, line.ProcedureCode, line.Description, line.Units)
		fmt.Fprintf(sb, "  allowed modifiers: %s\n", strings.Join(line.AllowedModifiers, ", "))
		for _, c := range line.Conflicts {
			fmt.Fprintf(sb, "  conflict: %s\n", c)
		}
	}
}
