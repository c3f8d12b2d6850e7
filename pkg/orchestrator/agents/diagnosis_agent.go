package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"medcoder/pkg/orchestrator/agents/prompts"
	"medcoder/pkg/types"
)

// SelectedICDCode is one diagnosis choice in the selection schema.
type SelectedICDCode struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Rationale   string   `json:"rationale"`
	Evidence    []string `json:"evidence"`
	Confidence  string   `json:"confidence"`
}

// ProcedureDiagnosisSelection links one procedure to its chosen codes.
type ProcedureDiagnosisSelection struct {
	CPTCode          string            `json:"cptCode"`
	SelectedICDCodes []SelectedICDCode `json:"selectedIcdCodes"`
}

// DiagnosisSelectionResponse is the diagnosis-selection call schema.
type DiagnosisSelectionResponse struct {
	SelectedDiagnoses []ProcedureDiagnosisSelection `json:"selectedDiagnoses"`
}

// Deterministic fallback when the reference store has no diagnosis records
// for any derived prefix. Keeps selection able to proceed offline.
var mockDiagnosisTable = []prompts.DiagnosisCandidate{
	{Code: "K40.20", Description: "Bilateral inguinal hernia, without obstruction or gangrene"},
	{Code: "K40.90", Description: "Unilateral inguinal hernia, without obstruction or gangrene"},
	{Code: "K42.9", Description: "Umbilical hernia without obstruction or gangrene"},
	{Code: "K43.0", Description: "Incisional hernia with obstruction, without gangrene"},
	{Code: "K43.2", Description: "Incisional hernia without obstruction or gangrene"},
	{Code: "K43.9", Description: "Ventral hernia without obstruction or gangrene"},
	{Code: "K46.9", Description: "Unspecified abdominal hernia without obstruction or gangrene"},
}

// DiagnosisAgent selects concrete diagnosis codes for the final procedures
// and links each to exactly one procedure.
type DiagnosisAgent struct {
	cfg AgentConfig
}

// NewDiagnosisAgent builds the stage with defaults filled in.
func NewDiagnosisAgent(cfg AgentConfig) *DiagnosisAgent {
	return &DiagnosisAgent{cfg: cfg.withDefaults()}
}

func (a *DiagnosisAgent) Name() string { return "diagnosis-code-agent" }

func (a *DiagnosisAgent) Description() string {
	return "Selects diagnosis codes establishing medical necessity, linked per procedure"
}

func (a *DiagnosisAgent) RequiredServices() []string {
	return []string{ServiceBackend, ServiceRefData}
}

func (a *DiagnosisAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	procs := actx.State.Procedures
	if len(procs) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorCritical,
			"diagnosis selection requires at least one procedure", types.ErrNoProcedures)
	}

	candidates := make(map[string][]prompts.DiagnosisCandidate, len(procs))
	for i := range procs {
		candidates[procs[i].Code] = a.candidatesFor(ctx, actx, &procs[i])
	}

	selection, err := askStructured[DiagnosisSelectionResponse](ctx, actx,
		prompts.DiagnosisSelectionSystem(),
		prompts.DiagnosisSelection(actx.State.Notes, procs, candidates))
	if err != nil {
		return nil, err
	}

	result := &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{},
	}

	var diagnoses []types.DiagnosisCode
	for _, procSel := range selection.SelectedDiagnoses {
		proc := findProcedure(procs, procSel.CPTCode)
		if proc == nil {
			actx.Logger.Warnf("selection names unknown procedure %s, dropping its diagnoses", procSel.CPTCode)
			result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
				types.KindValidation, types.ErrorMedium,
				fmt.Sprintf("selected diagnoses reference unknown procedure %s", procSel.CPTCode)))
			continue
		}
		for _, icd := range procSel.SelectedICDCodes {
			diag := types.DiagnosisCode{
				Code:            icd.Code,
				Description:     icd.Description,
				Rationale:       icd.Rationale,
				Confidence:      confidenceValue(icd.Confidence),
				LinkedProcedure: proc.Code,
				Evidence: []types.Evidence{{
					Quotes:      icd.Evidence,
					Rationale:   icd.Rationale,
					SourceAgent: a.Name(),
					Confidence:  confidenceValue(icd.Confidence),
				}},
			}
			diagnoses = append(diagnoses, diag)
			proc.LinkedDiagnoses = append(proc.LinkedDiagnoses, diag)

			result.Evidence = append(result.Evidence, types.Evidence{
				Quotes:      icd.Evidence,
				Rationale:   fmt.Sprintf("%s supports %s: %s", icd.Code, proc.Code, icd.Rationale),
				SourceAgent: a.Name(),
				Confidence:  confidenceValue(icd.Confidence),
			})
		}
	}

	result.Data.Diagnoses = diagnoses
	result.Data.Procedures = procs
	return result, nil
}

// candidatesFor derives diagnosis prefixes for one procedure and loads the
// matching reference records. Missing records fall back to the built-in
// table so selection can proceed.
func (a *DiagnosisAgent) candidatesFor(ctx context.Context, actx *AgentContext, proc *types.ProcedureCode) []prompts.DiagnosisCandidate {
	prefixes := diagnosisPrefixes(proc, a.cfg.FallbackDiagnosisPrefixes)

	var out []prompts.DiagnosisCandidate
	seen := make(map[string]bool)
	for _, prefix := range prefixes {
		records, err := actx.Services.RefData.ListDiagnosesByPrefix(ctx, prefix)
		if err != nil {
			actx.Logger.WithError(err).
				Warnf("listing diagnoses for prefix %s failed", prefix)
			continue
		}
		for _, rec := range records {
			if seen[rec.Code] {
				continue
			}
			seen[rec.Code] = true
			out = append(out, prompts.DiagnosisCandidate{Code: rec.Code, Description: rec.Description})
		}
	}

	// Applicable-family filter, when the procedure declares one.
	if len(proc.DiagnosisFamilies) > 0 {
		filtered := out[:0]
		for _, c := range out {
			for _, family := range proc.DiagnosisFamilies {
				if strings.HasPrefix(c.Code, family) {
					filtered = append(filtered, c)
					break
				}
			}
		}
		out = filtered
	}

	if len(out) == 0 {
		actx.Logger.Warnf("no diagnosis candidates for %s in reference store, using fallback table", proc.Code)
		out = append(out, mockDiagnosisTable...)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// diagnosisPrefixes truncates the procedure's hint codes to three
// characters and deduplicates, falling back to applicable families and
// then to the configured default list.
func diagnosisPrefixes(proc *types.ProcedureCode, fallback []string) []string {
	dedupe := func(in []string) []string {
		seen := make(map[string]bool, len(in))
		var out []string
		for _, s := range in {
			p := s
			if len(p) > 3 {
				p = p[:3]
			}
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			out = append(out, p)
		}
		return out
	}

	if prefixes := dedupe(proc.DiagnosisHints); len(prefixes) > 0 {
		return prefixes
	}
	if prefixes := dedupe(proc.DiagnosisFamilies); len(prefixes) > 0 {
		return prefixes
	}
	return dedupe(fallback)
}

func confidenceValue(label string) float64 {
	switch strings.ToLower(label) {
	case "high":
		return 0.9
	case "medium":
		return 0.7
	default:
		return 0.5
	}
}

func findProcedure(procs []types.ProcedureCode, code string) *types.ProcedureCode {
	for i := range procs {
		if procs[i].Code == code {
			return &procs[i]
		}
	}
	return nil
}
