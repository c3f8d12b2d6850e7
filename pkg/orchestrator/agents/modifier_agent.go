package agents

import (
	"context"
	"fmt"

	"medcoder/pkg/orchestrator/agents/prompts"
	"medcoder/pkg/types"
)

// Phase1Decision is one line's compliance-modifier decision. Modifier is
// nullable; the rationale is mandatory either way.
type Phase1Decision struct {
	LineID                      string   `json:"lineId"`
	Modifier                    *string  `json:"modifier"`
	Rationale                   string   `json:"rationale"`
	AppliesTo                   string   `json:"appliesTo"`
	EditType                    string   `json:"editType"`
	Evidence                    []string `json:"evidence,omitempty"`
	DocumentationSupportsBypass *bool    `json:"documentationSupportsBypass,omitempty"`
}

// Phase1Response is the phase-1 batched call schema.
type Phase1Response struct {
	Lines []Phase1Decision `json:"lines"`
}

// Phase2Assignment is one ancillary modifier proposal.
type Phase2Assignment struct {
	Modifier  string   `json:"modifier"`
	Rationale string   `json:"rationale"`
	Evidence  []string `json:"evidence,omitempty"`
}

// Phase2Decision carries zero or more ancillary modifiers for one line.
type Phase2Decision struct {
	LineID    string             `json:"lineId"`
	Modifiers []Phase2Assignment `json:"modifiers"`
}

// Phase2Response is the phase-2 batched call schema.
type Phase2Response struct {
	Lines []Phase2Decision `json:"lines"`
}

// ModifierAgent decides modifier placement per line item in two phases:
// compliance bypass modifiers first, ancillary modifiers second. It owns
// line-item construction, MAI-1 split decisions, and procedure-pair
// conflict resolution.
type ModifierAgent struct {
	cfg AgentConfig
}

// NewModifierAgent builds the stage with defaults filled in.
func NewModifierAgent(cfg AgentConfig) *ModifierAgent {
	return &ModifierAgent{cfg: cfg.withDefaults()}
}

func (a *ModifierAgent) Name() string { return "modifier-agent" }

func (a *ModifierAgent) Description() string {
	return "Assigns compliance and ancillary modifiers per claim line item"
}

func (a *ModifierAgent) RequiredServices() []string {
	return []string{ServiceBackend, ServiceRefData}
}

func (a *ModifierAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	procs := actx.State.Procedures
	if len(procs) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorCritical,
			"modifier assignment requires at least one procedure", types.ErrNoProcedures)
	}

	vetted, err := loadVettedTable(ctx, actx.Services.RefData)
	if err != nil {
		return nil, types.WrapProcessingError(a.Name(), types.KindExternalAPI, types.ErrorMedium,
			"loading vetted modifier table failed", err)
	}

	// The snapshot's compliance result is mutated in place for conflict
	// resolution and re-emitted so the merge overwrites state.
	compliance := actx.State.Compliance
	if compliance == nil {
		compliance = complianceFromEvidence(actx.State.Evidence)
	}

	result := &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{},
	}

	lines := a.buildLineItems(procs)
	noteText := actx.State.Notes.FullText()

	lines, err = a.runPhase1(ctx, actx, lines, procs, vetted, compliance, noteText, result)
	if err != nil {
		return nil, err
	}

	if err := a.runPhase2(ctx, actx, lines, procs, vetted, noteText, result); err != nil {
		return nil, err
	}

	a.validateFinal(lines, vetted, result)

	finalModifiers := collectFinalModifiers(lines)
	result.Data.FinalModifiers = finalModifiers
	result.Data.LineItems = lines
	if compliance != nil {
		compliance.Recount()
		result.Data.Compliance = compliance
	}

	result.Evidence = append(result.Evidence, types.Evidence{
		Rationale:   fmt.Sprintf("final modifier assignment: %d modifiers across %d line items", len(finalModifiers), len(lines)),
		SourceAgent: a.Name(),
		Confidence:  1.0,
		Content: &types.EvidenceContent{
			Kind: types.ContentFinalModifiers,
			FinalModifiers: &types.FinalModifiers{
				Modifiers: finalModifiers,
				LineItems: lines,
			},
		},
	})
	return result, nil
}

// buildLineItems turns procedures into claim lines. Overages under MAI 2/3
// truncate immediately; MAI-1 overages keep full units until the phase-1
// split decision.
func (a *ModifierAgent) buildLineItems(procs []types.ProcedureCode) []types.LineItem {
	var lines []types.LineItem
	for i := range procs {
		p := &procs[i]
		limit, hasLimit := p.EffectiveUnitLimit()

		if !hasLimit || p.Units <= limit {
			lines = append(lines, types.LineItem{
				LineID:        types.LineItemID(p.Code, 1),
				ProcedureCode: p.Code,
				Units:         p.Units,
			})
			continue
		}

		mai := types.MAIAbsolute
		if p.UnitLimitIndicator != nil {
			mai = *p.UnitLimitIndicator
		}
		if mai == types.MAILineSplit {
			lines = append(lines, types.LineItem{
				LineID:        types.LineItemID(p.Code, 1),
				ProcedureCode: p.Code,
				Units:         p.Units,
			})
			continue
		}

		severity := types.SeverityWarning
		if mai == types.MAIAutoDenied {
			severity = types.SeverityError
		}
		lines = append(lines, types.LineItem{
			LineID:        types.LineItemID(p.Code, 1),
			ProcedureCode: p.Code,
			Units:         limit,
			ComplianceFlag: &types.ComplianceFlag{
				OriginalUnits:  p.Units,
				TruncatedUnits: limit,
				Severity:       severity,
				Reason:         fmt.Sprintf("units truncated to limit %d (MAI %d)", limit, mai),
			},
		})
	}
	return lines
}

// runPhase1 submits the compliance-modifier batch and applies the MAI-1
// split decisions and procedure-pair resolutions. Returns the (possibly
// expanded) line list.
func (a *ModifierAgent) runPhase1(ctx context.Context, actx *AgentContext, lines []types.LineItem, procs []types.ProcedureCode, vetted vettedTable, compliance *types.ComplianceResult, noteText string, result *types.AgentResult) ([]types.LineItem, error) {
	contexts := a.lineContexts(lines, procs, vetted, compliance, PhaseCompliance)
	resp, err := askStructured[Phase1Response](ctx, actx,
		prompts.ModifierSystem(), prompts.ModifierPhase1(actx.State.Notes, contexts))
	if err != nil {
		return nil, err
	}

	decisions := make(map[string]Phase1Decision, len(resp.Lines))
	for _, d := range resp.Lines {
		decisions[d.LineID] = d
	}

	var out []types.LineItem
	for _, line := range lines {
		proc := findProcedure(procs, line.ProcedureCode)
		decision, ok := decisions[line.LineID]
		if !ok || proc == nil {
			out = append(out, line)
			continue
		}

		allowed := allowedModifiers(proc, vetted, PhaseCompliance)
		quotes := a.validateSnippets(actx, decision.Evidence, noteText, result)

		// Null modifier with a rationale is an explicit no-action
		// decision; it stays on the line for auditability.
		if decision.Modifier == nil || *decision.Modifier == "" {
			if decision.Rationale == "" {
				result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
					types.KindValidation, types.ErrorMedium,
					fmt.Sprintf("line %s: null modifier without rationale", line.LineID)))
			}
			line.Phase1Modifiers = append(line.Phase1Modifiers, types.Modifier{
				Code:            nil,
				Rationale:       decision.Rationale,
				EditType:        types.EditType(decision.EditType),
				AppliesTo:       decision.AppliesTo,
				LinkedProcedure: line.ProcedureCode,
			})
			out = append(out, a.applyMAI1(line, proc, decision, nil)...)
			continue
		}

		code := *decision.Modifier
		if !contains(allowed, code) {
			actx.Logger.Warnf("line %s: proposed modifier %s is outside the allowed set, rejecting", line.LineID, code)
			result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
				types.KindValidation, types.ErrorMedium,
				fmt.Sprintf("line %s: modifier %s not in permitted set", line.LineID, code)))
			out = append(out, a.applyMAI1(line, proc, decision, nil)...)
			continue
		}

		modifier := types.Modifier{
			Code:            &code,
			Description:     vetted[code].Description,
			Class:           vetted[code].Class,
			Rationale:       decision.Rationale,
			EditType:        types.EditType(decision.EditType),
			AppliesTo:       decision.AppliesTo,
			LinkedProcedure: line.ProcedureCode,
		}
		if len(quotes) > 0 {
			modifier.Evidence = []types.Evidence{{
				Quotes:      quotes,
				Rationale:   decision.Rationale,
				SourceAgent: a.Name(),
				Confidence:  0.8,
			}}
		}

		if modifier.EditType == types.EditProcedurePair {
			a.resolvePTPConflict(actx, compliance, &modifier, line.LineID, result)
		}

		expanded := a.applyMAI1(line, proc, decision, &modifier)
		out = append(out, expanded...)
	}
	return out, nil
}

// applyMAI1 resolves the documented-split question for lines whose
// procedure exceeds an MAI-1 unit limit. Other lines pass through with the
// modifier attached.
func (a *ModifierAgent) applyMAI1(line types.LineItem, proc *types.ProcedureCode, decision Phase1Decision, modifier *types.Modifier) []types.LineItem {
	limit, hasLimit := proc.EffectiveUnitLimit()
	isMAI1Overage := hasLimit && proc.Units > limit &&
		proc.UnitLimitIndicator != nil && *proc.UnitLimitIndicator == types.MAILineSplit

	if !isMAI1Overage {
		if modifier != nil {
			line.Phase1Modifiers = append(line.Phase1Modifiers, *modifier)
		}
		return []types.LineItem{line}
	}

	supportsBypass := decision.DocumentationSupportsBypass != nil && *decision.DocumentationSupportsBypass
	if supportsBypass && modifier != nil {
		// Split into single-unit lines, each carrying the bypass
		// modifier.
		out := make([]types.LineItem, 0, line.Units)
		for n := 1; n <= line.Units; n++ {
			split := types.LineItem{
				LineID:          types.LineItemID(line.ProcedureCode, n),
				ProcedureCode:   line.ProcedureCode,
				Units:           1,
				Phase1Modifiers: []types.Modifier{*modifier},
				ComplianceFlag: &types.ComplianceFlag{
					OriginalUnits:  proc.Units,
					TruncatedUnits: 1,
					Severity:       types.SeverityInfo,
					Reason:         "split approved",
				},
			}
			out = append(out, split)
		}
		return out
	}

	line.Units = limit
	line.ComplianceFlag = &types.ComplianceFlag{
		OriginalUnits:  proc.Units,
		TruncatedUnits: limit,
		Severity:       types.SeverityError,
		Reason:         "split denied",
	}
	return []types.LineItem{line}
}

// resolvePTPConflict downgrades the matching procedure-pair violation when
// the modifier is a permitted bypass, and records the resolution as
// evidence. An unresolvable procedure-pair decision is annotated, not
// dropped.
func (a *ModifierAgent) resolvePTPConflict(actx *AgentContext, compliance *types.ComplianceResult, modifier *types.Modifier, lineID string, result *types.AgentResult) {
	code := modifier.CodeValue()
	if compliance != nil {
		for i := range compliance.PTPViolations {
			v := &compliance.PTPViolations[i]
			matches := v.Column2Code == modifier.AppliesTo ||
				(modifier.AppliesTo == "" && v.Column2Code == modifier.LinkedProcedure)
			if !matches || !PTPBypassAllowed(v.ModifierIndicator, code) {
				continue
			}
			if v.Severity == types.SeverityError {
				v.Severity = types.SeverityInfo
				v.Message = fmt.Sprintf("PTP conflict resolved with modifier %s: %s", code, v.Message)
			}
			result.Evidence = append(result.Evidence, types.Evidence{
				Rationale:   fmt.Sprintf("modifier %s bypasses pair edit %s/%s", code, v.Column1Code, v.Column2Code),
				SourceAgent: a.Name(),
				Confidence:  1.0,
				Content: &types.EvidenceContent{
					Kind: types.ContentPTPConflictResolved,
					PTPConflictResolved: &types.PTPConflictResolved{
						Column1Code: v.Column1Code,
						Column2Code: v.Column2Code,
						Modifier:    code,
						LineID:      lineID,
					},
				},
			})
			return
		}
	}

	actx.Logger.Warnf("line %s: modifier %s declared a procedure-pair edit but resolves no recorded conflict", lineID, code)
	result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
		types.KindValidation, types.ErrorMedium,
		fmt.Sprintf("line %s: procedure-pair modifier %s matches no active violation", lineID, code)))
}

// runPhase2 submits the ancillary batch and attaches accepted modifiers.
func (a *ModifierAgent) runPhase2(ctx context.Context, actx *AgentContext, lines []types.LineItem, procs []types.ProcedureCode, vetted vettedTable, noteText string, result *types.AgentResult) error {
	contexts := a.lineContexts(lines, procs, vetted, nil, PhaseAncillary)
	resp, err := askStructured[Phase2Response](ctx, actx,
		prompts.ModifierSystem(), prompts.ModifierPhase2(actx.State.Notes, contexts))
	if err != nil {
		return err
	}

	decisions := make(map[string][]Phase2Assignment, len(resp.Lines))
	for _, d := range resp.Lines {
		decisions[d.LineID] = d.Modifiers
	}

	for i := range lines {
		line := &lines[i]
		proc := findProcedure(procs, line.ProcedureCode)
		if proc == nil {
			continue
		}
		allowed := allowedModifiers(proc, vetted, PhaseAncillary)
		for _, assignment := range decisions[line.LineID] {
			if !contains(allowed, assignment.Modifier) {
				actx.Logger.Warnf("line %s: ancillary modifier %s outside allowed set, rejecting", line.LineID, assignment.Modifier)
				result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
					types.KindValidation, types.ErrorMedium,
					fmt.Sprintf("line %s: ancillary modifier %s not in permitted set", line.LineID, assignment.Modifier)))
				continue
			}
			code := assignment.Modifier
			modifier := types.Modifier{
				Code:            &code,
				Description:     vetted[code].Description,
				Class:           vetted[code].Class,
				Rationale:       assignment.Rationale,
				EditType:        types.EditNone,
				LinkedProcedure: line.ProcedureCode,
			}
			if quotes := a.validateSnippets(actx, assignment.Evidence, noteText, result); len(quotes) > 0 {
				modifier.Evidence = []types.Evidence{{
					Quotes:      quotes,
					Rationale:   assignment.Rationale,
					SourceAgent: a.Name(),
					Confidence:  0.8,
				}}
			}
			line.Phase2Modifiers = append(line.Phase2Modifiers, modifier)
		}
	}
	return nil
}

// validateSnippets keeps only model-returned evidence snippets traceable
// to the note text.
func (a *ModifierAgent) validateSnippets(actx *AgentContext, snippets []string, noteText string, result *types.AgentResult) []string {
	var kept []string
	for _, snippet := range snippets {
		if snippetMatchesNote(snippet, noteText) {
			kept = append(kept, snippet)
			continue
		}
		actx.Logger.Warnf("evidence snippet not found in notes, rejecting: %q", truncateSnippet(snippet))
	}
	return kept
}

// validateFinal enforces the per-line combination rules: no conflicting
// pairs, no duplicates, descriptions and rationales present. Violations
// surface as errors and drop the offending modifier, but never abort the
// stage.
func (a *ModifierAgent) validateFinal(lines []types.LineItem, vetted vettedTable, result *types.AgentResult) {
	for i := range lines {
		line := &lines[i]
		var seenCodes []string

		filter := func(mods []types.Modifier) []types.Modifier {
			var kept []types.Modifier
			for _, m := range mods {
				if !m.HasCode() {
					if m.Rationale == "" {
						result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
							types.KindValidation, types.ErrorMedium,
							fmt.Sprintf("line %s: null modifier without rationale", line.LineID)))
					}
					kept = append(kept, m)
					continue
				}
				code := m.CodeValue()
				if contains(seenCodes, code) {
					result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
						types.KindConflict, types.ErrorMedium,
						fmt.Sprintf("line %s: duplicate modifier %s dropped", line.LineID, code)))
					continue
				}
				if other := conflictsWith(code, seenCodes); other != "" {
					result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
						types.KindConflict, types.ErrorHigh,
						fmt.Sprintf("line %s: modifier %s conflicts with %s, dropped", line.LineID, code, other)))
					continue
				}
				if m.Description == "" {
					m.Description = vetted[code].Description
				}
				if m.Rationale == "" {
					result.Errors = append(result.Errors, *types.NewProcessingError(a.Name(),
						types.KindValidation, types.ErrorMedium,
						fmt.Sprintf("line %s: modifier %s lacks a rationale", line.LineID, code)))
				}
				seenCodes = append(seenCodes, code)
				kept = append(kept, m)
			}
			return kept
		}

		line.Phase1Modifiers = filter(line.Phase1Modifiers)
		line.Phase2Modifiers = filter(line.Phase2Modifiers)
	}
}

// lineContexts builds the per-line prompt blocks for a phase.
func (a *ModifierAgent) lineContexts(lines []types.LineItem, procs []types.ProcedureCode, vetted vettedTable, compliance *types.ComplianceResult, phase ModifierPhase) []prompts.ModifierLineContext {
	out := make([]prompts.ModifierLineContext, 0, len(lines))
	for _, line := range lines {
		proc := findProcedure(procs, line.ProcedureCode)
		if proc == nil {
			continue
		}
		lc := prompts.ModifierLineContext{
			LineID:           line.LineID,
			ProcedureCode:    line.ProcedureCode,
			Description:      proc.Description,
			Units:            line.Units,
			AllowedModifiers: allowedModifiers(proc, vetted, phase),
		}
		if compliance != nil {
			for _, v := range compliance.PTPViolations {
				if v.Column1Code == proc.Code || v.Column2Code == proc.Code {
					lc.Conflicts = append(lc.Conflicts,
						fmt.Sprintf("procedure-pair edit %s/%s, modifier indicator %s", v.Column1Code, v.Column2Code, v.ModifierIndicator))
				}
			}
			for _, v := range compliance.MUEViolations {
				if v.Code == proc.Code {
					lc.Conflicts = append(lc.Conflicts,
						fmt.Sprintf("unit limit exceeded: %d billed, limit %d, MAI %d", v.Units, v.UnitLimit, v.MAI))
				}
			}
		}
		out = append(out, lc)
	}
	return out
}

// collectFinalModifiers flattens every non-null modifier across all lines.
func collectFinalModifiers(lines []types.LineItem) []types.Modifier {
	var out []types.Modifier
	for _, line := range lines {
		for _, m := range line.AllModifiers() {
			if m.HasCode() {
				out = append(out, m)
			}
		}
	}
	return out
}

// complianceFromEvidence recovers the compliance result from the state's
// evidence stream when the structured field is empty.
func complianceFromEvidence(evidence []types.Evidence) *types.ComplianceResult {
	for i := len(evidence) - 1; i >= 0; i-- {
		if c := evidence[i].Content; c != nil && c.Kind == types.ContentComplianceResult && c.ComplianceResult != nil {
			return c.ComplianceResult
		}
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func truncateSnippet(s string) string {
	const max = 80
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
