package agents

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

// ComplianceAgent validates the procedure list against procedure-pair
// edits, unit limits, global-period policy, and value-unit plausibility.
// Pure reference-data lookups; no model calls.
type ComplianceAgent struct{}

// NewComplianceAgent builds the stage.
func NewComplianceAgent() *ComplianceAgent {
	return &ComplianceAgent{}
}

func (a *ComplianceAgent) Name() string { return "compliance-agent" }

func (a *ComplianceAgent) Description() string {
	return "Validates procedures against pair edits, unit limits, and global-period policy"
}

func (a *ComplianceAgent) RequiredServices() []string {
	return []string{ServiceRefData}
}

func (a *ComplianceAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	start := time.Now()
	procs := actx.State.Procedures
	if len(procs) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorCritical,
			"compliance validation requires at least one procedure", types.ErrNoProcedures)
	}

	setting := types.SettingForPOS(actx.State.CaseMeta.PlaceOfService)
	actx.Logger.WithField("case_id", actx.CaseID).
		Infof("compliance validation: %d procedures, %s setting", len(procs), setting)

	cr := &types.ComplianceResult{
		PTPViolations:          []types.PTPViolation{},
		MUEViolations:          []types.MUEViolation{},
		GlobalPeriodViolations: []types.GlobalPeriodViolation{},
		RVUViolations:          []types.RVUViolation{},
		Metadata: types.ComplianceMetadata{
			ServiceSetting: setting,
		},
	}

	a.validatePairs(ctx, actx, procs, cr)
	a.validateUnitLimits(procs, cr)
	a.validateGlobalPeriods(procs, cr)
	a.validateValueUnits(ctx, actx, procs, cr)

	cr.Metadata.DurationMs = time.Since(start).Milliseconds()
	cr.Recount()

	return &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{Compliance: cr},
		Evidence: []types.Evidence{{
			Rationale: fmt.Sprintf("compliance validation: %d violations (%d errors, %d warnings)",
				cr.Summary.Total, cr.Summary.Errors, cr.Summary.Warnings),
			SourceAgent: a.Name(),
			Confidence:  1.0,
			Content: &types.EvidenceContent{
				Kind:             types.ContentComplianceResult,
				ComplianceResult: cr,
			},
		}},
	}, nil
}

// validatePairs checks every unordered procedure pair in both
// orientations; a pair flagged once is not re-flagged in reverse.
func (a *ComplianceAgent) validatePairs(ctx context.Context, actx *AgentContext, procs []types.ProcedureCode, cr *types.ComplianceResult) {
	dos := actx.State.CaseMeta.DateOfService
	flagged := make(map[string]bool)

	for i := range procs {
		for j := range procs {
			if i == j {
				continue
			}
			col1, col2 := procs[i].Code, procs[j].Code
			if flagged[col1+"/"+col2] || flagged[col2+"/"+col1] {
				continue
			}

			edits, err := actx.Services.RefData.GetPTPEdits(ctx, col1)
			if err != nil {
				if refdata.IsNotFound(err) {
					actx.Logger.Infof("no pair-edit table for %s, skipping", col1)
				} else {
					actx.Logger.WithError(err).Warnf("pair-edit lookup for %s failed", col1)
				}
				continue
			}

			for _, edit := range edits {
				if edit.Column2 != col2 || !edit.ActiveOn(dos) {
					continue
				}
				indicator := strconv.Itoa(edit.ModifierIndicator)
				if a.bypassPresent(actx.State, indicator, col1, col2) {
					continue
				}
				flagged[col1+"/"+col2] = true
				cr.PTPViolations = append(cr.PTPViolations, types.PTPViolation{
					Column1Code:       col1,
					Column2Code:       col2,
					ModifierIndicator: indicator,
					Severity:          types.SeverityError,
					Message: fmt.Sprintf("%s is not separately payable with %s (modifier indicator %s)",
						col2, col1, indicator),
				})
				break
			}
		}
	}
}

// bypassPresent reports whether a permitted bypass modifier is already
// recorded against either code of the pair.
func (a *ComplianceAgent) bypassPresent(s *types.WorkflowState, indicator, col1, col2 string) bool {
	check := func(mods []types.Modifier) bool {
		for _, m := range mods {
			if !m.HasCode() {
				continue
			}
			if m.LinkedProcedure != col1 && m.LinkedProcedure != col2 {
				continue
			}
			if PTPBypassAllowed(indicator, m.CodeValue()) {
				return true
			}
		}
		return false
	}
	return check(s.ModifierSuggestions) || check(s.FinalModifiers)
}

func (a *ComplianceAgent) validateUnitLimits(procs []types.ProcedureCode, cr *types.ComplianceResult) {
	for i := range procs {
		p := &procs[i]
		limit, ok := p.EffectiveUnitLimit()
		if !ok || p.Units <= limit {
			continue
		}
		mai := types.MAIAbsolute
		if p.UnitLimitIndicator != nil {
			mai = *p.UnitLimitIndicator
		}
		cr.MUEViolations = append(cr.MUEViolations, types.MUEViolation{
			Code:      p.Code,
			Units:     p.Units,
			UnitLimit: limit,
			MAI:       mai,
			Severity:  types.SeverityError,
			Message:   fmt.Sprintf("%s billed %d units, limit %d (MAI %d)", p.Code, p.Units, limit, mai),
		})
	}
}

func (a *ComplianceAgent) validateGlobalPeriods(procs []types.ProcedureCode, cr *types.ComplianceResult) {
	for i := range procs {
		p := &procs[i]
		if p.GlobalPeriod != "010" && p.GlobalPeriod != "090" {
			continue
		}
		// Prior-surgery history is not available here, so this stays
		// advisory.
		cr.GlobalPeriodViolations = append(cr.GlobalPeriodViolations, types.GlobalPeriodViolation{
			Code:         p.Code,
			GlobalPeriod: p.GlobalPeriod,
			Severity:     types.SeverityWarning,
			Message: fmt.Sprintf("%s carries a %s-day global period; verify no related prior surgery",
				p.Code, p.GlobalPeriod),
		})
	}
}

func (a *ComplianceAgent) validateValueUnits(ctx context.Context, actx *AgentContext, procs []types.ProcedureCode, cr *types.ComplianceResult) {
	for i := range procs {
		p := &procs[i]
		if !isUnlistedCode(p.Code) {
			continue
		}
		rec, err := actx.Services.RefData.GetRVURecord(ctx, p.Code)
		if err == nil && rec.Total() > 0 {
			continue
		}
		cr.RVUViolations = append(cr.RVUViolations, types.RVUViolation{
			Code:     p.Code,
			Severity: types.SeverityWarning,
			Message:  fmt.Sprintf("unlisted code %s has no value units on record", p.Code),
		})
	}
}

func isUnlistedCode(code string) bool {
	for _, u := range unlistedProcedureCodes {
		if u == code {
			return true
		}
	}
	return false
}
