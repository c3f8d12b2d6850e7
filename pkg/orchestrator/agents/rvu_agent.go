package agents

import (
	"context"
	"fmt"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

// Fallback locality used when demographics resolve nothing through the
// crosswalk.
const (
	defaultState        = "CA"
	defaultContractorID = "01112"
	defaultLocality     = "00"
)

// RVUAgent computes geographically adjusted value-unit totals per
// procedure and the resulting payment amounts.
type RVUAgent struct {
	cfg AgentConfig
}

// NewRVUAgent builds the stage with defaults filled in.
func NewRVUAgent(cfg AgentConfig) *RVUAgent {
	return &RVUAgent{cfg: cfg.withDefaults()}
}

func (a *RVUAgent) Name() string { return "value-unit-agent" }

func (a *RVUAgent) Description() string {
	return "Computes geographically adjusted value units and payment per procedure"
}

func (a *RVUAgent) RequiredServices() []string {
	return []string{ServiceRefData}
}

func (a *RVUAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	if len(actx.State.Procedures) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorCritical,
			"value-unit calculation requires at least one procedure", types.ErrNoProcedures)
	}

	locality, contractor, state := a.resolveLocality(ctx, actx)
	gpci := a.loadGPCI(ctx, actx, locality)

	conversionFactor := a.cfg.ConversionFactor
	result := &types.RVUResult{
		State:            state,
		ContractorID:     contractor,
		ConversionFactor: conversionFactor,
		Calculations:     []types.RVUCalculation{},
	}

	for _, proc := range actx.State.Procedures {
		calc := a.calculate(ctx, actx, proc, gpci, conversionFactor)
		result.Calculations = append(result.Calculations, calc)
		result.TotalRVU += calc.Total
		result.TotalPayment += calc.Payment
		for _, flag := range calc.Flags {
			result.Flags = appendUnique(result.Flags, flag)
		}
	}

	return &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{RVU: result},
		Evidence: []types.Evidence{{
			Rationale: fmt.Sprintf("value-unit calculation: total %.2f RVU, payment %.2f (contractor %s)",
				result.TotalRVU, result.TotalPayment, contractor),
			SourceAgent: a.Name(),
			Confidence:  1.0,
			Content: &types.EvidenceContent{
				Kind:      types.ContentRVUResult,
				RVUResult: result,
			},
		}},
	}, nil
}

// resolveLocality maps demographics through the crosswalk, falling back to
// the fixed default contractor.
func (a *RVUAgent) resolveLocality(ctx context.Context, actx *AgentContext) (locality, contractor, state string) {
	locality, contractor, state = defaultLocality, defaultContractorID, defaultState
	if actx.State.Demographics.State != "" {
		state = actx.State.Demographics.State
	}

	zip := actx.State.Demographics.ZIP
	if zip == "" {
		return locality, contractor, state
	}
	entry, err := actx.Services.RefData.LookupLocality(ctx, zip)
	if err != nil {
		actx.Logger.WithError(err).
			Warnf("locality crosswalk for zip %s failed, using default contractor", zip)
		return locality, contractor, state
	}
	if entry.State != "" {
		state = entry.State
	}
	return entry.Locality, entry.ContractorID, state
}

// loadGPCI returns the locality's adjustment factors, or neutral factors
// when the record is missing.
func (a *RVUAgent) loadGPCI(ctx context.Context, actx *AgentContext, locality string) refdata.GPCIRecord {
	rec, err := actx.Services.RefData.GetGPCI(ctx, locality)
	if err != nil {
		actx.Logger.WithError(err).
			Warnf("no GPCI record for locality %s, using neutral factors", locality)
		return refdata.GPCIRecord{Locality: locality, Work: 1.0, PracticeExpense: 1.0, Malpractice: 1.0}
	}
	return *rec
}

func (a *RVUAgent) calculate(ctx context.Context, actx *AgentContext, proc types.ProcedureCode, gpci refdata.GPCIRecord, conversionFactor float64) types.RVUCalculation {
	calc := types.RVUCalculation{
		ProcedureCode: proc.Code,
		WorkGPCI:      gpci.Work,
		PEGPCI:        gpci.PracticeExpense,
		MPGPCI:        gpci.Malpractice,
	}

	rec, err := actx.Services.RefData.GetRVURecord(ctx, proc.Code)
	if err != nil {
		// Missing base values yield a zero line, not a stage failure.
		actx.Logger.WithError(err).Warnf("no RVU record for %s", proc.Code)
		calc.Flags = append(calc.Flags, types.FlagHCPCSNotFound)
		return calc
	}

	calc.WorkRVU = rec.Work
	calc.PERVU = rec.PracticeExpense
	calc.MPRVU = rec.Malpractice
	calc.Total = rec.Work*gpci.Work + rec.PracticeExpense*gpci.PracticeExpense + rec.Malpractice*gpci.Malpractice

	for _, code := range a.modifiersFor(actx.State, proc.Code) {
		switch code {
		case "50":
			calc.Total *= 1.5
			calc.ModifierAdjustments = append(calc.ModifierAdjustments, "50: bilateral x1.5")
		case "63":
			calc.Total *= 1.25
			calc.ModifierAdjustments = append(calc.ModifierAdjustments, "63: infant x1.25")
		case "22":
			calc.Flags = append(calc.Flags, types.FlagManualReview)
			calc.ModifierAdjustments = append(calc.ModifierAdjustments, "22: flagged for manual review")
		}
	}

	calc.Payment = calc.Total * conversionFactor
	if calc.Total > a.cfg.HighRVUThreshold {
		calc.Flags = append(calc.Flags, types.FlagHighRVUValue)
	}
	return calc
}

// modifiersFor collects the final modifier codes recorded for a procedure.
func (a *RVUAgent) modifiersFor(s *types.WorkflowState, procedureCode string) []string {
	var out []string
	for _, m := range s.FinalModifiers {
		if m.HasCode() && m.LinkedProcedure == procedureCode {
			out = appendUnique(out, m.CodeValue())
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
