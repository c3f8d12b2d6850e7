package agents

import (
	"context"
	"fmt"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

// CoverageAgent cross-references diagnosis-procedure combinations against
// the coverage-policy index. Structural contract only: it reads state and
// merges a coverage result; the policy content is opaque to the pipeline.
type CoverageAgent struct{}

// NewCoverageAgent builds the stage.
func NewCoverageAgent() *CoverageAgent {
	return &CoverageAgent{}
}

func (a *CoverageAgent) Name() string { return "coverage-policy-agent" }

func (a *CoverageAgent) Description() string {
	return "Cross-references diagnosis-procedure pairs against coverage policies"
}

func (a *CoverageAgent) RequiredServices() []string {
	return []string{ServiceRefData}
}

func (a *CoverageAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	result := &types.CoverageResult{Decisions: []types.CoverageDecision{}}

	for _, diag := range actx.State.Diagnoses {
		if diag.LinkedProcedure == "" {
			continue
		}
		policy, err := actx.Services.RefData.GetCoveragePolicy(ctx, diag.LinkedProcedure)
		if err != nil {
			if refdata.IsNotFound(err) {
				// No policy on file means no restriction to apply.
				result.Decisions = append(result.Decisions, types.CoverageDecision{
					ProcedureCode: diag.LinkedProcedure,
					DiagnosisCode: diag.Code,
					Covered:       true,
					Notes:         "no coverage policy on file",
				})
				continue
			}
			return nil, types.WrapProcessingError(a.Name(), types.KindExternalAPI, types.ErrorMedium,
				fmt.Sprintf("coverage lookup for %s failed", diag.LinkedProcedure), err)
		}
		result.Decisions = append(result.Decisions, types.CoverageDecision{
			ProcedureCode: diag.LinkedProcedure,
			DiagnosisCode: diag.Code,
			Covered:       policy.Covered,
			PolicyID:      policy.PolicyID,
			Notes:         policy.Title,
		})
	}

	covered := 0
	for _, d := range result.Decisions {
		if d.Covered {
			covered++
		}
	}
	result.Summary = fmt.Sprintf("%d/%d combinations covered", covered, len(result.Decisions))

	return &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{Coverage: result},
		Evidence: []types.Evidence{{
			Rationale:   "coverage policy review: " + result.Summary,
			SourceAgent: a.Name(),
			Confidence:  1.0,
		}},
	}, nil
}
