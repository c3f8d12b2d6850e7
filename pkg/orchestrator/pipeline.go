package orchestrator

import (
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/types"
)

// Stage timeouts in milliseconds. The model-facing stages get more
// headroom than the pure lookup stages.
const (
	timeoutModelStage  = 90000
	timeoutLookupStage = 30000
)

// RegisterCodingPipeline registers the six coding stages with their
// dependency edges and priorities. Priorities favour the critical path
// (procedure coding feeds everything); the coverage stage is optional and
// never blocks the claim.
func RegisterCodingPipeline(o *Orchestrator, cfg agents.AgentConfig) error {
	regs := []struct {
		stage    string
		agent    agents.Agent
		deps     []string
		priority int
		timeout  int
		optional bool
	}{
		{types.StageProcedureCoding, agents.NewProcedureAgent(cfg), nil, 10, timeoutModelStage, false},
		{types.StageDiagnosisCoding, agents.NewDiagnosisAgent(cfg), []string{types.StageProcedureCoding}, 8, timeoutModelStage, false},
		{types.StageCompliance, agents.NewComplianceAgent(), []string{types.StageProcedureCoding}, 7, timeoutLookupStage, false},
		{types.StageCoveragePolicy, agents.NewCoverageAgent(), []string{types.StageDiagnosisCoding}, 4, timeoutLookupStage, true},
		{types.StageModifierAssignment, agents.NewModifierAgent(cfg), []string{types.StageDiagnosisCoding, types.StageCompliance}, 6, timeoutModelStage, false},
		{types.StageValueUnits, agents.NewRVUAgent(cfg), []string{types.StageModifierAssignment}, 5, timeoutLookupStage, false},
	}
	for _, r := range regs {
		if err := o.Register(r.stage, r.agent, r.deps, r.priority, r.timeout, r.optional); err != nil {
			return err
		}
	}
	return nil
}
