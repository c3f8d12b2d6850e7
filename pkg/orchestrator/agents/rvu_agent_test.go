package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

func runRVU(t *testing.T, cfg AgentConfig, state *types.WorkflowState, seed func(store *refdata.FSStore)) *types.RVUResult {
	t.Helper()
	services := Services{RefData: newTestRepo(t, seed)}
	actx := newTestContext(types.StageValueUnits, state, services)
	result, err := ExecuteWithValidation(context.Background(), NewRVUAgent(cfg), actx)
	require.NoError(t, err)
	require.NotNil(t, result.Data.RVU)
	return result.Data.RVU
}

func TestRVUAgentAppliesGeographicAdjustment(t *testing.T) {
	state := newTestState(herniaNote)
	state.Demographics.ZIP = "94110"
	state.Procedures = []types.ProcedureCode{{Code: "49616", Units: 1}}

	rvu := runRVU(t, AgentConfig{ConversionFactor: 2.0}, state, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.CrosswalkPath, []refdata.CrosswalkEntry{
			{ZIP: "94110", Locality: "05", ContractorID: "01182", State: "CA"},
		}))
		require.NoError(t, store.PutJSON(refdata.GPCIPath, []refdata.GPCIRecord{
			{Locality: "05", State: "CA", Work: 1.1, PracticeExpense: 1.2, Malpractice: 0.8},
		}))
		require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
			Code: "49616", Work: 10, PracticeExpense: 5, Malpractice: 1,
		}))
	})

	assert.Equal(t, "01182", rvu.ContractorID)
	assert.Equal(t, "CA", rvu.State)
	require.Len(t, rvu.Calculations, 1)

	calc := rvu.Calculations[0]
	// 10*1.1 + 5*1.2 + 1*0.8
	assert.InDelta(t, 17.8, calc.Total, 1e-9)
	assert.InDelta(t, 35.6, calc.Payment, 1e-9)
	assert.InDelta(t, 17.8, rvu.TotalRVU, 1e-9)
	assert.Empty(t, calc.Flags)
}

func TestRVUAgentFallsBackToDefaultContractor(t *testing.T) {
	state := newTestState(herniaNote)
	state.Procedures = []types.ProcedureCode{{Code: "49616", Units: 1}}

	rvu := runRVU(t, AgentConfig{}, state, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
			Code: "49616", Work: 4, PracticeExpense: 1, Malpractice: 1,
		}))
	})

	// No ZIP: default contractor, demographics state, neutral factors.
	assert.Equal(t, "01112", rvu.ContractorID)
	assert.Equal(t, "CA", rvu.State)
	require.Len(t, rvu.Calculations, 1)
	assert.InDelta(t, 6.0, rvu.Calculations[0].Total, 1e-9)
	// Default conversion factor keeps payment in RVU terms.
	assert.InDelta(t, 6.0, rvu.Calculations[0].Payment, 1e-9)
}

func TestRVUAgentAppliesModifierAdjustments(t *testing.T) {
	state := newTestState(herniaNote)
	state.Procedures = []types.ProcedureCode{{Code: "49616", Units: 1}}
	fifty, twentyTwo := "50", "22"
	state.FinalModifiers = []types.Modifier{
		{Code: &fifty, LinkedProcedure: "49616"},
		{Code: &twentyTwo, LinkedProcedure: "49616"},
	}

	rvu := runRVU(t, AgentConfig{}, state, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
			Code: "49616", Work: 4, PracticeExpense: 1, Malpractice: 1,
		}))
	})

	require.Len(t, rvu.Calculations, 1)
	calc := rvu.Calculations[0]
	assert.InDelta(t, 9.0, calc.Total, 1e-9)
	assert.Contains(t, calc.ModifierAdjustments, "50: bilateral x1.5")
	assert.Contains(t, calc.ModifierAdjustments, "22: flagged for manual review")
	assert.Contains(t, calc.Flags, types.FlagManualReview)
	assert.Contains(t, rvu.Flags, types.FlagManualReview)
}

func TestRVUAgentFlagsHighValueTotals(t *testing.T) {
	state := newTestState(herniaNote)
	state.Procedures = []types.ProcedureCode{{Code: "49616", Units: 1}}

	rvu := runRVU(t, AgentConfig{}, state, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
			Code: "49616", Work: 18, PracticeExpense: 6, Malpractice: 1,
		}))
	})

	require.Len(t, rvu.Calculations, 1)
	assert.Contains(t, rvu.Calculations[0].Flags, types.FlagHighRVUValue)
}

func TestRVUAgentMissingRecordYieldsZeroLine(t *testing.T) {
	state := newTestState(herniaNote)
	state.Procedures = []types.ProcedureCode{
		{Code: "49616", Units: 1},
		{Code: "49999", Units: 1},
	}

	rvu := runRVU(t, AgentConfig{}, state, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
			Code: "49616", Work: 4, PracticeExpense: 1, Malpractice: 1,
		}))
	})

	require.Len(t, rvu.Calculations, 2)
	missing := rvu.Calculations[1]
	assert.Equal(t, "49999", missing.ProcedureCode)
	assert.Zero(t, missing.Total)
	assert.Zero(t, missing.Payment)
	assert.Contains(t, missing.Flags, types.FlagHCPCSNotFound)
	assert.InDelta(t, 6.0, rvu.TotalRVU, 1e-9)
}

func TestRVUAgentRequiresProcedures(t *testing.T) {
	state := newTestState(herniaNote)
	services := Services{RefData: newTestRepo(t, nil)}
	actx := newTestContext(types.StageValueUnits, state, services)

	_, err := ExecuteWithValidation(context.Background(), NewRVUAgent(AgentConfig{}), actx)
	require.Error(t, err)
	assert.True(t, types.IsCritical(err))
	assert.ErrorIs(t, err, types.ErrNoProcedures)
}
