package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/internal/llm"
	"medcoder/internal/llmtypes"
	"medcoder/pkg/backend"
	"medcoder/pkg/events"
	"medcoder/pkg/logger"
	"medcoder/pkg/orchestrator/agents"
	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
	"medcoder/pkg/vectorsearch"
)

const pipelineNote = `PREOPERATIVE DIAGNOSIS: Incarcerated incisional hernia.
PROCEDURE: Open repair of incarcerated incisional hernia with mesh placement.
Sharp debridement of the devitalized subcutaneous tissue at a separate site
was performed before closure. The patient tolerated the procedure well.`

// pipelineModel answers every stage prompt of one scripted hernia case.
type pipelineModel struct{}

func (m *pipelineModel) GenerateContent(_ context.Context, messages []llmtypes.Message, _ ...llmtypes.CallOption) (*llmtypes.ContentResponse, error) {
	prompt := messages[len(messages)-1].Content
	var payload any
	switch {
	case strings.Contains(prompt, "PHASE 1 MODIFIER ASSIGNMENT"):
		mod := "59"
		payload = agents.Phase1Response{Lines: []agents.Phase1Decision{
			{LineID: "49616-line-1", Modifier: nil, Rationale: "column-one code, no bypass needed"},
			{
				LineID:    "11042-line-1",
				Modifier:  &mod,
				Rationale: "debridement at a separate site",
				AppliesTo: "11042",
				EditType:  string(types.EditProcedurePair),
				Evidence:  []string{"debridement of the devitalized subcutaneous tissue at a separate site"},
			},
		}}
	case strings.Contains(prompt, "PHASE 2 MODIFIER ASSIGNMENT"):
		payload = agents.Phase2Response{}
	case strings.Contains(prompt, "DIAGNOSIS SELECTION"):
		payload = agents.DiagnosisSelectionResponse{SelectedDiagnoses: []agents.ProcedureDiagnosisSelection{
			{
				CPTCode: "49616",
				SelectedICDCodes: []agents.SelectedICDCode{{
					Code:        "K43.6",
					Description: "Incisional hernia with obstruction, incarcerated",
					Rationale:   "incarcerated incisional hernia documented",
					Evidence:    []string{"incarcerated incisional hernia"},
					Confidence:  "high",
				}},
			},
			{
				CPTCode: "11042",
				SelectedICDCodes: []agents.SelectedICDCode{{
					Code:        "L98.8",
					Description: "Other specified disorders of skin",
					Rationale:   "devitalized tissue requiring debridement",
					Confidence:  "medium",
				}},
			},
		}}
	case strings.Contains(prompt, "FINAL PROCEDURE SELECTION"):
		payload = agents.ProcedureSelectionResponse{Selections: []agents.SelectedProcedure{
			{
				Code:            "49616",
				ElementName:     "Incisional hernia repair with mesh",
				Units:           1,
				Evidence:        []string{"open repair of incarcerated incisional hernia"},
				LinkedDiagnoses: []string{"K43.6"},
				Rationale:       "incarcerated incisional hernia with mesh",
			},
			{
				Code:            "11042",
				ElementName:     "Debridement, subcutaneous tissue",
				Units:           1,
				Evidence:        []string{"sharp debridement of the devitalized subcutaneous tissue"},
				LinkedDiagnoses: []string{"L98.8"},
				Rationale:       "separate-site debridement",
			},
		}}
	case strings.Contains(prompt, "PROCEDURE EXTRACTION"):
		open := "open"
		payload = agents.ProcedureExtractionResponse{Procedures: []agents.ExtractedProcedure{
			{
				ID:             "P1",
				Approach:       &open,
				Anatomy:        []string{"incisional", "hernia"},
				Recurrence:     "false",
				Incarceration:  "true",
				Obstruction:    "unknown",
				Gangrene:       "false",
				MeshPlaced:     "true",
				EvidenceQuotes: []string{"open repair of incarcerated incisional hernia with mesh placement"},
				Units:          1,
			},
			{
				ID:             "P2",
				Anatomy:        []string{"subcutaneous", "tissue", "debridement"},
				Recurrence:     "false",
				Incarceration:  "false",
				Obstruction:    "false",
				Gangrene:       "false",
				MeshPlaced:     "false",
				EvidenceQuotes: []string{"sharp debridement of the devitalized subcutaneous tissue"},
				Units:          1,
			},
		}}
	default:
		return nil, fmt.Errorf("unexpected prompt: %.80s", prompt)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &llmtypes.ContentResponse{Choices: []*llmtypes.ContentChoice{{Content: string(data)}}}, nil
}

func pipelineServices(t *testing.T) agents.Services {
	t.Helper()

	mgr, err := backend.NewManager(
		backend.Endpoint{URL: "https://primary.openai.azure.com", APIKey: "test-key"},
		nil, logger.CreateTestLogger(), events.NewDispatcher())
	require.NoError(t, err)
	mgr.SetClientFactory(func(llm.EndpointConfig) (llmtypes.Model, error) {
		return &pipelineModel{}, nil
	})

	store := refdata.NewMemStore(logger.CreateTestLogger())
	limit := 1
	require.NoError(t, store.PutJSON(refdata.ProcedurePath("49616"), refdata.ProcedureRecord{
		Code:              "49616",
		Description:       "Repair of anterior abdominal hernia, incarcerated, with mesh",
		GlobalPeriod:      "090",
		AllowedModifiers:  []string{"22", "50", "59"},
		DiagnosisFamilies: []string{"K43"},
		UnitLimit:         &limit,
	}))
	require.NoError(t, store.PutJSON(refdata.ProcedurePath("11042"), refdata.ProcedureRecord{
		Code:             "11042",
		Description:      "Debridement, subcutaneous tissue, first 20 sq cm",
		AllowedModifiers: []string{"59", "XS", "25"},
	}))
	require.NoError(t, store.PutJSON(refdata.DiagnosisPath("K43.6"), refdata.DiagnosisRecord{
		Code: "K43.6", Description: "Incisional hernia with obstruction, incarcerated", Billable: true,
	}))
	require.NoError(t, store.PutJSON(refdata.DiagnosisPath("L98.8"), refdata.DiagnosisRecord{
		Code: "L98.8", Description: "Other specified disorders of skin", Billable: true,
	}))
	require.NoError(t, store.PutJSON(refdata.PTPPath("49616"), []refdata.PTPEdit{{
		Column1:           "49616",
		Column2:           "11042",
		ModifierIndicator: 1,
		EffectiveDate:     "2020-01-01",
	}}))
	require.NoError(t, store.PutJSON(refdata.VettedModifiersPath, []refdata.VettedModifier{
		{Code: "59", Description: "Distinct procedural service"},
		{Code: "25", Description: "Significant separate E/M"},
		{Code: "50", Description: "Bilateral procedure", Class: types.ModifierPricing},
		{Code: "22", Description: "Increased procedural services"},
	}))
	require.NoError(t, store.PutJSON(refdata.RVUPath("49616"), refdata.RVURecord{
		Code: "49616", Work: 10, PracticeExpense: 5, Malpractice: 1,
	}))
	require.NoError(t, store.PutJSON(refdata.RVUPath("11042"), refdata.RVURecord{
		Code: "11042", Work: 1, PracticeExpense: 0.5, Malpractice: 0.1,
	}))
	require.NoError(t, store.PutJSON(refdata.CoveragePoliciesPath, []refdata.CoveragePolicy{{
		ProcedureCode: "49616",
		PolicyID:      "L35015",
		Title:         "Hernia repair coverage",
		Covered:       true,
	}}))

	searcher := vectorsearch.NewStaticSearcher([]vectorsearch.Hit{
		{
			ParentID:  "49616",
			CodeTitle: "Repair of incisional hernia, incarcerated, with mesh",
			Chunk:     "open incisional hernia repair with mesh placement",
		},
		{
			ParentID:  "11042",
			CodeTitle: "Debridement, subcutaneous tissue",
			Chunk:     "sharp debridement of devitalized subcutaneous tissue",
		},
	})

	return agents.Services{
		Backend: mgr,
		RefData: refdata.NewRepository(store, logger.CreateTestLogger()),
		Vector:  searcher,
	}
}

func TestCodingPipelineEndToEnd(t *testing.T) {
	o := newTestOrchestrator(t, NewConfig().SetMaxConcurrentJobs(2).SetBackoffMs(1))
	require.NoError(t, RegisterCodingPipeline(o, agents.DefaultAgentConfig()))

	initial := types.NewWorkflowState(
		types.CaseMetadata{
			CaseID:        "case-e2e",
			ClaimKind:     types.ClaimPrimary,
			DateOfService: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
		},
		types.Demographics{State: "CA"},
		types.CaseNotes{Primary: pipelineNote},
	)

	final, err := o.Run(context.Background(), initial, pipelineServices(t))
	require.NoError(t, err)

	assert.Equal(t, types.CaseCompleted, final.CaseMeta.Status)
	assert.ElementsMatch(t, []string{
		types.StageProcedureCoding,
		types.StageDiagnosisCoding,
		types.StageCompliance,
		types.StageCoveragePolicy,
		types.StageModifierAssignment,
		types.StageValueUnits,
	}, final.CompletedSteps)

	// Procedures enriched from the reference store.
	require.Len(t, final.Procedures, 2)
	assert.Equal(t, "49616", final.Procedures[0].Code)
	assert.Equal(t, "090", final.Procedures[0].GlobalPeriod)

	// Diagnoses linked one procedure each.
	require.Len(t, final.Diagnoses, 2)
	assert.Equal(t, "49616", final.Diagnoses[0].LinkedProcedure)
	assert.Equal(t, "11042", final.Diagnoses[1].LinkedProcedure)

	// The pair edit fired during compliance and was resolved by the
	// phase-1 bypass modifier.
	require.NotNil(t, final.Compliance)
	require.Len(t, final.Compliance.PTPViolations, 1)
	assert.Equal(t, types.SeverityInfo, final.Compliance.PTPViolations[0].Severity)
	assert.Contains(t, final.Compliance.PTPViolations[0].Message, "PTP conflict resolved with modifier 59")

	require.Len(t, final.LineItems, 2)
	require.Len(t, final.FinalModifiers, 1)
	assert.Equal(t, "59", final.FinalModifiers[0].CodeValue())
	assert.Equal(t, "11042", final.FinalModifiers[0].LinkedProcedure)

	// Value units with neutral geography and the default conversion factor.
	require.NotNil(t, final.RVU)
	assert.Equal(t, "01112", final.RVU.ContractorID)
	assert.InDelta(t, 17.6, final.RVU.TotalRVU, 1e-9)

	// Coverage: one policy on file, one default-covered.
	require.NotNil(t, final.Coverage)
	assert.Len(t, final.Coverage.Decisions, 2)

	// Every stage left evidence behind.
	sources := make(map[string]bool)
	for _, ev := range final.Evidence {
		sources[ev.SourceAgent] = true
	}
	for _, agent := range []string{
		"procedure-code-agent", "diagnosis-code-agent", "compliance-agent",
		"coverage-policy-agent", "modifier-agent", "value-unit-agent",
	} {
		assert.True(t, sources[agent], agent)
	}
}
