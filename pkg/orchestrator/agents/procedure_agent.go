package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"medcoder/internal/llm"
	"medcoder/pkg/orchestrator/agents/prompts"
	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

// Unlisted procedure codes, sorted. Selection prompts show each candidate
// its nearest unlisted neighbours so the model can fall back when no
// listed code fits.
var unlistedProcedureCodes = []string{
	"15999", "17999", "19499", "20999", "21899", "22899", "22999",
	"23929", "24999", "25999", "26989", "27299", "27599", "27899",
	"28899", "29799", "29999", "30999", "31899", "32999", "33999",
	"36299", "37799", "38999", "39499", "39599", "40799", "40899",
	"41599", "41899", "42299", "42699", "42999", "43289", "43499",
	"43659", "43999", "44238", "44799", "44899", "44979", "45399",
	"45499", "45999", "46999", "47379", "47399", "47579", "47999",
	"48999", "49329", "49429", "49659", "49999", "50549", "50949",
	"51999", "53899", "54699", "55559", "55899", "58578", "58579",
	"58679", "58999", "59897", "59898", "59899", "60659", "60699",
	"64999", "66999", "67299", "67399", "67599", "67999", "68399",
	"68899", "69399", "69799", "69949", "69979",
}

// ExtractedProcedure is the schema for one procedure found in the notes.
// Flags are "true", "false", or "unknown"; absent details stay null.
type ExtractedProcedure struct {
	ID              string   `json:"id"`
	Approach        *string  `json:"approach"`
	Anatomy         []string `json:"anatomy"`
	Laterality      *string  `json:"laterality"`
	Recurrence      string   `json:"recurrence"`
	Incarceration   string   `json:"incarceration"`
	Obstruction     string   `json:"obstruction"`
	Gangrene        string   `json:"gangrene"`
	MeshPlaced      string   `json:"meshPlaced"`
	DefectSize      *string  `json:"defectSize"`
	ConcurrentWith  []string `json:"concurrentWith"`
	AssistantRole   *string  `json:"assistantRole"`
	EvidenceQuotes  []string `json:"evidenceQuotes"`
	Units           int      `json:"units"`
}

// ProcedureExtractionResponse is the extraction call schema.
type ProcedureExtractionResponse struct {
	Procedures []ExtractedProcedure `json:"procedures"`
}

// SelectedProcedure is the schema for one final code choice.
type SelectedProcedure struct {
	Code                string   `json:"code"`
	ElementName         string   `json:"elementName"`
	Units               int      `json:"units"`
	Evidence            []string `json:"evidence"`
	LinkedDiagnoses     []string `json:"linkedDiagnoses"`
	Rationale           string   `json:"rationale"`
	ModifierExplanation string   `json:"modifierExplanation,omitempty"`
}

// ProcedureSelectionResponse is the final-selection call schema.
type ProcedureSelectionResponse struct {
	Selections []SelectedProcedure `json:"selections"`
}

// ProcedureAgent extracts procedures from the notes, retrieves candidate
// codes, has the model pick the final set, and enriches each selection
// from the reference store.
type ProcedureAgent struct {
	cfg AgentConfig
}

// NewProcedureAgent builds the stage with defaults filled in.
func NewProcedureAgent(cfg AgentConfig) *ProcedureAgent {
	return &ProcedureAgent{cfg: cfg.withDefaults()}
}

func (a *ProcedureAgent) Name() string { return "procedure-code-agent" }

func (a *ProcedureAgent) Description() string {
	return "Selects final procedure codes with units, evidence, and diagnosis hints from the case notes"
}

func (a *ProcedureAgent) RequiredServices() []string {
	return []string{ServiceBackend, ServiceRefData, ServiceVectorSearch}
}

func (a *ProcedureAgent) Execute(ctx context.Context, actx *AgentContext) (*types.AgentResult, error) {
	extraction, err := askStructured[ProcedureExtractionResponse](ctx, actx,
		prompts.ProcedureExtractionSystem(),
		prompts.ProcedureExtraction(actx.State.Notes))
	if err != nil {
		return nil, err
	}
	if len(extraction.Procedures) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorMedium,
			"no procedures found in case notes", types.ErrEmptySelection)
	}
	actx.Logger.WithField("case_id", actx.CaseID).
		Infof("extracted %d procedures from notes", len(extraction.Procedures))

	candidates, err := a.retrieveCandidates(ctx, actx, extraction.Procedures)
	if err != nil {
		return nil, err
	}

	extractedJSON, _ := json.MarshalIndent(extraction.Procedures, "", "  ")
	selectionPrompt := prompts.ProcedureSelection(string(extractedJSON), candidates)
	counter := llm.NewTokenCounter()
	selectionPrompt = counter.TruncateToBudget(selectionPrompt, a.cfg.CandidateTokenBudget)

	selection, err := askStructured[ProcedureSelectionResponse](ctx, actx,
		prompts.ProcedureSelectionSystem(), selectionPrompt)
	if err != nil {
		return nil, err
	}
	if len(selection.Selections) == 0 {
		return nil, types.WrapProcessingError(a.Name(), types.KindValidation, types.ErrorMedium,
			"final selection is empty", types.ErrEmptySelection)
	}

	result := &types.AgentResult{
		Success: true,
		Data:    &types.AgentData{},
	}

	procedures := make([]types.ProcedureCode, 0, len(selection.Selections))
	for _, sel := range selection.Selections {
		proc := a.enrich(ctx, actx, sel, result)
		procedures = append(procedures, proc)

		result.Evidence = append(result.Evidence, types.Evidence{
			Quotes:      sel.Evidence,
			Rationale:   sel.Rationale,
			SourceAgent: a.Name(),
			Confidence:  0.9,
		})
	}
	result.Data.Procedures = procedures
	return result, nil
}

// retrieveCandidates runs one vector search per extracted procedure and
// decorates each hit with its nearest unlisted-code neighbours.
func (a *ProcedureAgent) retrieveCandidates(ctx context.Context, actx *AgentContext, extracted []ExtractedProcedure) (map[string][]prompts.CandidateCode, error) {
	out := make(map[string][]prompts.CandidateCode, len(extracted))
	for _, proc := range extracted {
		query := buildCandidateQuery(proc)
		hits, err := actx.Services.Vector.Search(ctx, query, a.cfg.CandidateTopK)
		if err != nil {
			return nil, types.WrapProcessingError(a.Name(), types.KindExternalAPI, types.ErrorMedium,
				fmt.Sprintf("candidate retrieval for %s failed", proc.ID), err)
		}
		list := make([]prompts.CandidateCode, 0, len(hits))
		for _, hit := range hits {
			below, above := nearestUnlisted(hit.ParentID)
			list = append(list, prompts.CandidateCode{
				Code:              hit.ParentID,
				OfficialTitle:     hit.CodeTitle,
				CommonDescription: hit.Chunk,
				UnlistedBelow:     below,
				UnlistedAbove:     above,
			})
		}
		out[proc.ID] = list
		actx.Logger.Debugf("procedure %s: %d candidates for query %q", proc.ID, len(list), query)
	}
	return out, nil
}

// enrich attaches the reference-store record to a selection. A missing
// record keeps the code with default metadata and records a medium error.
func (a *ProcedureAgent) enrich(ctx context.Context, actx *AgentContext, sel SelectedProcedure, result *types.AgentResult) types.ProcedureCode {
	units := sel.Units
	if units <= 0 {
		units = 1
	}

	rec, err := actx.Services.RefData.GetProcedureRecord(ctx, sel.Code)
	if err != nil {
		actx.Logger.WithError(err).
			Warnf("enrichment for code %s failed, keeping defaults", sel.Code)
		result.Errors = append(result.Errors, *types.WrapProcessingError(a.Name(),
			types.KindNotFound, types.ErrorMedium,
			fmt.Sprintf("reference record for %s unavailable", sel.Code), err))
		return types.ProcedureCode{
			Code:           sel.Code,
			Description:    sel.ElementName,
			Units:          units,
			DiagnosisHints: sel.LinkedDiagnoses,
		}
	}

	proc := rec.ToProcedureCode(units)
	if proc.Description == "" {
		proc.Description = sel.ElementName
	}
	proc.DiagnosisHints = sel.LinkedDiagnoses
	return proc
}

// buildCandidateQuery turns the structured extraction plus its verbatim
// snippets into a retrieval query.
func buildCandidateQuery(p ExtractedProcedure) string {
	var parts []string
	if p.Approach != nil && *p.Approach != "" {
		parts = append(parts, *p.Approach)
	}
	parts = append(parts, p.Anatomy...)
	if p.Laterality != nil && *p.Laterality != "" {
		parts = append(parts, *p.Laterality)
	}
	flags := []struct{ value, label string }{
		{p.Recurrence, "recurrent"},
		{p.Incarceration, "incarcerated"},
		{p.Obstruction, "obstructed"},
		{p.Gangrene, "gangrenous"},
		{p.MeshPlaced, "mesh"},
	}
	for _, f := range flags {
		if f.value == "true" {
			parts = append(parts, f.label)
		}
	}
	if p.DefectSize != nil && *p.DefectSize != "" {
		parts = append(parts, *p.DefectSize)
	}
	parts = append(parts, p.EvidenceQuotes...)
	return strings.Join(parts, " ")
}

// nearestUnlisted returns the closest unlisted codes numerically below and
// above the candidate. Non-numeric codes get no neighbours.
func nearestUnlisted(code string) (below, above string) {
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", ""
	}
	idx := sort.Search(len(unlistedProcedureCodes), func(i int) bool {
		v, _ := strconv.Atoi(unlistedProcedureCodes[i])
		return v >= n
	})
	if idx > 0 {
		below = unlistedProcedureCodes[idx-1]
	}
	if idx < len(unlistedProcedureCodes) {
		above = unlistedProcedureCodes[idx]
	}
	return below, above
}
