package agents

import "medcoder/internal/llm"

// SchemaCatalog renders the structured-output schema for every
// model-facing call, keyed by call name. Used by the schema-gen command
// for prompt inspection.
func SchemaCatalog() (map[string]string, error) {
	catalog := make(map[string]string)
	add := func(name string, schema string, err error) error {
		if err != nil {
			return err
		}
		catalog[name] = schema
		return nil
	}

	s, err := llm.SchemaFor[ProcedureExtractionResponse]()
	if err := add("procedure_extraction", s, err); err != nil {
		return nil, err
	}
	s, err = llm.SchemaFor[ProcedureSelectionResponse]()
	if err := add("procedure_selection", s, err); err != nil {
		return nil, err
	}
	s, err = llm.SchemaFor[DiagnosisSelectionResponse]()
	if err := add("diagnosis_selection", s, err); err != nil {
		return nil, err
	}
	s, err = llm.SchemaFor[Phase1Response]()
	if err := add("modifier_phase1", s, err); err != nil {
		return nil, err
	}
	s, err = llm.SchemaFor[Phase2Response]()
	if err := add("modifier_phase2", s, err); err != nil {
		return nil, err
	}
	return catalog, nil
}
