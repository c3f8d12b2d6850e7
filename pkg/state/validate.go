package state

import (
	"fmt"

	"medcoder/pkg/types"
)

// Validate checks the structural invariants of a final state. It returns
// one error per violation; an empty slice means the state is consistent.
func Validate(s *types.WorkflowState) []error {
	var errs []error

	codes := make(map[string]bool, len(s.Procedures))
	for _, p := range s.Procedures {
		codes[p.Code] = true
	}

	for _, d := range s.Diagnoses {
		if d.LinkedProcedure != "" && !codes[d.LinkedProcedure] {
			errs = append(errs, fmt.Errorf("diagnosis %s links missing procedure %s", d.Code, d.LinkedProcedure))
		}
	}

	for _, m := range s.FinalModifiers {
		if m.LinkedProcedure != "" && !codes[m.LinkedProcedure] {
			errs = append(errs, fmt.Errorf("modifier %s links missing procedure %s", m.CodeValue(), m.LinkedProcedure))
		}
	}

	for _, e := range s.Evidence {
		if e.Confidence < 0 || e.Confidence > 1 {
			errs = append(errs, fmt.Errorf("evidence from %s has confidence %f outside [0,1]", e.SourceAgent, e.Confidence))
		}
	}

	// After compliance processing, MAI 2/3 line items never exceed the
	// procedure's unit limit.
	for _, li := range s.LineItems {
		p := s.FindProcedure(li.ProcedureCode)
		if p == nil || p.UnitLimit == nil || p.UnitLimitIndicator == nil {
			continue
		}
		if *p.UnitLimitIndicator == types.MAIAbsolute || *p.UnitLimitIndicator == types.MAIAutoDenied {
			if li.Units > *p.UnitLimit {
				errs = append(errs, fmt.Errorf("line %s carries %d units above MAI-%d limit %d",
					li.LineID, li.Units, *p.UnitLimitIndicator, *p.UnitLimit))
			}
		}
	}

	for i := 1; i < len(s.History); i++ {
		if s.History[i].Timestamp.Before(s.History[i-1].Timestamp) {
			errs = append(errs, fmt.Errorf("history entry %d timestamp regressed", i))
		}
	}

	return errs
}
