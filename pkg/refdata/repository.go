package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"medcoder/internal/utils"
)

// Repository gives the agents typed access to the reference store.
type Repository struct {
	store  Store
	logger utils.ExtendedLogger
}

// NewRepository wraps a store. Wrap the store in a CachedStore first when
// the repository backs a long-running process.
func NewRepository(store Store, logger utils.ExtendedLogger) *Repository {
	return &Repository{store: store, logger: logger}
}

// Store exposes the underlying byte store for raw lookups.
func (r *Repository) Store() Store { return r.store }

// GetProcedureRecord loads the procedure entry for a five-digit code.
func (r *Repository) GetProcedureRecord(ctx context.Context, code string) (*ProcedureRecord, error) {
	var rec ProcedureRecord
	if err := r.load(ctx, ProcedurePath(code), &rec); err != nil {
		return nil, err
	}
	if rec.Code == "" {
		rec.Code = code
	}
	return &rec, nil
}

// GetDiagnosisRecord loads the diagnosis entry for a full code string.
func (r *Repository) GetDiagnosisRecord(ctx context.Context, code string) (*DiagnosisRecord, error) {
	var rec DiagnosisRecord
	if err := r.load(ctx, DiagnosisPath(code), &rec); err != nil {
		return nil, err
	}
	if rec.Code == "" {
		rec.Code = code
	}
	return &rec, nil
}

// ListDiagnosesByPrefix loads every diagnosis record whose code starts with
// the prefix. Records that fail to parse are skipped with a warning.
func (r *Repository) ListDiagnosesByPrefix(ctx context.Context, prefix string) ([]DiagnosisRecord, error) {
	names, err := r.store.ListFilesByName(ctx, DiagnosesDir, prefix)
	if err != nil {
		return nil, err
	}
	records := make([]DiagnosisRecord, 0, len(names))
	for _, name := range names {
		code := strings.TrimSuffix(name, ".json")
		rec, err := r.GetDiagnosisRecord(ctx, code)
		if err != nil {
			r.logger.WithError(err).Warnf("skipping unreadable diagnosis record %s", name)
			continue
		}
		records = append(records, *rec)
	}
	return records, nil
}

// GetPTPEdits returns the pair-edit rows whose column-one code is the given
// procedure. A missing table means no edits.
func (r *Repository) GetPTPEdits(ctx context.Context, column1 string) ([]PTPEdit, error) {
	data, err := r.store.GetFileContent(ctx, PTPPath(column1))
	if err != nil {
		if IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	var edits []PTPEdit
	if err := json.Unmarshal(data, &edits); err != nil {
		return nil, fmt.Errorf("refdata: parse %s: %w", PTPPath(column1), err)
	}
	return edits, nil
}

// GetRVURecord loads the value-unit components for a procedure code.
func (r *Repository) GetRVURecord(ctx context.Context, code string) (*RVURecord, error) {
	var rec RVURecord
	if err := r.load(ctx, RVUPath(code), &rec); err != nil {
		return nil, err
	}
	if rec.Code == "" {
		rec.Code = code
	}
	return &rec, nil
}

// LookupLocality resolves a ZIP code through the locality crosswalk.
func (r *Repository) LookupLocality(ctx context.Context, zip string) (*CrosswalkEntry, error) {
	var entries []CrosswalkEntry
	if err := r.load(ctx, CrosswalkPath, &entries); err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].ZIP == zip {
			return &entries[i], nil
		}
	}
	return nil, fmt.Errorf("crosswalk entry for zip %s: %w", zip, ErrNotFound)
}

// GetGPCI loads the geographic indices for a locality.
func (r *Repository) GetGPCI(ctx context.Context, locality string) (*GPCIRecord, error) {
	var records []GPCIRecord
	if err := r.load(ctx, GPCIPath, &records); err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Locality == locality {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("gpci record for locality %s: %w", locality, ErrNotFound)
}

// GetVettedModifiers loads the practice's pre-approved modifier list.
func (r *Repository) GetVettedModifiers(ctx context.Context) ([]VettedModifier, error) {
	var mods []VettedModifier
	if err := r.load(ctx, VettedModifiersPath, &mods); err != nil {
		return nil, err
	}
	return mods, nil
}

// GetCoveragePolicy finds the coverage entry for a procedure code.
func (r *Repository) GetCoveragePolicy(ctx context.Context, procedureCode string) (*CoveragePolicy, error) {
	policies, err := r.GetCoveragePolicies(ctx)
	if err != nil {
		return nil, err
	}
	for i := range policies {
		if policies[i].ProcedureCode == procedureCode {
			return &policies[i], nil
		}
	}
	return nil, fmt.Errorf("coverage policy for %s: %w", procedureCode, ErrNotFound)
}

// GetCoveragePolicies loads the full coverage policy table.
func (r *Repository) GetCoveragePolicies(ctx context.Context) ([]CoveragePolicy, error) {
	var policies []CoveragePolicy
	if err := r.load(ctx, CoveragePoliciesPath, &policies); err != nil {
		return nil, err
	}
	return policies, nil
}

func (r *Repository) load(ctx context.Context, filePath string, target any) error {
	data, err := r.store.GetFileContent(ctx, filePath)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("refdata: parse %s: %w", filePath, err)
	}
	return nil
}

// IsNotFound reports whether the error marks a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
