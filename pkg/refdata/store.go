// Package refdata reads the reference-data repository: procedure and
// diagnosis records, procedure-pair edit tables, locality factors, vetted
// modifiers and coverage policies, addressed by stable paths.
package refdata

import (
	"context"
	"errors"
	"path"
)

// ErrNotFound marks a missing record. Callers decide severity; a single
// missing record is usually recoverable within the stage.
var ErrNotFound = errors.New("refdata: record not found")

// Store is the byte-level reference-store contract.
type Store interface {
	// FileExists reports whether the path resolves to a record.
	FileExists(ctx context.Context, filePath string) (bool, error)
	// GetFileContent returns the record bytes, or an error wrapping
	// ErrNotFound when the path does not resolve.
	GetFileContent(ctx context.Context, filePath string) ([]byte, error)
	// ListFilesByName returns the basenames under dir that start with
	// prefix, sorted. A missing directory lists empty.
	ListFilesByName(ctx context.Context, dir, prefix string) ([]string, error)
}

// Repository layout. Records are JSON files keyed by code.
const (
	ProceduresDir = "procedures"
	DiagnosesDir  = "diagnoses"
	PTPDir        = "ptp"
	RVUDir        = "rvu"

	CrosswalkPath        = "localities/crosswalk.json"
	GPCIPath             = "localities/gpci.json"
	VettedModifiersPath  = "modifiers/vetted.json"
	CoveragePoliciesPath = "coverage/policies.json"
)

// ProcedurePath resolves a five-digit procedure code to its record path.
func ProcedurePath(code string) string {
	return path.Join(ProceduresDir, code+".json")
}

// DiagnosisPath resolves a diagnosis code string to its record path.
func DiagnosisPath(code string) string {
	return path.Join(DiagnosesDir, code+".json")
}

// PTPPath resolves a column-one procedure code to its pair-edit table.
func PTPPath(column1 string) string {
	return path.Join(PTPDir, column1+".json")
}

// RVUPath resolves a procedure code to its value-unit record.
func RVUPath(code string) string {
	return path.Join(RVUDir, code+".json")
}
