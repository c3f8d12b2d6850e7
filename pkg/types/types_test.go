package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingForPOS(t *testing.T) {
	tests := []struct {
		pos  string
		want ServiceSetting
	}{
		{"21", SettingHospital},
		{"22", SettingHospital},
		{"23", SettingHospital},
		{"11", SettingPractitioner},
		{"", SettingPractitioner},
	}
	for _, tt := range tests {
		if got := SettingForPOS(tt.pos); got != tt.want {
			t.Errorf("SettingForPOS(%q) = %v, want %v", tt.pos, got, tt.want)
		}
	}
}

func TestClaimKindSequence(t *testing.T) {
	tests := []struct {
		kind ClaimKind
		want int
	}{
		{ClaimPrimary, 1},
		{ClaimSecondary, 2},
		{ClaimTertiary, 3},
		{ClaimKind(""), 1},
	}
	for _, tt := range tests {
		if got := tt.kind.Sequence(); got != tt.want {
			t.Errorf("Sequence(%q) = %d, want %d", tt.kind, got, tt.want)
		}
	}
}

func TestClampConfidence(t *testing.T) {
	e := Evidence{Confidence: 1.4}
	e.ClampConfidence()
	assert.Equal(t, 1.0, e.Confidence)

	e.Confidence = -0.2
	e.ClampConfidence()
	assert.Equal(t, 0.0, e.Confidence)

	e.Confidence = 0.7
	e.ClampConfidence()
	assert.Equal(t, 0.7, e.Confidence)
}

func TestComplianceRecount(t *testing.T) {
	cr := &ComplianceResult{
		PTPViolations: []PTPViolation{
			{Severity: SeverityError},
			{Severity: SeverityInfo},
		},
		MUEViolations: []MUEViolation{
			{Severity: SeverityError},
		},
		GlobalPeriodViolations: []GlobalPeriodViolation{
			{Severity: SeverityWarning},
		},
	}
	cr.Recount()
	assert.Equal(t, 4, cr.Summary.Total)
	assert.Equal(t, 2, cr.Summary.Errors)
	assert.Equal(t, 1, cr.Summary.Warnings)
	assert.Equal(t, 1, cr.Summary.Infos)
	assert.Equal(t, ComplianceFail, cr.Summary.Status)

	empty := &ComplianceResult{}
	empty.Recount()
	assert.Equal(t, CompliancePass, empty.Summary.Status)
}

func TestWorkflowStateCloneIsIndependent(t *testing.T) {
	limit := 2
	mai := MAIAbsolute
	state := NewWorkflowState(
		CaseMetadata{CaseID: "case-1", ClaimKind: ClaimPrimary, DateOfService: time.Now().UTC()},
		Demographics{State: "TX"},
		CaseNotes{Primary: "operative findings"},
	)
	state.Procedures = []ProcedureCode{{
		Code:               "49616",
		Units:              1,
		UnitLimit:          &limit,
		UnitLimitIndicator: &mai,
		AllowedModifiers:   []string{"59"},
		DiagnosisHints:     []string{"K43.0"},
	}}
	state.Compliance = &ComplianceResult{
		PTPViolations: []PTPViolation{{Column1Code: "49616", Severity: SeverityError}},
	}
	state.Evidence = []Evidence{{
		Quotes:      []string{"incarcerated recurrent"},
		SourceAgent: StageProcedureCoding,
		Confidence:  0.9,
	}}

	clone := state.Clone()
	require.NotNil(t, clone)

	clone.Procedures[0].Code = "11111"
	*clone.Procedures[0].UnitLimit = 99
	clone.Procedures[0].AllowedModifiers[0] = "XX"
	clone.Compliance.PTPViolations[0].Severity = SeverityInfo
	clone.Evidence[0].Quotes[0] = "mutated"
	clone.CompletedSteps = append(clone.CompletedSteps, StageProcedureCoding)

	assert.Equal(t, "49616", state.Procedures[0].Code)
	assert.Equal(t, 2, *state.Procedures[0].UnitLimit)
	assert.Equal(t, "59", state.Procedures[0].AllowedModifiers[0])
	assert.Equal(t, SeverityError, state.Compliance.PTPViolations[0].Severity)
	assert.Equal(t, "incarcerated recurrent", state.Evidence[0].Quotes[0])
	assert.Empty(t, state.CompletedSteps)
}

func TestProcessingErrorUnwrap(t *testing.T) {
	cause := ErrSchemaValidation
	pe := WrapProcessingError("procedure_coding", KindValidation, ErrorCritical, "bad shape", cause)
	assert.ErrorIs(t, pe, ErrSchemaValidation)
	assert.True(t, IsCritical(pe))
	assert.False(t, IsRetryable(pe))

	transient := NewProcessingError("modifier_assignment", KindExternalAPI, ErrorMedium, "rate limited")
	assert.True(t, IsRetryable(transient))
}
