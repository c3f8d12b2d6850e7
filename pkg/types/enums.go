package types

// ClaimKind identifies the claim position in the billing sequence.
type ClaimKind string

const (
	ClaimPrimary   ClaimKind = "primary"
	ClaimSecondary ClaimKind = "secondary"
	ClaimTertiary  ClaimKind = "tertiary"
)

// Sequence returns the numeric claim position (1 = primary).
func (k ClaimKind) Sequence() int {
	switch k {
	case ClaimSecondary:
		return 2
	case ClaimTertiary:
		return 3
	default:
		return 1
	}
}

// CaseStatus is the processing status of a case.
type CaseStatus string

const (
	CasePending    CaseStatus = "pending"
	CaseProcessing CaseStatus = "processing"
	CaseCompleted  CaseStatus = "completed"
	CaseError      CaseStatus = "error"
)

// NoteKind tags an additional clinical note.
type NoteKind string

const (
	NoteOperative NoteKind = "operative"
	NoteAdmission NoteKind = "admission"
	NoteDischarge NoteKind = "discharge"
	NotePathology NoteKind = "pathology"
	NoteProgress  NoteKind = "progress"
	NoteBedside   NoteKind = "bedside"
)

// Severity grades compliance flags and violations.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// ModifierClass classifies a modifier's billing effect.
type ModifierClass string

const (
	ModifierPricing       ModifierClass = "pricing"
	ModifierPayment       ModifierClass = "payment"
	ModifierLocation      ModifierClass = "location"
	ModifierInformational ModifierClass = "informational"
)

// EditType names the policy edit a modifier decision addresses.
type EditType string

const (
	EditProcedurePair EditType = "procedure-pair"
	EditUnitLimit     EditType = "unit-limit"
	EditNone          EditType = "none"
)

// MAI is the medically-unlikely-edit adjudication indicator: how a unit
// limit is enforced. 1 allows a documented split across lines, 2 is an
// absolute per-date limit, 3 auto-denies overage.
type MAI int

const (
	MAILineSplit  MAI = 1
	MAIAbsolute   MAI = 2
	MAIAutoDenied MAI = 3
)

// Stage names. The orchestrator registry, backend assignment table, and
// history entries all key on these.
const (
	StageProcedureCoding    = "procedure_coding"
	StageDiagnosisCoding    = "diagnosis_coding"
	StageCompliance         = "compliance_validation"
	StageCoveragePolicy     = "coverage_policy"
	StageModifierAssignment = "modifier_assignment"
	StageValueUnits         = "value_units"
)

// Place-of-service codes that count as a hospital setting.
var hospitalPOS = map[string]bool{"21": true, "22": true, "23": true}

// ServiceSetting distinguishes hospital from practitioner billing rules.
type ServiceSetting string

const (
	SettingHospital     ServiceSetting = "hospital"
	SettingPractitioner ServiceSetting = "practitioner"
)

// SettingForPOS maps a place-of-service code to its billing setting.
func SettingForPOS(pos string) ServiceSetting {
	if hospitalPOS[pos] {
		return SettingHospital
	}
	return SettingPractitioner
}
