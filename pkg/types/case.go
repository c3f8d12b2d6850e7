package types

import "time"

// CaseMetadata identifies a case and its processing status.
type CaseMetadata struct {
	CaseID         string     `json:"case_id"`
	PatientID      string     `json:"patient_id"`
	ProviderID     string     `json:"provider_id"`
	DateOfService  time.Time  `json:"date_of_service"`
	PlaceOfService string     `json:"place_of_service,omitempty"`
	ClaimKind      ClaimKind  `json:"claim_kind"`
	Status         CaseStatus `json:"status"`
}

// Demographics carries patient, provider, facility, geographic, and
// coverage fields. All optional; agents must tolerate absence.
type Demographics struct {
	PatientName   string `json:"patient_name,omitempty"`
	PatientDOB    string `json:"patient_dob,omitempty"`
	PatientMRN    string `json:"patient_mrn,omitempty"`
	PatientGender string `json:"patient_gender,omitempty"`

	ProviderName string `json:"provider_name,omitempty"`
	ProviderNPI  string `json:"provider_npi,omitempty"`

	FacilityName string `json:"facility_name,omitempty"`
	FacilityID   string `json:"facility_id,omitempty"`

	State string `json:"state,omitempty"`
	ZIP   string `json:"zip,omitempty"`

	PayerName    string `json:"payer_name,omitempty"`
	MemberID     string `json:"member_id,omitempty"`
	GroupNumber  string `json:"group_number,omitempty"`
	CoverageKind string `json:"coverage_kind,omitempty"`
}

// AdditionalNote is a supplementary clinical note with its kind tag.
type AdditionalNote struct {
	Kind NoteKind `json:"kind"`
	Text string   `json:"text"`
}

// CaseNotes holds the primary note plus ordered additional notes.
type CaseNotes struct {
	Primary    string           `json:"primary"`
	Additional []AdditionalNote `json:"additional,omitempty"`
}

// FullText concatenates the primary and additional note texts in order.
// Evidence validation searches this concatenation.
func (n CaseNotes) FullText() string {
	text := n.Primary
	for _, a := range n.Additional {
		text += "\n" + a.Text
	}
	return text
}
