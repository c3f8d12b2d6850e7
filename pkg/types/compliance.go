package types

// ComplianceStatus is the overall outcome of compliance validation.
type ComplianceStatus string

const (
	CompliancePass ComplianceStatus = "PASS"
	ComplianceFail ComplianceStatus = "FAIL"
)

// PTPViolation is an active procedure-pair edit hit. Severity starts at
// error and is downgraded to info when a permitted bypass modifier is
// recorded on the relevant line item.
type PTPViolation struct {
	Column1Code       string   `json:"column1_code"`
	Column2Code       string   `json:"column2_code"`
	ModifierIndicator string   `json:"modifier_indicator"`
	Severity          Severity `json:"severity"`
	Message           string   `json:"message"`
}

// MUEViolation records units exceeding the per-date unit limit.
type MUEViolation struct {
	Code      string   `json:"code"`
	Units     int      `json:"units"`
	UnitLimit int      `json:"unit_limit"`
	MAI       MAI      `json:"mai"`
	Severity  Severity `json:"severity"`
	Message   string   `json:"message"`
}

// GlobalPeriodViolation is an advisory hit for procedures carrying a 10-
// or 90-day global period.
type GlobalPeriodViolation struct {
	Code         string   `json:"code"`
	GlobalPeriod string   `json:"global_period"`
	Severity     Severity `json:"severity"`
	Message      string   `json:"message"`
}

// RVUViolation flags an unlisted code with no value units on record.
type RVUViolation struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// ComplianceSummary aggregates violation counters.
type ComplianceSummary struct {
	Total    int              `json:"total"`
	Errors   int              `json:"errors"`
	Warnings int              `json:"warnings"`
	Infos    int              `json:"infos"`
	Status   ComplianceStatus `json:"status"`
}

// ComplianceMetadata records the rule-set provenance and timing of a run.
type ComplianceMetadata struct {
	PTPRuleVersion string         `json:"ptp_rule_version,omitempty"`
	MUERuleVersion string         `json:"mue_rule_version,omitempty"`
	ServiceSetting ServiceSetting `json:"service_setting,omitempty"`
	DurationMs     int64          `json:"duration_ms"`
}

// ComplianceResult is the structured output of compliance validation.
type ComplianceResult struct {
	PTPViolations          []PTPViolation          `json:"ptp_violations"`
	MUEViolations          []MUEViolation          `json:"mue_violations"`
	GlobalPeriodViolations []GlobalPeriodViolation `json:"global_period_violations"`
	RVUViolations          []RVUViolation          `json:"rvu_violations"`
	Summary                ComplianceSummary       `json:"summary"`
	Metadata               ComplianceMetadata      `json:"metadata"`
}

// Recount recomputes the summary counters from the violation lists.
// Status is PASS iff no violations are recorded at all.
func (c *ComplianceResult) Recount() {
	s := ComplianceSummary{}
	count := func(sev Severity) {
		s.Total++
		switch sev {
		case SeverityError:
			s.Errors++
		case SeverityWarning:
			s.Warnings++
		case SeverityInfo:
			s.Infos++
		}
	}
	for _, v := range c.PTPViolations {
		count(v.Severity)
	}
	for _, v := range c.MUEViolations {
		count(v.Severity)
	}
	for _, v := range c.GlobalPeriodViolations {
		count(v.Severity)
	}
	for _, v := range c.RVUViolations {
		count(v.Severity)
	}
	if s.Total == 0 {
		s.Status = CompliancePass
	} else {
		s.Status = ComplianceFail
	}
	c.Summary = s
}

// Clone returns a deep copy.
func (c *ComplianceResult) Clone() *ComplianceResult {
	if c == nil {
		return nil
	}
	out := *c
	out.PTPViolations = append([]PTPViolation(nil), c.PTPViolations...)
	out.MUEViolations = append([]MUEViolation(nil), c.MUEViolations...)
	out.GlobalPeriodViolations = append([]GlobalPeriodViolation(nil), c.GlobalPeriodViolations...)
	out.RVUViolations = append([]RVUViolation(nil), c.RVUViolations...)
	return &out
}
