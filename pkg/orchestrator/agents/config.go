package agents

// AgentConfig carries the tunable knobs the stages consume. Zero values
// fall back to the defaults below at construction time.
type AgentConfig struct {
	// CandidateTopK is the vector-search fan-out per extracted procedure.
	CandidateTopK int

	// CandidateTokenBudget caps the candidate block in the final-selection
	// prompt.
	CandidateTokenBudget int

	// FallbackDiagnosisPrefixes is used when a procedure carries neither
	// diagnosis hints nor applicable families.
	FallbackDiagnosisPrefixes []string

	// ConversionFactor converts total relative value units to a payment
	// amount. 1.0 keeps payments in RVU terms for testing.
	ConversionFactor float64

	// HighRVUThreshold raises HIGH_RVU_VALUE above this total.
	HighRVUThreshold float64
}

// DefaultAgentConfig returns the stock configuration.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		CandidateTopK:             10,
		CandidateTokenBudget:      6000,
		FallbackDiagnosisPrefixes: []string{"K40", "K41", "K42", "K43", "K44", "K45", "K46"},
		ConversionFactor:          1.0,
		HighRVUThreshold:          20.0,
	}
}

// withDefaults fills unset fields.
func (c AgentConfig) withDefaults() AgentConfig {
	d := DefaultAgentConfig()
	if c.CandidateTopK <= 0 {
		c.CandidateTopK = d.CandidateTopK
	}
	if c.CandidateTokenBudget <= 0 {
		c.CandidateTokenBudget = d.CandidateTokenBudget
	}
	if len(c.FallbackDiagnosisPrefixes) == 0 {
		c.FallbackDiagnosisPrefixes = d.FallbackDiagnosisPrefixes
	}
	if c.ConversionFactor <= 0 {
		c.ConversionFactor = d.ConversionFactor
	}
	if c.HighRVUThreshold <= 0 {
		c.HighRVUThreshold = d.HighRVUThreshold
	}
	return c
}
