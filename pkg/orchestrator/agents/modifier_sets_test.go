package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medcoder/pkg/refdata"
	"medcoder/pkg/types"
)

func TestPTPBypassAllowed(t *testing.T) {
	// Indicator 0 permits nothing.
	assert.False(t, PTPBypassAllowed("0", "59"))
	assert.False(t, PTPBypassAllowed("0", "25"))

	// Indicator 1 permits the distinct-service family plus 25 and 57.
	for _, code := range []string{"59", "XE", "XP", "XS", "XU", "25", "57"} {
		assert.True(t, PTPBypassAllowed("1", code), code)
	}
	assert.False(t, PTPBypassAllowed("1", "50"))

	// Indicator 2 permits only the distinct-service family.
	for _, code := range []string{"59", "XE", "XP", "XS", "XU"} {
		assert.True(t, PTPBypassAllowed("2", code), code)
	}
	assert.False(t, PTPBypassAllowed("2", "25"))
	assert.False(t, PTPBypassAllowed("2", "57"))

	assert.False(t, PTPBypassAllowed("9", "59"))
}

func TestAllowedModifiersIntersection(t *testing.T) {
	vetted := vettedTable{
		"59": {Code: "59"},
		"25": {Code: "25"},
		"50": {Code: "50"},
		"LT": {Code: "LT"},
		"22": {Code: "22"},
	}

	// No applicable list on the procedure: phase filter only.
	open := &types.ProcedureCode{Code: "49505"}
	assert.Equal(t, []string{"25", "59"}, allowedModifiers(open, vetted, PhaseCompliance))
	assert.Equal(t, []string{"22", "50", "LT"}, allowedModifiers(open, vetted, PhaseAncillary))

	// Applicable list intersects.
	narrow := &types.ProcedureCode{Code: "49505", AllowedModifiers: []string{"59", "LT", "80"}}
	assert.Equal(t, []string{"59"}, allowedModifiers(narrow, vetted, PhaseCompliance))
	assert.Equal(t, []string{"LT"}, allowedModifiers(narrow, vetted, PhaseAncillary))

	// Empty vetted table allows nothing.
	assert.Empty(t, allowedModifiers(open, vettedTable{}, PhaseCompliance))
}

func TestConflictsWith(t *testing.T) {
	assert.Equal(t, "XE", conflictsWith("59", []string{"25", "XE"}))
	assert.Equal(t, "59", conflictsWith("XS", []string{"59"}))
	assert.Equal(t, "RT", conflictsWith("50", []string{"RT"}))
	assert.Equal(t, "26", conflictsWith("TC", []string{"26"}))
	assert.Empty(t, conflictsWith("59", []string{"25", "50"}))
	assert.Empty(t, conflictsWith("80", []string{"59"}))
}

func TestLoadVettedTable(t *testing.T) {
	repo := newTestRepo(t, func(store *refdata.FSStore) {
		require.NoError(t, store.PutJSON(refdata.VettedModifiersPath, []refdata.VettedModifier{
			{Code: "59", Description: "Distinct procedural service"},
			{Code: "50", Description: "Bilateral procedure", Class: types.ModifierPricing},
		}))
	})

	table, err := loadVettedTable(context.Background(), repo)
	require.NoError(t, err)
	assert.Len(t, table, 2)
	assert.Equal(t, "Distinct procedural service", table["59"].Description)

	// A missing table yields an empty one, not an error.
	empty := newTestRepo(t, nil)
	table, err = loadVettedTable(context.Background(), empty)
	require.NoError(t, err)
	assert.Empty(t, table)
}
