package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogDefinitions(t *testing.T) {
	c := DefaultScenarioCatalog()

	defs := c.Definitions()
	require.Len(t, defs, 4)

	var ids []string
	for _, d := range defs {
		ids = append(ids, d.ID)
		assert.Equal(t, 2, d.RequiredAttempts, "scenario %s", d.ID)
		assert.NotEmpty(t, d.Title)
		assert.NotEmpty(t, d.EmbedURL)
	}
	assert.Equal(t, []string{"1", "4", "2", "3"}, ids)
	assert.Equal(t, 1, defs[0].ChainPosition)
	assert.Equal(t, 4, defs[3].ChainPosition)
}

func TestCatalogLookup(t *testing.T) {
	c := DefaultScenarioCatalog()

	d, ok := c.Lookup("3")
	require.True(t, ok)
	assert.Equal(t, "693a7c1507d90d92fea80744", d.EvaluatorScenarioID)

	_, ok = c.Lookup("9")
	assert.False(t, ok)
	assert.Equal(t, 1, c.RequiredAttempts("9"))
	assert.Equal(t, 2, c.RequiredAttempts("1"))
}

func TestCatalogSequence(t *testing.T) {
	steps := DefaultScenarioCatalog().Sequence()
	require.Len(t, steps, 8)

	type step struct {
		scenario string
		attempt  int
	}
	var got []step
	for i, s := range steps {
		assert.Equal(t, i+1, s.Order)
		got = append(got, step{s.ScenarioID, s.AttemptNumber})
	}
	assert.Equal(t, []step{
		{"1", 1}, {"4", 1}, {"4", 2}, {"2", 1}, {"2", 2}, {"3", 1}, {"3", 2}, {"1", 2},
	}, got)
	assert.Equal(t, 5, steps[7].SlotPosition)
}

func TestCatalogRules(t *testing.T) {
	rules := DefaultScenarioCatalog().Rules()
	require.Len(t, rules, 4)
	assert.Equal(t, "1", rules[0].ScenarioID)
	assert.Nil(t, rules[0].Predecessor)
	require.NotNil(t, rules[0].Reopen)
	assert.Equal(t, Requirement{ScenarioID: "3", Count: 2}, *rules[0].Reopen)

	slots := DefaultScenarioCatalog().Slots()
	require.Len(t, slots, 5)
	assert.True(t, slots[4].Final)
}
