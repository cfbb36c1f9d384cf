package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestCreateAssignsUUIDAndNormalizesWeights(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{Name: "test", Instruments: []string{"A", "B"}, InitialCapital: 1000})
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.InDelta(t, 0.5, p.Weights["A"], 1e-9)
	assert.InDelta(t, 0.5, p.Weights["B"], 1e-9)
}

func TestCreateScalesExplicitWeightsToSumOne(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{
		Name:        "weighted",
		Instruments: []string{"A", "B"},
		Weights:     map[string]float64{"A": 3, "B": 1},
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.75, p.Weights["A"], 1e-9)
	assert.InDelta(t, 0.25, p.Weights["B"], 1e-9)
}

func TestGetRoundTripsCreatedPortfolio(t *testing.T) {
	c := newCatalog(t)
	created, err := c.Create(Portfolio{Name: "roundtrip", Instruments: []string{"A"}})
	require.NoError(t, err)

	got, err := c.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.Name, got.Name)
}

func TestListReturnsAllCreatedPortfolios(t *testing.T) {
	c := newCatalog(t)
	_, err := c.Create(Portfolio{Name: "one", Instruments: []string{"A"}})
	require.NoError(t, err)
	_, err = c.Create(Portfolio{Name: "two", Instruments: []string{"B"}})
	require.NoError(t, err)

	list, err := c.List()
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestDeleteRemovesPortfolio(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{Name: "gone", Instruments: []string{"A"}})
	require.NoError(t, err)

	require.NoError(t, c.Delete(p.ID))
	_, err = c.Get(p.ID)
	assert.Error(t, err)
}

func TestAddInstrumentRenormalizesWeights(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{Name: "grow", Instruments: []string{"A"}})
	require.NoError(t, err)

	updated, err := c.AddInstrument(p.ID, "B", 0)
	require.NoError(t, err)
	assert.Len(t, updated.Instruments, 2)
	assert.InDelta(t, 0.5, updated.Weights["A"], 1e-9)
	assert.InDelta(t, 0.5, updated.Weights["B"], 1e-9)
}

func TestAddInstrumentRejectsDuplicate(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{Name: "dup", Instruments: []string{"A"}})
	require.NoError(t, err)

	_, err = c.AddInstrument(p.ID, "A", 0)
	assert.Error(t, err)
}

func TestRemoveInstrumentRenormalizesRemainingWeights(t *testing.T) {
	c := newCatalog(t)
	p, err := c.Create(Portfolio{Name: "shrink", Instruments: []string{"A", "B"}})
	require.NoError(t, err)

	updated, err := c.RemoveInstrument(p.ID, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, updated.Instruments)
	assert.InDelta(t, 1.0, updated.Weights["B"], 1e-9)
	_, stillThere := updated.Weights["A"]
	assert.False(t, stillThere)
}
