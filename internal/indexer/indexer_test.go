package indexer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"demoindex/internal/demographic"
)

var (
	female = demographic.Identity{Code: "gen", Group: "female"}
	german = demographic.Identity{Code: "cit", Group: "ger"}
	east   = demographic.Identity{Code: "loc", Group: "east"}
	male   = demographic.Identity{Code: "gen", Group: "male"}
)

func TestIndexer_SingleTableThreeEdges(t *testing.T) {
	t.Parallel()

	x := New()
	x.Observe(0, []demographic.Identity{female, german, east})

	require.Equal(t, []Indicator{
		{ID: 0, Code: "gen", Group: "female"},
		{ID: 1, Code: "cit", Group: "ger"},
		{ID: 2, Code: "loc", Group: "east"},
	}, x.Indicators())
	require.Equal(t, []Combination{{ID: 0}}, x.Combinations())
	require.Equal(t, []Edge{{0, 0}, {0, 1}, {0, 2}}, x.Edges())
}

func TestIndexer_DedupesAcrossTablesByFirstSighting(t *testing.T) {
	t.Parallel()

	x := New()
	x.Observe(0, []demographic.Identity{east, female})
	// ordinal 1 skipped (unresolved table)
	x.Observe(1, nil)
	x.Observe(2, []demographic.Identity{male, east})
	x.Observe(3, []demographic.Identity{female})

	id, ok := x.IndicatorID(east)
	require.True(t, ok)
	require.Equal(t, int64(0), id)
	id, _ = x.IndicatorID(female)
	require.Equal(t, int64(1), id)
	id, _ = x.IndicatorID(male)
	require.Equal(t, int64(2), id)
	_, ok = x.IndicatorID(german)
	require.False(t, ok)

	require.Len(t, x.Indicators(), 3)
	require.Equal(t, []Combination{{ID: 0}, {ID: 2}, {ID: 3}}, x.Combinations())
	require.Equal(t, []Edge{{0, 0}, {0, 1}, {2, 2}, {2, 0}, {3, 1}}, x.Edges())
}

func TestIndexer_SameIdentitiesStayDistinctCombinations(t *testing.T) {
	t.Parallel()

	r := demographic.DefaultResolver()
	x := New()
	for i, key := range []string{"ledu_female", "lowedu_female"} {
		toks, err := demographic.Tokenize(key)
		require.NoError(t, err)
		ids, unresolved := r.ResolveAll(toks)
		require.Empty(t, unresolved)
		x.Observe(i, ids)
	}

	require.Equal(t, []Indicator{
		{ID: 0, Code: "edu", Group: "low"},
		{ID: 1, Code: "gen", Group: "female"},
	}, x.Indicators())
	require.Equal(t, []Combination{{ID: 0}, {ID: 1}}, x.Combinations())
	require.Equal(t, []Edge{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, x.Edges())
}

func TestIndexer_RepeatedIdentityInOneKeyIsOneEdge(t *testing.T) {
	t.Parallel()

	x := New()
	x.Observe(5, []demographic.Identity{female, female})
	require.Len(t, x.Edges(), 1)

	x.Observe(5, []demographic.Identity{german})
	require.Equal(t, []Combination{{ID: 5}}, x.Combinations())
	require.Len(t, x.Edges(), 2)
}

func TestIndexer_DeterministicAcrossRuns(t *testing.T) {
	t.Parallel()

	r := demographic.DefaultResolver()
	keys := []string{"female_german_east", "male_age3", "xyz123", "lowinc_west", "hedu_female", "age1_nongerman_east"}

	run := func() ([]Indicator, []Edge) {
		x := New()
		for i, k := range keys {
			toks, err := demographic.Tokenize(k)
			require.NoError(t, err)
			ids, _ := r.ResolveAll(toks)
			x.Observe(i, ids)
		}
		return x.Indicators(), x.Edges()
	}

	ind1, edges1 := run()
	for i := 0; i < 20; i++ {
		ind2, edges2 := run()
		require.Equal(t, ind1, ind2)
		require.Equal(t, edges1, edges2)
	}
}

func TestIndexer_ReturnsCopies(t *testing.T) {
	t.Parallel()

	x := New()
	x.Observe(0, []demographic.Identity{female})
	inds := x.Indicators()
	inds[0].Code = "changed"
	require.Equal(t, "gen", x.Indicators()[0].Code)
	require.Equal(t, female, x.Indicators()[0].Identity())
}
