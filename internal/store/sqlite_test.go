package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkfred/alkfred/internal/civic"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_EvidenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rating := 4
	records := []civic.Evidence{
		{
			ID:           100,
			Status:       "ACCEPTED",
			Significance: "RESISTANCE",
			Direction:    "SUPPORTS",
			Rating:       &rating,
			Profile:      civic.Profile{ID: 1, Name: "EML4::ALK fusion"},
			Therapies:    []civic.Therapy{{Name: "Crizotinib", NcitID: "C74061"}},
			Disease:      civic.Disease{DOID: "3908", Name: "Lung Non-small Cell Carcinoma"},
			Source:       &civic.Source{CitationID: "PMID:123", PublicationYear: 2020},
		},
		{ID: 99, Profile: civic.Profile{Name: "ALK L1196M"}},
	}

	n, err := s.SaveEvidence(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	loaded, err := s.LoadEvidence(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, 99, loaded[0].ID, "evidence loads ordered by ID")
	assert.Equal(t, "EML4::ALK fusion", loaded[1].Profile.Name)
	assert.Equal(t, "C74061", loaded[1].Therapies[0].NcitID)
	require.NotNil(t, loaded[1].Source)
	assert.Equal(t, 2020, loaded[1].Source.PublicationYear)
}

func TestSQLiteStore_SaveEvidenceReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.SaveEvidence(ctx, []civic.Evidence{{ID: 100, Status: "SUBMITTED"}})
	require.NoError(t, err)

	_, err = s.SaveEvidence(ctx, []civic.Evidence{{ID: 100, Status: "ACCEPTED"}})
	require.NoError(t, err)

	loaded, err := s.LoadEvidence(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, "ACCEPTED", loaded[0].Status)
}

func TestSQLiteStore_RulesRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rules := map[string]*civic.Rule{
		"3908|eml4-alk fusion": {
			Key:           "3908|eml4-alk fusion",
			ProfileName:   "eml4-alk fusion",
			CanonicalID:   "CA123",
			Components:    []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}},
			Aliases:       []string{"ALK::EML4", "EML4-ALK"},
			Therapies:     []civic.Therapy{{Name: "Crizotinib", NcitID: "C74061"}},
			EvidenceCount: 2,
			EvidenceIDs:   []int{100, 101},
			DiseaseDOID:   "3908",
		},
	}

	n, err := s.SaveRules(ctx, rules)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := s.LoadRules(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	rule := loaded["3908|eml4-alk fusion"]
	require.NotNil(t, rule)
	assert.Equal(t, "CA123", rule.CanonicalID)
	assert.Equal(t, 2, rule.EvidenceCount)
	assert.Equal(t, []int{100, 101}, rule.EvidenceIDs)
	assert.Equal(t, []string{"ALK::EML4", "EML4-ALK"}, rule.Aliases)
}

func TestSQLiteStore_MutationsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	mutations := map[string]*civic.Mutation{
		"EML4-ALK fusion": {
			Name:        "EML4-ALK fusion",
			CanonicalID: "CA123",
			Aliases:     []string{"ALK::EML4"},
			Therapies:   []civic.Therapy{{Name: "Alectinib", NcitID: "C101790"}},
			Category:    civic.CategoryResistant,
			ProfileKeys: []string{"3908|eml4-alk fusion"},
		},
	}

	n, err := s.SaveMutations(ctx, mutations)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	loaded, err := s.LoadMutations(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, civic.CategoryResistant, loaded["EML4-ALK fusion"].Category)
}

func TestSQLiteStore_ComponentCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, ok, err := s.GetComponents(ctx, "EML4::ALK fusion")
	require.NoError(t, err)
	assert.False(t, ok, "unseen profile is a cache miss")

	comps := []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}}
	require.NoError(t, s.SetComponents(ctx, "EML4::ALK fusion", comps))

	got, ok, err := s.GetComponents(ctx, "EML4::ALK fusion")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, comps, got)

	// Cached empty is distinct from never-looked-up.
	require.NoError(t, s.SetComponents(ctx, "unparseable profile", nil))
	got, ok, err = s.GetComponents(ctx, "unparseable profile")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, got)
}
