package warehouse

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alkfred/alkfred/internal/civic"
	"github.com/alkfred/alkfred/internal/resolve"
)

func expectEmptyPreload(mock pgxmock.PgxPoolIface) {
	mock.ExpectQuery("SELECT doid FROM civic.dim_disease").
		WillReturnRows(pgxmock.NewRows([]string{"doid"}))
	mock.ExpectQuery("SELECT therapy_id, ncit_id, label_norm FROM civic.dim_therapy").
		WillReturnRows(pgxmock.NewRows([]string{"therapy_id", "ncit_id", "label_norm"}))
	mock.ExpectQuery("SELECT variant_id FROM civic.dim_gene_variant").
		WillReturnRows(pgxmock.NewRows([]string{"variant_id"}))
	mock.ExpectQuery("SELECT eid FROM civic.dim_evidence").
		WillReturnRows(pgxmock.NewRows([]string{"eid"}))
}

// expectFlush adds the temp-table bulk write expectations for one table.
func expectFlush(mock pgxmock.PgxPoolIface, table string, columns []string, rows int64) {
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TEMP TABLE").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_load_civic_" + table}, columns).WillReturnResult(rows)
	mock.ExpectExec(`INSERT INTO "civic"."` + table + `"`).
		WillReturnResult(pgxmock.NewResult("INSERT", rows))
	mock.ExpectCommit()
}

func buildEvidence(id int, profile string, therapies ...civic.Therapy) civic.Evidence {
	return civic.Evidence{
		ID:           id,
		Status:       "ACCEPTED",
		Significance: "RESISTANCE",
		Direction:    "SUPPORTS",
		Level:        "B",
		Profile:      civic.Profile{ID: 1, Name: profile},
		Therapies:    therapies,
		Disease:      civic.Disease{DOID: "3908", Name: "Lung Non-small Cell Carcinoma"},
	}
}

func TestBuilder_EndToEnd(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyPreload(mock)

	expectFlush(mock, "dim_evidence",
		[]string{"eid", "direction", "significance", "evidence_level", "evidence_type", "rating", "status", "description", "source", "pub_year"}, 1)
	expectFlush(mock, "dim_disease",
		[]string{"doid", "label_display", "label_norm", "synonyms"}, 1)
	expectFlush(mock, "dim_therapy",
		[]string{"therapy_id", "ncit_id", "label_display", "label_norm", "synonyms"}, 2)
	expectFlush(mock, "dim_gene_variant",
		[]string{"variant_id", "civic_ca_id", "gene_symbol", "label_display", "label_norm", "aliases"}, 1)
	expectFlush(mock, "evidence_link",
		[]string{"eid", "doid", "variant_id", "therapy_id", "mp_name", "therapy_label", "run_id"}, 2)

	crizotinibID := resolve.MintKey("therapy|C74061")
	alectinibID := resolve.MintKey("therapy|C101790")
	linkRows := pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}).
		AddRow(int64(100), "3908", "CA123", crizotinibID, strPtr("SUPPORTS"), strPtr("RESISTANCE")).
		AddRow(int64(100), "3908", "CA123", alectinibID, strPtr("SUPPORTS"), strPtr("RESISTANCE"))
	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").WillReturnRows(linkRows)

	expectFlush(mock, "fact_evidence",
		[]string{"fact_id", "eid", "doid", "variant_id", "therapy_id", "direction", "significance", "run_id"}, 2)

	builder := NewBuilder(BuilderOptions{
		Pool:  mock,
		RunID: "test-run",
		Lookup: func(ctx context.Context, profileName string) ([]civic.Component, error) {
			return []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}}, nil
		},
	})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		buildEvidence(100, "EML4::ALK fusion",
			civic.Therapy{Name: "Crizotinib", NcitID: "C74061"},
			civic.Therapy{Name: "Alectinib", NcitID: "C101790"}),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.Evidence)
	assert.Equal(t, int64(1), report.Diseases)
	assert.Equal(t, int64(2), report.Therapies)
	assert.Equal(t, int64(1), report.Variants)
	assert.Equal(t, int64(2), report.Links, "one link per (variant, therapy) pair")
	assert.Equal(t, int64(2), report.Facts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilder_SkipsFilteredAndMalformed(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyPreload(mock)

	// The no-therapies record still resolves its disease, so one dim_disease
	// row is written; nothing produces links, so only the fact derivation
	// query runs afterwards.
	expectFlush(mock, "dim_disease",
		[]string{"doid", "label_display", "label_norm", "synonyms"}, 1)
	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").
		WillReturnRows(pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}))

	sensitivity := buildEvidence(200, "ALK L1196M", civic.Therapy{Name: "Crizotinib"})
	sensitivity.Significance = "SENSITIVITYRESPONSE"

	blankProfile := buildEvidence(201, "   ", civic.Therapy{Name: "Crizotinib"})

	noDisease := buildEvidence(202, "ALK L1196M", civic.Therapy{Name: "Crizotinib"})
	noDisease.Disease.DOID = ""

	noTherapies := buildEvidence(203, "ALK L1196M")

	builder := NewBuilder(BuilderOptions{Pool: mock, RunID: "test-run"})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		sensitivity, blankProfile, noDisease, noTherapies,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedFilter)
	assert.Equal(t, 1, report.SkippedBlankProfile)
	assert.Equal(t, 1, report.SkippedMissingDisease)
	assert.Equal(t, 1, report.SkippedNoTherapies)
	assert.Equal(t, int64(1), report.Diseases)
	assert.Equal(t, int64(0), report.Links)
	assert.Equal(t, int64(0), report.Facts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilder_DiseaseRowSurvivesEarlierSkip(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyPreload(mock)

	// The first record for DOID 3908 is skipped for having no therapies, but
	// the second record's link rows reference that DOID, so the disease row
	// must still reach dim_disease.
	expectFlush(mock, "dim_evidence",
		[]string{"eid", "direction", "significance", "evidence_level", "evidence_type", "rating", "status", "description", "source", "pub_year"}, 1)
	expectFlush(mock, "dim_disease",
		[]string{"doid", "label_display", "label_norm", "synonyms"}, 1)
	expectFlush(mock, "dim_therapy",
		[]string{"therapy_id", "ncit_id", "label_display", "label_norm", "synonyms"}, 1)
	expectFlush(mock, "dim_gene_variant",
		[]string{"variant_id", "civic_ca_id", "gene_symbol", "label_display", "label_norm", "aliases"}, 1)
	expectFlush(mock, "evidence_link",
		[]string{"eid", "doid", "variant_id", "therapy_id", "mp_name", "therapy_label", "run_id"}, 1)

	crizotinibID := resolve.MintKey("therapy|C74061")
	linkRows := pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}).
		AddRow(int64(101), "3908", "CA123", crizotinibID, strPtr("SUPPORTS"), strPtr("RESISTANCE"))
	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").WillReturnRows(linkRows)

	expectFlush(mock, "fact_evidence",
		[]string{"fact_id", "eid", "doid", "variant_id", "therapy_id", "direction", "significance", "run_id"}, 1)

	builder := NewBuilder(BuilderOptions{
		Pool:  mock,
		RunID: "test-run",
		Lookup: func(ctx context.Context, profileName string) ([]civic.Component, error) {
			return []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}}, nil
		},
	})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		buildEvidence(100, "EML4::ALK fusion"),
		buildEvidence(101, "EML4::ALK fusion", civic.Therapy{Name: "Crizotinib", NcitID: "C74061"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedNoTherapies)
	assert.Equal(t, int64(1), report.Diseases)
	assert.Equal(t, int64(1), report.Links)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilder_SkipsProfilesWithoutComponents(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectEmptyPreload(mock)

	// Disease and therapy resolve before the component lookup, so their rows
	// flush; the record itself produces no variants or links.
	expectFlush(mock, "dim_disease",
		[]string{"doid", "label_display", "label_norm", "synonyms"}, 1)
	expectFlush(mock, "dim_therapy",
		[]string{"therapy_id", "ncit_id", "label_display", "label_norm", "synonyms"}, 1)
	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").
		WillReturnRows(pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}))

	builder := NewBuilder(BuilderOptions{
		Pool:  mock,
		RunID: "test-run",
		Lookup: func(ctx context.Context, profileName string) ([]civic.Component, error) {
			return nil, nil
		},
	})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		buildEvidence(100, "EML4::ALK fusion", civic.Therapy{Name: "Crizotinib", NcitID: "C74061"}),
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.SkippedNoComponents)
	assert.Equal(t, int64(0), report.Variants)
	assert.Equal(t, int64(0), report.Links)
	assert.Equal(t, int64(0), report.Facts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilder_PreloadSuppressesDimInserts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	crizotinibID := resolve.MintKey("therapy|C74061")

	// Everything the record references already exists in the dimensions.
	mock.ExpectQuery("SELECT doid FROM civic.dim_disease").
		WillReturnRows(pgxmock.NewRows([]string{"doid"}).AddRow("3908"))
	mock.ExpectQuery("SELECT therapy_id, ncit_id, label_norm FROM civic.dim_therapy").
		WillReturnRows(pgxmock.NewRows([]string{"therapy_id", "ncit_id", "label_norm"}).
			AddRow(crizotinibID, strPtr("C74061"), "crizotinib"))
	mock.ExpectQuery("SELECT variant_id FROM civic.dim_gene_variant").
		WillReturnRows(pgxmock.NewRows([]string{"variant_id"}).AddRow("CA123"))
	mock.ExpectQuery("SELECT eid FROM civic.dim_evidence").
		WillReturnRows(pgxmock.NewRows([]string{"eid"}).AddRow(int64(100)))

	// Only the link flush and fact pass touch the database.
	expectFlush(mock, "evidence_link",
		[]string{"eid", "doid", "variant_id", "therapy_id", "mp_name", "therapy_label", "run_id"}, 0)

	linkRows := pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}).
		AddRow(int64(100), "3908", "CA123", crizotinibID, strPtr("SUPPORTS"), strPtr("RESISTANCE"))
	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").WillReturnRows(linkRows)

	expectFlush(mock, "fact_evidence",
		[]string{"fact_id", "eid", "doid", "variant_id", "therapy_id", "direction", "significance", "run_id"}, 0)

	builder := NewBuilder(BuilderOptions{
		Pool:  mock,
		RunID: "test-run",
		Lookup: func(ctx context.Context, profileName string) ([]civic.Component, error) {
			return []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}}, nil
		},
	})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		buildEvidence(100, "EML4::ALK fusion", civic.Therapy{Name: "Crizotinib", NcitID: "C74061"}),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(0), report.Evidence, "known evidence produces no new dimension rows")
	assert.Equal(t, int64(0), report.Diseases)
	assert.Equal(t, int64(0), report.Therapies)
	assert.Equal(t, int64(0), report.Variants)
	assert.Equal(t, int64(0), report.Links, "replay inserts nothing")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBuilder_AttachesNcitToLabelResolvedTherapy(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	labelID := resolve.MintKey("therapy|lorlatinib")

	mock.ExpectQuery("SELECT doid FROM civic.dim_disease").
		WillReturnRows(pgxmock.NewRows([]string{"doid"}).AddRow("3908"))
	mock.ExpectQuery("SELECT therapy_id, ncit_id, label_norm FROM civic.dim_therapy").
		WillReturnRows(pgxmock.NewRows([]string{"therapy_id", "ncit_id", "label_norm"}).
			AddRow(labelID, (*string)(nil), "lorlatinib"))
	mock.ExpectQuery("SELECT variant_id FROM civic.dim_gene_variant").
		WillReturnRows(pgxmock.NewRows([]string{"variant_id"}).AddRow("CA123"))
	mock.ExpectQuery("SELECT eid FROM civic.dim_evidence").
		WillReturnRows(pgxmock.NewRows([]string{"eid"}).AddRow(int64(100)))

	// The registry ID arriving now is backfilled onto the existing row.
	mock.ExpectExec("UPDATE civic.dim_therapy SET ncit_id").
		WithArgs("C113655", labelID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	expectFlush(mock, "evidence_link",
		[]string{"eid", "doid", "variant_id", "therapy_id", "mp_name", "therapy_label", "run_id"}, 0)

	mock.ExpectQuery("SELECT l.eid, l.doid, l.variant_id, l.therapy_id").
		WillReturnRows(pgxmock.NewRows([]string{"eid", "doid", "variant_id", "therapy_id", "direction", "significance"}))

	builder := NewBuilder(BuilderOptions{
		Pool:  mock,
		RunID: "test-run",
		Lookup: func(ctx context.Context, profileName string) ([]civic.Component, error) {
			return []civic.Component{{Variant: "EML4-ALK fusion", CAID: "CA123"}}, nil
		},
	})

	report, err := builder.Build(context.Background(), []civic.Evidence{
		buildEvidence(100, "EML4::ALK fusion", civic.Therapy{Name: "Lorlatinib", NcitID: "C113655"}),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.NcitAttached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func strPtr(s string) *string { return &s }
