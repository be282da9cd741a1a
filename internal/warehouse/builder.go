package warehouse

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/alkfred/alkfred/internal/civic"
	"github.com/alkfred/alkfred/internal/db"
	"github.com/alkfred/alkfred/internal/resolve"
)

const defaultBatchSize = 500

// BuilderOptions configures a warehouse Builder.
type BuilderOptions struct {
	Pool         db.Pool
	Lookup       civic.ComponentLookup // profiles the lookup cannot resolve are skipped
	BatchSize    int
	RunID        string
	DefaultGene  string
	Significance string // defaults to RESISTANCE
	Direction    string // defaults to SUPPORTS
}

// Report summarizes one warehouse build run.
type Report struct {
	Evidence  int64 `json:"evidence"`
	Diseases  int64 `json:"diseases"`
	Therapies int64 `json:"therapies"`
	Variants  int64 `json:"variants"`
	Links     int64 `json:"links"`
	Facts     int64 `json:"facts"`

	NcitAttached int `json:"ncit_attached"`

	SkippedFilter         int `json:"skipped_filter"`
	SkippedMissingDisease int `json:"skipped_missing_disease"`
	SkippedBlankProfile   int `json:"skipped_blank_profile"`
	SkippedNoTherapies    int `json:"skipped_no_therapies"`
	SkippedNoComponents   int `json:"skipped_no_components"`
	SkippedNoVariant      int `json:"skipped_no_variant"`
}

// Builder loads filtered evidence into the civic.* dimension and link tables.
// Every write goes through INSERT ... ON CONFLICT DO NOTHING, so replaying
// the same input produces zero new rows.
type Builder struct {
	opts      BuilderOptions
	resolver  *resolve.Resolver
	compCache map[string][]civic.Component
	log       *zap.Logger
}

// NewBuilder creates a Builder with defaults applied.
func NewBuilder(opts BuilderOptions) *Builder {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Significance == "" {
		opts.Significance = civic.SignificanceResistance
	}
	if opts.Direction == "" {
		opts.Direction = civic.DirectionSupports
	}
	return &Builder{
		opts:      opts,
		resolver:  resolve.NewResolver(opts.DefaultGene),
		compCache: make(map[string][]civic.Component),
		log:       zap.L().With(zap.String("component", "warehouse.builder")),
	}
}

// Build resolves each evidence record against the dimension tables, inserts
// missing dimension rows, expands the (evidence, disease, variant, therapy)
// link rows, and derives fact rows from the link table. Malformed records are
// counted and skipped; persistence failures abort the run.
func (b *Builder) Build(ctx context.Context, records []civic.Evidence) (*Report, error) {
	report := &Report{}

	seenEvidence, err := b.preload(ctx)
	if err != nil {
		return nil, err
	}

	var (
		evidenceRows [][]any
		diseaseRows  [][]any
		therapyRows  [][]any
		variantRows  [][]any
		linkRows     [][]any
	)
	seenLink := make(map[string]bool)

	for i := range records {
		ev := &records[i]

		if strings.TrimSpace(ev.Profile.Name) == "" {
			report.SkippedBlankProfile++
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(ev.Significance), b.opts.Significance) ||
			!strings.EqualFold(strings.TrimSpace(ev.Direction), b.opts.Direction) {
			report.SkippedFilter++
			continue
		}

		doid, diseaseCreated, ok := b.resolver.ResolveDisease(ev.Disease.DOID)
		if !ok {
			report.SkippedMissingDisease++
			continue
		}
		// Buffer the disease row as soon as the resolver caches the DOID.
		// Later records for the same disease resolve with created=false, so
		// skipping this record further down must not lose the row.
		if diseaseCreated {
			diseaseRows = append(diseaseRows, b.diseaseRow(doid, &ev.Disease))
		}

		therapies := civic.DedupeTherapies(ev.Therapies)
		if len(therapies) == 0 {
			report.SkippedNoTherapies++
			continue
		}

		var therapyRefs []resolve.TherapyRef
		var therapyLabels []string
		for _, t := range therapies {
			ref, ok := b.resolver.ResolveTherapy(t.Name, t.NcitID)
			if !ok {
				continue
			}
			if ref.Created {
				therapyRows = append(therapyRows, b.therapyRow(ref, t.Name))
			}
			if ref.AttachedNcit {
				if err := b.attachNcit(ctx, ref); err != nil {
					return nil, err
				}
				report.NcitAttached++
			}
			therapyRefs = append(therapyRefs, ref)
			therapyLabels = append(therapyLabels, t.Name)
		}
		if len(therapyRefs) == 0 {
			report.SkippedNoTherapies++
			continue
		}

		comps := b.componentsFor(ctx, ev.Profile.Name)
		if len(comps) == 0 {
			report.SkippedNoComponents++
			continue
		}

		var variantRefs []resolve.VariantRef
		for _, comp := range comps {
			ref, ok := b.resolver.ResolveVariant(comp.Variant, comp.CAID)
			if !ok {
				continue
			}
			if ref.Created {
				variantRows = append(variantRows, b.variantRow(ref, comp))
			}
			variantRefs = append(variantRefs, ref)
		}
		if len(variantRefs) == 0 {
			report.SkippedNoVariant++
			continue
		}

		if !seenEvidence[ev.ID] {
			seenEvidence[ev.ID] = true
			row, err := b.evidenceRow(ev)
			if err != nil {
				return nil, err
			}
			evidenceRows = append(evidenceRows, row)
		}

		for _, v := range variantRefs {
			for i, t := range therapyRefs {
				linkKey := resolve.FactKey(ev.ID, doid, v.ID, t.ID)
				if seenLink[linkKey] {
					continue
				}
				seenLink[linkKey] = true
				linkRows = append(linkRows, []any{
					int64(ev.ID), doid, v.ID, t.ID,
					ev.Profile.Name, therapyLabels[i], b.opts.RunID,
				})
			}
		}
	}

	if len(linkRows) == 0 {
		b.log.Warn("no evidence links produced",
			zap.Int("records", len(records)),
			zap.Int("skipped_filter", report.SkippedFilter))
	}

	// Dimensions first so link FKs resolve.
	report.Evidence, err = b.flush(ctx, db.UpsertConfig{
		Table:        "civic.dim_evidence",
		Columns:      []string{"eid", "direction", "significance", "evidence_level", "evidence_type", "rating", "status", "description", "source", "pub_year"},
		ConflictKeys: []string{"eid"},
	}, evidenceRows)
	if err != nil {
		return nil, err
	}

	report.Diseases, err = b.flush(ctx, db.UpsertConfig{
		Table:        "civic.dim_disease",
		Columns:      []string{"doid", "label_display", "label_norm", "synonyms"},
		ConflictKeys: []string{"doid"},
	}, diseaseRows)
	if err != nil {
		return nil, err
	}

	report.Therapies, err = b.flush(ctx, db.UpsertConfig{
		Table:        "civic.dim_therapy",
		Columns:      []string{"therapy_id", "ncit_id", "label_display", "label_norm", "synonyms"},
		ConflictKeys: []string{"therapy_id"},
	}, therapyRows)
	if err != nil {
		return nil, err
	}

	report.Variants, err = b.flush(ctx, db.UpsertConfig{
		Table:        "civic.dim_gene_variant",
		Columns:      []string{"variant_id", "civic_ca_id", "gene_symbol", "label_display", "label_norm", "aliases"},
		ConflictKeys: []string{"variant_id"},
	}, variantRows)
	if err != nil {
		return nil, err
	}

	report.Links, err = b.flush(ctx, db.UpsertConfig{
		Table:        "civic.evidence_link",
		Columns:      []string{"eid", "doid", "variant_id", "therapy_id", "mp_name", "therapy_label", "run_id"},
		ConflictKeys: []string{"eid", "doid", "variant_id", "therapy_id"},
	}, linkRows)
	if err != nil {
		return nil, err
	}

	report.Facts, err = b.buildFacts(ctx)
	if err != nil {
		return nil, err
	}

	b.log.Info("warehouse build complete",
		zap.Int64("links", report.Links),
		zap.Int64("facts", report.Facts),
		zap.Int("skipped_filter", report.SkippedFilter))

	return report, nil
}

// preload seeds the resolver caches and returns the set of known evidence IDs
// so re-runs resolve to existing keys instead of duplicating dimension rows.
func (b *Builder) preload(ctx context.Context) (map[int]bool, error) {
	rows, err := b.opts.Pool.Query(ctx, "SELECT doid FROM civic.dim_disease")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: preload diseases")
	}
	for rows.Next() {
		var doid string
		if err := rows.Scan(&doid); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "warehouse: scan disease")
		}
		b.resolver.SeedDisease(doid)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: preload diseases")
	}

	rows, err = b.opts.Pool.Query(ctx, "SELECT therapy_id, ncit_id, label_norm FROM civic.dim_therapy")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: preload therapies")
	}
	for rows.Next() {
		var id, labelNorm string
		var ncitID *string
		if err := rows.Scan(&id, &ncitID, &labelNorm); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "warehouse: scan therapy")
		}
		ncit := ""
		if ncitID != nil {
			ncit = *ncitID
		}
		b.resolver.SeedTherapy(id, ncit, labelNorm)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: preload therapies")
	}

	rows, err = b.opts.Pool.Query(ctx, "SELECT variant_id FROM civic.dim_gene_variant")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: preload variants")
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "warehouse: scan variant")
		}
		b.resolver.SeedVariant(id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: preload variants")
	}

	seenEvidence := make(map[int]bool)
	rows, err = b.opts.Pool.Query(ctx, "SELECT eid FROM civic.dim_evidence")
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: preload evidence")
	}
	for rows.Next() {
		var eid int64
		if err := rows.Scan(&eid); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "warehouse: scan evidence")
		}
		seenEvidence[int(eid)] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: preload evidence")
	}

	return seenEvidence, nil
}

// componentsFor resolves a profile's variant components through the lookup,
// caching per profile name. Lookup failures degrade to no components; the
// caller skips and counts records for such profiles.
func (b *Builder) componentsFor(ctx context.Context, profileName string) []civic.Component {
	if comps, ok := b.compCache[profileName]; ok {
		return comps
	}

	var comps []civic.Component
	if b.opts.Lookup != nil {
		var err error
		comps, err = b.opts.Lookup(ctx, profileName)
		if err != nil {
			b.log.Warn("component lookup failed, treating as no components",
				zap.String("profile", profileName), zap.Error(err))
			comps = nil
		}
	}

	b.compCache[profileName] = comps
	return comps
}

// attachNcit backfills a registry ID onto a therapy row that was first seen
// by label alone.
func (b *Builder) attachNcit(ctx context.Context, ref resolve.TherapyRef) error {
	_, err := b.opts.Pool.Exec(ctx,
		"UPDATE civic.dim_therapy SET ncit_id = $1 WHERE therapy_id = $2 AND ncit_id IS NULL",
		ref.NcitID, ref.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "warehouse: attach ncit_id %s", ref.NcitID)
	}
	return nil
}

// buildFacts derives fact rows from the link table joined to the evidence
// dimension, minting each fact_id from the tuple so re-runs collide on the
// primary key and insert nothing.
func (b *Builder) buildFacts(ctx context.Context) (int64, error) {
	rows, err := b.opts.Pool.Query(ctx,
		`SELECT l.eid, l.doid, l.variant_id, l.therapy_id, e.direction, e.significance
		 FROM civic.evidence_link l
		 JOIN civic.dim_evidence e ON e.eid = l.eid`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "warehouse: query links for facts")
	}

	var factRows [][]any
	for rows.Next() {
		var eid int64
		var doid, variantID, therapyID string
		var direction, significance *string
		if err := rows.Scan(&eid, &doid, &variantID, &therapyID, &direction, &significance); err != nil {
			rows.Close()
			return 0, eris.Wrap(err, "warehouse: scan link for fact")
		}
		factID := resolve.FactKey(int(eid), doid, variantID, therapyID)
		factRows = append(factRows, []any{
			factID, eid, doid, variantID, therapyID, direction, significance, b.opts.RunID,
		})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, eris.Wrap(err, "warehouse: iterate links for facts")
	}

	return b.flush(ctx, db.UpsertConfig{
		Table:        "civic.fact_evidence",
		Columns:      []string{"fact_id", "eid", "doid", "variant_id", "therapy_id", "direction", "significance", "run_id"},
		ConflictKeys: []string{"fact_id"},
	}, factRows)
}

// flush writes rows through InsertIfAbsent in batches.
func (b *Builder) flush(ctx context.Context, cfg db.UpsertConfig, rows [][]any) (int64, error) {
	var total int64
	for start := 0; start < len(rows); start += b.opts.BatchSize {
		end := start + b.opts.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		n, err := db.InsertIfAbsent(ctx, b.opts.Pool, cfg, rows[start:end])
		if err != nil {
			return total, eris.Wrapf(err, "warehouse: flush %s", cfg.Table)
		}
		total += n
	}
	return total, nil
}

func (b *Builder) diseaseRow(doid string, d *civic.Disease) []any {
	synonyms, _ := json.Marshal(emptyIfNil(d.Aliases))
	return []any{doid, d.Name, civic.NormalizeText(d.Name), synonyms}
}

func (b *Builder) therapyRow(ref resolve.TherapyRef, label string) []any {
	synonyms, _ := json.Marshal([]string{})
	var ncit *string
	if ref.NcitID != "" {
		ncit = &ref.NcitID
	}
	return []any{ref.ID, ncit, label, civic.NormalizeLabel(label), synonyms}
}

func (b *Builder) variantRow(ref resolve.VariantRef, comp civic.Component) []any {
	aliases, _ := json.Marshal([]string{})
	var caID *string
	if comp.CAID != "" {
		caID = &comp.CAID
	}
	return []any{ref.ID, caID, ref.GeneSymbol, comp.Variant, civic.NormalizeLabel(comp.Variant), aliases}
}

func (b *Builder) evidenceRow(ev *civic.Evidence) ([]any, error) {
	var source []byte
	var pubYear *int
	if ev.Source != nil {
		var err error
		source, err = json.Marshal(ev.Source)
		if err != nil {
			return nil, eris.Wrapf(err, "warehouse: marshal source for evidence %d", ev.ID)
		}
		if ev.Source.PublicationYear != 0 {
			pubYear = &ev.Source.PublicationYear
		}
	}
	return []any{
		int64(ev.ID), ev.Direction, ev.Significance, ev.Level, ev.Type,
		ev.Rating, ev.Status, ev.Description, source, pubYear,
	}, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
