package civic

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// ComponentLookup resolves a raw profile name to its variant components.
// Implementations may call an external service; errors degrade to "no
// components" for that profile rather than aborting a build.
type ComponentLookup func(ctx context.Context, profileName string) ([]Component, error)

// CuratorOptions configures a curation run.
type CuratorOptions struct {
	// Lookup enriches profiles with variant components. Optional.
	Lookup ComponentLookup
	// Significance and Direction gate which evidence is curated.
	// Empty values default to RESISTANCE / SUPPORTS.
	Significance string
	Direction    string
	// GeneFilter restricts curation to profiles mentioning the gene. Optional.
	GeneFilter string
}

// CurateStats counts ingest outcomes by reason.
type CurateStats struct {
	Ingested              int `json:"ingested"`
	SkippedFilter         int `json:"skipped_filter"`
	SkippedGeneFilter     int `json:"skipped_gene_filter"`
	SkippedMissingDisease int `json:"skipped_missing_disease"`
	SkippedBlankProfile   int `json:"skipped_blank_profile"`
	SkippedNoTherapies    int `json:"skipped_no_therapies"`
}

// Rule is the aggregated, deduplicated record for one (disease, profile)
// pair. All "seen across evidence" fields grow monotonically as evidence is
// folded in; Curator.Finalize sorts them into deterministic order.
type Rule struct {
	Key            string      `json:"key"`
	ProfileName    string      `json:"profile_name"`
	CanonicalID    string      `json:"canonical_id"`
	Components     []Component `json:"components"`
	Aliases        []string    `json:"aliases"`
	Therapies      []Therapy   `json:"therapies"`
	EvidenceCount  int         `json:"evidence_count"`
	Descriptions   []string    `json:"descriptions"`
	DiseaseDOID    string      `json:"disease_doid"`
	DiseaseName    string      `json:"disease_name"`
	DiseaseAliases []string    `json:"disease_aliases"`
	EvidenceIDs    []int       `json:"evidence_ids"`

	seenComponents map[Component]bool
	seenTherapies  map[therapyIdentity]bool
	seenAliases    map[string]bool
	seenDisease    map[string]bool
	seenEvidence   map[int]bool
}

type therapyIdentity struct {
	norm string
	ncit string
}

// Curator folds a stream of evidence records into one Rule per
// (disease, profile) composite key. It owns its rule map for the duration
// of a single build call; it is not safe for concurrent use.
type Curator struct {
	opts      CuratorOptions
	rules     map[string]*Rule
	compCache map[string][]Component
	stats     CurateStats
	log       *zap.Logger
}

// NewCurator creates a Curator with the given options.
func NewCurator(opts CuratorOptions) *Curator {
	if opts.Significance == "" {
		opts.Significance = SignificanceResistance
	}
	if opts.Direction == "" {
		opts.Direction = DirectionSupports
	}
	return &Curator{
		opts:      opts,
		rules:     make(map[string]*Rule),
		compCache: make(map[string][]Component),
		log:       zap.L().With(zap.String("component", "civic.curator")),
	}
}

// Stats returns the ingest counters accumulated so far.
func (c *Curator) Stats() CurateStats { return c.stats }

// Ingest folds one evidence record into the rule map. Malformed records are
// skipped with a diagnostic and counted; ingestion itself never fails.
func (c *Curator) Ingest(ctx context.Context, ev Evidence) {
	rawName := strings.TrimSpace(ev.Profile.Name)
	if rawName == "" {
		c.stats.SkippedBlankProfile++
		c.log.Debug("skipping evidence with blank profile", zap.Int("eid", ev.ID))
		return
	}

	// Malformed input is rejected before any filtering so skip counters
	// attribute each record to its actual defect.
	doid := strings.TrimSpace(ev.Disease.DOID)
	if doid == "" {
		c.stats.SkippedMissingDisease++
		c.log.Debug("skipping evidence without disease ontology id", zap.Int("eid", ev.ID))
		return
	}

	therapies := DedupeTherapies(ev.Therapies)
	if len(therapies) == 0 {
		c.stats.SkippedNoTherapies++
		c.log.Debug("skipping evidence without therapies", zap.Int("eid", ev.ID))
		return
	}

	profileName := NormalizeText(rawName)

	if c.opts.GeneFilter != "" && !GeneInProfile(rawName, c.opts.GeneFilter) {
		c.stats.SkippedGeneFilter++
		return
	}

	if !strings.EqualFold(strings.TrimSpace(ev.Significance), c.opts.Significance) ||
		!strings.EqualFold(strings.TrimSpace(ev.Direction), c.opts.Direction) {
		c.stats.SkippedFilter++
		return
	}

	comps := c.componentsFor(ctx, rawName)
	aliases := GenerateAliases(profileName, comps)

	key := doid + "|" + profileName
	rule, ok := c.rules[key]
	if !ok {
		rule = &Rule{
			Key:            key,
			ProfileName:    profileName,
			DiseaseDOID:    doid,
			seenComponents: make(map[Component]bool),
			seenTherapies:  make(map[therapyIdentity]bool),
			seenAliases:    make(map[string]bool),
			seenDisease:    make(map[string]bool),
			seenEvidence:   make(map[int]bool),
		}
		c.rules[key] = rule
	}

	rule.EvidenceCount++
	if !rule.seenEvidence[ev.ID] {
		rule.seenEvidence[ev.ID] = true
		rule.EvidenceIDs = append(rule.EvidenceIDs, ev.ID)
	}

	for _, comp := range comps {
		if !rule.seenComponents[comp] {
			rule.seenComponents[comp] = true
			rule.Components = append(rule.Components, comp)
		}
		// Canonical ID is the first non-empty registry ID seen.
		if rule.CanonicalID == "" && comp.CAID != "" {
			rule.CanonicalID = comp.CAID
		}
	}

	for _, a := range aliases {
		rule.seenAliases[a] = true
	}

	for _, t := range therapies {
		id := therapyIdentity{norm: NormalizeText(t.Name), ncit: t.NcitID}
		if !rule.seenTherapies[id] {
			rule.seenTherapies[id] = true
			rule.Therapies = append(rule.Therapies, t)
		}
	}

	if d := strings.TrimSpace(ev.Description); d != "" {
		rule.Descriptions = append(rule.Descriptions, d)
	}

	// Display name is last-write-wins; disease aliases accumulate as a union.
	rule.DiseaseName = strings.TrimSpace(ev.Disease.Name)
	for _, a := range ev.Disease.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			rule.seenDisease[a] = true
		}
	}

	c.stats.Ingested++
}

// Finalize sorts and dedupes every accumulated set into a deterministic
// ordered sequence and returns the rule map. Call once after all evidence
// has been folded in.
func (c *Curator) Finalize() map[string]*Rule {
	for _, rule := range c.rules {
		if rule.CanonicalID == "" {
			rule.CanonicalID = rule.ProfileName
		}
		rule.Aliases = sortedKeys(rule.seenAliases)
		rule.DiseaseAliases = sortedKeys(rule.seenDisease)
		rule.Descriptions = sortedUnique(rule.Descriptions)
		sort.Ints(rule.EvidenceIDs)
		sort.Slice(rule.Components, func(i, j int) bool {
			if rule.Components[i].Variant != rule.Components[j].Variant {
				return rule.Components[i].Variant < rule.Components[j].Variant
			}
			return rule.Components[i].CAID < rule.Components[j].CAID
		})
		sort.Slice(rule.Therapies, func(i, j int) bool {
			a, b := rule.Therapies[i], rule.Therapies[j]
			an, bn := NormalizeText(a.Name), NormalizeText(b.Name)
			if an != bn {
				return an < bn
			}
			return a.NcitID < b.NcitID
		})
	}
	return c.rules
}

// componentsFor returns the enrichment components for a profile, consulting
// the per-profile cache to bound external call volume. Lookup failures
// degrade to no components.
func (c *Curator) componentsFor(ctx context.Context, rawName string) []Component {
	if comps, ok := c.compCache[rawName]; ok {
		return comps
	}
	var comps []Component
	if c.opts.Lookup != nil {
		var err error
		comps, err = c.opts.Lookup(ctx, rawName)
		if err != nil {
			c.log.Warn("component lookup failed, treating as no components",
				zap.String("profile", rawName), zap.Error(err))
			comps = nil
		}
	}
	c.compCache[rawName] = comps
	return comps
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedUnique(in []string) []string {
	set := make(map[string]bool, len(in))
	for _, s := range in {
		set[s] = true
	}
	return sortedKeys(set)
}
