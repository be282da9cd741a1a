package civic

import (
	"sort"
	"strings"
)

// Mutation categories derived from therapy generation exposure.
const (
	CategoryResistant = "resistant"
	CategoryDriver    = "driver"
	CategoryUnknown   = "unknown"
)

// Generations maps inhibitor generations to therapy identifiers. Entries
// match either the therapy's normalized display name or its NCIt ID.
type Generations struct {
	First  []string `json:"first" mapstructure:"first"`
	Second []string `json:"second" mapstructure:"second"`
	Third  []string `json:"third" mapstructure:"third"`
}

// contains reports whether the therapy matches any entry of the list by
// normalized name or NCIt ID.
func generationContains(list []string, t Therapy) bool {
	norm := NormalizeText(t.Name)
	for _, entry := range list {
		if NormalizeText(entry) == norm {
			return true
		}
		if t.NcitID != "" && strings.EqualFold(entry, t.NcitID) {
			return true
		}
	}
	return false
}

// Mutation re-keys curated knowledge by individual variant: the union of
// aliases and therapies across every rule that referenced the variant, plus
// a resistance category derived from therapy generation exposure.
type Mutation struct {
	Name        string    `json:"name"`
	CanonicalID string    `json:"canonical_id,omitempty"`
	Aliases     []string  `json:"aliases"`
	Therapies   []Therapy `json:"therapies"`
	Category    string    `json:"category"`
	ProfileKeys []string  `json:"profile_keys"`
}

// ProjectMutations folds finalized curated rules into one Mutation per
// variant label. Classification runs once over the fully merged therapy set,
// with precedence resistant > driver > unknown: a variant first seen with
// only first-generation exposure still classifies as resistant once any
// later-generation therapy is observed.
func ProjectMutations(rules map[string]*Rule, gens Generations) map[string]*Mutation {
	type acc struct {
		mutation  *Mutation
		aliases   map[string]bool
		therapies map[therapyIdentity]bool
		profiles  map[string]bool
	}
	accs := make(map[string]*acc)

	for _, rule := range rules {
		for _, comp := range rule.Components {
			name := strings.TrimSpace(comp.Variant)
			if name == "" {
				continue
			}
			a, ok := accs[name]
			if !ok {
				a = &acc{
					mutation:  &Mutation{Name: name, CanonicalID: comp.CAID},
					aliases:   make(map[string]bool),
					therapies: make(map[therapyIdentity]bool),
					profiles:  make(map[string]bool),
				}
				accs[name] = a
			}
			if a.mutation.CanonicalID == "" && comp.CAID != "" {
				a.mutation.CanonicalID = comp.CAID
			}
			for _, alias := range rule.Aliases {
				a.aliases[alias] = true
			}
			for _, t := range rule.Therapies {
				id := therapyIdentity{norm: NormalizeText(t.Name), ncit: t.NcitID}
				if !a.therapies[id] {
					a.therapies[id] = true
					a.mutation.Therapies = append(a.mutation.Therapies, t)
				}
			}
			a.profiles[rule.Key] = true
		}
	}

	mutations := make(map[string]*Mutation, len(accs))
	for name, a := range accs {
		m := a.mutation
		m.Aliases = sortedKeys(a.aliases)
		m.ProfileKeys = sortedKeys(a.profiles)
		sort.Slice(m.Therapies, func(i, j int) bool {
			x, y := m.Therapies[i], m.Therapies[j]
			xn, yn := NormalizeText(x.Name), NormalizeText(y.Name)
			if xn != yn {
				return xn < yn
			}
			return x.NcitID < y.NcitID
		})
		m.Category = classify(m.Therapies, gens)
		mutations[name] = m
	}
	return mutations
}

// classify assigns the resistance category for a merged therapy set.
func classify(therapies []Therapy, gens Generations) string {
	later := append(append([]string{}, gens.Second...), gens.Third...)
	for _, t := range therapies {
		if generationContains(later, t) {
			return CategoryResistant
		}
	}
	for _, t := range therapies {
		if generationContains(gens.First, t) {
			return CategoryDriver
		}
	}
	return CategoryUnknown
}
