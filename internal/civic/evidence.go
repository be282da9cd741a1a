package civic

import "strings"

// Evidence directions and significances used by the resistance filter.
const (
	DirectionSupports      = "SUPPORTS"
	SignificanceResistance = "RESISTANCE"
)

// Evidence is one upstream CIViC evidence item, typed at the ingestion
// boundary and treated as read-only source-of-truth afterwards.
type Evidence struct {
	ID           int       `json:"id"`
	Status       string    `json:"status,omitempty"`
	Significance string    `json:"significance,omitempty"`
	Direction    string    `json:"evidence_direction,omitempty"`
	Type         string    `json:"evidence_type,omitempty"`
	Level        string    `json:"evidence_level,omitempty"`
	Rating       *int      `json:"evidence_rating,omitempty"`
	Description  string    `json:"description,omitempty"`
	Profile      Profile   `json:"molecular_profile"`
	Therapies    []Therapy `json:"therapies,omitempty"`
	Disease      Disease   `json:"disease"`
	Source       *Source   `json:"source,omitempty"`
}

// Profile is the molecular profile an evidence item is reported against.
type Profile struct {
	ID   int    `json:"id,omitempty"`
	Name string `json:"name"`
}

// Therapy is one therapy descriptor on an evidence item.
type Therapy struct {
	Name   string `json:"name"`
	NcitID string `json:"ncit_id,omitempty"`
}

// Disease is the disease descriptor on an evidence item.
type Disease struct {
	DOID    string   `json:"doid"`
	Name    string   `json:"name"`
	Aliases []string `json:"disease_aliases,omitempty"`
}

// Source carries citation provenance for an evidence item.
type Source struct {
	CitationID      string `json:"citation_id,omitempty"`
	PublicationYear int    `json:"publication_year,omitempty"`
}

// Component is one (variant label, optional canonical registry ID) element
// of a molecular profile. Fusion profiles own one component per partner gene.
type Component struct {
	Variant string `json:"variant"`
	CAID    string `json:"ca_id,omitempty"`
}

// IsResistanceSupporting reports whether the evidence passes the fixed
// direction/significance predicate used throughout the pipeline.
func (e *Evidence) IsResistanceSupporting() bool {
	return strings.EqualFold(strings.TrimSpace(e.Direction), DirectionSupports) &&
		strings.EqualFold(strings.TrimSpace(e.Significance), SignificanceResistance)
}

// DedupeTherapies collapses an evidence item's therapies by
// (normalized name, NCIt ID), keeping the first-seen display casing and
// dropping blank names.
func DedupeTherapies(therapies []Therapy) []Therapy {
	type therapyKey struct {
		norm string
		ncit string
	}
	seen := make(map[therapyKey]bool, len(therapies))
	out := make([]Therapy, 0, len(therapies))
	for _, t := range therapies {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			continue
		}
		k := therapyKey{norm: NormalizeText(name), ncit: t.NcitID}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, Therapy{Name: name, NcitID: t.NcitID})
	}
	return out
}

// GeneInProfile reports whether a gene symbol appears as a token of the
// profile name, including fusion shapes like EML4::ALK.
func GeneInProfile(profileName, geneSymbol string) bool {
	if profileName == "" || geneSymbol == "" {
		return false
	}
	gene := strings.ToUpper(geneSymbol)
	name := strings.ToUpper(profileName)

	for _, tok := range profileTokenRe.Split(name, -1) {
		if tok == gene {
			return true
		}
	}
	for _, fusion := range fusionPairRe.FindAllString(name, -1) {
		for _, part := range strings.Split(fusion, "::") {
			if strings.TrimSpace(part) == gene {
				return true
			}
		}
	}
	return false
}
