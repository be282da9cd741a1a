// Package resolve assigns stable surrogate keys to disease, variant, and
// therapy observations, backed by in-memory caches preloaded from the
// persisted dimension tables.
package resolve

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/alkfred/alkfred/internal/civic"
)

// keyNamespace is the fixed UUIDv5 namespace for all minted surrogate keys.
// Keys must reproduce across independent runs, so this never changes.
var keyNamespace = uuid.Nil

// geneSymbolRe gates what counts as a defensible gene symbol.
var geneSymbolRe = regexp.MustCompile(`^[A-Z0-9]{2,}$`)

// labelSepRe tokenizes variant labels the same way the alias generator does,
// so fusion labels like "EML4-ALK fusion" yield "EML4" as the first token.
var labelSepRe = regexp.MustCompile(`[:\-_–/\s]+`)

// MintKey derives a deterministic surrogate key from a seed string such as
// "therapy|C74061" or "variant|alk_l1196m".
func MintKey(seed string) string {
	return uuid.NewSHA1(keyNamespace, []byte(seed)).String()
}

// FactKey derives the deterministic fact-row identifier for one
// (evidence, disease, variant, therapy) tuple.
func FactKey(eid int, doid, variantID, therapyID string) string {
	return MintKey(fmt.Sprintf("%d|%s|%s|%s", eid, doid, variantID, therapyID))
}

// TherapyRef is the outcome of resolving one therapy observation.
type TherapyRef struct {
	ID           string
	NcitID       string
	Created      bool // no dimension row exists yet
	AttachedNcit bool // a registry ID was attached to a label-resolved key
}

// VariantRef is the outcome of resolving one variant observation.
type VariantRef struct {
	ID         string
	GeneSymbol string
	Created    bool
}

// Resolver maps raw entity observations to stable surrogate keys. Seed the
// caches from persisted dimension rows before resolving; all resolution is
// idempotent within and across runs.
type Resolver struct {
	defaultGene string

	diseases      map[string]bool
	therapyByNcit map[string]string
	therapyByNorm map[string]string
	variants      map[string]bool
}

// NewResolver creates a Resolver. defaultGene, when non-empty, backs variant
// labels whose first token is not a defensible gene symbol.
func NewResolver(defaultGene string) *Resolver {
	return &Resolver{
		defaultGene:   strings.ToUpper(strings.TrimSpace(defaultGene)),
		diseases:      make(map[string]bool),
		therapyByNcit: make(map[string]string),
		therapyByNorm: make(map[string]string),
		variants:      make(map[string]bool),
	}
}

// SeedDisease records a disease ontology ID already present in dim_disease.
func (r *Resolver) SeedDisease(doid string) {
	if doid != "" {
		r.diseases[doid] = true
	}
}

// SeedTherapy records a therapy dimension row's key and lookup identities.
func (r *Resolver) SeedTherapy(id, ncitID, labelNorm string) {
	if ncitID != "" {
		r.therapyByNcit[ncitID] = id
	}
	if labelNorm != "" {
		r.therapyByNorm[labelNorm] = id
	}
}

// SeedVariant records a variant dimension row's key.
func (r *Resolver) SeedVariant(id string) {
	if id != "" {
		r.variants[id] = true
	}
}

// ResolveDisease keys a disease by its ontology ID verbatim. Returns false
// when the ID is blank; records missing that ID are rejected upstream.
func (r *Resolver) ResolveDisease(doid string) (id string, created, ok bool) {
	doid = strings.TrimSpace(doid)
	if doid == "" {
		return "", false, false
	}
	if r.diseases[doid] {
		return doid, false, true
	}
	r.diseases[doid] = true
	return doid, true, true
}

// ResolveTherapy maps a therapy observation to its surrogate key: by NCIt ID
// first, by normalized label second, minting a deterministic key otherwise.
// A registry ID arriving for an entity previously seen only by label is
// attached to the existing key rather than minting a second one.
func (r *Resolver) ResolveTherapy(name, ncitID string) (TherapyRef, bool) {
	name = strings.TrimSpace(name)
	labelNorm := civic.NormalizeLabel(name)
	if ncitID == "" && labelNorm == "" {
		return TherapyRef{}, false
	}

	if ncitID != "" {
		if id, ok := r.therapyByNcit[ncitID]; ok {
			return TherapyRef{ID: id, NcitID: ncitID}, true
		}
		if id, ok := r.therapyByNorm[labelNorm]; labelNorm != "" && ok {
			// Known by label only: attach the registry ID retroactively.
			r.therapyByNcit[ncitID] = id
			return TherapyRef{ID: id, NcitID: ncitID, AttachedNcit: true}, true
		}
		id := MintKey("therapy|" + ncitID)
		r.therapyByNcit[ncitID] = id
		if labelNorm != "" {
			r.therapyByNorm[labelNorm] = id
		}
		return TherapyRef{ID: id, NcitID: ncitID, Created: true}, true
	}

	if id, ok := r.therapyByNorm[labelNorm]; ok {
		return TherapyRef{ID: id}, true
	}
	id := MintKey("therapy|" + labelNorm)
	r.therapyByNorm[labelNorm] = id
	return TherapyRef{ID: id, Created: true}, true
}

// ResolveVariant maps a variant component to its surrogate key, preferring
// the canonical registry ID. Labels with no defensible gene symbol are
// rejected so unparseable strings never reach the variant dimension.
func (r *Resolver) ResolveVariant(label, caID string) (VariantRef, bool) {
	label = strings.TrimSpace(label)
	if label == "" && caID == "" {
		return VariantRef{}, false
	}

	gene := r.geneSymbolFor(label)
	if gene == "" {
		return VariantRef{}, false
	}

	id := caID
	if id == "" {
		id = MintKey("variant|" + civic.NormalizeLabel(label))
	}
	if r.variants[id] {
		return VariantRef{ID: id, GeneSymbol: gene}, true
	}
	r.variants[id] = true
	return VariantRef{ID: id, GeneSymbol: gene, Created: true}, true
}

// geneSymbolFor derives a gene symbol from the label's first token, falling
// back to the configured default.
func (r *Resolver) geneSymbolFor(label string) string {
	for _, tok := range labelSepRe.Split(label, 2) {
		if tok == "" {
			continue
		}
		tok = strings.ToUpper(tok)
		if geneSymbolRe.MatchString(tok) {
			return tok
		}
		break
	}
	if r.defaultGene != "" && geneSymbolRe.MatchString(r.defaultGene) {
		return r.defaultGene
	}
	return ""
}
