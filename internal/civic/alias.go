package civic

import (
	"regexp"
	"sort"
	"strings"
)

// aliasStopWords are single tokens never useful as standalone aliases.
var aliasStopWords = map[string]bool{
	"in":      true,
	"with":    true,
	"variant": true,
}

var (
	// variantTokenRe splits a raw variant label into gene + mutation tokens.
	// Includes the en dash (U+2013) alongside ASCII separators.
	variantTokenRe = regexp.MustCompile(`[:\-_–/\s]+`)

	// fusionRe matches two gene-like tokens joined by a fusion separator,
	// optionally suffixed with the word "fusion" (e.g. "EML4-ALK fusion",
	// "EML4::ALK").
	fusionRe = regexp.MustCompile(`(?i)\b([A-Z0-9]+)\s*(?:-|::|/|–)\s*([A-Z0-9]+)(?:\s+fusion)?\b`)
)

// GenerateAliases derives the controlled alias set for a molecular profile
// from its display name and variant components. The result is deterministic:
// sorted ascending, deduplicated, every alias longer than 3 characters and
// not a stop word. Components contribute independently; aliases are never
// cross-multiplied across components.
func GenerateAliases(profileName string, comps []Component) []string {
	aliases := make(map[string]bool)

	if base := strings.TrimSpace(profileName); base != "" {
		aliases[base] = true
	}
	if nb := NormalizeText(profileName); nb != "" {
		aliases[nb] = true
	}

	for _, comp := range comps {
		raw := comp.Variant
		vset := make(map[string]bool)

		if nraw := NormalizeText(raw); nraw != "" {
			vset[nraw] = true
		}

		// Gene + mutation orderings for non-fusion shapes.
		tokens := splitVariantTokens(raw)
		if len(tokens) >= 2 {
			gene := strings.ToUpper(tokens[0])
			mutation := strings.Join(tokens[1:], " ")
			vset[gene+" "+mutation] = true
			vset[mutation+" "+gene] = true
		}

		// Fusion shapes: both orderings, with and without the suffix,
		// both separator styles.
		if m := fusionRe.FindStringSubmatch(raw); m != nil {
			a, b := strings.ToUpper(m[1]), strings.ToUpper(m[2])
			for _, f := range []string{
				a + "-" + b + " fusion", a + "-" + b,
				b + "-" + a + " fusion", b + "-" + a,
				a + "::" + b, b + "::" + a,
			} {
				vset[f] = true
			}
		}

		for v := range vset {
			v = strings.TrimSpace(spaceRunRe.ReplaceAllString(v, " "))
			if v != "" {
				aliases[v] = true
			}
		}
	}

	out := make([]string, 0, len(aliases))
	for a := range aliases {
		if len(a) > 3 && !aliasStopWords[strings.ToLower(a)] {
			out = append(out, a)
		}
	}
	sort.Strings(out)
	return out
}

// splitVariantTokens splits a raw variant label on separator characters,
// dropping empty tokens.
func splitVariantTokens(raw string) []string {
	parts := variantTokenRe.Split(raw, -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}
