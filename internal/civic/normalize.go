// Package civic implements the curation core for CIViC evidence: label
// normalization, alias generation, rule aggregation, and mutation projection.
package civic

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	dashRunRe  = regexp.MustCompile(`-{2,}`)
	spaceRunRe = regexp.MustCompile(`\s{2,}`)
	nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

	// profileTokenRe splits a profile name into tokens for gene matching.
	profileTokenRe = regexp.MustCompile(`[\s\-_:;()/\\|&]+`)
	// fusionPairRe finds double-colon fusion pairs like EML4::ALK.
	fusionPairRe = regexp.MustCompile(`[A-Z0-9]+::[A-Z0-9]+`)
)

// NormalizeText produces the coarse deduplication form of a free-text label:
// NFKC-folded, lowercased, with "::", "_" and dash runs collapsed to a single
// "-" and whitespace runs collapsed to a single space. Total: empty or
// unset input yields "".
func NormalizeText(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "::", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = dashRunRe.ReplaceAllString(s, "-")
	s = spaceRunRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// NormalizeLabel produces the strict persisted secondary-key form: lowercase
// alphanumeric tokens joined by underscores. Pure function of its input.
func NormalizeLabel(s string) string {
	if s == "" {
		return ""
	}
	s = norm.NFKC.String(s)
	s = strings.ToLower(s)
	s = nonAlnumRe.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
