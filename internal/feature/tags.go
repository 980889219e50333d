package feature

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonASCII = runes.Predicate(func(r rune) bool { return r > unicode.MaxASCII })

// asciiFold decomposes a string and drops everything outside ASCII: "Café"
// becomes "Cafe". Chained transformers keep state, so each call builds one.
func asciiFold(s string) (string, error) {
	out, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(nonASCII)), s)
	return out, err
}

// NormalizeTag returns the stored form of a tag. Tags starting with "@" are
// kept as they are. Others lose their non-ASCII characters and are lower
// cased, unless they start with "~", "ref_" or "sourceID_".
func NormalizeTag(tag string) string {
	if tag == "" || tag[0] == '@' {
		return tag
	}
	out, err := asciiFold(tag)
	if err != nil {
		out = tag
	}
	if tag[0] != '~' && !strings.HasPrefix(tag, "ref_") && !strings.HasPrefix(tag, "sourceID_") {
		out = strings.ToLower(out)
	}
	return out
}

// NormalizeTags normalizes every tag of tags in place and returns it.
func NormalizeTags(tags []string) []string {
	for i, tag := range tags {
		tags[i] = NormalizeTag(tag)
	}
	return tags
}

// ParseTags reads tags from query parameter values. Commas separate tags,
// empty tags are dropped and duplicates are removed.
func ParseTags(values []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range values {
		for _, tag := range strings.Split(v, ",") {
			tag = NormalizeTag(strings.TrimSpace(tag))
			if tag == "" {
				continue
			}
			if _, dup := seen[tag]; dup {
				continue
			}
			seen[tag] = struct{}{}
			out = append(out, tag)
		}
	}
	return out
}
