package publish

import (
	"math/rand/v2"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// DefaultMaxHashtags limits the hashtags attached to a professional post.
const DefaultMaxHashtags = 5

var stopCategories = map[string]bool{"articoli": true}

// CleanCategories lowercases categories and removes their spaces. Entries of
// more than three words, entries containing apostrophes and stop categories
// are dropped; duplicates keep their first position.
func CleanCategories(categories []string) []string {
	lower := cases.Lower(language.Und)
	seen := make(map[string]bool)
	var out []string
	for _, c := range categories {
		c = norm.NFC.String(strings.TrimSpace(c))
		if c == "" || len(strings.Fields(c)) > 3 {
			continue
		}
		tag := lower.String(strings.Join(strings.Fields(c), ""))
		if strings.ContainsAny(tag, "'’") || stopCategories[tag] || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}

// Hashtags returns at most limit "#tag" strings built from categories. When
// more are available a random sample is taken. A nil rng uses the global
// source.
func Hashtags(categories []string, limit int, rng *rand.Rand) []string {
	tags := CleanCategories(categories)
	if limit > 0 && len(tags) > limit {
		perm := rand.Perm
		if rng != nil {
			perm = rng.Perm
		}
		idx := perm(len(tags))[:limit]
		sampled := make([]string, 0, limit)
		for _, i := range idx {
			sampled = append(sampled, tags[i])
		}
		tags = sampled
	}

	out := make([]string, 0, len(tags))
	for _, t := range tags {
		out = append(out, "#"+t)
	}
	return out
}
