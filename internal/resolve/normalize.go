package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// Normalizer standardizes entity names for matching. The optional
// vocabulary rewrites whole tokens after folding, e.g. "manzana" -> "apple".
type Normalizer struct {
	vocabulary map[string]string
}

// NewNormalizer builds a Normalizer. Vocabulary keys and values are
// themselves normalized so configuration case and accents do not matter.
func NewNormalizer(vocabulary map[string]string) *Normalizer {
	n := &Normalizer{vocabulary: make(map[string]string, len(vocabulary))}
	for k, v := range vocabulary {
		k = fold(k)
		if k == "" {
			continue
		}
		n.vocabulary[k] = fold(v)
	}
	return n
}

// Normalize lowercases, folds accents, strips punctuation, collapses
// whitespace and applies the vocabulary.
func (n *Normalizer) Normalize(name string) string {
	s := fold(name)
	if s == "" || len(n.vocabulary) == 0 {
		return s
	}
	tokens := strings.Fields(s)
	out := tokens[:0]
	for _, tok := range tokens {
		if rep, ok := n.vocabulary[tok]; ok {
			if rep == "" {
				continue
			}
			tok = rep
		}
		out = append(out, tok)
	}
	return strings.Join(out, " ")
}

// NormalizeName applies Normalize without a vocabulary.
//
//	"APPLES, RAW" -> "apples raw"
//	"Plátano  (kg)" -> "platano kg"
func NormalizeName(name string) string {
	return fold(name)
}

func fold(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	// Apostrophes join ("joe's" -> "joes"), other punctuation splits.
	s = strings.NewReplacer("'", "", "’", "", "&", " and ").Replace(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			return ' '
		}
		return r
	}, s)

	s = multiSpaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
