package resolve

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/rotisserie/eris"
)

// Similarity scores two normalized names on [0, 100]. Implementations
// must be deterministic and score identical non-empty inputs 100.
type Similarity interface {
	Name() string
	Score(a, b string) float64
}

// DefaultSimilarity is used when no similarity is configured.
const DefaultSimilarity = "token_set"

var similarities = map[string]Similarity{
	"levenshtein":   Ratio{},
	"token_sort":    TokenSort{},
	"token_set":     TokenSet{},
	"token_overlap": TokenOverlap{},
}

// LookupSimilarity returns the named similarity function.
func LookupSimilarity(name string) (Similarity, error) {
	if name == "" {
		name = DefaultSimilarity
	}
	s, ok := similarities[name]
	if !ok {
		names := make([]string, 0, len(similarities))
		for n := range similarities {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, eris.Errorf("resolve: unknown similarity %q (valid: %s)", name, strings.Join(names, ", "))
	}
	return s, nil
}

// ratio is the edit-distance similarity 100 * (1 - dist/maxLen).
func ratio(a, b string) float64 {
	if a == b {
		return 100
	}
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := la
	if lb > longest {
		longest = lb
	}
	if longest == 0 {
		return 100
	}
	d := levenshtein.ComputeDistance(a, b)
	return 100 * (1 - float64(d)/float64(longest))
}

// Ratio compares whole strings by edit distance.
type Ratio struct{}

func (Ratio) Name() string              { return "levenshtein" }
func (Ratio) Score(a, b string) float64 { return ratio(a, b) }

// TokenSort compares the alphabetically sorted tokens of each name, so
// word order does not matter.
type TokenSort struct{}

func (TokenSort) Name() string { return "token_sort" }

func (TokenSort) Score(a, b string) float64 {
	return ratio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	toks := strings.Fields(s)
	sort.Strings(toks)
	return strings.Join(toks, " ")
}

// TokenSet compares the shared tokens against each side's remainder and
// keeps the best ratio. A name whose tokens are a subset of the other
// scores 100.
type TokenSet struct{}

func (TokenSet) Name() string { return "token_set" }

func (TokenSet) Score(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	var inter, onlyA, onlyB []string
	for t := range sa {
		if sb[t] {
			inter = append(inter, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for t := range sb {
		if !sa[t] {
			onlyB = append(onlyB, t)
		}
	}
	sort.Strings(inter)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	base := strings.Join(inter, " ")
	diffA := strings.Join(onlyA, " ")
	diffB := strings.Join(onlyB, " ")
	if base == "" {
		return ratio(diffA, diffB)
	}

	withA := strings.TrimSpace(base + " " + diffA)
	withB := strings.TrimSpace(base + " " + diffB)
	best := ratio(base, withA)
	if s := ratio(base, withB); s > best {
		best = s
	}
	if s := ratio(withA, withB); s > best {
		best = s
	}
	return best
}

func tokenSet(s string) map[string]bool {
	m := make(map[string]bool)
	for _, t := range strings.Fields(s) {
		m[t] = true
	}
	return m
}

// TokenOverlap is the Dice coefficient over tokens. Two tokens match when
// equal or when the shorter, at least minStemLen runes long, prefixes the
// longer, so plural and singular forms ("apple", "apples") pair up. Each
// token matches at most once.
type TokenOverlap struct{}

const minStemLen = 4

func (TokenOverlap) Name() string { return "token_overlap" }

func (TokenOverlap) Score(a, b string) float64 {
	ta, tb := sortedSet(a), sortedSet(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 100
	}
	used := make([]bool, len(tb))
	shared := 0
	// Exact matches first so a stem cannot steal an exact partner.
	for _, exact := range []bool{true, false} {
		for i, x := range ta {
			if x == "" {
				continue
			}
			for j, y := range tb {
				if used[j] || !tokensMatch(x, y, exact) {
					continue
				}
				used[j] = true
				ta[i] = ""
				shared++
				break
			}
		}
	}
	return 100 * 2 * float64(shared) / float64(len(ta)+len(tb))
}

func sortedSet(s string) []string {
	set := tokenSet(s)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func tokensMatch(x, y string, exact bool) bool {
	if exact {
		return x == y
	}
	short, long := x, y
	if len(short) > len(long) {
		short, long = long, short
	}
	return utf8.RuneCountInString(short) >= minStemLen && strings.HasPrefix(long, short)
}
