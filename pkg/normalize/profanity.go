package normalize

import (
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// DefaultBlocklist is used when profanity filtering is on and no list is set.
var DefaultBlocklist = []string{
	"fuck", "fucking", "fucker", "motherfucker",
	"shit", "bullshit", "bitch", "cunt", "asshole",
	"bastard", "dickhead", "slut", "whore", "wanker",
}

var foldPool = sync.Pool{
	New: func() any {
		return transform.Chain(
			norm.NFKC,
			cases.Fold(),
			runes.Remove(runes.In(unicode.Mn)),
			runes.Remove(runes.In(unicode.Cf)),
			width.Fold,
		)
	},
}

// fold maps a word to the form used for blocklist comparison.
func fold(s string) string {
	s = strings.ToValidUTF8(s, "")
	tr := foldPool.Get().(transform.Transformer)
	out, _, err := transform.String(tr, s)
	tr.Reset()
	foldPool.Put(tr)
	if err != nil {
		out = strings.ToLower(s)
	}
	return leetFold(out)
}

func leetFold(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '4', '@':
			return 'a'
		case '0':
			return 'o'
		case '1', '!':
			return 'i'
		case '3':
			return 'e'
		case '5', '$':
			return 's'
		case '7':
			return 't'
		}
		return r
	}, s)
}

// ProfanityFilter masks blocklisted words in user text. It is safe for
// concurrent use.
type ProfanityFilter struct {
	words map[string]struct{}
}

func NewProfanityFilter(blocklist []string) *ProfanityFilter {
	if len(blocklist) == 0 {
		blocklist = DefaultBlocklist
	}
	words := make(map[string]struct{}, len(blocklist))
	for _, w := range blocklist {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		words[fold(w)] = struct{}{}
	}
	return &ProfanityFilter{words: words}
}

// Censor replaces each whole blocklisted word with asterisks of the same
// rune length. Substrings of longer words are left alone.
func (f *ProfanityFilter) Censor(s string) string {
	if f == nil || len(f.words) == 0 || s == "" {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		word := s[start:end]
		if _, bad := f.words[fold(word)]; bad {
			b.WriteString(strings.Repeat("*", utf8.RuneCountInString(word)))
		} else {
			b.WriteString(word)
		}
		start = -1
	}
	for i, r := range s {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
		b.WriteRune(r)
	}
	flush(len(s))
	return b.String()
}

// Contains reports whether s holds a blocklisted word.
func (f *ProfanityFilter) Contains(s string) bool {
	return f.Censor(s) != s
}

// isWordRune treats the leet substitutes '@' and '$' and zero-width joiners
// as word characters so "$hit" and "sh\u200dit" are compared whole.
func isWordRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) {
		return true
	}
	switch r {
	case '@', '$', '\u200c', '\u200d':
		return true
	}
	return false
}
