package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emoteRe   = regexp.MustCompile(`:[a-zA-Z0-9_]+:`)
	urlRe     = regexp.MustCompile(`https?://\S+`)
	specialRe = regexp.MustCompile("[<>{}\\[\\]|\\\\^~`]")
	spaceRe   = regexp.MustCompile(`\s+`)
)

// Clean prepares text for speech: emote codes, URLs and characters engines
// tend to read aloud are removed, runs of four or more identical characters
// shrink to two and whitespace collapses to single spaces.
func Clean(text string) string {
	text = emoteRe.ReplaceAllString(text, "")
	text = urlRe.ReplaceAllString(text, "")
	text = specialRe.ReplaceAllString(text, "")
	text = squashRepeats(text, 4, 2)
	return strings.TrimSpace(spaceRe.ReplaceAllString(text, " "))
}

// squashRepeats shortens any run of at least min identical runes to keep.
func squashRepeats(s string, min, keep int) string {
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	run := 0
	flush := func() {
		if run == 0 {
			return
		}
		n := run
		if run >= min {
			n = keep
		}
		for i := 0; i < n; i++ {
			b.WriteRune(prev)
		}
	}
	for _, r := range s {
		if run > 0 && r == prev {
			run++
			continue
		}
		flush()
		prev, run = r, 1
	}
	flush()
	return b.String()
}

// Truncate limits text to max runes, ending with "..." when shortened.
func Truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	if max <= 3 {
		return string([]rune(text)[:max])
	}
	r := []rune(text)[:max-3]
	return strings.TrimRight(string(r), " ") + "..."
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
