package notify

import "unicode/utf8"

const (
	// MoreMarker ends every segment that is followed by another.
	MoreMarker = "⤵️"
	// ContinueMarker starts every segment after the first.
	ContinueMarker = "↪️"

	minSplitLimit = 16
)

// Split cuts text into ordered segments of at most limit runes, markers
// included. A cut prefers the last newline in the second half of the window.
// Stripping the markers and concatenating the segments gives back text byte
// for byte. Invalid UTF-8 is never rewritten; each stray byte counts as one
// rune, the way utf8.RuneCountInString counts it.
func Split(text string, limit int) []string {
	if limit < minSplitLimit {
		limit = minSplitLimit
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	more := utf8.RuneCountInString(MoreMarker)
	cont := utf8.RuneCountInString(ContinueMarker)

	var (
		out  []string
		offs []int // byte offset of each rune in the window
	)
	rest := text
	for first := true; rest != ""; first = false {
		prefix, budget := "", limit
		if !first {
			prefix, budget = ContinueMarker, limit-cont
		}
		if utf8.RuneCountInString(rest) <= budget {
			out = append(out, prefix+rest)
			break
		}
		budget -= more
		offs = offs[:0]
		for b := 0; len(offs) <= budget; {
			offs = append(offs, b)
			_, w := utf8.DecodeRuneInString(rest[b:])
			b += w
		}
		cut := offs[budget]
		for i := budget - 1; i >= budget/2; i-- {
			if rest[offs[i]] == '\n' {
				cut = offs[i] + 1
				break
			}
		}
		out = append(out, prefix+rest[:cut]+MoreMarker)
		rest = rest[cut:]
	}
	return out
}
