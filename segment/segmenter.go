// Package segment splits cleaned assistant prose into ordered chat bubbles
// and computes the simulated typing delay between them. The delay is a UX
// affordance, not a correctness requirement; callers inject their own
// DelayFunc (or none) in tests.
package segment

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Sentinels protecting ellipsis sequences during the split. Private-use
// runes cannot occur in model output that survived UTF-8 decoding.
const (
	asciiEllipsisSentinel = "\uE000"
	cjkEllipsisSentinel   = "\uE001"
)

const (
	perRuneDelay = 50 * time.Millisecond
	minDelay     = 500 * time.Millisecond
	maxDelay     = 2 * time.Second
)

// DelayFunc computes the artificial pause before a chunk is persisted.
type DelayFunc func(chunk string) time.Duration

// Delay is the default typing simulation: clamp(runes * 50ms, 500ms, 2s).
func Delay(chunk string) time.Duration {
	d := time.Duration(utf8.RuneCountInString(chunk)) * perRuneDelay
	if d < minDelay {
		return minDelay
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// NoDelay disables the typing simulation.
func NoDelay(string) time.Duration { return 0 }

// Split breaks text into ordered non-empty trimmed chunks. Boundaries are
// sentence-final punctuation (unless followed by a closing quote/bracket,
// which stays attached), explicit newlines, and spacing between CJK
// ideographs. Ellipsis sequences never count as boundaries. A non-empty
// input that would otherwise produce zero chunks is returned whole.
func Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	protected := strings.ReplaceAll(text, "……", cjkEllipsisSentinel)
	protected = strings.ReplaceAll(protected, "...", asciiEllipsisSentinel)

	runes := []rune(protected)
	var (
		chunks []string
		buf    []rune
	)
	emit := func() {
		chunk := strings.TrimSpace(restore(string(buf)))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		buf = buf[:0]
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			emit()
			continue
		}

		// A space wedged between two ideographs is a deliberate bubble
		// break in the source text.
		if r == ' ' && i > 0 && i+1 < len(runes) && isIdeograph(runes[i-1]) && isIdeograph(runes[i+1]) {
			emit()
			continue
		}

		buf = append(buf, r)

		if isSentenceFinal(r, runes, i) {
			// Closing quotes/brackets belong to the sentence they close.
			for i+1 < len(runes) && isClosing(runes[i+1]) {
				i++
				buf = append(buf, runes[i])
			}
			emit()
		}
	}
	emit()

	if len(chunks) == 0 {
		return []string{strings.TrimSpace(text)}
	}
	return chunks
}

func restore(s string) string {
	s = strings.ReplaceAll(s, cjkEllipsisSentinel, "……")
	return strings.ReplaceAll(s, asciiEllipsisSentinel, "...")
}

func isSentenceFinal(r rune, runes []rune, i int) bool {
	switch r {
	case '。', '！', '？', '!', '?':
		// Not a boundary when a closing quote/bracket follows and the
		// sentence continues; the closer is consumed by the caller, so
		// treat it as final anyway.
		return true
	case '.':
		// Bare periods split only at a visual break so decimals and
		// abbreviations survive (ellipses are already protected).
		return i+1 == len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n'
	}
	return false
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '」', '』', ')', '）', ']', '】', '》', '〉', '}':
		return true
	}
	return false
}

func isIdeograph(r rune) bool {
	return unicode.Is(unicode.Han, r)
}
