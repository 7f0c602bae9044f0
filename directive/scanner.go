package directive

import (
	"strings"
	"unicode"
)

// Mode selects which tags the scanner recognizes.
type Mode int

const (
	// ModeDirect is a one-to-one conversation; PRIVATE tags pass through
	// as plain text.
	ModeDirect Mode = iota
	// ModeGroup additionally recognizes [[PRIVATE: ...]].
	ModeGroup
)

// Options adjust decoding.
type Options struct {
	// Speaker, when set, strips a hallucinated leading "Speaker:" echo.
	Speaker string
}

// Decode runs the single-pass scan over raw model output. Unrecognized
// bracket sequences are left untouched so malformed model output never
// corrupts prose.
func Decode(text string, mode Mode, optFns ...func(o *Options)) Result {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := stripEcho(text, opts.Speaker)

	var (
		runs []Run
		buf  strings.Builder
	)
	flush := func() {
		if buf.Len() > 0 {
			runs = append(runs, Run{Text: buf.String()})
			buf.Reset()
		}
	}

	i := 0
	for i < len(s) {
		if strings.HasPrefix(s[i:], "[[") {
			if end := strings.Index(s[i+2:], "]]"); end >= 0 {
				inner := s[i+2 : i+2+end]
				if d, ok := parseTag(inner, mode); ok {
					flush()
					runs = append(runs, Run{Directive: d})
					i += end + 4
					continue
				}
			}
			// Fail open: keep the bracket, rescan from the next byte so a
			// later valid tag is still found.
			buf.WriteByte(s[i])
			i++
			continue
		}
		if s[i] == '[' {
			if d, width, ok := parseScheduleLine(s[i:]); ok {
				flush()
				runs = append(runs, Run{Directive: d})
				i += width
				continue
			}
			buf.WriteByte(s[i])
			i++
			continue
		}
		buf.WriteByte(s[i])
		i++
	}
	flush()

	res := Result{Runs: runs}
	var clean strings.Builder
	for _, r := range runs {
		if r.IsText() {
			clean.WriteString(r.Text)
			continue
		}
		res.Directives = append(res.Directives, r.Directive)
	}
	res.CleanText = clean.String()
	return res
}

// WithSpeaker enables stripping of a leading "name:" echo matching the
// persona's display name.
func WithSpeaker(name string) func(o *Options) {
	return func(o *Options) { o.Speaker = name }
}

// parseTag interprets the inside of a [[...]] span. Tag names are
// case-sensitive; whitespace around | separators and after : is trimmed.
func parseTag(inner string, mode Mode) (Directive, bool) {
	switch {
	case inner == "ACTION:POKE":
		return Poke{}, true

	case strings.HasPrefix(inner, "ACTION:TRANSFER:"):
		amount := strings.TrimSpace(inner[len("ACTION:TRANSFER:"):])
		if amount == "" {
			return nil, false
		}
		return Transfer{Amount: amount}, true

	case strings.HasPrefix(inner, "ACTION:ADD_EVENT"):
		fields := splitFields(inner)
		if len(fields) != 3 || fields[0] != "ACTION:ADD_EVENT" || fields[1] == "" || fields[2] == "" {
			return nil, false
		}
		return AddEvent{Title: fields[1], Date: fields[2]}, true

	case strings.HasPrefix(inner, "SEND_EMOJI:"):
		name := strings.TrimSpace(inner[len("SEND_EMOJI:"):])
		if name == "" {
			return nil, false
		}
		return SendEmoji{Name: name}, true

	case strings.HasPrefix(inner, "RECALL:"):
		month, ok := parseMonthKey(strings.TrimSpace(inner[len("RECALL:"):]))
		if !ok {
			return nil, false
		}
		return Recall{Month: month}, true

	case mode == ModeGroup && strings.HasPrefix(inner, "PRIVATE:"):
		content := strings.TrimSpace(inner[len("PRIVATE:"):])
		if content == "" {
			return nil, false
		}
		return Private{Content: content}, true
	}
	return nil, false
}

// parseScheduleLine matches the line-oriented
// [schedule_message | <datetime> | fixed | <content>] form starting at s[0].
func parseScheduleLine(s string) (Directive, int, bool) {
	end := strings.IndexByte(s, ']')
	if end < 0 {
		return nil, 0, false
	}
	fields := splitFields(s[1:end])
	if len(fields) != 4 || fields[0] != "schedule_message" || fields[2] != "fixed" {
		return nil, 0, false
	}
	if fields[1] == "" || fields[3] == "" {
		return nil, 0, false
	}
	return Schedule{At: fields[1], Content: fields[3]}, end + 1, true
}

func splitFields(s string) []string {
	parts := strings.Split(s, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// parseMonthKey validates a <year>-<month> key and normalizes it to the
// zero-padded YYYY-MM form used by memory banks.
func parseMonthKey(s string) (string, bool) {
	year, month, ok := strings.Cut(s, "-")
	if !ok || len(year) != 4 || !allDigits(year) {
		return "", false
	}
	if len(month) < 1 || len(month) > 2 || !allDigits(month) {
		return "", false
	}
	if len(month) == 1 {
		month = "0" + month
	}
	if month < "01" || month > "12" {
		return "", false
	}
	return year + "-" + month, true
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// stripEcho removes a hallucinated leading timestamp or speaker-name echo.
// Models occasionally prepend "Name: " or a bracketed date before their
// actual reply; neither should reach the user.
func stripEcho(s, speaker string) string {
	t := strings.TrimLeft(s, " \t")

	// Leading bracketed date/time echo, e.g. "[2025-03-01 09:00] ...".
	// Real tags start with "[[" and the schedule line's first field is not
	// digit-bearing in its head, so this only fires on date-looking spans.
	if strings.HasPrefix(t, "[") && !strings.HasPrefix(t, "[[") {
		if end := strings.IndexByte(t, ']'); end > 0 {
			inner := strings.TrimSpace(t[1:end])
			if !strings.HasPrefix(inner, "schedule_message") && containsDigit(inner) {
				t = strings.TrimLeft(t[end+1:], " \t")
			}
		}
	}

	if speaker != "" {
		for _, sep := range []string{":", "："} {
			if rest, ok := strings.CutPrefix(t, speaker+sep); ok {
				t = strings.TrimLeft(rest, " \t")
				break
			}
		}
	}
	return t
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
