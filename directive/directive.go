// Package directive implements the action protocol codec: a single-pass,
// order-preserving tokenizer that lifts bracketed control tags out of
// assistant free text. Decoding is deterministic and side-effect free; the
// session and group director own execution of what it finds.
package directive

// Directive is a structured instruction embedded in assistant text. The
// concrete types form a closed set via the unexported marker method.
type Directive interface {
	isDirective()
	// Kind returns a stable label for logging.
	Kind() string
}

// Poke is a non-verbal nudge interaction.
type Poke struct{}

func (Poke) isDirective() {}

// Kind implements Directive.
func (Poke) Kind() string { return "poke" }

// Transfer is a payment of the given amount. Amount is kept verbatim; the
// executor decides how to interpret currency.
type Transfer struct {
	Amount string
}

func (Transfer) isDirective() {}

// Kind implements Directive.
func (Transfer) Kind() string { return "transfer" }

// AddEvent creates a calendar entry.
type AddEvent struct {
	Title string
	Date  string // ISO YYYY-MM-DD
}

func (AddEvent) isDirective() {}

// Kind implements Directive.
func (AddEvent) Kind() string { return "add_event" }

// SendEmoji sends a named sticker. Names resolve against the emoji table;
// unresolved names are dropped silently by the executor.
type SendEmoji struct {
	Name string
}

func (SendEmoji) isDirective() {}

// Kind implements Directive.
func (SendEmoji) Kind() string { return "send_emoji" }

// Recall asks the engine to inject the detailed memory log for a month and
// re-query. At most one recall hop is honored per turn.
type Recall struct {
	Month string // YYYY-MM
}

func (Recall) isDirective() {}

// Kind implements Directive.
func (Recall) Kind() string { return "recall" }

// Schedule registers a future proactive message. At is the raw datetime
// text from the tag; the executor parses it and discards past or
// unparsable values without error.
type Schedule struct {
	At      string // YYYY-MM-DD HH:MM:SS
	Content string
}

func (Schedule) isDirective() {}

// Kind implements Directive.
func (Schedule) Kind() string { return "schedule" }

// Private carries content routed to a member's one-to-one conversation
// instead of the group log. Recognized in group mode only.
type Private struct {
	Content string
}

func (Private) isDirective() {}

// Kind implements Directive.
func (Private) Kind() string { return "private" }

// Run is one span of the decoded output: either a text run (Directive nil)
// or a directive at its original position. Executing runs in order
// reproduces the model's intended interleaving of prose and side effects.
type Run struct {
	Text      string
	Directive Directive
}

// IsText reports whether the run is a prose span.
func (r Run) IsText() bool { return r.Directive == nil }

// Result is the outcome of decoding one assistant reply.
type Result struct {
	// CleanText is the prose with every recognized tag removed.
	CleanText string
	// Directives lists recognized tags in textual order.
	Directives []Directive
	// Runs preserves the interleaving of prose spans and directives.
	Runs []Run
}
