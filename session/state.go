package session

// State tracks where a generation turn is in its lifecycle. Transitions are
// linear with an optional single recall detour; a turn that errors returns
// to StateIdle after persisting its error notice.
type State int

const (
	// StateIdle means no generation is running for the conversation.
	StateIdle State = iota
	// StateRequesting means the completion request is in flight.
	StateRequesting
	// StateDecoding means the raw reply is being scanned for directives.
	StateDecoding
	// StateRecallRequesting means a follow-up completion with injected
	// memory detail is in flight. Entered at most once per turn.
	StateRecallRequesting
	// StateRecallDecoding means the recall reply is being scanned.
	StateRecallDecoding
	// StateSegmenting means clean prose is being split into bubbles.
	StateSegmenting
	// StatePersisting means decoded output is being written to the store.
	StatePersisting
)

// String returns the state label used in logs.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateDecoding:
		return "decoding"
	case StateRecallRequesting:
		return "recall_requesting"
	case StateRecallDecoding:
		return "recall_decoding"
	case StateSegmenting:
		return "segmenting"
	case StatePersisting:
		return "persisting"
	default:
		return "unknown"
	}
}
