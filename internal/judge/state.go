package judge

// State is a step of the judging protocol for one (query, document) pair.
type State string

const (
	StatePrompted         State = "prompted"
	StateAwaitingInitial  State = "awaiting_initial"
	StateAwaitingFeedback State = "awaiting_feedback"
	StateParsingFeedback  State = "parsing_feedback"
	StateValidated        State = "validated"
	StateRetryTransport   State = "retry_transport"
	StateRetryValidation  State = "retry_validation"
)

// Transition is reported to observers each time the protocol changes state.
type Transition struct {
	QueryText  string
	DocumentID string
	From       State
	To         State
	// Round is 1 for the initial answer and 2 for the critique.
	Round int
	// Attempt counts service calls made so far for this pair.
	Attempt int
	// Err is the failure that caused a retry transition.
	Err error
}
