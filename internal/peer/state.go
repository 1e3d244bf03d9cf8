// Package peer negotiates one WebRTC connection per remote participant.
//
// Every record moves through a small state machine. Transition is a pure
// function; the Orchestrator owns the records and performs the actions it
// returns.
package peer

// State is the negotiation state of one remote participant
type State int

const (
	Idle State = iota
	Offering
	AwaitingAnswer
	AnsweringOffer
	Connected
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Offering:
		return "offering"
	case AwaitingAnswer:
		return "awaiting-answer"
	case AnsweringOffer:
		return "answering-offer"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Input is an event that can move a record
type Input int

const (
	InputUserJoined Input = iota
	InputOffer
	InputAnswer
	InputOfferSent
	InputAnswerSent
	InputRenegotiate
	InputLeft
)

func (i Input) String() string {
	switch i {
	case InputUserJoined:
		return "user-joined"
	case InputOffer:
		return "offer"
	case InputAnswer:
		return "answer"
	case InputOfferSent:
		return "offer-sent"
	case InputAnswerSent:
		return "answer-sent"
	case InputRenegotiate:
		return "renegotiate"
	case InputLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Action is the side effect a transition asks for
type Action int

const (
	ActionNone Action = iota
	ActionCreateOffer
	ActionAnswerOffer
	ActionRollbackAndAnswer
	ActionInstallAnswer
	ActionClose
	// ActionIgnore marks a protocol anomaly: log it, change nothing.
	ActionIgnore
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionCreateOffer:
		return "create-offer"
	case ActionAnswerOffer:
		return "answer-offer"
	case ActionRollbackAndAnswer:
		return "rollback-and-answer"
	case ActionInstallAnswer:
		return "install-answer"
	case ActionClose:
		return "close"
	case ActionIgnore:
		return "ignore"
	default:
		return "unknown"
	}
}

// Polite reports whether self yields when both sides offer at once. The
// lexicographically lower identity is polite.
func Polite(self, remote string) bool {
	return self < remote
}

// Transition returns the next state and the action to perform. polite only
// matters for an offer that collides with a local one.
func Transition(s State, in Input, polite bool) (State, Action) {
	if s == Closed {
		return Closed, ActionNone
	}
	if in == InputLeft {
		return Closed, ActionClose
	}

	switch s {
	case Idle:
		switch in {
		case InputUserJoined, InputRenegotiate:
			return Offering, ActionCreateOffer
		case InputOffer:
			return AnsweringOffer, ActionAnswerOffer
		}

	case Offering, AwaitingAnswer:
		switch in {
		case InputOfferSent:
			if s == Offering {
				return AwaitingAnswer, ActionNone
			}
		case InputOffer:
			if polite {
				return AnsweringOffer, ActionRollbackAndAnswer
			}
			return s, ActionIgnore
		case InputAnswer:
			if s == AwaitingAnswer {
				return Connected, ActionInstallAnswer
			}
		case InputRenegotiate:
			return s, ActionNone
		}

	case AnsweringOffer:
		switch in {
		case InputAnswerSent:
			return Connected, ActionNone
		case InputRenegotiate:
			return s, ActionNone
		}

	case Connected:
		switch in {
		case InputOffer:
			return AnsweringOffer, ActionAnswerOffer
		case InputRenegotiate:
			return Offering, ActionCreateOffer
		}
	}

	switch in {
	case InputOfferSent, InputAnswerSent:
		// completion of an operation that no longer applies
		return s, ActionNone
	}
	return s, ActionIgnore
}
