package lifecycle

// Outcome classifies what the manager did with an entry signal. Rejection is
// a normal decision, not an error; Deferred means the signal may succeed on a
// later tick (entry in flight, rules not yet loaded).
type Outcome string

const (
	OutcomeAccepted Outcome = "ACCEPTED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeDeferred Outcome = "DEFERRED"
)

// EntryDecision is the result of offering a signal to the manager.
type EntryDecision struct {
	Outcome Outcome `json:"outcome"`
	Reason  string  `json:"reason,omitempty"`
	Trade   *Trade  `json:"trade,omitempty"`
}

func accepted(t *Trade) EntryDecision {
	return EntryDecision{Outcome: OutcomeAccepted, Trade: t}
}

func rejected(reason string) EntryDecision {
	return EntryDecision{Outcome: OutcomeRejected, Reason: reason}
}

func deferred(reason string) EntryDecision {
	return EntryDecision{Outcome: OutcomeDeferred, Reason: reason}
}
