package lib

// Kind classifies what the surrounding application should tell the principal
// after an operation.
type Kind string

const (
	// KindNone means the flow ended silently: the principal left or got
	// verified through another path, no further messages are owed.
	KindNone Kind = "none"

	// KindPresent carries a puzzle to show, with the artifact and the time
	// left to answer.
	KindPresent Kind = "present"

	KindAlreadyInProgress Kind = "alreadyInProgress"
	KindAlreadyVerified   Kind = "alreadyVerified"
	KindConfigMissing     Kind = "configMissing"
	KindExpired           Kind = "expired"
	KindIncorrect         Kind = "incorrect"
	KindSuccess           Kind = "success"

	// KindGrantFailed means the principal solved the puzzle but roles could
	// not be granted. Never conflated with a wrong guess.
	KindGrantFailed Kind = "grantFailed"

	// KindUnavailable means presentation retries were exhausted; the caller
	// should offer an explicit retry affordance.
	KindUnavailable Kind = "unavailable"

	// KindFailed is the generic surface for storage or renderer failures.
	KindFailed Kind = "failed"
)

// Directive tells the surrounding application how to respond to the
// principal.
type Directive struct {
	Kind             Kind   `json:"kind"`
	ArtifactHandle   string `json:"artifactHandle,omitempty"`
	RemainingMinutes int    `json:"remainingMinutes,omitempty"`
}
