// Package feed implements the swipeable idea feed engine: gesture
// resolution, the card stack state machine, and the optimistic
// mutation coordinator that reconciles like state with the server.
package feed

// Decision is the outcome of a swipe gesture or an explicit action button.
type Decision int

const (
	// DecisionNone means the gesture did not clear either threshold and
	// the card snaps back with no state change.
	DecisionNone Decision = iota
	DecisionPass
	DecisionLike
	DecisionSuperLike
)

func (d Decision) String() string {
	switch d {
	case DecisionPass:
		return "pass"
	case DecisionLike:
		return "like"
	case DecisionSuperLike:
		return "superlike"
	default:
		return "none"
	}
}

// ParseDecision maps the wire form of an action button to a Decision.
func ParseDecision(s string) (Decision, bool) {
	switch s {
	case "pass":
		return DecisionPass, true
	case "like":
		return DecisionLike, true
	case "superlike":
		return DecisionSuperLike, true
	default:
		return DecisionNone, false
	}
}

const (
	// DistanceThreshold is the horizontal drag distance past which a
	// released card commits to a decision.
	DistanceThreshold = 100.0
	// VelocityThreshold is the fling speed past which a released card
	// commits even when the distance threshold was not reached.
	VelocityThreshold = 0.6
)

// Resolve converts a finished drag gesture into a Decision. A positive
// offset or velocity is rightward (like), negative is leftward (pass).
// Both comparisons are strict: a gesture landing exactly on a threshold
// does not trigger. Super-like has no gesture form; it only arrives
// through the action button path.
func Resolve(offsetX, velocityX float64) Decision {
	switch {
	case offsetX > DistanceThreshold:
		return DecisionLike
	case offsetX < -DistanceThreshold:
		return DecisionPass
	case velocityX > VelocityThreshold:
		return DecisionLike
	case velocityX < -VelocityThreshold:
		return DecisionPass
	default:
		return DecisionNone
	}
}
