package types

// Lifecycle state constants for memory records.
const (
	StateCreated  = "created"  // Stored but never selected as context
	StateActive   = "active"   // Selected as context by the most recent search
	StateInactive = "inactive" // Deactivated, still searchable
	StateArchived = "archived" // Kept for history, terminal
)

// ValidStates contains all valid record lifecycle state values.
var ValidStates = []string{
	StateCreated,
	StateActive,
	StateInactive,
	StateArchived,
}

// IsValidState checks if the given state is a valid lifecycle state.
// Empty string is considered valid (means state not set yet).
func IsValidState(state string) bool {
	if state == "" {
		return true
	}
	for _, s := range ValidStates {
		if state == s {
			return true
		}
	}
	return false
}

// IsValidStateTransition validates record state transitions.
//
// Valid transitions:
//
//	(empty) -> created
//	created -> active | inactive | archived
//	active -> inactive | archived
//	inactive -> active | archived
//	archived -> (terminal, no transitions out)
//
// Active and inactive only drive UI visualization; neither excludes a record
// from future searches. Deletion is not a transition — records may be purged
// from any state.
func IsValidStateTransition(currentState, newState string) bool {
	if newState == "" {
		return false
	}

	switch currentState {
	case "":
		return newState == StateCreated

	case StateCreated:
		return newState == StateActive || newState == StateInactive || newState == StateArchived

	case StateActive:
		return newState == StateInactive || newState == StateArchived

	case StateInactive:
		return newState == StateActive || newState == StateArchived

	case StateArchived:
		return false

	default:
		return false
	}
}
