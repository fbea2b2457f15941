// internal/status/snapshot.go
package status

// Snapshot is exactly what display collaborators are allowed to see.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	State          uint16
	Attempt        uint16
	AttemptCount   uint16
	SecondsInState uint16
}
