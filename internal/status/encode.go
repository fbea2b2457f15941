// internal/status/encode.go
package status

// Encode converts a Snapshot into a full status block.
// Layout is locked by the constants in this package.
// No IO. No side effects.
func Encode(s Snapshot) []uint16 {
	slots := make([]uint16, SlotsPerBlock)

	slots[SlotState] = s.State
	slots[SlotAttempt] = s.Attempt
	slots[SlotAttemptCount] = s.AttemptCount
	slots[SlotSecondsInState] = s.SecondsInState

	return slots
}
