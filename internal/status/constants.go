// internal/status/constants.go
package status

// Status block layout constants for register-oriented display
// collaborators (LED matrices, character LCDs). These values define the
// layout and MUST NOT be configurable.

// ---- BLOCK GEOMETRY ----

// SlotsPerBlock is the fixed number of logical slots in a status block.
const SlotsPerBlock = 8

// ---- SLOT INDICES ----

// SlotState holds the onboarding state code.
const SlotState = 0

// SlotAttempt holds the current connection attempt (1-based, 0 outside
// TryConnect).
const SlotAttempt = 1

// SlotAttemptCount holds the configured attempt budget.
const SlotAttemptCount = 2

// SlotSecondsInState holds the seconds spent in the current state.
const SlotSecondsInState = 3

// ---- RESERVED RANGE ----

// Slots 4-7 are reserved for future use.
const SlotReservedStart = 4
const SlotReservedEnd = 7

// ---- STATE CODES ----

// StateStart is the boot state: stored configuration is being read.
const StateStart uint16 = 0

// StateAccessPoint means the captive portal is up and waiting for a
// credential submission.
const StateAccessPoint uint16 = 1

// StateTryConnect means the device is joining the configured network.
const StateTryConnect uint16 = 2

// StateReadyToWork means the network is up and time is synchronized.
const StateReadyToWork uint16 = 3
