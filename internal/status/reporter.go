// internal/status/reporter.go
package status

import "log/slog"

// Display is the exact contract a display collaborator implements.
// IMPORTANT: There must be NO other version of this interface anywhere.
type Display interface {
	WriteStatus(slots []uint16) error
}

// Reporter fans snapshots out to every registered display. Delivery is
// best effort; a failing display is logged and skipped, never retried.
type Reporter struct {
	displays []Display
	log      *slog.Logger
}

func NewReporter(displays ...Display) *Reporter {
	return &Reporter{
		displays: displays,
		log:      slog.With("component", "status"),
	}
}

// Report encodes the snapshot once and writes it to every display.
func (r *Reporter) Report(s Snapshot) {
	if len(r.displays) == 0 {
		return
	}
	slots := Encode(s)
	for _, d := range r.displays {
		if err := d.WriteStatus(slots); err != nil {
			r.log.Warn("status write failed", "error", err)
		}
	}
}
