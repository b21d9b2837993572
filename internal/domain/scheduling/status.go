package scheduling

// Appointment statuses.
const (
	StatusScheduled   = "scheduled"
	StatusConfirmed   = "confirmed"
	StatusCheckedIn   = "checked-in"
	StatusInProgress  = "in-progress"
	StatusCompleted   = "completed"
	StatusCancelled   = "cancelled"
	StatusNoShow      = "no-show"
	StatusRescheduled = "rescheduled"
)

// liveStatuses are the states that hold a doctor's slot. The storage-level
// uniqueness constraint on (doctor, date, time) is scoped to exactly this set.
var liveStatuses = map[string]bool{
	StatusScheduled:  true,
	StatusConfirmed:  true,
	StatusCheckedIn:  true,
	StatusInProgress: true,
}

var transitions = map[string][]string{
	StatusScheduled:  {StatusConfirmed, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusConfirmed:  {StatusCheckedIn, StatusCancelled, StatusNoShow, StatusRescheduled},
	StatusCheckedIn:  {StatusInProgress},
	StatusInProgress: {StatusCompleted},
}

// IsLive reports whether status occupies the booking slot.
func IsLive(status string) bool { return liveStatuses[status] }

// IsTerminal reports whether status admits no further transitions.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled ||
		status == StatusNoShow || status == StatusRescheduled
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to string) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidStatus reports whether status names a known appointment state.
func ValidStatus(status string) bool {
	if liveStatuses[status] || IsTerminal(status) {
		return true
	}
	return false
}
