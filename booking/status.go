package booking

import "github.com/carebridge/backend/models"

// allowedTransitions is the appointment status state machine. Cancelled and
// completed are terminal.
var allowedTransitions = map[models.AppointmentStatus][]models.AppointmentStatus{
	models.StatusPending:   {models.StatusBooked, models.StatusCompleted, models.StatusCancelled},
	models.StatusBooked:    {models.StatusCompleted, models.StatusCancelled},
	models.StatusCompleted: {},
	models.StatusCancelled: {},
}

// CanTransition reports whether an appointment may move from one status to
// another.
func CanTransition(from, to models.AppointmentStatus) bool {
	for _, s := range allowedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a status admits no further transitions.
func IsTerminal(s models.AppointmentStatus) bool {
	return len(allowedTransitions[s]) == 0 && models.ValidStatus(s)
}
