package scheduler

// Status is the lifecycle state of a booking.
type Status string

const (
	// StatusActive bookings occupy their room and take part in conflict checks.
	StatusActive Status = "ACTIVE"
	// StatusCancelled bookings are kept for history only.
	StatusCancelled Status = "CANCELLED"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusCancelled:
		return true
	default:
		return false
	}
}

// Booking is the minimal view of a reservation needed for conflict detection.
type Booking struct {
	ID       string
	RoomID   string
	Interval Interval
	Status   Status
}

// HasConflict reports whether any active booking for roomID, other than
// excludeID, overlaps candidate. It stops at the first match.
func HasConflict(existing []Booking, roomID string, candidate Interval, excludeID string) bool {
	for _, booking := range existing {
		if conflicts(booking, roomID, candidate, excludeID) {
			return true
		}
	}
	return false
}

// FindConflicts returns every active booking for roomID that overlaps candidate,
// skipping excludeID. The result preserves the order of existing.
func FindConflicts(existing []Booking, roomID string, candidate Interval, excludeID string) []Booking {
	var found []Booking
	for _, booking := range existing {
		if conflicts(booking, roomID, candidate, excludeID) {
			found = append(found, booking)
		}
	}
	return found
}

func conflicts(booking Booking, roomID string, candidate Interval, excludeID string) bool {
	if booking.Status != StatusActive {
		return false
	}
	if booking.RoomID != roomID {
		return false
	}
	if excludeID != "" && booking.ID == excludeID {
		return false
	}
	return booking.Interval.Overlaps(candidate)
}
