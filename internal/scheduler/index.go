package scheduler

import (
	"sort"
	"time"
)

// Index keeps bookings grouped by room and ordered by start so overlap lookups
// only visit the neighbourhood of the candidate interval.
type Index struct {
	rooms map[string]*roomIndex
	byID  map[string]Booking
}

type roomIndex struct {
	bookings []Booking
	// longest is the largest duration ever inserted; entries starting earlier
	// than candidate.Start-longest cannot reach the candidate.
	longest time.Duration
}

// NewIndex builds an index over the supplied bookings.
func NewIndex(bookings []Booking) *Index {
	idx := &Index{
		rooms: make(map[string]*roomIndex),
		byID:  make(map[string]Booking, len(bookings)),
	}
	for _, booking := range bookings {
		idx.Insert(booking)
	}
	return idx
}

// Len returns the number of indexed bookings.
func (x *Index) Len() int {
	return len(x.byID)
}

// Get returns the booking stored under id.
func (x *Index) Get(id string) (Booking, bool) {
	booking, ok := x.byID[id]
	return booking, ok
}

// Insert adds or replaces a booking.
func (x *Index) Insert(booking Booking) {
	if _, ok := x.byID[booking.ID]; ok {
		x.Remove(booking.ID)
	}
	room := x.rooms[booking.RoomID]
	if room == nil {
		room = &roomIndex{}
		x.rooms[booking.RoomID] = room
	}
	pos := sort.Search(len(room.bookings), func(i int) bool {
		return !room.bookings[i].Interval.Start.Before(booking.Interval.Start)
	})
	room.bookings = append(room.bookings, Booking{})
	copy(room.bookings[pos+1:], room.bookings[pos:])
	room.bookings[pos] = booking
	if d := booking.Interval.Duration(); d > room.longest {
		room.longest = d
	}
	x.byID[booking.ID] = booking
}

// Remove deletes the booking with the given id, reporting whether it existed.
func (x *Index) Remove(id string) bool {
	booking, ok := x.byID[id]
	if !ok {
		return false
	}
	delete(x.byID, id)
	room := x.rooms[booking.RoomID]
	if room == nil {
		return true
	}
	for i := range room.bookings {
		if room.bookings[i].ID == id {
			room.bookings = append(room.bookings[:i], room.bookings[i+1:]...)
			break
		}
	}
	if len(room.bookings) == 0 {
		delete(x.rooms, booking.RoomID)
	}
	return true
}

// Overlapping returns the active bookings in roomID that overlap candidate,
// ordered by start and skipping excludeID.
func (x *Index) Overlapping(roomID string, candidate Interval, excludeID string) []Booking {
	room := x.rooms[roomID]
	if room == nil {
		return nil
	}
	earliest := candidate.Start.Add(-room.longest)
	from := sort.Search(len(room.bookings), func(i int) bool {
		return room.bookings[i].Interval.Start.After(earliest)
	})
	var found []Booking
	for i := from; i < len(room.bookings); i++ {
		booking := room.bookings[i]
		if !booking.Interval.Start.Before(candidate.End) {
			break
		}
		if conflicts(booking, roomID, candidate, excludeID) {
			found = append(found, booking)
		}
	}
	return found
}

// HasConflict is the indexed form of the package level HasConflict.
func (x *Index) HasConflict(roomID string, candidate Interval, excludeID string) bool {
	return len(x.Overlapping(roomID, candidate, excludeID)) > 0
}

// Room returns the bookings of roomID ordered by start.
func (x *Index) Room(roomID string) []Booking {
	room := x.rooms[roomID]
	if room == nil {
		return nil
	}
	out := make([]Booking, len(room.bookings))
	copy(out, room.bookings)
	return out
}

// All returns every booking ordered by room then start.
func (x *Index) All() []Booking {
	roomIDs := make([]string, 0, len(x.rooms))
	for id := range x.rooms {
		roomIDs = append(roomIDs, id)
	}
	sort.Strings(roomIDs)
	out := make([]Booking, 0, len(x.byID))
	for _, id := range roomIDs {
		out = append(out, x.rooms[id].bookings...)
	}
	return out
}
