package preview

import (
	"context"
	"errors"
	"sync"

	"github.com/example/room-scheduler/internal/application"
)

// Committer sends changes to the authoritative server.
type Committer interface {
	CreateReservation(ctx context.Context, input application.ReservationInput) (application.Reservation, error)
	UpdateReservation(ctx context.Context, id string, patch application.ReservationPatch) (application.Reservation, error)
}

// Commit tracks one asynchronous server round trip. The engine layout is
// settled before Done is closed.
type Commit struct {
	kind          Kind
	reservationID string

	once        sync.Once
	done        chan struct{}
	reservation application.Reservation
	err         error
}

func newCommit(kind Kind, reservationID string) *Commit {
	return &Commit{kind: kind, reservationID: reservationID, done: make(chan struct{})}
}

// Kind returns the gesture kind that produced the commit.
func (c *Commit) Kind() Kind {
	return c.kind
}

// ReservationID returns the reservation being changed, or the provisional ID
// used in the layout while a create is in flight.
func (c *Commit) ReservationID() string {
	return c.reservationID
}

// Done is closed once the server answered and the layout was updated.
func (c *Commit) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the commit resolves or ctx ends. It returns the stored
// reservation on success and the server error otherwise.
func (c *Commit) Wait(ctx context.Context) (application.Reservation, error) {
	select {
	case <-c.done:
		return c.reservation, c.err
	case <-ctx.Done():
		return application.Reservation{}, ctx.Err()
	}
}

// Err returns the commit error, or nil while the commit is in flight.
func (c *Commit) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Overlap reports whether the server rejected the change with BOOKING_OVERLAP.
func (c *Commit) Overlap() bool {
	return errors.Is(c.Err(), application.ErrBookingOverlap)
}

func (c *Commit) resolve(reservation application.Reservation, err error) {
	c.once.Do(func() {
		c.reservation = reservation
		c.err = err
		close(c.done)
	})
}

func errorsIsOverlap(err error) bool {
	return errors.Is(err, application.ErrBookingOverlap)
}
