package localtime

import (
	"fmt"
	"time"
)

// Window is the visible and interactive range of a schedule day, in local hours.
type Window struct {
	StartHour int
	EndHour   int
}

// DefaultWindow covers office hours.
var DefaultWindow = Window{StartHour: 8, EndHour: 20}

// Validate checks 0 <= StartHour < EndHour <= 24.
func (w Window) Validate() error {
	if w.StartHour < 0 || w.EndHour > 24 || w.StartHour >= w.EndHour {
		return fmt.Errorf("%w: %02d-%02d", ErrInvalidWindow, w.StartHour, w.EndHour)
	}
	return nil
}

// Length returns the nominal length of the window, ignoring DST.
func (w Window) Length() time.Duration {
	return time.Duration(w.EndHour-w.StartHour) * time.Hour
}

func (w Window) String() string {
	return fmt.Sprintf("%02d:00-%02d:00", w.StartHour, w.EndHour)
}
