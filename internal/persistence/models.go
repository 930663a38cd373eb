package persistence

import "time"

// Workspace carries the scheduling settings of a tenant.
type Workspace struct {
	ID                 string
	Name               string
	Timezone           string
	WindowStartHour    int
	WindowEndHour      int
	GranularityMinutes int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Member links a user to a workspace.
type Member struct {
	WorkspaceID string
	UserID      string
	Role        string
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Room is a bookable room inside a workspace.
type Room struct {
	ID          string
	WorkspaceID string
	Name        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reservation is a stored room booking. Start and End are UTC instants.
type Reservation struct {
	ID          string
	WorkspaceID string
	RoomID      string
	Start       time.Time
	End         time.Time
	Status      string
	Subject     string
	Criticality string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
}
