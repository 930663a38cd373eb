package preview

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/example/room-scheduler/internal/application"
	"github.com/example/room-scheduler/internal/localtime"
	"github.com/example/room-scheduler/internal/scheduler"
)

const (
	defaultGranularity     = 15 * time.Minute
	defaultDuration        = time.Hour
	defaultPixelsPerMinute = 1.0
	defaultClickThreshold  = 4.0
)

// Column maps a horizontal pixel range [Left, Right) to a room.
type Column struct {
	RoomID string
	Left   float64
	Right  float64
}

// Config describes the visible day and its geometry.
type Config struct {
	WorkspaceID     string
	Date            string // workspace-local day shown, 2006-01-02
	Converter       *localtime.Converter
	Window          localtime.Window
	Granularity     time.Duration
	PixelsPerMinute float64
	// ClickThreshold is the pointer travel in pixels below which a release is a click.
	ClickThreshold  float64
	DefaultDuration time.Duration
	Columns         []Column
	// OnChange runs after an asynchronous commit settled the layout and before
	// the commit resolves. It is called without the engine lock held.
	OnChange func()
}

func (c Config) withDefaults() Config {
	if c.Granularity <= 0 {
		c.Granularity = defaultGranularity
	}
	if c.PixelsPerMinute <= 0 {
		c.PixelsPerMinute = defaultPixelsPerMinute
	}
	if c.ClickThreshold <= 0 {
		c.ClickThreshold = defaultClickThreshold
	}
	if c.DefaultDuration <= 0 {
		c.DefaultDuration = defaultDuration
	}
	if c.Window == (localtime.Window{}) {
		c.Window = localtime.DefaultWindow
	}
	return c
}

// Block is one reservation as it should be rendered.
type Block struct {
	Reservation application.Reservation
	// Pending marks a change sent to the server and not yet confirmed.
	Pending bool
	// Preview marks the shape of the active gesture.
	Preview  bool
	Conflict bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used for commit outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine is the client-side gesture engine for one day view. It is safe for
// concurrent use; pointer events are expected from a single goroutine while
// commits settle from background goroutines.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	bounds    scheduler.Interval
	committer Committer
	logger    *slog.Logger

	reservations map[string]application.Reservation
	index        *scheduler.Index
	gesture      *gesture
	inflight     map[string]*Commit
	seq          int
}

// NewEngine builds an engine for cfg.Date. Reservations are added with Load.
func NewEngine(cfg Config, committer Committer, opts ...Option) (*Engine, error) {
	cfg = cfg.withDefaults()
	if cfg.Converter == nil {
		return nil, fmt.Errorf("%w: converter is required", ErrInvalidConfig)
	}
	if committer == nil {
		return nil, fmt.Errorf("%w: committer is required", ErrInvalidConfig)
	}
	if time.Hour%cfg.Granularity != 0 {
		return nil, fmt.Errorf("%w: granularity %s must divide an hour", ErrInvalidConfig, cfg.Granularity)
	}
	bounds, err := windowBounds(cfg)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		bounds:       bounds,
		committer:    committer,
		logger:       slog.Default(),
		reservations: make(map[string]application.Reservation),
		index:        scheduler.NewIndex(nil),
		inflight:     make(map[string]*Commit),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func windowBounds(cfg Config) (scheduler.Interval, error) {
	b, err := cfg.Converter.WindowBounds(cfg.Date, cfg.Window)
	if err != nil {
		return scheduler.Interval{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return scheduler.Interval{Start: b.Start, End: b.End}, nil
}

// Bounds returns the schedule window of the visible day as UTC instants.
func (e *Engine) Bounds() scheduler.Interval {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bounds
}

// SetDate switches the visible day. It fails while a gesture is active.
func (e *Engine) SetDate(date string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != nil {
		return ErrGestureInProgress
	}
	cfg := e.cfg
	cfg.Date = date
	bounds, err := windowBounds(cfg)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.bounds = bounds
	return nil
}

// Load replaces the cached reservations with a fresh server listing.
// Reservations with a commit in flight keep their optimistic local state until
// the commit settles.
func (e *Engine) Load(reservations []application.Reservation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gesture != nil {
		return ErrGestureInProgress
	}

	next := make(map[string]application.Reservation, len(reservations)+len(e.inflight))
	for _, r := range reservations {
		if _, pending := e.inflight[r.ID]; pending {
			continue
		}
		next[r.ID] = r
	}
	for id := range e.inflight {
		if local, ok := e.reservations[id]; ok {
			next[id] = local
		}
	}

	e.reservations = next
	e.index = scheduler.NewIndex(nil)
	for _, r := range next {
		if r.Active() {
			e.index.Insert(r.Booking())
		}
	}
	return nil
}

// Reservation returns the cached reservation with the given ID.
func (e *Engine) Reservation(id string) (application.Reservation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.reservations[id]
	return r, ok
}

// Layout returns the active reservations to render, ordered by room then
// start, with the active gesture applied as a preview.
func (e *Engine) Layout() []Block {
	e.mu.Lock()
	defer e.mu.Unlock()

	bookings := e.index.All()
	blocks := make([]Block, 0, len(bookings)+1)
	for _, b := range bookings {
		r := e.reservations[b.ID]
		_, pending := e.inflight[b.ID]
		block := Block{Reservation: r, Pending: pending}
		if g := e.gesture; g != nil && g.kind != KindCreate && g.reservationID == b.ID {
			block.Reservation.RoomID = g.candidate.RoomID
			block.Reservation.Start = g.candidate.Interval.Start
			block.Reservation.End = g.candidate.Interval.End
			block.Preview = true
			block.Conflict = g.candidate.Conflict
		}
		blocks = append(blocks, block)
	}
	if g := e.gesture; g != nil && g.kind == KindCreate {
		blocks = append(blocks, Block{
			Reservation: application.Reservation{
				WorkspaceID: e.cfg.WorkspaceID,
				RoomID:      g.candidate.RoomID,
				Start:       g.candidate.Interval.Start,
				End:         g.candidate.Interval.End,
				Status:      scheduler.StatusActive,
				Subject:     g.details.Subject,
				Criticality: g.details.Criticality,
			},
			Preview:  true,
			Conflict: g.candidate.Conflict,
		})
	}

	sort.SliceStable(blocks, func(i, j int) bool {
		a, b := blocks[i].Reservation, blocks[j].Reservation
		if a.RoomID != b.RoomID {
			return a.RoomID < b.RoomID
		}
		return a.Start.Before(b.Start)
	})
	return blocks
}

// Begin starts a drag or resize of a cached active reservation.
func (e *Engine) Begin(kind Kind, reservationID string, pointer Point) (Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gesture != nil {
		return Candidate{}, ErrGestureInProgress
	}
	switch kind {
	case KindDrag, KindResizeStart, KindResizeEnd:
	default:
		return Candidate{}, fmt.Errorf("%w: %s", ErrInvalidGesture, kind)
	}
	r, ok := e.reservations[reservationID]
	if !ok || !r.Active() {
		return Candidate{}, ErrUnknownReservation
	}
	if _, pending := e.inflight[reservationID]; pending {
		return Candidate{}, ErrCommitInFlight
	}

	g := &gesture{
		kind:           kind,
		reservationID:  reservationID,
		originRoomID:   r.RoomID,
		originInterval: r.Interval(),
		pointerOrigin:  pointer,
	}
	g.candidate = e.evaluate(r.RoomID, r.Interval(), reservationID)
	e.gesture = g
	return g.candidate, nil
}

// BeginCreate starts drafting a reservation in roomID at the grid slot
// containing at. The draft lasts DefaultDuration and is kept inside the window.
func (e *Engine) BeginCreate(roomID string, at time.Time, pointer Point, details Details) (Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.gesture != nil {
		return Candidate{}, ErrGestureInProgress
	}
	if roomID == "" {
		return Candidate{}, fmt.Errorf("%w: room is required", ErrInvalidGesture)
	}

	start := floorToGrid(at.UTC(), e.bounds.Start, e.cfg.Granularity)
	draft := clampShift(scheduler.Interval{Start: start, End: start.Add(e.cfg.DefaultDuration)}, e.bounds)
	if draft.End.After(e.bounds.End) {
		draft.End = e.bounds.End
	}

	g := &gesture{
		kind:           KindCreate,
		originRoomID:   roomID,
		originInterval: draft,
		pointerOrigin:  pointer,
		details:        details,
	}
	g.candidate = e.evaluate(roomID, draft, "")
	e.gesture = g
	return g.candidate, nil
}

// Move processes a pointer sample of the active gesture and returns the
// candidate it produces. A conflict never stops the gesture.
func (e *Engine) Move(pointer Point) (Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.gesture
	if g == nil {
		return Candidate{}, ErrNoGesture
	}
	e.track(g, pointer)
	return g.candidate, nil
}

// Release ends the active gesture at pointer. A committed change is applied
// to the layout at once and confirmed or reverted when the server answers; ctx
// bounds that round trip.
func (e *Engine) Release(ctx context.Context, pointer Point) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	g := e.gesture
	if g == nil {
		return Result{}, ErrNoGesture
	}
	e.track(g, pointer)
	e.gesture = nil

	result := Result{Kind: g.kind, Candidate: g.candidate, ReservationID: g.reservationID}

	if g.travelled < e.cfg.ClickThreshold {
		result.Outcome = OutcomeClick
		if g.kind == KindCreate {
			result.Draft = &Draft{RoomID: g.originRoomID, Interval: g.originInterval, Details: g.details}
		}
		return result, nil
	}
	if g.kind != KindCreate && g.unchanged() {
		result.Outcome = OutcomeUnchanged
		return result, nil
	}
	if g.candidate.Conflict {
		result.Outcome = OutcomeRejected
		return result, ErrLocalConflict
	}

	if g.kind == KindCreate {
		result.Commit = e.startCreateLocked(ctx, Draft{RoomID: g.candidate.RoomID, Interval: g.candidate.Interval, Details: g.details})
	} else {
		result.Commit = e.startUpdateLocked(ctx, g.kind, g.reservationID, g.candidate)
	}
	result.Outcome = OutcomeCommitted
	return result, nil
}

// CancelGesture abandons the active gesture. The layout returns to its
// pre-gesture state. It reports whether a gesture was active.
func (e *Engine) CancelGesture() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	active := e.gesture != nil
	e.gesture = nil
	return active
}

// Active reports whether a gesture is in progress.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.gesture != nil
}

// SubmitDraft sends a drafted reservation, typically one returned by a create
// gesture released as a click and completed in a form.
func (e *Engine) SubmitDraft(ctx context.Context, draft Draft) (*Commit, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if draft.RoomID == "" || !draft.Interval.Valid() {
		return nil, fmt.Errorf("%w: draft needs a room and a non-empty interval", ErrInvalidGesture)
	}
	if e.index.HasConflict(draft.RoomID, draft.Interval, "") {
		return nil, ErrLocalConflict
	}
	return e.startCreateLocked(ctx, draft), nil
}

// track updates travel distance and the candidate for a pointer sample.
func (e *Engine) track(g *gesture, pointer Point) {
	dx := pointer.X - g.pointerOrigin.X
	dy := pointer.Y - g.pointerOrigin.Y
	if d := math.Hypot(dx, dy); d > g.travelled {
		g.travelled = d
	}

	delta := snapDelta(dy, e.cfg.PixelsPerMinute, e.cfg.Granularity)
	origin := g.originInterval
	roomID := g.originRoomID
	// A moved boundary lands on the grid anchored at the window start, even
	// when the reservation itself starts off the grid. No movement keeps it.
	moved := func(t time.Time) time.Time {
		if delta == 0 {
			return t
		}
		return roundToGrid(t.Add(delta), e.bounds.Start, e.cfg.Granularity)
	}
	var iv scheduler.Interval

	switch g.kind {
	case KindDrag:
		if column, ok := e.columnAt(pointer.X); ok {
			roomID = column
		}
		start := moved(origin.Start)
		iv = clampShift(origin.Shift(start.Sub(origin.Start)), e.bounds)
	case KindResizeStart:
		iv = scheduler.Interval{
			Start: clampStart(moved(origin.Start), origin.End, e.bounds, e.cfg.Granularity),
			End:   origin.End,
		}
	case KindResizeEnd, KindCreate:
		iv = scheduler.Interval{
			Start: origin.Start,
			End:   clampEnd(origin.Start, moved(origin.End), e.bounds, e.cfg.Granularity),
		}
	}

	g.candidate = e.evaluate(roomID, iv, g.reservationID)
}

func (e *Engine) evaluate(roomID string, iv scheduler.Interval, excludeID string) Candidate {
	candidate := Candidate{RoomID: roomID, Interval: iv}
	for _, b := range e.index.Overlapping(roomID, iv, excludeID) {
		candidate.Conflict = true
		candidate.ConflictIDs = append(candidate.ConflictIDs, b.ID)
	}
	return candidate
}

func (e *Engine) columnAt(x float64) (string, bool) {
	for _, c := range e.cfg.Columns {
		if x >= c.Left && x < c.Right {
			return c.RoomID, true
		}
	}
	return "", false
}

// put stores r in the cache and the index.
func (e *Engine) put(r application.Reservation) {
	e.reservations[r.ID] = r
	if r.Active() {
		e.index.Insert(r.Booking())
	} else {
		e.index.Remove(r.ID)
	}
}

func (e *Engine) drop(id string) {
	delete(e.reservations, id)
	e.index.Remove(id)
}

func (e *Engine) startUpdateLocked(ctx context.Context, kind Kind, id string, candidate Candidate) *Commit {
	original := e.reservations[id]

	optimistic := original
	optimistic.RoomID = candidate.RoomID
	optimistic.Start = candidate.Interval.Start
	optimistic.End = candidate.Interval.End
	e.put(optimistic)

	var patch application.ReservationPatch
	if candidate.RoomID != original.RoomID {
		room := candidate.RoomID
		patch.RoomID = &room
	}
	if !candidate.Interval.Start.Equal(original.Start) {
		start := candidate.Interval.Start
		patch.Start = &start
	}
	if !candidate.Interval.End.Equal(original.End) {
		end := candidate.Interval.End
		patch.End = &end
	}

	commit := newCommit(kind, id)
	e.inflight[id] = commit

	go e.run(ctx, commit, func(ctx context.Context) (application.Reservation, error) {
		return e.committer.UpdateReservation(ctx, id, patch)
	}, func(stored application.Reservation, err error) {
		if err != nil {
			e.put(original)
			return
		}
		e.put(stored)
	})
	return commit
}

func (e *Engine) startCreateLocked(ctx context.Context, draft Draft) *Commit {
	e.seq++
	provisionalID := fmt.Sprintf("pending-%d", e.seq)
	criticality := draft.Details.Criticality
	if criticality == "" {
		criticality = application.CriticalityMedium
	}
	e.put(application.Reservation{
		ID:          provisionalID,
		WorkspaceID: e.cfg.WorkspaceID,
		RoomID:      draft.RoomID,
		Start:       draft.Interval.Start,
		End:         draft.Interval.End,
		Status:      scheduler.StatusActive,
		Subject:     draft.Details.Subject,
		Criticality: criticality,
	})

	input := application.ReservationInput{
		WorkspaceID: e.cfg.WorkspaceID,
		RoomID:      draft.RoomID,
		Start:       draft.Interval.Start,
		End:         draft.Interval.End,
		Subject:     draft.Details.Subject,
		Criticality: draft.Details.Criticality,
	}

	commit := newCommit(KindCreate, provisionalID)
	e.inflight[provisionalID] = commit

	go e.run(ctx, commit, func(ctx context.Context) (application.Reservation, error) {
		return e.committer.CreateReservation(ctx, input)
	}, func(stored application.Reservation, err error) {
		e.drop(provisionalID)
		if err == nil {
			e.put(stored)
		}
	})
	return commit
}

// run performs the server call, settles the layout under the lock, notifies
// OnChange and then resolves the commit.
func (e *Engine) run(ctx context.Context, commit *Commit, call func(context.Context) (application.Reservation, error), settle func(application.Reservation, error)) {
	stored, err := call(ctx)

	e.mu.Lock()
	settle(stored, err)
	delete(e.inflight, commit.reservationID)
	onChange := e.cfg.OnChange
	e.mu.Unlock()

	if err != nil {
		e.logger.WarnContext(ctx, "reservation commit rejected",
			"gesture", commit.kind.String(),
			"reservation_id", commit.reservationID,
			"overlap", errorsIsOverlap(err),
			"error", err,
		)
	} else {
		e.logger.DebugContext(ctx, "reservation commit confirmed",
			"gesture", commit.kind.String(),
			"reservation_id", stored.ID,
		)
	}

	if onChange != nil {
		onChange()
	}
	commit.resolve(stored, err)
}
