package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	ferrors "github.com/divertscan/fieldsync/internal/foundation/errors"
	"github.com/divertscan/fieldsync/internal/logfields"
	"github.com/divertscan/fieldsync/internal/metrics"
	"github.com/divertscan/fieldsync/internal/queue"
	"github.com/divertscan/fieldsync/internal/store"
)

// Event notifies subscribers of a session mutation. State carries the
// session's state after the mutation; the embedded snapshot is a copy the
// receiver may keep.
type Event struct {
	SessionID string
	State     State
	Session   CaptureSession
}

// Manager owns the single active capture session and exposes the command
// surface the UI layer calls. Every mutation is persisted to the sessions
// collection before it becomes visible, so the in-memory session is a cache
// reconstructible from the store alone.
type Manager struct {
	mu       sync.Mutex
	st       store.Store
	q        *queue.OperationQueue
	location LocationProvider
	camera   PhotoCapturer
	pad      SignatureCapturer
	clock    clockwork.Clock
	newID    func() string
	rec      metrics.Recorder

	current *CaptureSession
	subs    []chan Event
}

// NewManager wires a manager over its collaborators. location, camera and
// pad may be nil when the device lacks the hardware; a nil clock falls back
// to the wall clock, a nil id generator to random UUIDs, a nil recorder to
// no-op.
func NewManager(st store.Store, q *queue.OperationQueue, location LocationProvider, camera PhotoCapturer, pad SignatureCapturer, clock clockwork.Clock, newID func() string, rec metrics.Recorder) *Manager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if newID == nil {
		newID = uuid.NewString
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Manager{
		st:       st,
		q:        q,
		location: location,
		camera:   camera,
		pad:      pad,
		clock:    clock,
		newID:    newID,
		rec:      rec,
	}
}

// Subscribe returns a channel receiving an Event after every session
// mutation. Slow consumers lose intermediate events rather than blocking the
// workflow.
func (m *Manager) Subscribe() <-chan Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan Event, 16)
	m.subs = append(m.subs, ch)
	return ch
}

// Current returns a copy of the active session, or nil.
func (m *Manager) Current() *CaptureSession {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	return m.current.clone()
}

// Recover restores at most one active session from the store after a process
// restart. At most one non-terminal session may exist; if the store holds
// more, the most recently updated one wins and the rest are purged as a
// data-integrity anomaly.
func (m *Manager) Recover(ctx context.Context) (*CaptureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.st.ListAll(ctx, store.CollectionSessions)
	if err != nil {
		return nil, err
	}

	var active []*CaptureSession
	for _, rec := range records {
		var s CaptureSession
		if uerr := json.Unmarshal(rec.Payload, &s); uerr != nil {
			slog.Warn("Purging undecodable session record", logfields.Key(rec.Key), logfields.Error(uerr))
			_ = m.st.Delete(ctx, store.CollectionSessions, rec.Key)
			continue
		}
		if s.State.Terminal() {
			// A terminal record means a crash interrupted the final delete;
			// the queue is the source of truth for the handed-off operation.
			slog.Warn("Purging leftover terminal session",
				logfields.SessionID(s.ID),
				logfields.State(string(s.State)))
			_ = m.st.Delete(ctx, store.CollectionSessions, s.ID)
			continue
		}
		active = append(active, &s)
	}

	if len(active) == 0 {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool { return active[i].UpdatedAt.After(active[j].UpdatedAt) })
	winner := active[0]
	for _, orphan := range active[1:] {
		slog.Warn("Purging orphaned session: more than one active session found",
			logfields.SessionID(orphan.ID),
			logfields.State(string(orphan.State)))
		_ = m.st.Delete(ctx, store.CollectionSessions, orphan.ID)
	}

	m.current = winner
	slog.Info("Recovered in-progress session",
		logfields.SessionID(winner.ID),
		logfields.State(string(winner.State)))
	return winner.clone(), nil
}

// StartSession begins a new two-stage weighing transaction.
func (m *Manager) StartSession(ctx context.Context, meta Metadata) (*CaptureSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		return nil, ferrors.ContractError("a session is already in progress").
			WithContext("session_id", m.current.ID).
			Build()
	}
	if err := meta.Validate(); err != nil {
		return nil, ferrors.ValidationError(err.Error()).Build()
	}

	now := m.clock.Now()
	s := &CaptureSession{
		ID:        m.newID(),
		State:     StateAwaitingGross,
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.persistLocked(ctx, s); err != nil {
		return nil, err
	}
	m.current = s

	slog.Info("Capture session started", logfields.SessionID(s.ID))
	m.rec.IncSessionTransition(string(StateAwaitingGross))
	m.notifyLocked(s)
	return s.clone(), nil
}

// CaptureGrossWeight records the loaded vehicle weight and advances to
// awaiting_tare. Location is attempted best-effort; its absence never blocks
// the transition.
func (m *Manager) CaptureGrossWeight(ctx context.Context, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(StateAwaitingGross, "capture gross weight"); err != nil {
		return err
	}
	if weight <= 0 {
		return ferrors.ValidationError("gross weight must be positive").Build()
	}

	next := m.current.clone()
	now := m.clock.Now()
	next.GrossWeight = weight
	next.GrossTimestamp = &now
	next.GrossLocation = m.tryLocation(ctx)
	next.State = StateAwaitingTare

	return m.commitLocked(ctx, next)
}

// CaptureTareWeight records the empty vehicle weight, derives the net weight,
// and advances to awaiting_photos. A tare exceeding the gross fails the
// transition, not the session.
func (m *Manager) CaptureTareWeight(ctx context.Context, weight float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(StateAwaitingTare, "capture tare weight"); err != nil {
		return err
	}
	if weight <= 0 {
		return ferrors.ValidationError("tare weight must be positive").Build()
	}
	if weight > m.current.GrossWeight {
		return ferrors.ValidationError("tare weight exceeds gross weight").
			WithContext("gross", m.current.GrossWeight).
			WithContext("tare", weight).
			Build()
	}

	next := m.current.clone()
	now := m.clock.Now()
	net := next.GrossWeight - weight
	next.TareWeight = weight
	next.TareTimestamp = &now
	next.TareLocation = m.tryLocation(ctx)
	next.NetWeight = &net
	next.State = StateAwaitingPhotos

	return m.commitLocked(ctx, next)
}

// AddDebrisPhoto captures one debris photo through the camera collaborator.
// A camera failure aborts only this capture attempt.
func (m *Manager) AddDebrisPhoto(ctx context.Context) (Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(StateAwaitingPhotos, "add debris photo"); err != nil {
		return Photo{}, err
	}
	if m.camera == nil {
		return Photo{}, ferrors.SessionError("no camera available").Build()
	}

	photo, err := m.camera.CapturePhoto(ctx)
	if err != nil {
		return Photo{}, ferrors.WrapError(err, ferrors.CategorySession, "photo capture failed").Build()
	}
	if photo.ID == "" {
		photo.ID = m.newID()
	}
	if photo.Timestamp.IsZero() {
		photo.Timestamp = m.clock.Now()
	}

	next := m.current.clone()
	next.DebrisPhotos = append(next.DebrisPhotos, photo)
	if err := m.commitLocked(ctx, next); err != nil {
		return Photo{}, err
	}
	return photo, nil
}

// RemoveDebrisPhoto discards a previously captured photo. Only permitted
// before the signature stage begins.
func (m *Manager) RemoveDebrisPhoto(ctx context.Context, photoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(StateAwaitingPhotos, "remove debris photo"); err != nil {
		return err
	}

	next := m.current.clone()
	kept := next.DebrisPhotos[:0]
	found := false
	for _, p := range next.DebrisPhotos {
		if p.ID == photoID {
			found = true
			continue
		}
		kept = append(kept, p)
	}
	if !found {
		return ferrors.ValidationError("photo not found").WithContext("photo_id", photoID).Build()
	}
	next.DebrisPhotos = kept

	return m.commitLocked(ctx, next)
}

// CaptureSignature drives the signature pad and advances past the photo
// gate. The transition requires at least MinDebrisPhotos photos and a
// non-empty signature; the signature is immutable once captured.
func (m *Manager) CaptureSignature(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ferrors.ContractError("no active session").Build()
	}
	switch m.current.State {
	case StateAwaitingPhotos:
		// photos -> signature transition below
	case StateAwaitingSignature:
		return ferrors.ContractError("signature already captured").Build()
	default:
		return m.wrongState("capture signature")
	}
	if len(m.current.DebrisPhotos) < MinDebrisPhotos {
		return ferrors.ValidationError(fmt.Sprintf("at least %d debris photos are required", MinDebrisPhotos)).
			WithContext("photos", len(m.current.DebrisPhotos)).
			Build()
	}
	if m.pad == nil {
		return ferrors.SessionError("no signature pad available").Build()
	}

	sig, err := m.pad.CaptureSignature(ctx)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategorySession, "signature capture failed").Build()
	}
	if sig.Empty() {
		return ferrors.ValidationError("signature is empty").Build()
	}
	if sig.CapturedAt.IsZero() {
		sig.CapturedAt = m.clock.Now()
	}
	next := m.current.clone()
	next.Signature = &sig
	next.State = StateAwaitingSignature

	return m.commitLocked(ctx, next)
}

// CompleteSession converts the finished transaction into exactly one queued
// sync operation and removes the session from session storage. The terminal
// snapshot is persisted first, then the operation is enqueued, then the
// record is deleted, so a crash at any point can neither lose the ticket nor
// mint it twice.
func (m *Manager) CompleteSession(ctx context.Context) (*queue.SyncOperation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.requireStateLocked(StateAwaitingSignature, "complete session"); err != nil {
		return nil, err
	}
	if m.current.Signature == nil || m.current.Signature.Empty() {
		return nil, ferrors.ValidationError("signature is empty").Build()
	}

	next := m.current.clone()
	next.TicketNumber = GenerateTicketNumber(m.clock.Now())
	next.State = StateComplete
	next.UpdatedAt = m.clock.Now()

	body, err := next.ticketBody()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategorySession, "marshal ticket").Build()
	}
	// The terminal snapshot goes to the store before the operation is
	// enqueued. From this point on a crash leaves a terminal leftover that
	// recovery purges; it can never restore a completable session and mint a
	// second ticket for the same haul.
	if err := m.persistLocked(ctx, next); err != nil {
		return nil, err
	}
	op, err := m.q.Enqueue(ctx, next.ticketEndpoint(), "POST", body)
	if err != nil {
		// Restore the persisted record so the session stays completable.
		if perr := m.persistLocked(ctx, m.current); perr != nil {
			slog.Error("Could not restore session record after failed enqueue",
				logfields.SessionID(next.ID),
				logfields.Error(perr))
		}
		return nil, err
	}
	if derr := m.st.Delete(ctx, store.CollectionSessions, next.ID); derr != nil {
		// The operation is already durable and the record is terminal; the
		// leftover is purged on the next recovery pass.
		slog.Warn("Could not delete completed session record",
			logfields.SessionID(next.ID),
			logfields.Error(derr))
	}
	m.current = nil

	slog.Info("Capture session complete",
		logfields.SessionID(next.ID),
		logfields.Ticket(next.TicketNumber),
		logfields.OpID(op.ID))
	m.rec.IncSessionTransition(string(StateComplete))
	m.notifyLocked(next)
	return op, nil
}

// CancelSession abandons the active session from any non-terminal state and
// removes it from session storage.
func (m *Manager) CancelSession(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return ferrors.ContractError("no active session").Build()
	}

	cancelled := m.current.clone()
	cancelled.State = StateCancelled
	cancelled.UpdatedAt = m.clock.Now()
	if err := m.st.Delete(ctx, store.CollectionSessions, cancelled.ID); err != nil {
		return err
	}
	m.current = nil

	slog.Info("Capture session cancelled", logfields.SessionID(cancelled.ID))
	m.rec.IncSessionTransition(string(StateCancelled))
	m.notifyLocked(cancelled)
	return nil
}

// CleanupStale purges abandoned non-terminal sessions older than the cutoff.
// The active session is never purged. Returns the number of purged records.
func (m *Manager) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records, err := m.st.ListAll(ctx, store.CollectionSessions)
	if err != nil {
		return 0, err
	}
	cutoff := m.clock.Now().Add(-olderThan)

	purged := 0
	for _, rec := range records {
		var s CaptureSession
		if uerr := json.Unmarshal(rec.Payload, &s); uerr != nil {
			continue
		}
		if m.current != nil && s.ID == m.current.ID {
			continue
		}
		if !s.State.Terminal() && s.UpdatedAt.Before(cutoff) {
			if derr := m.st.Delete(ctx, store.CollectionSessions, s.ID); derr != nil {
				return purged, derr
			}
			slog.Info("Purged stale session",
				logfields.SessionID(s.ID),
				logfields.State(string(s.State)))
			purged++
		}
	}
	return purged, nil
}

// requireStateLocked enforces the FSM contract for an action.
func (m *Manager) requireStateLocked(want State, action string) error {
	if m.current == nil {
		return ferrors.ContractError("no active session").Build()
	}
	if m.current.State != want {
		return m.wrongState(action)
	}
	return nil
}

func (m *Manager) wrongState(action string) error {
	return ferrors.ContractError(fmt.Sprintf("cannot %s in state %s", action, m.current.State)).
		WithContext("state", string(m.current.State)).
		Build()
}

// commitLocked persists the mutated clone and, only on success, makes it the
// current session. A storage failure therefore leaves the session exactly as
// it was, in memory and on disk.
func (m *Manager) commitLocked(ctx context.Context, next *CaptureSession) error {
	prev := m.current.State
	next.UpdatedAt = m.clock.Now()
	if err := m.persistLocked(ctx, next); err != nil {
		return err
	}
	m.current = next

	if next.State != prev {
		slog.Info("Session transition",
			logfields.SessionID(next.ID),
			logfields.State(string(next.State)))
		m.rec.IncSessionTransition(string(next.State))
	}
	m.notifyLocked(next)
	return nil
}

func (m *Manager) persistLocked(ctx context.Context, s *CaptureSession) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategorySession, "marshal session").Build()
	}
	return m.st.Put(ctx, store.CollectionSessions, s.ID, payload)
}

// tryLocation fetches a best-effort GPS fix; failure is logged and ignored.
func (m *Manager) tryLocation(ctx context.Context) *Location {
	if m.location == nil {
		return nil
	}
	loc, err := m.location.CurrentLocation(ctx)
	if err != nil {
		slog.Debug("Location unavailable", logfields.Error(err))
		return nil
	}
	return &loc
}

func (m *Manager) notifyLocked(s *CaptureSession) {
	ev := Event{SessionID: s.ID, State: s.State, Session: *s.clone()}
	for _, ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
