package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"backend-routewars/internal/track"
)

type State string

const (
	StateIdle       State = "idle"
	StateActive     State = "active"
	StatePaused     State = "paused"
	StateCompleting State = "completing"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateCancelling State = "cancelling"
	StateCancelled  State = "cancelled"
)

// View is the read-only reconciled state handed to presentation.
type View struct {
	State           State                      `json:"state"`
	Route           *track.RouteView           `json:"route,omitempty"`
	Eligibility     track.TerritoryEligibility `json:"eligibility"`
	Preview         *track.TerritoryPreview    `json:"preview,omitempty"`
	Result          *track.CompletionResult    `json:"result,omitempty"`
	GPSError        string                     `json:"gps_error,omitempty"`
	LastError       string                     `json:"last_error,omitempty"`
	RejectedSamples int                        `json:"rejected_samples"`
}

type Options struct {
	AccuracyCeilingM   float64
	PreviewDebounce    time.Duration
	CompleteRetryLimit int
	PreviewDisabled    bool

	// Observer receives every published view. It runs on the session's
	// logical event queue and must not call back into the session.
	Observer func(View)
}

// Session owns one tracking run end to end: the local coordinate buffer, the
// lifecycle state machine, the reconciliation of local/push/poll views, and
// the timers attached to the route. It is explicitly constructed and torn
// down on terminal transitions; there is no package-level tracking state.
//
// All callbacks (GPS samples, push snapshots, poll responses, timers, user
// actions) serialize on one mutex and run to completion, so handlers are
// never reentrant. Network calls happen with the mutex released; their
// results re-enter through it like any other callback.
type Session struct {
	mu sync.Mutex

	routes   RouteService
	previews PreviewService
	location LocationSource
	pushes   PushChannel
	opts     Options

	state     State
	userID    string
	routeID   string
	routeName string
	startedAt time.Time

	buffer      track.Buffer
	validator   track.Validator
	pausedTotal time.Duration
	pausedAt    time.Time

	watch    LocationWatch
	gpsError string
	rejected int

	pushView *track.Snapshot
	pollView *track.RouteView
	view     *track.RouteView

	eligibility track.TerritoryEligibility
	preview     *track.TerritoryPreview
	result      *track.CompletionResult
	lastError   string

	inflight         bool
	completeAttempts int

	scheduler   *previewScheduler
	pushCancel  func()
	elapsedStop chan struct{}

	now func() time.Time
}

func New(routes RouteService, previews PreviewService, location LocationSource, pushes PushChannel, opts Options) *Session {
	if opts.PreviewDebounce <= 0 {
		opts.PreviewDebounce = 2 * time.Second
	}
	if opts.CompleteRetryLimit <= 0 {
		opts.CompleteRetryLimit = 3
	}
	return &Session{
		routes:    routes,
		previews:  previews,
		location:  location,
		pushes:    pushes,
		opts:      opts,
		state:     StateIdle,
		validator: track.Validator{AccuracyCeilingM: opts.AccuracyCeilingM},
		now:       time.Now,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current view. While the route is live the merged
// view is recomputed so the elapsed duration is current even between ticks.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateActive || s.state == StatePaused {
		s.refreshViewLocked()
	}
	return s.viewLocked()
}

// Start creates the route and begins coordinate ingestion. On failure the
// session stays idle and no partial route exists.
func (s *Session) Start(ctx context.Context, userID, name string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, s.state)
	}
	if s.inflight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inflight = true
	s.mu.Unlock()

	routeID, err := s.routes.CreateRoute(ctx, userID, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if err != nil {
		s.lastError = "start failed: " + err.Error()
		s.notifyLocked()
		return fmt.Errorf("start: %w", err)
	}

	s.userID, s.routeID, s.routeName = userID, routeID, name
	s.state = StateActive
	s.startedAt = s.now()
	s.buffer.Clear()
	s.pausedTotal, s.pausedAt = 0, time.Time{}
	s.rejected = 0
	s.gpsError, s.lastError = "", ""
	s.result = nil
	s.completeAttempts = 0
	s.pushView, s.pollView, s.preview = nil, nil, nil

	s.acquireWatchLocked()
	s.subscribePushLocked()
	s.startElapsedLocked()
	if s.previews != nil && !s.opts.PreviewDisabled {
		s.scheduler = newPreviewScheduler(s.previews, routeID, s.opts.PreviewDebounce, s.handlePreview)
	}
	s.reconcileLocked()
	return nil
}

// Pause stops coordinate ingestion and releases the location watch. The
// buffer is kept; the paused interval is excluded from elapsed time.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, s.state)
	}
	s.releaseWatchLocked()
	s.pausedAt = s.now()
	s.state = StatePaused
	s.reconcileLocked()
	return nil
}

// Resume re-acquires the location watch and folds the just-ended paused
// interval into the running offset.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, s.state)
	}
	s.pausedTotal += s.now().Sub(s.pausedAt)
	s.pausedAt = time.Time{}
	s.state = StateActive
	s.acquireWatchLocked()
	s.reconcileLocked()
	return nil
}

// Complete finishes the route. One network call per invocation, no silent
// retry; the route service is the idempotence boundary, this method only
// guards against two concurrent completion requests for the same route id.
// On failure the session stays in completing and the user may retry up to
// the configured limit.
func (s *Session) Complete(ctx context.Context, name string) (track.CompletionResult, error) {
	s.mu.Lock()
	switch s.state {
	case StateActive, StatePaused:
		s.completeAttempts = 0
	case StateCompleting:
		if s.completeAttempts >= s.opts.CompleteRetryLimit {
			s.state = StateFailed
			s.teardownLocked()
			s.notifyLocked()
			s.mu.Unlock()
			return track.CompletionResult{}, ErrRetryLimit
		}
	default:
		s.mu.Unlock()
		return track.CompletionResult{}, fmt.Errorf("%w: complete from %s", ErrInvalidTransition, s.state)
	}
	if s.inflight {
		s.mu.Unlock()
		return track.CompletionResult{}, ErrBusy
	}
	s.inflight = true
	s.state = StateCompleting
	if name == "" {
		name = s.routeName
	}
	routeID, userID := s.routeID, s.userID
	var end *track.Coordinate
	if last, ok := s.buffer.Last(); ok {
		end = &last
	}
	s.mu.Unlock()

	result, err := s.routes.CompleteRoute(ctx, routeID, userID, name, end)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if err != nil {
		s.completeAttempts++
		s.lastError = "complete failed: " + err.Error()
		s.notifyLocked()
		return track.CompletionResult{}, fmt.Errorf("complete: %w", err)
	}

	s.result = &result
	s.teardownLocked()
	s.buffer.Clear()
	s.pushView, s.pollView, s.view = nil, nil, nil
	s.eligibility = track.TerritoryEligibility{}
	s.state = StateCompleted
	s.lastError = ""
	s.notifyLocked()
	return result, nil
}

// Cancel abandons the route. The displayed view is cleared before the
// network call so the UI never shows a route mid-teardown; on failure the
// previous view is restored. This is the one place local state leads the
// network.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateActive && s.state != StatePaused {
		s.mu.Unlock()
		return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, s.state)
	}
	if s.inflight {
		s.mu.Unlock()
		return ErrBusy
	}
	s.inflight = true
	prevState, prevView := s.state, s.view
	s.state = StateCancelling
	s.view = nil
	s.notifyLocked()
	routeID, userID := s.routeID, s.userID
	s.mu.Unlock()

	err := s.routes.DeleteRoute(ctx, routeID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if err != nil {
		s.state = prevState
		s.view = prevView
		s.lastError = "cancel failed: " + err.Error()
		s.notifyLocked()
		return fmt.Errorf("cancel: %w", err)
	}

	s.teardownLocked()
	s.buffer.Clear()
	s.pushView, s.pollView, s.view = nil, nil, nil
	s.eligibility = track.TerritoryEligibility{}
	s.state = StateCancelled
	s.notifyLocked()
	return nil
}

// RetryTerritoryClaim re-requests claiming for the completed route. The
// route is never reopened and GPS data is never re-submitted.
func (s *Session) RetryTerritoryClaim(ctx context.Context) (track.CompletionResult, error) {
	s.mu.Lock()
	if s.state != StateCompleted || s.result == nil {
		s.mu.Unlock()
		return track.CompletionResult{}, fmt.Errorf("%w: retry claim from %s", ErrInvalidTransition, s.state)
	}
	if s.result.ClaimStatus != track.ClaimFailed && s.result.ClaimStatus != track.ClaimError {
		s.mu.Unlock()
		return track.CompletionResult{}, ErrClaimNotRetryable
	}
	if s.inflight {
		s.mu.Unlock()
		return track.CompletionResult{}, ErrBusy
	}
	s.inflight = true
	routeID, userID := s.routeID, s.userID
	s.mu.Unlock()

	result, err := s.routes.RetryClaim(ctx, routeID, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight = false
	if err != nil {
		s.lastError = "claim retry failed: " + err.Error()
		s.notifyLocked()
		return track.CompletionResult{}, fmt.Errorf("retry claim: %w", err)
	}
	s.result = &result
	s.lastError = ""
	s.notifyLocked()
	return result, nil
}

// Refresh fetches the poll view (last-known server truth) and reconciles,
// e.g. after a reconnect.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.userID == "" {
		s.mu.Unlock()
		return fmt.Errorf("%w: refresh before start", ErrInvalidTransition)
	}
	userID := s.userID
	s.mu.Unlock()

	view, err := s.routes.ActiveRoute(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = "refresh failed: " + err.Error()
		s.notifyLocked()
		return fmt.Errorf("refresh: %w", err)
	}
	s.pollView = view
	s.reconcileLocked()
	return nil
}

// TerritoriesChanged forces a preview recomputation regardless of the
// debounce window, e.g. when another player's claim lands nearby.
func (s *Session) TerritoriesChanged() {
	s.mu.Lock()
	scheduler := s.scheduler
	coords := s.buffer.Coordinates()
	s.mu.Unlock()
	if scheduler != nil {
		scheduler.territoriesChanged(coords)
	}
}

func (s *Session) handleSample(c track.Coordinate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	var prev *track.Coordinate
	if last, ok := s.buffer.Last(); ok {
		prev = &last
	}
	if err := s.validator.Validate(c, prev); err != nil {
		s.rejected++
		log.Printf("gps sample rejected: %v", err)
		return
	}
	if !s.buffer.Append(c) {
		return
	}
	s.gpsError = ""
	s.reconcileLocked()
}

func (s *Session) handleLocationError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive {
		return
	}
	// Degraded mode: tracking continues without new coordinates.
	s.gpsError = fmt.Sprintf("%v: %v", ErrLocationUnavailable, err)
	s.notifyLocked()
}

func (s *Session) handlePreview(p track.TerritoryPreview) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateActive && s.state != StatePaused {
		return
	}
	s.preview = &p
	s.notifyLocked()
}

func (s *Session) consumePush(ch <-chan track.Snapshot) {
	for snap := range ch {
		s.mu.Lock()
		// Snapshots landing mid-teardown must not resurrect a cleared view.
		live := s.state == StateActive || s.state == StatePaused
		if live && snap.RouteID == s.routeID {
			snapshot := snap
			s.pushView = &snapshot
			s.reconcileLocked()
		}
		s.mu.Unlock()
	}
}

// reconcileLocked re-runs the three-source merge and publishes the result.
// Called on every input: GPS sample, push snapshot, poll response, ticker.
func (s *Session) reconcileLocked() {
	s.refreshViewLocked()
	if s.view != nil && s.scheduler != nil {
		s.scheduler.routeChanged(s.view.Stats.CoordinateCount, s.view.Stats.IsClosedLoop, s.buffer.Coordinates())
	}
	s.notifyLocked()
}

func (s *Session) refreshViewLocked() {
	locallyActive := s.state == StateActive || s.state == StatePaused

	var local *track.RouteView
	if locallyActive && s.routeID != "" {
		local = s.localViewLocked()
	}
	s.view = track.Merge(local, s.pushView, s.pollView, locallyActive)
	if s.view != nil {
		s.eligibility = track.Classify(s.view.Stats)
	}
}

// localViewLocked builds the local view. Duration comes from the session
// clock (start to now, paused intervals excluded) so the elapsed display
// moves even between GPS fixes; distance and the rest come from the buffer.
func (s *Session) localViewLocked() *track.RouteView {
	coords := s.buffer.Coordinates()
	stats := track.ComputeStats(coords, 0)
	stats.DurationSeconds = s.elapsedLocked().Seconds()
	if stats.DurationSeconds > 0 {
		stats.AverageSpeedKmh = stats.DistanceMeters / stats.DurationSeconds * 3.6
	} else {
		stats.AverageSpeedKmh = 0
	}

	status := track.StatusActive
	if s.state == StatePaused {
		status = track.StatusPaused
	}
	return &track.RouteView{
		RouteID:     s.routeID,
		Status:      status,
		StartedAt:   s.startedAt,
		Coordinates: coords,
		Stats:       stats,
	}
}

func (s *Session) elapsedLocked() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	elapsed := s.now().Sub(s.startedAt) - s.pausedTotal
	if !s.pausedAt.IsZero() {
		elapsed -= s.now().Sub(s.pausedAt)
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed
}

func (s *Session) acquireWatchLocked() {
	if s.location == nil || s.watch != nil {
		return
	}
	watch, err := s.location.Watch(s.handleSample, s.handleLocationError)
	if err != nil {
		// Degraded mode, surfaced through the view; ingestion simply stops.
		s.gpsError = fmt.Sprintf("%v: %v", ErrLocationUnavailable, err)
		return
	}
	s.watch = watch
}

func (s *Session) releaseWatchLocked() {
	if s.watch != nil {
		s.watch.Stop()
		s.watch = nil
	}
}

func (s *Session) subscribePushLocked() {
	if s.pushes == nil {
		return
	}
	ch, cancel := s.pushes.SubscribeRoute(s.routeID)
	s.pushCancel = cancel
	go s.consumePush(ch)
}

func (s *Session) startElapsedLocked() {
	stop := make(chan struct{})
	s.elapsedStop = stop
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.mu.Lock()
				if s.state == StateActive {
					s.reconcileLocked()
				}
				s.mu.Unlock()
			case <-stop:
				return
			}
		}
	}()
}

// teardownLocked releases every owned resource: the location watch, the
// elapsed ticker, the preview scheduler, and the push subscription. Runs on
// every terminal path.
func (s *Session) teardownLocked() {
	s.releaseWatchLocked()
	if s.elapsedStop != nil {
		close(s.elapsedStop)
		s.elapsedStop = nil
	}
	if s.scheduler != nil {
		s.scheduler.stop()
		s.scheduler = nil
	}
	if s.pushCancel != nil {
		s.pushCancel()
		s.pushCancel = nil
	}
}

func (s *Session) viewLocked() View {
	return View{
		State:           s.state,
		Route:           s.view,
		Eligibility:     s.eligibility,
		Preview:         s.preview,
		Result:          s.result,
		GPSError:        s.gpsError,
		LastError:       s.lastError,
		RejectedSamples: s.rejected,
	}
}

func (s *Session) notifyLocked() {
	if s.opts.Observer != nil {
		s.opts.Observer(s.viewLocked())
	}
}
