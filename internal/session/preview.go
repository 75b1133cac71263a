package session

import (
	"context"
	"log"
	"sync"
	"time"

	"backend-routewars/internal/track"
)

// previewScheduler decides when to re-request the territory-claim preview.
// A route change normally schedules a debounced recomputation; the moment
// the loop closes it fires immediately; an external territories-changed
// notification fires regardless of the debounce window. At most one preview
// request is in flight per route: a newer trigger supersedes an outstanding
// one, whose response is then dropped.
type previewScheduler struct {
	mu        sync.Mutex
	svc       PreviewService
	routeID   string
	debounce  time.Duration
	onPreview func(track.TerritoryPreview)

	timer      *time.Timer
	generation int
	stopped    bool
	lastCount  int
	lastClosed bool
	pending    []track.Coordinate
}

func newPreviewScheduler(svc PreviewService, routeID string, debounce time.Duration, onPreview func(track.TerritoryPreview)) *previewScheduler {
	return &previewScheduler{
		svc:       svc,
		routeID:   routeID,
		debounce:  debounce,
		onPreview: onPreview,
	}
}

// routeChanged is called on every reconciliation pass with the merged
// coordinate count and closed-loop flag.
func (p *previewScheduler) routeChanged(count int, closed bool, coords []track.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	changed := count != p.lastCount || closed != p.lastClosed
	justClosed := closed && !p.lastClosed
	p.lastCount, p.lastClosed = count, closed
	if !changed {
		return
	}
	p.pending = coords

	if justClosed {
		p.fireLocked()
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.fire)
}

// territoriesChanged forces an immediate recomputation.
func (p *previewScheduler) territoriesChanged(coords []track.Coordinate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	if coords != nil {
		p.pending = coords
	}
	p.fireLocked()
}

// stop cancels the debounce timer and invalidates any in-flight request so
// nothing acts on a torn-down route.
func (p *previewScheduler) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.generation++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *previewScheduler) fire() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.fireLocked()
}

func (p *previewScheduler) fireLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.generation++
	gen := p.generation
	coords := p.pending

	go func() {
		preview, err := p.svc.Preview(context.Background(), p.routeID, coords)
		if err != nil {
			log.Printf("territory preview failed: %v", err)
			return
		}
		p.mu.Lock()
		stale := p.stopped || gen != p.generation
		p.mu.Unlock()
		if !stale {
			p.onPreview(preview)
		}
	}()
}
