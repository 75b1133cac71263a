package session

import (
	"context"

	"backend-routewars/internal/track"
)

// RouteService is the external route collaborator. It is the idempotence
// boundary for completion: the same route id yields the same result.
type RouteService interface {
	CreateRoute(ctx context.Context, userID, name string) (string, error)
	CompleteRoute(ctx context.Context, routeID, userID, name string, end *track.Coordinate) (track.CompletionResult, error)
	DeleteRoute(ctx context.Context, routeID, userID string) error
	ActiveRoute(ctx context.Context, userID string) (*track.RouteView, error)
	RetryClaim(ctx context.Context, routeID, userID string) (track.CompletionResult, error)
}

// PreviewService recomputes the territory-claim preview for a route.
type PreviewService interface {
	Preview(ctx context.Context, routeID string, coords []track.Coordinate) (track.TerritoryPreview, error)
}

// LocationWatch is the scoped handle to a running location watch; Stop
// releases the underlying platform resource.
type LocationWatch interface {
	Stop()
}

// LocationSource delivers GPS samples. Callbacks must be invoked
// asynchronously, never from inside Watch itself.
type LocationSource interface {
	Watch(onSample func(track.Coordinate), onError func(error)) (LocationWatch, error)
}

// PushChannel delivers partial route snapshots for a route id. The returned
// cancel func closes the channel.
type PushChannel interface {
	SubscribeRoute(routeID string) (<-chan track.Snapshot, func())
}
