// Federation propagation of catalog changes. The wire protocol itself lives
// behind the Federator interface; this package owns the ordering and retry
// behaviour of the post-commit announcement chain.
package federation

import (
	"context"

	"github.com/google/uuid"
	"github.com/naiad-media/naiad/internal/video"
)

// Federator is the peer-propagation collaborator. Both operations must be
// idempotent from this package's perspective: a bounded retry may deliver
// the same call more than once.
type Federator interface {
	// Propagate announces a video (new or updated) to peer instances.
	Propagate(ctx context.Context, details *video.Details, isNew bool) error
	// Retract withdraws a video from peer instances, used when a privacy
	// change makes it federation-ineligible or when it is deleted.
	Retract(ctx context.Context, videoID uuid.UUID) error
	// PropagateView forwards a single VOD view event to peers.
	PropagateView(ctx context.Context, videoID uuid.UUID) error
	// PropagateOwnershipChange announces that a video moved to a different
	// channel.
	PropagateOwnershipChange(ctx context.Context, details *video.Details) error
}

// NoopFederator satisfies Federator without any peers configured.
type NoopFederator struct{}

func (NoopFederator) Propagate(context.Context, *video.Details, bool) error { return nil }
func (NoopFederator) Retract(context.Context, uuid.UUID) error              { return nil }
func (NoopFederator) PropagateView(context.Context, uuid.UUID) error        { return nil }
func (NoopFederator) PropagateOwnershipChange(context.Context, *video.Details) error {
	return nil
}
