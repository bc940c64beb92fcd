// Package navigator reproduces, without any network call, the same
// item-to-item navigation decision the delivery server would make. It is
// consulted only while disconnected; determinism with the server-side
// algorithm is what makes offline progress safe to replay later.
package navigator

import (
	"context"
	"log/slog"
	"sync"

	"github.com/oat-sa/tao-offline-runner/internal/logging"
	"github.com/oat-sa/tao-offline-runner/pkg/domain"
	"github.com/oat-sa/tao-offline-runner/pkg/ports"
)

// Navigator computes offline navigation results against the local
// TestMap and the item cache.
type Navigator struct {
	store  ports.ItemStore
	logger *slog.Logger

	mu      sync.Mutex
	testMap *domain.TestMap
	testCtx *domain.TestContext
}

// Option configures the Navigator.
type Option func(*Navigator)

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Navigator) { n.logger = logger }
}

// New creates a Navigator reading cached items from store.
func New(store ports.ItemStore, opts ...Option) *Navigator {
	n := &Navigator{
		store:  store,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// SetTestContext replaces the current position.
func (n *Navigator) SetTestContext(ctx *domain.TestContext) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.testCtx = ctx.Clone()
}

// SetTestMap replaces the navigation tree.
func (n *Navigator) SetTestMap(m *domain.TestMap) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.testMap = m
}

// Navigate computes the new TestContext for a movement, honoring the
// same rules as the server: linear parts forbid backward movement,
// skip-ahead category flags permit jumping into unseen items, and
// passing the last item of the test closes the session rather than
// failing. The computed target must be present in the item cache,
// otherwise a *domain.OfflineNavError is returned.
func (n *Navigator) Navigate(ctx context.Context, direction domain.Direction, scope domain.Scope, ref int) (*domain.TestContext, error) {
	n.mu.Lock()
	testMap, testCtx := n.testMap, n.testCtx
	n.mu.Unlock()

	if testMap == nil || testCtx == nil {
		return nil, &domain.OfflineNavError{Reason: "no test map or context loaded"}
	}

	refs := testMap.Flatten()
	pos := currentPosition(testMap, testCtx)
	if pos < 0 || pos >= len(refs) {
		return nil, &domain.OfflineNavError{Reason: "current position not in test map"}
	}
	current := refs[pos]

	target, closed, err := n.resolveTarget(refs, pos, current, direction, scope, ref)
	if err != nil {
		return nil, err
	}

	if closed {
		// End of the whole test: terminal closed state, never an error.
		done := testCtx.Clone()
		done.State = domain.SessionClosed
		n.logger.Debug("offline navigation closed the session", "from", current.Item.ID)
		return done, nil
	}

	cached, err := n.store.Has(ctx, target.Item.ID)
	if err != nil {
		return nil, &domain.OfflineNavError{Ref: target.Item.ID, Reason: "item cache unavailable", Err: err}
	}
	if !cached {
		return nil, &domain.OfflineNavError{
			Ref:    target.Item.ID,
			Reason: "target item was never cached",
			Err:    domain.ErrItemNotCached,
		}
	}

	targetPos := flatPosition(refs, target.Item.ID)
	next := &domain.TestContext{
		ItemIdentifier: target.Item.ID,
		ItemPosition:   targetPos,
		SectionID:      target.Section.ID,
		TestPartID:     target.Part.ID,
		State:          domain.SessionInteracting,
	}

	target.Item.Viewed = true
	testMap.RecomputeStats()

	n.mu.Lock()
	n.testCtx = next.Clone()
	n.mu.Unlock()

	n.logger.Debug("offline navigation resolved",
		"direction", string(direction),
		"scope", string(scope),
		"from", current.Item.ID,
		"to", target.Item.ID,
	)
	return next, nil
}

// resolveTarget picks the destination item. closed=true means the
// movement passed the end of the test.
func (n *Navigator) resolveTarget(refs []domain.ItemRef, pos int, current domain.ItemRef, direction domain.Direction, scope domain.Scope, jumpRef int) (domain.ItemRef, bool, error) {
	switch direction {
	case domain.DirectionNext, domain.DirectionSkip:
		// skip is a direction synonym: move forward without submitting.
		return n.forward(refs, pos, current, scope)

	case domain.DirectionPrevious:
		return n.backward(refs, pos, current, scope)

	case domain.DirectionJump:
		return n.jump(refs, pos, jumpRef)

	default:
		return domain.ItemRef{}, false, &domain.OfflineNavError{
			Reason: "unknown direction " + string(direction),
		}
	}
}

func (n *Navigator) forward(refs []domain.ItemRef, pos int, current domain.ItemRef, scope domain.Scope) (domain.ItemRef, bool, error) {
	switch scope {
	case domain.ScopeItem, "":
		if pos+1 >= len(refs) {
			return domain.ItemRef{}, true, nil
		}
		// Unanswered skip-ahead items at the end of a non-linear part
		// never block forward movement: forward within an item scope is
		// always permitted.
		return refs[pos+1], false, nil

	case domain.ScopeSection:
		for _, ref := range refs[pos+1:] {
			if ref.Section.ID != current.Section.ID {
				return ref, false, nil
			}
		}
		return domain.ItemRef{}, true, nil

	case domain.ScopeTestPart:
		for _, ref := range refs[pos+1:] {
			if ref.Part.ID != current.Part.ID {
				return ref, false, nil
			}
		}
		return domain.ItemRef{}, true, nil

	default:
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "unknown scope " + string(scope)}
	}
}

func (n *Navigator) backward(refs []domain.ItemRef, pos int, current domain.ItemRef, scope domain.Scope) (domain.ItemRef, bool, error) {
	if current.Part.IsLinear {
		return domain.ItemRef{}, false, &domain.OfflineNavError{
			Reason: "backward movement is forbidden in a linear part",
		}
	}
	if pos == 0 {
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "no previous item"}
	}

	switch scope {
	case domain.ScopeItem, "":
		return refs[pos-1], false, nil

	case domain.ScopeSection:
		// First item of the previous section.
		for i := pos - 1; i >= 0; i-- {
			if refs[i].Section.ID != current.Section.ID {
				return firstOfSection(refs, refs[i].Section.ID), false, nil
			}
		}
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "no previous section"}

	case domain.ScopeTestPart:
		for i := pos - 1; i >= 0; i-- {
			if refs[i].Part.ID != current.Part.ID {
				if refs[i].Part.IsLinear {
					return domain.ItemRef{}, false, &domain.OfflineNavError{
						Reason: "cannot re-enter a linear part",
					}
				}
				return firstOfPart(refs, refs[i].Part.ID), false, nil
			}
		}
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "no previous part"}

	default:
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "unknown scope " + string(scope)}
	}
}

func (n *Navigator) jump(refs []domain.ItemRef, pos, target int) (domain.ItemRef, bool, error) {
	if target < 0 || target >= len(refs) {
		return domain.ItemRef{}, false, &domain.OfflineNavError{Reason: "jump target out of range"}
	}
	dest := refs[target]

	if target < pos && dest.Part.IsLinear {
		return domain.ItemRef{}, false, &domain.OfflineNavError{
			Reason: "backward movement is forbidden in a linear part",
		}
	}
	// Jumping ahead into an unseen item requires the skip-ahead
	// category inside a linear part.
	if target > pos+1 && dest.Part.IsLinear && !dest.Item.Viewed &&
		!dest.Item.HasCategory(domain.CategorySkipAhead) {
		return domain.ItemRef{}, false, &domain.OfflineNavError{
			Ref:    dest.Item.ID,
			Reason: "jump into an unseen item requires the skip-ahead category",
		}
	}
	return dest, false, nil
}

func currentPosition(m *domain.TestMap, ctx *domain.TestContext) int {
	if ctx.ItemIdentifier != "" {
		if pos := flatPosition(m.Flatten(), ctx.ItemIdentifier); pos >= 0 {
			return pos
		}
	}
	return ctx.ItemPosition
}

func flatPosition(refs []domain.ItemRef, id string) int {
	for i, ref := range refs {
		if ref.Item.ID == id {
			return i
		}
	}
	return -1
}

func firstOfSection(refs []domain.ItemRef, sectionID string) domain.ItemRef {
	for _, ref := range refs {
		if ref.Section.ID == sectionID {
			return ref
		}
	}
	return domain.ItemRef{}
}

func firstOfPart(refs []domain.ItemRef, partID string) domain.ItemRef {
	for _, ref := range refs {
		if ref.Part.ID == partID {
			return ref
		}
	}
	return domain.ItemRef{}
}
