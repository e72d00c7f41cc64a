package joinflow

import (
	"context"
	"time"

	"github.com/palaver-chat/palaver/internal/bus"
	"github.com/palaver-chat/palaver/internal/protocol"
	"go.uber.org/zap"
)

// Coordinator drives one join flow: it executes the machine's effects against
// the join client and feeds the results back as events. Events are processed
// one at a time on a single goroutine, so at most one collaborator call per
// state is ever in flight.
type Coordinator struct {
	machine *Machine
	client  protocol.JoinClient
	groups  GroupLister
	bus     *bus.Bus
	logger  *zap.Logger

	events chan Event
	done   chan struct{}
}

// GroupLister is the slice of the conversation client the flow needs for its
// baseline and post-join group snapshots.
type GroupLister interface {
	ListGroupsByAccount(ctx context.Context, account string) (protocol.GroupsByAccount, error)
}

// NewCoordinator creates a coordinator for one invite. The flow starts when
// Start is called and runs until a terminal state or context cancellation;
// there is no explicit cancel event, a discarded flow's in-flight call simply
// completes unobserved.
func NewCoordinator(account, groupInviteID string, client protocol.JoinClient, groups GroupLister, b *bus.Bus, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		machine: NewMachine(account, groupInviteID),
		client:  client,
		groups:  groups,
		bus:     b,
		logger:  logger,
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
	}
}

// Start begins executing the flow.
func (c *Coordinator) Start(ctx context.Context) {
	go c.run(ctx)
}

// UserTappedJoin delivers the user's join tap. It is ignored unless the flow
// is waiting for it.
func (c *Coordinator) UserTappedJoin() {
	select {
	case c.events <- Event{Kind: EventUserTappedJoin}:
	case <-c.done:
	}
}

// Done is closed once the flow reaches a terminal state.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the flow's current state and context snapshot.
func (c *Coordinator) Result() (State, Context) {
	return c.machine.State(), c.machine.Context()
}

func (c *Coordinator) run(ctx context.Context) {
	c.execute(ctx, c.machine.StartEffects())
	for {
		if c.machine.Done() {
			c.logger.Info("join flow finished",
				zap.String("invite_id", c.machine.Context().GroupInviteID),
				zap.String("state", string(c.machine.State())))
			close(c.done)
			return
		}
		select {
		case ev := <-c.events:
			c.execute(ctx, c.machine.Send(ev))
		case <-ctx.Done():
			close(c.done)
			return
		}
	}
}

func (c *Coordinator) execute(ctx context.Context, effects []Effect) {
	flow := c.machine.Context()
	for _, eff := range effects {
		switch eff {
		case EffectFetchInvite:
			invite, err := c.client.FetchGroupInvite(ctx, flow.GroupInviteID)
			if err != nil {
				c.enqueue(Event{Kind: EventInviteFetchFailed, Err: err})
			} else {
				c.enqueue(Event{Kind: EventInviteFetched, Invite: invite})
			}

		case EffectFetchGroups:
			groups, err := c.groups.ListGroupsByAccount(ctx, flow.Account)
			if err != nil {
				c.enqueue(Event{Kind: EventGroupsFetchFailed, Err: err})
			} else {
				c.enqueue(Event{Kind: EventGroupsFetched, Groups: groups})
			}

		case EffectAttemptJoin:
			result, err := c.client.AttemptToJoinGroup(ctx, flow.Account, flow.GroupInviteID)
			if err != nil {
				c.enqueue(Event{Kind: EventJoinResolved, Result: protocol.JoinErrored, Err: err})
			} else {
				c.enqueue(Event{Kind: EventJoinResolved, Result: result.Type})
			}

		case EffectProvideConsent:
			// The joiner consents to the group itself, not transitively to
			// its creator or adder.
			err := c.client.AllowGroup(ctx, flow.Account, *flow.NewGroup, protocol.AllowGroupOptions{
				IncludeCreator: false,
				IncludeAddedBy: false,
			})
			if err != nil {
				c.enqueue(Event{Kind: EventConsentFailed, Err: err})
			} else {
				c.enqueue(Event{Kind: EventConsentGranted})
			}

		case EffectRefreshGroup:
			err := c.client.RefreshGroup(ctx, flow.Account, flow.NewGroup.Topic)
			if err != nil {
				c.enqueue(Event{Kind: EventRefreshFailed, Err: err})
			} else {
				c.enqueue(Event{Kind: EventGroupRefreshed})
			}

		case EffectNavigate:
			c.bus.Publish(bus.Event{
				Kind:      "join.navigate",
				Timestamp: time.Now(),
				Payload: bus.Navigation{
					Account: flow.Account,
					Topic:   flow.NewGroup.Topic,
				},
			})
		}
	}
}

func (c *Coordinator) enqueue(ev Event) {
	select {
	case c.events <- ev:
	default:
		c.logger.Warn("join flow event dropped", zap.String("kind", string(ev.Kind)))
	}
}
