// Package joinflow implements the multi-step group-invite join flow as an
// explicit state machine: a pure transition function over states, events and
// side-effect descriptors, driven by a coordinator that executes the effects.
package joinflow

import (
	"github.com/palaver-chat/palaver/internal/protocol"
)

// State identifies one step of the join flow.
type State string

const (
	StateLoadingInvite         State = "Loading Group Invite Metadata"
	StateLoadingGroups         State = "Determining Groups Joined Before Attempt"
	StateWaitingForUser        State = "Waiting For User Action"
	StateJoining               State = "Attempting to Join Group"
	StateResolvingNewGroup     State = "Determining Newly Joined Group"
	StateCheckingBlocked       State = "Checking If User Has Been Blocked From Group"
	StateCheckingAlreadyJoined State = "Checking If User Has Already Joined Group"
	StateGrantingConsent       State = "Providing User Consent to Join Group"
	StateRefreshing            State = "Refreshing Group"
	StateJoined                State = "User Joined Group"
	StateBlocked               State = "User Has Been Blocked From Group"
	StateRejected              State = "Request to Join Group Rejected"
	StateTimedOut              State = "Attempting to Join Group Timed Out"

	StateErrorLoadingInvite   State = "Error Loading Group Invite"
	StateErrorLoadingGroups   State = "Error Loading Groups"
	StateErrorJoining         State = "Error Joining Group"
	StateErrorResolvingGroup  State = "Error Determining New Group"
	StateErrorGrantingConsent State = "Error Providing User Consent"
	StateErrorRefreshing      State = "Error Refreshing Group"
)

// terminalStates are the states with no outgoing transitions. Error states
// are terminal here: recovery is a caller concern and means starting a fresh
// flow.
var terminalStates = map[State]bool{
	StateJoined:               true,
	StateBlocked:              true,
	StateRejected:             true,
	StateTimedOut:             true,
	StateErrorLoadingInvite:   true,
	StateErrorLoadingGroups:   true,
	StateErrorJoining:         true,
	StateErrorResolvingGroup:  true,
	StateErrorGrantingConsent: true,
	StateErrorRefreshing:      true,
}

// JoinStatus is the recorded terminal outcome of the flow.
type JoinStatus string

const (
	StatusAccepted JoinStatus = "ACCEPTED"
	StatusRejected JoinStatus = "REJECTED"
)

// ErrorKind tags which collaborator call failed.
type ErrorKind string

const (
	ErrFetchGroupInvite ErrorKind = "fetchGroupInviteError"
	ErrFetchGroups      ErrorKind = "fetchGroupsByAccountError"
	ErrAttemptToJoin    ErrorKind = "attemptToJoinGroupError"
	ErrProvideConsent   ErrorKind = "provideUserConsentToJoinGroupError"
	ErrRefreshGroup     ErrorKind = "refreshGroupError"
)

// FlowError is the tagged error stored in the flow context. It is parked in
// an error state rather than thrown across the state boundary.
type FlowError struct {
	Kind  ErrorKind
	Cause error
}

// Context is the working data of one join attempt, created fresh per flow.
type Context struct {
	Account       string
	GroupInviteID string

	// InviteMetadata is fetched once and immutable thereafter.
	InviteMetadata *protocol.InviteMetadata

	// GroupsBefore is the group-id snapshot taken before the join attempt,
	// used for diffing when the invite carries no direct group id.
	GroupsBefore *protocol.GroupsByAccount

	NewGroup   *protocol.GroupRecord
	JoinStatus JoinStatus
	Err        *FlowError
}

// EventKind identifies an event fed into the machine.
type EventKind string

const (
	EventUserTappedJoin EventKind = "user.didTapJoinGroup"

	EventInviteFetched     EventKind = "inviteFetched"
	EventInviteFetchFailed EventKind = "inviteFetchFailed"
	EventGroupsFetched     EventKind = "groupsFetched"
	EventGroupsFetchFailed EventKind = "groupsFetchFailed"
	EventJoinResolved      EventKind = "joinResolved"
	EventConsentGranted    EventKind = "consentGranted"
	EventConsentFailed     EventKind = "consentFailed"
	EventGroupRefreshed    EventKind = "groupRefreshed"
	EventRefreshFailed     EventKind = "refreshFailed"

	// eventAdvance resolves transient guard-only states. It is generated
	// internally by Send, never by callers.
	eventAdvance EventKind = "advance"
)

// Event carries an external stimulus or an async collaborator result.
type Event struct {
	Kind   EventKind
	Invite protocol.InviteMetadata
	Groups protocol.GroupsByAccount
	Result protocol.JoinResultType
	Err    error
}

// Effect is a side-effect descriptor returned by the transition function and
// executed by the coordinator after the pure transition.
type Effect int

const (
	EffectNone Effect = iota
	EffectFetchInvite
	EffectFetchGroups
	EffectAttemptJoin
	EffectProvideConsent
	EffectRefreshGroup
	EffectNavigate
)

// Transition is the pure transition function: given the current state,
// context and an event, it yields the next state, the updated context and the
// effects to run. Events that a state does not accept leave everything
// unchanged.
func Transition(state State, ctx Context, ev Event) (State, Context, []Effect) {
	switch state {
	case StateLoadingInvite:
		switch ev.Kind {
		case EventInviteFetched:
			invite := ev.Invite
			ctx.InviteMetadata = &invite
			return StateLoadingGroups, ctx, []Effect{EffectFetchGroups}
		case EventInviteFetchFailed:
			ctx.Err = &FlowError{Kind: ErrFetchGroupInvite, Cause: ev.Err}
			return StateErrorLoadingInvite, ctx, nil
		}

	case StateLoadingGroups:
		switch ev.Kind {
		case EventGroupsFetched:
			groups := ev.Groups
			ctx.GroupsBefore = &groups
			return StateWaitingForUser, ctx, nil
		case EventGroupsFetchFailed:
			ctx.Err = &FlowError{Kind: ErrFetchGroups, Cause: ev.Err}
			return StateErrorLoadingGroups, ctx, nil
		}

	case StateWaitingForUser:
		if ev.Kind == EventUserTappedJoin {
			return StateJoining, ctx, []Effect{EffectAttemptJoin}
		}

	case StateJoining:
		if ev.Kind == EventJoinResolved {
			switch ev.Result {
			case protocol.JoinAccepted:
				return StateResolvingNewGroup, ctx, []Effect{EffectFetchGroups}
			case protocol.JoinAlreadyJoined:
				return enterJoined(ctx)
			case protocol.JoinRejected:
				return StateRejected, ctx, nil
			case protocol.JoinErrored:
				ctx.Err = &FlowError{Kind: ErrAttemptToJoin, Cause: ev.Err}
				return StateErrorJoining, ctx, nil
			case protocol.JoinTimedOut:
				return StateTimedOut, ctx, nil
			}
		}

	case StateResolvingNewGroup:
		switch ev.Kind {
		case EventGroupsFetched:
			// A group id in the metadata is more certain than diffing, so
			// it always takes precedence.
			if ctx.InviteMetadata != nil && ctx.InviteMetadata.GroupID != "" {
				if g, ok := ev.Groups.ByID[ctx.InviteMetadata.GroupID]; ok {
					ctx.NewGroup = &g
				} else {
					ctx.NewGroup = nil
				}
				return StateCheckingBlocked, ctx, nil
			}
			ctx.NewGroup = diffNewGroup(ctx.GroupsBefore, ev.Groups)
			return StateCheckingAlreadyJoined, ctx, nil
		case EventGroupsFetchFailed:
			ctx.Err = &FlowError{Kind: ErrFetchGroups, Cause: ev.Err}
			return StateErrorResolvingGroup, ctx, nil
		}

	case StateCheckingBlocked:
		if ev.Kind == eventAdvance {
			if groupActive(ctx.NewGroup) {
				return StateGrantingConsent, ctx, []Effect{EffectProvideConsent}
			}
			return enterBlocked(ctx)
		}

	case StateCheckingAlreadyJoined:
		if ev.Kind == eventAdvance {
			if ctx.NewGroup == nil {
				return enterJoined(ctx)
			}
			if groupActive(ctx.NewGroup) {
				return StateGrantingConsent, ctx, []Effect{EffectProvideConsent}
			}
			return enterBlocked(ctx)
		}

	case StateGrantingConsent:
		switch ev.Kind {
		case EventConsentGranted:
			return StateRefreshing, ctx, []Effect{EffectRefreshGroup}
		case EventConsentFailed:
			ctx.Err = &FlowError{Kind: ErrProvideConsent, Cause: ev.Err}
			return StateErrorGrantingConsent, ctx, nil
		}

	case StateRefreshing:
		switch ev.Kind {
		case EventGroupRefreshed:
			return enterJoined(ctx)
		case EventRefreshFailed:
			ctx.Err = &FlowError{Kind: ErrRefreshGroup, Cause: ev.Err}
			return StateErrorRefreshing, ctx, nil
		}
	}

	return state, ctx, nil
}

func enterJoined(ctx Context) (State, Context, []Effect) {
	ctx.JoinStatus = StatusAccepted
	if ctx.NewGroup != nil {
		return StateJoined, ctx, []Effect{EffectNavigate}
	}
	return StateJoined, ctx, nil
}

func enterBlocked(ctx Context) (State, Context, []Effect) {
	ctx.JoinStatus = StatusRejected
	return StateBlocked, ctx, nil
}

func groupActive(g *protocol.GroupRecord) bool {
	return g != nil && g.IsActive
}

// diffNewGroup returns the group present in after but absent from the
// baseline, or nil when the sets are identical (the user had already joined).
// At most one new group per attempt is assumed; with several, the first in
// the network's id order wins.
func diffNewGroup(before *protocol.GroupsByAccount, after protocol.GroupsByAccount) *protocol.GroupRecord {
	old := make(map[string]bool)
	if before != nil {
		for _, id := range before.IDs {
			old[id] = true
		}
	}
	for _, id := range after.IDs {
		if !old[id] {
			if g, ok := after.ByID[id]; ok {
				return &g
			}
		}
	}
	return nil
}

// Machine holds one flow's state and context and applies transitions,
// resolving transient guard-only states automatically.
type Machine struct {
	state State
	ctx   Context
}

// NewMachine creates a machine for one join attempt, parked in the initial
// state. StartEffects provides the initial state's entry effect.
func NewMachine(account, groupInviteID string) *Machine {
	return &Machine{
		state: StateLoadingInvite,
		ctx: Context{
			Account:       account,
			GroupInviteID: groupInviteID,
		},
	}
}

// StartEffects returns the effects to run on machine start.
func (m *Machine) StartEffects() []Effect {
	return []Effect{EffectFetchInvite}
}

// Send applies an event, chaining through any transient states, and returns
// the accumulated effects to execute.
func (m *Machine) Send(ev Event) []Effect {
	state, ctx, effects := Transition(m.state, m.ctx, ev)
	m.state, m.ctx = state, ctx

	for m.state == StateCheckingBlocked || m.state == StateCheckingAlreadyJoined {
		var more []Effect
		state, ctx, more = Transition(m.state, m.ctx, Event{Kind: eventAdvance})
		m.state, m.ctx = state, ctx
		effects = append(effects, more...)
	}
	return effects
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Context returns a snapshot of the flow context.
func (m *Machine) Context() Context {
	return m.ctx
}

// Done reports whether the machine reached a terminal state.
func (m *Machine) Done() bool {
	return terminalStates[m.state]
}
