package joinflow

import (
	"errors"
	"testing"

	"github.com/palaver-chat/palaver/internal/protocol"
)

func groupsOf(records ...protocol.GroupRecord) protocol.GroupsByAccount {
	out := protocol.GroupsByAccount{ByID: make(map[string]protocol.GroupRecord)}
	for _, g := range records {
		out.IDs = append(out.IDs, g.ID)
		out.ByID[g.ID] = g
	}
	return out
}

// driveToWaiting advances a fresh machine through invite and baseline loading.
func driveToWaiting(t *testing.T, m *Machine, invite protocol.InviteMetadata, before protocol.GroupsByAccount) {
	t.Helper()
	m.Send(Event{Kind: EventInviteFetched, Invite: invite})
	m.Send(Event{Kind: EventGroupsFetched, Groups: before})
	if m.State() != StateWaitingForUser {
		t.Fatalf("state = %q, want waiting for user", m.State())
	}
}

func TestStartEffectsFetchInvite(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")
	effects := m.StartEffects()
	if len(effects) != 1 || effects[0] != EffectFetchInvite {
		t.Fatalf("start effects = %v, want [fetch invite]", effects)
	}
	if m.State() != StateLoadingInvite {
		t.Errorf("initial state = %q", m.State())
	}
}

func TestJoinFlowHappyPathByDiff(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1"}, groupsOf(
		protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
	))

	effects := m.Send(Event{Kind: EventUserTappedJoin})
	if len(effects) != 1 || effects[0] != EffectAttemptJoin {
		t.Fatalf("effects = %v, want [attempt join]", effects)
	}

	effects = m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
	if len(effects) != 1 || effects[0] != EffectFetchGroups {
		t.Fatalf("effects = %v, want [fetch groups]", effects)
	}

	// The post-join snapshot has one extra active group: the one just joined.
	effects = m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf(
		protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
		protocol.GroupRecord{ID: "g2", Topic: "t-g2", IsActive: true},
	)})
	if m.State() != StateGrantingConsent {
		t.Fatalf("state = %q, want granting consent", m.State())
	}
	if len(effects) != 1 || effects[0] != EffectProvideConsent {
		t.Fatalf("effects = %v, want [provide consent]", effects)
	}

	effects = m.Send(Event{Kind: EventConsentGranted})
	if len(effects) != 1 || effects[0] != EffectRefreshGroup {
		t.Fatalf("effects = %v, want [refresh group]", effects)
	}

	effects = m.Send(Event{Kind: EventGroupRefreshed})
	if m.State() != StateJoined {
		t.Fatalf("state = %q, want joined", m.State())
	}
	if len(effects) != 1 || effects[0] != EffectNavigate {
		t.Fatalf("effects = %v, want [navigate]", effects)
	}

	ctx := m.Context()
	if ctx.JoinStatus != StatusAccepted {
		t.Errorf("status = %q, want accepted", ctx.JoinStatus)
	}
	if ctx.NewGroup == nil || ctx.NewGroup.ID != "g2" {
		t.Errorf("new group = %v, want g2", ctx.NewGroup)
	}
	if !m.Done() {
		t.Error("machine not done in joined state")
	}
}

func TestJoinFlowGroupIDPrecedence(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	// The invite names g2 directly; the diff would also find g3 first, so the
	// direct id must win.
	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1", GroupID: "g2"}, groupsOf(
		protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
	))
	m.Send(Event{Kind: EventUserTappedJoin})
	m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
	m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf(
		protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
		protocol.GroupRecord{ID: "g3", Topic: "t-g3", IsActive: true},
		protocol.GroupRecord{ID: "g2", Topic: "t-g2", IsActive: true},
	)})

	if m.State() != StateGrantingConsent {
		t.Fatalf("state = %q, want granting consent", m.State())
	}
	if g := m.Context().NewGroup; g == nil || g.ID != "g2" {
		t.Errorf("new group = %v, want g2 from the invite metadata", g)
	}
}

func TestJoinFlowBlockedGroup(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1", GroupID: "g2"}, groupsOf())
	m.Send(Event{Kind: EventUserTappedJoin})
	m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
	effects := m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf(
		protocol.GroupRecord{ID: "g2", Topic: "t-g2", IsActive: false},
	)})

	if m.State() != StateBlocked {
		t.Fatalf("state = %q, want blocked", m.State())
	}
	if len(effects) != 0 {
		t.Errorf("effects = %v, want none for a blocked group", effects)
	}
	if m.Context().JoinStatus != StatusRejected {
		t.Errorf("status = %q, want rejected", m.Context().JoinStatus)
	}
	if !m.Done() {
		t.Error("blocked state should be terminal")
	}
}

func TestJoinFlowAlreadyJoinedByDiff(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	before := groupsOf(protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true})
	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1"}, before)
	m.Send(Event{Kind: EventUserTappedJoin})
	m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})

	// Identical before and after snapshots: the user was already a member.
	effects := m.Send(Event{Kind: EventGroupsFetched, Groups: before})

	if m.State() != StateJoined {
		t.Fatalf("state = %q, want joined", m.State())
	}
	if m.Context().JoinStatus != StatusAccepted {
		t.Errorf("status = %q, want accepted", m.Context().JoinStatus)
	}
	// No new group was identified, so there is nowhere to navigate to.
	if len(effects) != 0 {
		t.Errorf("effects = %v, want none", effects)
	}
}

func TestJoinFlowAlreadyJoinedResult(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1"}, groupsOf())
	m.Send(Event{Kind: EventUserTappedJoin})
	effects := m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAlreadyJoined})

	if m.State() != StateJoined {
		t.Fatalf("state = %q, want joined", m.State())
	}
	if m.Context().JoinStatus != StatusAccepted {
		t.Errorf("status = %q, want accepted", m.Context().JoinStatus)
	}
	if len(effects) != 0 {
		t.Errorf("effects = %v, want none", effects)
	}
}

func TestJoinFlowRejectedAndTimedOut(t *testing.T) {
	cases := []struct {
		result protocol.JoinResultType
		want   State
	}{
		{protocol.JoinRejected, StateRejected},
		{protocol.JoinTimedOut, StateTimedOut},
	}
	for _, tc := range cases {
		m := NewMachine("0xacc", "invite-1")
		driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1"}, groupsOf())
		m.Send(Event{Kind: EventUserTappedJoin})
		m.Send(Event{Kind: EventJoinResolved, Result: tc.result})

		if m.State() != tc.want {
			t.Errorf("result %q: state = %q, want %q", tc.result, m.State(), tc.want)
		}
		if !m.Done() {
			t.Errorf("result %q: state should be terminal", tc.result)
		}
	}
}

func TestJoinFlowErrorStates(t *testing.T) {
	cause := errors.New("boom")
	cases := []struct {
		name  string
		drive func(m *Machine)
		want  State
		kind  ErrorKind
	}{
		{
			name:  "invite fetch",
			drive: func(m *Machine) { m.Send(Event{Kind: EventInviteFetchFailed, Err: cause}) },
			want:  StateErrorLoadingInvite,
			kind:  ErrFetchGroupInvite,
		},
		{
			name: "baseline groups fetch",
			drive: func(m *Machine) {
				m.Send(Event{Kind: EventInviteFetched, Invite: protocol.InviteMetadata{ID: "invite-1"}})
				m.Send(Event{Kind: EventGroupsFetchFailed, Err: cause})
			},
			want: StateErrorLoadingGroups,
			kind: ErrFetchGroups,
		},
		{
			name: "join attempt",
			drive: func(m *Machine) {
				m.Send(Event{Kind: EventInviteFetched, Invite: protocol.InviteMetadata{ID: "invite-1"}})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf()})
				m.Send(Event{Kind: EventUserTappedJoin})
				m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinErrored, Err: cause})
			},
			want: StateErrorJoining,
			kind: ErrAttemptToJoin,
		},
		{
			name: "post-join groups fetch",
			drive: func(m *Machine) {
				m.Send(Event{Kind: EventInviteFetched, Invite: protocol.InviteMetadata{ID: "invite-1"}})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf()})
				m.Send(Event{Kind: EventUserTappedJoin})
				m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
				m.Send(Event{Kind: EventGroupsFetchFailed, Err: cause})
			},
			want: StateErrorResolvingGroup,
			kind: ErrFetchGroups,
		},
		{
			name: "consent",
			drive: func(m *Machine) {
				m.Send(Event{Kind: EventInviteFetched, Invite: protocol.InviteMetadata{ID: "invite-1", GroupID: "g1"}})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf()})
				m.Send(Event{Kind: EventUserTappedJoin})
				m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf(
					protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
				)})
				m.Send(Event{Kind: EventConsentFailed, Err: cause})
			},
			want: StateErrorGrantingConsent,
			kind: ErrProvideConsent,
		},
		{
			name: "refresh",
			drive: func(m *Machine) {
				m.Send(Event{Kind: EventInviteFetched, Invite: protocol.InviteMetadata{ID: "invite-1", GroupID: "g1"}})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf()})
				m.Send(Event{Kind: EventUserTappedJoin})
				m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})
				m.Send(Event{Kind: EventGroupsFetched, Groups: groupsOf(
					protocol.GroupRecord{ID: "g1", Topic: "t-g1", IsActive: true},
				)})
				m.Send(Event{Kind: EventConsentGranted})
				m.Send(Event{Kind: EventRefreshFailed, Err: cause})
			},
			want: StateErrorRefreshing,
			kind: ErrRefreshGroup,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMachine("0xacc", "invite-1")
			tc.drive(m)
			if m.State() != tc.want {
				t.Fatalf("state = %q, want %q", m.State(), tc.want)
			}
			if !m.Done() {
				t.Error("error state should be terminal")
			}
			flowErr := m.Context().Err
			if flowErr == nil || flowErr.Kind != tc.kind {
				t.Errorf("err = %+v, want kind %q", flowErr, tc.kind)
			}
			if flowErr != nil && !errors.Is(flowErr.Cause, cause) {
				t.Errorf("cause = %v, want wrapped original", flowErr.Cause)
			}
		})
	}
}

func TestTerminalStatesIgnoreEvents(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")
	driveToWaiting(t, m, protocol.InviteMetadata{ID: "invite-1"}, groupsOf())
	m.Send(Event{Kind: EventUserTappedJoin})
	m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinRejected})

	// A late tap or collaborator result must not restart the flow.
	m.Send(Event{Kind: EventUserTappedJoin})
	m.Send(Event{Kind: EventJoinResolved, Result: protocol.JoinAccepted})

	if m.State() != StateRejected {
		t.Errorf("state = %q, want rejected to stick", m.State())
	}
}

func TestUnexpectedEventsAreIgnored(t *testing.T) {
	m := NewMachine("0xacc", "invite-1")

	// A tap before the invite and baseline are loaded does nothing.
	if effects := m.Send(Event{Kind: EventUserTappedJoin}); len(effects) != 0 {
		t.Errorf("effects = %v, want none", effects)
	}
	if m.State() != StateLoadingInvite {
		t.Errorf("state = %q, want loading invite", m.State())
	}
}

func TestDiffNewGroupPicksFirstInNetworkOrder(t *testing.T) {
	before := groupsOf(protocol.GroupRecord{ID: "g1"})
	after := groupsOf(
		protocol.GroupRecord{ID: "g1"},
		protocol.GroupRecord{ID: "g9", Topic: "t-g9"},
		protocol.GroupRecord{ID: "g2", Topic: "t-g2"},
	)
	g := diffNewGroup(&before, after)
	if g == nil || g.ID != "g9" {
		t.Errorf("diff = %v, want g9 (first new id in listing order)", g)
	}
}
