package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/SupraChat/internal/models"
)

func TestTransition(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
		want State
		ok   bool
	}{
		{StateAuth, EventSessionObtained, StateSyncing, true},
		{StateChatting, EventSessionObtained, StateSyncing, true},
		{StateSyncing, EventSyncCompleted, StateChatting, true},
		{StateChatting, EventSessionLost, StateAuth, true},
		{StateSyncing, EventSessionLost, StateAuth, true},
		{StateSyncing, EventSchemaMissingDetected, StateSyncing, true},
		{StateChatting, EventSchemaMissingDetected, StateChatting, true},
		{StateAuth, EventSyncCompleted, StateAuth, false},
		{StateChatting, EventSyncCompleted, StateChatting, false},
		{StateAuth, EventSchemaMissingDetected, StateAuth, false},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.ev)
		assert.Equal(t, tc.want, got, "%s + %s", tc.from, tc.ev)
		if tc.ok {
			assert.NoError(t, err)
		} else {
			assert.Error(t, err)
		}
	}
}

func profiles(ids ...string) []models.UserProfile {
	out := make([]models.UserProfile, 0, len(ids))
	for _, id := range ids {
		out = append(out, models.UserProfile{ID: id, Email: id + "@example.com"})
	}
	return out
}

func peerIDs(peers []models.UserProfile) []string {
	ids := make([]string, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}

func TestSession_NoSessionGoesToAuth(t *testing.T) {
	be := newFakeBackend()
	be.profiles = profiles("bob")
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateAuth, snap.State)
	assert.Empty(t, snap.Peers)
	assert.Empty(t, be.upserts)
}

func TestSession_InitializeSyncsAndExcludesSelf(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice", Email: "alice@example.com"}}
	be.profiles = profiles("alice", "bob", "carol")
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateChatting, snap.State)
	assert.Equal(t, []string{"bob", "carol"}, peerIDs(snap.Peers))
	assert.False(t, snap.TableMissing)
	require.Len(t, be.upserts, 1)
	assert.Equal(t, "alice", be.upserts[0].ID)
	assert.Equal(t, "alice@example.com", be.upserts[0].Email)
	assert.False(t, be.upserts[0].LastSeen.IsZero())
}

func TestSession_OnlySelfLeavesNoPeers(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice"}}
	be.profiles = profiles("alice")
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateChatting, snap.State)
	assert.Empty(t, snap.Peers)
}

func TestSession_SchemaMissingDoesNotAbortTheOtherCall(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice"}}
	be.profiles = profiles("alice", "bob")
	be.upsertErr = schemaMissing()
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateChatting, snap.State)
	assert.True(t, snap.TableMissing)
	assert.Equal(t, []string{"bob"}, peerIDs(snap.Peers), "fetch still ran")
	assert.Empty(t, snap.Notice)

	be.upsertErr, be.listErr = nil, schemaMissing()
	be.upserts = nil
	s.Initialize(context.Background())
	snap = s.Snapshot()
	assert.True(t, snap.TableMissing)
	assert.Len(t, be.upserts, 1, "upsert still ran")
}

func TestSession_OtherErrorsBecomeNotice(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice"}}
	be.listErr = errors.New("connection refused")
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	snap := s.Snapshot()
	assert.Equal(t, StateChatting, snap.State)
	assert.False(t, snap.TableMissing)
	assert.Contains(t, snap.Notice, "connection refused")

	s.ClearNotice()
	assert.Empty(t, s.Snapshot().Notice)
}

func TestSession_FollowsAuthStateChanges(t *testing.T) {
	be := newFakeBackend()
	be.profiles = profiles("id-alice@example.com", "bob")
	s := NewSessionController(be, quietLogger())

	var states []State
	s.Subscribe(func(snap SessionSnapshot) { states = append(states, snap.State) })

	ctx := context.Background()
	s.Start(ctx)
	assert.Equal(t, StateAuth, s.Snapshot().State)

	require.NoError(t, s.SignIn(ctx, "alice@example.com", "pw"))
	snap := s.Snapshot()
	assert.Equal(t, StateChatting, snap.State)
	assert.Equal(t, "id-alice@example.com", snap.UserID())
	assert.Equal(t, []string{"bob"}, peerIDs(snap.Peers))

	require.NoError(t, s.SignOut(ctx))
	snap = s.Snapshot()
	assert.Equal(t, StateAuth, snap.State)
	assert.Empty(t, snap.Peers)
	assert.Nil(t, snap.Session)

	assert.Equal(t, []State{StateAuth, StateSyncing, StateChatting, StateAuth}, states)

	s.Stop()
	assert.Zero(t, be.listenerCount())
}

func TestSession_RunSetupReinitializes(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice"}}
	be.profiles = profiles("alice", "bob")
	be.listErr = schemaMissing()
	s := NewSessionController(be, quietLogger())

	s.Initialize(context.Background())
	require.True(t, s.Snapshot().TableMissing)

	require.NoError(t, s.RunSetup(context.Background()))
	snap := s.Snapshot()
	assert.Equal(t, 1, be.setupCalls)
	assert.False(t, snap.TableMissing)
	assert.Equal(t, []string{"bob"}, peerIDs(snap.Peers))
}

func TestSession_PresenceAndRefresh(t *testing.T) {
	be := newFakeBackend()
	be.session = &models.Session{User: models.SessionUser{ID: "alice"}}
	be.profiles = profiles("alice", "bob", "carol")
	s := NewSessionController(be, quietLogger())
	s.Initialize(context.Background())

	s.ApplyPresence(models.PresenceState{"bob": nil, "alice": nil})
	peers := s.Snapshot().Peers
	require.Len(t, peers, 2)
	assert.Equal(t, models.StatusOnline, peers[0].Status)
	assert.Equal(t, models.StatusOffline, peers[1].Status)

	be.profiles = profiles("alice", "bob", "carol", "dave")
	s.RefreshPeers(context.Background())
	peers = s.Snapshot().Peers
	assert.Equal(t, []string{"bob", "carol", "dave"}, peerIDs(peers))
	assert.Equal(t, models.StatusOnline, peers[0].Status, "last presence snapshot is re-applied")
	assert.Equal(t, models.StatusOffline, peers[2].Status)

	be.listErr = schemaMissing()
	s.RefreshPeers(context.Background())
	assert.True(t, s.Snapshot().TableMissing)
}

func TestSession_MarkSchemaMissingOutsideChatIsIgnored(t *testing.T) {
	s := NewSessionController(newFakeBackend(), quietLogger())
	s.MarkSchemaMissing()
	assert.False(t, s.Snapshot().TableMissing)
}

func TestRoster(t *testing.T) {
	all := profiles("alice", "bob", "carol")
	assert.Equal(t, []string{"bob", "carol"}, peerIDs(ExcludeSelf(all, "alice")))
	assert.Len(t, ExcludeSelf(all, "nobody"), 3)

	recomputed := RecomputePresence(all, models.PresenceState{"carol": {{"online_at": "x"}}})
	assert.Equal(t, models.StatusOffline, recomputed[0].Status)
	assert.Equal(t, models.StatusOnline, recomputed[2].Status)
	assert.Empty(t, all[2].Status, "input is not modified")

	again := RecomputePresence(recomputed, models.PresenceState{})
	for _, p := range again {
		assert.Equal(t, models.StatusOffline, p.Status)
	}

	assert.Equal(t, []string{"bob"}, peerIDs(FilterByEmail(all, " BOB@")))
	assert.Len(t, FilterByEmail(all, ""), 3)
}
