package age_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/age"
	"github.com/moulars/moulars/internal/db/memorydb"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wireerr"
)

func newRunningManager(t *testing.T) (*age.Manager, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	m := age.New(memorydb.New())
	go m.Run(ctx)
	return m, ctx
}

func testServer(uuid byte) model.Server {
	var id [16]byte
	id[0] = uuid
	return model.Server{InstanceUUID: id, AgeFilename: "Ercana", DisplayName: "Ercana", RootSDLIdx: 20000, Temporary: true}
}

func TestManager_Join_DeniesUnauthorized(t *testing.T) {
	m, ctx := newRunningManager(t)
	mb := age.NewChanMailbox(1, 4)
	_, err := m.Join(ctx, testServer(1), 100, mb, false)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindAuth, wireerr.KindOf(err))
}

func TestManager_Join_FirstMemberIsGameMaster(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	first := age.NewChanMailbox(1, 4)
	second := age.NewChanMailbox(2, 4)

	_, err := m.Join(ctx, srv, 100, first, true)
	require.NoError(t, err)

	select {
	case n := <-first.C():
		require.Equal(t, age.OwnershipChanged, n.Kind)
		assert.Equal(t, uint32(100), n.PlayerIdx)
	default:
		t.Fatal("expected OwnershipChanged on first join")
	}

	_, err = m.Join(ctx, srv, 200, second, true)
	require.NoError(t, err)
	select {
	case n := <-second.C():
		t.Fatalf("second joiner should not become game-master, got %v", n)
	default:
	}
}

func TestManager_Join_Twice_Conflicts(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	mb := age.NewChanMailbox(1, 4)
	_, err := m.Join(ctx, srv, 100, mb, true)
	require.NoError(t, err)

	_, err = m.Join(ctx, srv, 100, mb, true)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindConflict, wireerr.KindOf(err))
}

func TestManager_OwnershipHandsOffOnMasterLeave(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	first := age.NewChanMailbox(1, 4)
	second := age.NewChanMailbox(2, 4)

	_, err := m.Join(ctx, srv, 100, first, true)
	require.NoError(t, err)
	<-first.C() // drain initial ownership notification

	_, err = m.Join(ctx, srv, 200, second, true)
	require.NoError(t, err)

	require.NoError(t, m.Leave(ctx, srv.InstanceUUID, 100, nil))

	select {
	case n := <-second.C():
		require.Equal(t, age.OwnershipChanged, n.Kind)
		assert.Equal(t, uint32(200), n.PlayerIdx, "next-joined member by arrival order must inherit ownership")
	default:
		t.Fatal("expected OwnershipChanged on master leave")
	}
}

func TestManager_SDLUpdate_HighestVersionWins(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	mb := age.NewChanMailbox(1, 4)
	_, err := m.Join(ctx, srv, 100, mb, true)
	require.NoError(t, err)

	require.NoError(t, m.UpdateSDL(ctx, srv.InstanceUUID, 100, "AgeSDLHook", "", 3, []byte("x3")))
	require.NoError(t, m.UpdateSDL(ctx, srv.InstanceUUID, 100, "AgeSDLHook", "", 2, []byte("x2")))

	other := age.NewChanMailbox(2, 4)
	snap, err := m.Join(ctx, srv, 200, other, true)
	require.NoError(t, err)

	require.Len(t, snap.Age, 1)
	assert.Equal(t, uint32(3), snap.Age[0].Version)
	assert.Equal(t, []byte("x3"), snap.Age[0].Blob)
}

func TestManager_PropagatePlMessage_BroadcastExcludesSender(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	sender := age.NewChanMailbox(1, 4)
	other := age.NewChanMailbox(2, 4)

	_, err := m.Join(ctx, srv, 100, sender, true)
	require.NoError(t, err)
	<-sender.C()
	_, err = m.Join(ctx, srv, 200, other, true)
	require.NoError(t, err)

	require.NoError(t, m.PropagatePlMessage(ctx, srv.InstanceUUID, 100, true, nil, []byte("payload")))

	select {
	case n := <-other.C():
		require.Equal(t, age.PlMessage, n.Kind)
		assert.Equal(t, []byte("payload"), n.Payload)
	default:
		t.Fatal("expected broadcast plMessage to be forwarded")
	}
	select {
	case n := <-sender.C():
		t.Fatalf("sender should not receive its own broadcast, got %v", n)
	default:
	}
}

func TestManager_PropagatePlMessage_TargetedByLoadedObjectSet(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	sender := age.NewChanMailbox(1, 4)
	hasKey := age.NewChanMailbox(2, 4)
	noKey := age.NewChanMailbox(3, 4)

	_, err := m.Join(ctx, srv, 100, sender, true)
	require.NoError(t, err)
	_, err = m.Join(ctx, srv, 200, hasKey, true)
	require.NoError(t, err)
	_, err = m.Join(ctx, srv, 300, noKey, true)
	require.NoError(t, err)

	var key [16]byte
	key[0] = 0xAB
	require.NoError(t, m.RegisterLoadedObjects(ctx, srv.InstanceUUID, 200, [][16]byte{key}))

	require.NoError(t, m.PropagatePlMessage(ctx, srv.InstanceUUID, 100, false, [][16]byte{key}, []byte("targeted")))

	select {
	case n := <-hasKey.C():
		assert.Equal(t, []byte("targeted"), n.Payload)
	default:
		t.Fatal("member with matching loaded object must receive the message")
	}
	select {
	case n := <-noKey.C():
		t.Fatalf("member without the key must not receive it, got %v", n)
	default:
	}
}

func TestManager_Leave_NotAMember(t *testing.T) {
	m, ctx := newRunningManager(t)
	srv := testServer(1)
	mb := age.NewChanMailbox(1, 4)
	_, err := m.Join(ctx, srv, 100, mb, true)
	require.NoError(t, err)

	err = m.Leave(ctx, srv.InstanceUUID, 999, nil)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindProtocol, wireerr.KindOf(err))
}

func TestManager_UnknownInstance(t *testing.T) {
	m, ctx := newRunningManager(t)
	var uuid [16]byte
	err := m.Leave(ctx, uuid, 1, nil)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindNotFound, wireerr.KindOf(err))
}
