package vault_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/db/memorydb"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/vault"
	"github.com/moulars/moulars/internal/wireerr"
)

func newRunningStore(t *testing.T) (*vault.Store, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	s := vault.New(memorydb.New())
	go s.Run(ctx)
	return s, ctx
}

func TestStore_FetchNode_NotFound(t *testing.T) {
	s, ctx := newRunningStore(t)
	_, err := s.FetchNode(ctx, 1, nil)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindNotFound, wireerr.KindOf(err))
}

func TestStore_CreateFetchSave(t *testing.T) {
	s, ctx := newRunningStore(t)

	tpl := model.NewNode(model.NodeTypeFolder)
	tpl.SetString(0, "Default")
	idx, err := s.CreateNode(ctx, tpl)
	require.NoError(t, err)
	require.GreaterOrEqual(t, idx, uint32(10000))

	fetched, err := s.FetchNode(ctx, idx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Default", fetched.String[0])

	changes := &model.Node{}
	changes.SetString(1, "Renamed")
	require.NoError(t, s.SaveNode(ctx, idx, changes, nil))

	fetched, err = s.FetchNode(ctx, idx, nil)
	require.NoError(t, err)
	assert.Equal(t, "Default", fetched.String[0], "SaveNode must not clobber fields absent from changes' bitmap")
	assert.Equal(t, "Renamed", fetched.String[1])
}

func TestStore_SaveNode_EmptyBitmapIsNoop(t *testing.T) {
	s, ctx := newRunningStore(t)
	idx, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	mb := vault.NewChanMailbox(1, 4)
	_, err = s.FetchNode(ctx, idx, mb)
	require.NoError(t, err)

	require.NoError(t, s.SaveNode(ctx, idx, &model.Node{}, nil))
	select {
	case n := <-mb.C():
		t.Fatalf("expected no notification for empty-bitmap SaveNode, got %v", n)
	default:
	}
}

func TestStore_SaveNode_NotifiesSubscribersExceptOriginator(t *testing.T) {
	s, ctx := newRunningStore(t)
	idx, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	originator := vault.NewChanMailbox(1, 4)
	other := vault.NewChanMailbox(2, 4)
	_, err = s.FetchNode(ctx, idx, originator)
	require.NoError(t, err)
	_, err = s.FetchNode(ctx, idx, other)
	require.NoError(t, err)

	changes := &model.Node{}
	changes.SetString(0, "x")
	require.NoError(t, s.SaveNode(ctx, idx, changes, originator))

	select {
	case n := <-other.C():
		assert.Equal(t, vault.NodeChanged, n.Kind)
	default:
		t.Fatal("expected notification on non-originator subscriber")
	}
	select {
	case n := <-originator.C():
		t.Fatalf("originator should not receive its own notification, got %v", n)
	default:
	}
}

func TestStore_AddRef_DetectsCycle(t *testing.T) {
	s, ctx := newRunningStore(t)
	a, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	c, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: a, Child: b}, nil))
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: b, Child: c}, nil))

	err = s.AddRef(ctx, model.NodeRef{Parent: c, Child: a}, nil)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindCorruption, wireerr.KindOf(err))
}

func TestStore_AddRef_IsIdempotent(t *testing.T) {
	s, ctx := newRunningStore(t)
	a, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: a, Child: b}, nil))
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: a, Child: b}, nil), "re-adding an existing edge must be a no-op success")
}

func TestStore_RemoveRef_AbsentEdgeIsNotFound(t *testing.T) {
	s, ctx := newRunningStore(t)
	a, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	b, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	err = s.RemoveRef(ctx, a, b, nil)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindNotFound, wireerr.KindOf(err))
}

func TestStore_FetchTree_DedupesSharedChildren(t *testing.T) {
	s, ctx := newRunningStore(t)
	root, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	left, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	right, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	shared, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: root, Child: left}, nil))
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: root, Child: right}, nil))
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: left, Child: shared}, nil))
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: right, Child: shared}, nil))

	nodes, edges, err := s.FetchTree(ctx, root, 10, nil)
	require.NoError(t, err)
	assert.Len(t, nodes, 4, "shared child must appear once despite two parents")
	assert.Len(t, edges, 4)
}

func TestStore_FindNode_MatchesPresentFieldsOnly(t *testing.T) {
	s, ctx := newRunningStore(t)
	tpl := model.NewNode(model.NodeTypeFolder)
	tpl.SetString(0, "Personal")
	_, err := s.CreateNode(ctx, tpl)
	require.NoError(t, err)

	other := model.NewNode(model.NodeTypeFolder)
	other.SetString(0, "AgesIOwn")
	_, err = s.CreateNode(ctx, other)
	require.NoError(t, err)

	query := &model.Node{}
	query.SetString(0, "Personal")
	matches, err := s.FindNode(ctx, query)
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestStore_Unsubscribe_StopsNotifications(t *testing.T) {
	s, ctx := newRunningStore(t)
	idx, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)

	mb := vault.NewChanMailbox(9, 4)
	_, err = s.FetchNode(ctx, idx, mb)
	require.NoError(t, err)
	require.NoError(t, s.Unsubscribe(ctx, mb))

	changes := &model.Node{}
	changes.SetString(0, "x")
	require.NoError(t, s.SaveNode(ctx, idx, changes, nil))

	select {
	case n := <-mb.C():
		t.Fatalf("unsubscribed mailbox should not be notified, got %v", n)
	default:
	}
}

func TestStore_SetSeen_AbsentEdgeIsNotFound(t *testing.T) {
	s, ctx := newRunningStore(t)
	err := s.SetSeen(ctx, 1, 2, true)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindNotFound, wireerr.KindOf(err))
}

func TestStore_SetSeen_OnExistingEdgeSucceeds(t *testing.T) {
	s, ctx := newRunningStore(t)
	parent, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	child, err := s.CreateNode(ctx, model.NewNode(model.NodeTypeFolder))
	require.NoError(t, err)
	require.NoError(t, s.AddRef(ctx, model.NodeRef{Parent: parent, Child: child}, nil))

	require.NoError(t, s.SetSeen(ctx, parent, child, true))
}
