package game_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/age"
	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/db/memorydb"
	"github.com/moulars/moulars/internal/model"
	"github.com/moulars/moulars/internal/wire/game"
)

func newTestHandler(t *testing.T) (*game.Handler, *memorydb.Backend, context.Context) {
	t.Helper()
	backend := memorydb.New()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ages := age.New(backend)
	go ages.Run(ctx)
	return game.NewHandler(backend, ages), backend, ctx
}

func testServer(id byte) model.Server {
	var uuid [16]byte
	uuid[0] = id
	return model.Server{InstanceUUID: uuid, AgeFilename: "Ercana", DisplayName: "Ercana", RootSDLIdx: 1000, Temporary: true}
}

func requestBody(write func(w *codec.Writer)) *codec.Reader {
	w := codec.NewWriter(64)
	write(w)
	return codec.NewReader(w.Bytes())
}

func TestJoinAge_UnknownInstanceIsNotFound(t *testing.T) {
	h, _, ctx := newTestHandler(t)
	c := game.NewConn(1)

	buf := codec.NewWriter(64)
	var uuid [16]byte
	uuid[0] = 9
	r := requestBody(func(w *codec.Writer) {
		w.WriteUUID(uuid)
		w.WriteUint32(100)
	})
	ok, err := h.HandlePacket(ctx, c, game.MsgJoinAgeRequest, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	_, _ = reply.ReadUint16()
	code, _ := reply.ReadUint8()
	assert.Equal(t, uint8(game.ErrCodeNotFound), code)
}

func TestJoinAge_SucceedsAndReturnsSnapshot(t *testing.T) {
	h, backend, ctx := newTestHandler(t)
	srv := testServer(1)
	require.NoError(t, backend.ServerUpsert(ctx, srv))

	c := game.NewConn(1)
	buf := codec.NewWriter(128)
	r := requestBody(func(w *codec.Writer) {
		w.WriteUUID(srv.InstanceUUID)
		w.WriteUint32(100)
	})
	ok, err := h.HandlePacket(ctx, c, game.MsgJoinAgeRequest, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	id, _ := reply.ReadUint16()
	require.Equal(t, uint16(game.MsgJoinAgeReply), id)
	code, _ := reply.ReadUint8()
	require.Equal(t, uint8(game.ErrCodeSuccess), code)
	globalCount, _ := reply.ReadUint32()
	assert.Zero(t, globalCount)
	ageCount, _ := reply.ReadUint32()
	assert.Zero(t, ageCount)
}

func TestPlMessage_ForwardsToOtherMember(t *testing.T) {
	h, backend, ctx := newTestHandler(t)
	srv := testServer(1)
	require.NoError(t, backend.ServerUpsert(ctx, srv))

	first := game.NewConn(1)
	second := game.NewConn(2)

	join := func(c *game.Conn, playerIdx uint32) {
		buf := codec.NewWriter(64)
		r := requestBody(func(w *codec.Writer) {
			w.WriteUUID(srv.InstanceUUID)
			w.WriteUint32(playerIdx)
		})
		ok, err := h.HandlePacket(ctx, c, game.MsgJoinAgeRequest, r, buf)
		require.NoError(t, err)
		require.True(t, ok)
	}
	join(first, 100)
	join(second, 200)

	buf := codec.NewWriter(64)
	r := requestBody(func(w *codec.Writer) {
		w.WriteUint8(1) // broadcast
		w.WriteUint32(0)
		w.WriteBlob([]byte("hello"))
	})
	ok, err := h.HandlePacket(ctx, first, game.MsgPlMessageSend, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	id, _ := reply.ReadUint16()
	assert.Equal(t, uint16(game.MsgPlMessageAck), id)
	code, _ := reply.ReadUint8()
	assert.Equal(t, uint8(game.ErrCodeSuccess), code)

	select {
	case n := <-second.Mailbox.C():
		require.Equal(t, age.PlMessage, n.Kind)
		assert.Equal(t, uint32(100), n.SenderIdx)
		assert.Equal(t, []byte("hello"), n.Payload)
	default:
		t.Fatal("expected a forwarded plMessage notification")
	}
}

func TestLeaveAge_WithoutJoinIsNotFound(t *testing.T) {
	h, _, ctx := newTestHandler(t)
	c := game.NewConn(1)

	buf := codec.NewWriter(32)
	ok, err := h.HandlePacket(ctx, c, game.MsgLeaveAgeRequest, codec.NewReader(nil), buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	_, _ = reply.ReadUint16()
	code, _ := reply.ReadUint8()
	assert.Equal(t, uint8(game.ErrCodeNotFound), code)
}

func TestSDLUpdate_RequiresPriorJoin(t *testing.T) {
	h, _, ctx := newTestHandler(t)
	c := game.NewConn(1)

	buf := codec.NewWriter(64)
	r := requestBody(func(w *codec.Writer) {
		w.WriteString16("AgeSDLHook", true)
		w.WriteString16("root", true)
		w.WriteUint32(1)
		w.WriteBlob([]byte("state"))
	})
	ok, err := h.HandlePacket(ctx, c, game.MsgSDLStateUpdate, r, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	reply := codec.NewReader(buf.Bytes())
	_, _ = reply.ReadUint16()
	code, _ := reply.ReadUint8()
	assert.Equal(t, uint8(game.ErrCodeConflict), code)
}

func TestEncodeNotification_SDLPush(t *testing.T) {
	data := game.EncodeNotification(age.Notification{
		Kind:       age.SDLPush,
		Descriptor: "AgeSDLHook",
		ObjectKey:  "root",
		Version:    3,
		Blob:       []byte("state"),
	})
	require.NotEmpty(t, data)

	r := codec.NewReader(data)
	id, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(game.MsgSDLPushNotify), id)
}
