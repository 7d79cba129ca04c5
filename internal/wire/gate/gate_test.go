package gate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/codec"
	"github.com/moulars/moulars/internal/config"
	"github.com/moulars/moulars/internal/wire/gate"
	"github.com/moulars/moulars/internal/wireerr"
)

func TestHandlePacket_FileSrvIpAddressRequest(t *testing.T) {
	h := gate.NewHandler(config.Server{FileServerIP: "file.example.com", AuthServerIP: "auth.example.com"})
	buf := codec.NewWriter(32)

	ok, err := h.HandlePacket(gate.MsgFileSrvIpAddressRequest, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	r := codec.NewReader(buf.Bytes())
	id, err := r.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(gate.MsgFileSrvIpAddressReply), id)

	ip, err := r.ReadString16(true, 0)
	require.NoError(t, err)
	assert.Equal(t, "file.example.com", ip)
}

func TestHandlePacket_AuthSrvIpAddressRequest(t *testing.T) {
	h := gate.NewHandler(config.Server{FileServerIP: "file.example.com", AuthServerIP: "auth.example.com"})
	buf := codec.NewWriter(32)

	ok, err := h.HandlePacket(gate.MsgAuthSrvIpAddressRequest, buf)
	require.NoError(t, err)
	assert.True(t, ok)

	r := codec.NewReader(buf.Bytes())
	_, err = r.ReadUint16()
	require.NoError(t, err)
	ip, err := r.ReadString16(true, 0)
	require.NoError(t, err)
	assert.Equal(t, "auth.example.com", ip)
}

func TestHandlePacket_UnknownMessageIsProtocolError(t *testing.T) {
	h := gate.NewHandler(config.Server{})
	buf := codec.NewWriter(32)

	_, err := h.HandlePacket(0xFF, buf)
	require.Error(t, err)
	assert.Equal(t, wireerr.KindProtocol, wireerr.KindOf(err))
}
