package transport_test

import (
	"math/big"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/crypto"
	"github.com/moulars/moulars/internal/transport"
)

// reverse returns a reversed copy, mirroring the wire's little-endian byte
// order used for DH public values (§4.C).
func reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func TestHandshake_EstablishesSharedKey(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	t.Cleanup(func() { serverRaw.Close(); clientRaw.Close() })

	serverParams, err := crypto.GenerateParams(constants.DHBaseAuth)
	require.NoError(t, err)

	clientK := new(big.Int).SetInt64(999999937)
	clientParams := &crypto.Params{N: serverParams.N, G: serverParams.G, K: clientK}

	serverConn := transport.NewConn(serverRaw, constants.DefaultReadBufferCap)

	errCh := make(chan error, 1)
	go func() {
		hdr, err := transport.ReadConnectHeader(serverConn)
		if err != nil {
			errCh <- err
			return
		}
		if len(hdr.Raw) != 3 {
			errCh <- assert.AnError
			return
		}
		if err := transport.AdvertisePublicValue(serverConn, serverParams); err != nil {
			errCh <- err
			return
		}
		errCh <- transport.NegotiateKey(serverConn, serverParams)
	}()

	// Client side of the handshake, run synchronously against the pipe.
	_, err = clientRaw.Write([]byte{3, 0xAA, 0xBB, 0xCC}) // header length + 3-byte Connect record
	require.NoError(t, err)

	xBuf := make([]byte, constants.DHModulusBytes)
	_, err = clientRaw.Read(xBuf)
	require.NoError(t, err)
	x := new(big.Int).SetBytes(reverse(xBuf))

	clientShared := clientParams.SharedSecret(x)
	clientKey := crypto.RC4Key(clientShared)

	y := clientParams.PublicValue()
	yBuf := crypto.PadBigEndian(y, constants.DHModulusBytes)
	reverseInPlace(yBuf)
	_, err = clientRaw.Write(yBuf)
	require.NoError(t, err)

	replyBuf := make([]byte, constants.EncryptReplyLen)
	_, err = clientRaw.Read(replyBuf)
	require.NoError(t, err)

	require.NoError(t, <-errCh)
	assert.Equal(t, transport.StateEstablished, serverConn.State())

	// Deriving from the client's own view of the shared secret must equal
	// the server's: both sides must arrive at the same RC4 key.
	serverSideKey := crypto.RC4Key(serverParams.SharedSecret(y))
	assert.Equal(t, clientKey, serverSideKey)
}

func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

func TestConn_WriteReadMessage_RoundTrips(t *testing.T) {
	serverRaw, clientRaw := net.Pipe()
	t.Cleanup(func() { serverRaw.Close(); clientRaw.Close() })

	key := []byte{1, 2, 3, 4, 5, 6, 7}
	serverWrite, err := crypto.NewStreamCipher(key)
	require.NoError(t, err)
	clientRead, err := crypto.NewStreamCipher(key)
	require.NoError(t, err)

	serverConn := transport.NewConn(serverRaw, constants.DefaultReadBufferCap)
	serverConn.SetEstablished(nil, serverWrite)

	done := make(chan error, 1)
	go func() {
		done <- serverConn.WriteMessage(42, []byte("hello age"))
	}()

	idBuf := make([]byte, 2)
	_, err = clientRaw.Read(idBuf)
	require.NoError(t, err)
	clientRead.XOR(idBuf)
	assert.Equal(t, uint16(42), uint16(idBuf[0])|uint16(idBuf[1])<<8)

	bodyBuf := make([]byte, len("hello age"))
	_, err = clientRaw.Read(bodyBuf)
	require.NoError(t, err)
	clientRead.XOR(bodyBuf)
	assert.Equal(t, "hello age", string(bodyBuf))

	require.NoError(t, <-done)
}
