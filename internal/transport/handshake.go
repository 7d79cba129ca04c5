package transport

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"github.com/moulars/moulars/internal/constants"
	"github.com/moulars/moulars/internal/crypto"
	"github.com/moulars/moulars/internal/wireerr"
)

// ConnectHeader is the plaintext header every channel's handshake begins
// with (§4.C): a 1-byte header length followed by a channel-specific
// Connect record. The record's interpretation (build id, product id,
// branch, and — for Auth/Game — the target instance/account uuid) is the
// wire schema layer's job (§4.D); transport only knows its raw length and
// hands the bytes through unparsed.
type ConnectHeader struct {
	Raw []byte
}

// ReadConnectHeader reads the 1-byte header length then that many raw
// bytes (§4.C: "1 byte header length, then a Connect record").
func ReadConnectHeader(c *Conn) (ConnectHeader, error) {
	lenBuf, err := c.ReadHeader(1)
	if err != nil {
		return ConnectHeader{}, wireerr.New(wireerr.KindIO, "ReadConnectHeader", err)
	}
	n := int(lenBuf[0])
	raw, err := c.ReadHeader(n)
	if err != nil {
		return ConnectHeader{}, wireerr.New(wireerr.KindIO, "ReadConnectHeader", err)
	}
	return ConnectHeader{Raw: raw}, nil
}

// AdvertisePublicValue sends the server's DH public value X = g^K mod N as
// fixed-width little-endian bytes, the half of §4.A's exchange the client
// needs before it can derive the same shared secret ("the server
// advertises X = g^K mod N to the client").
func AdvertisePublicValue(c *Conn, params *crypto.Params) error {
	x := params.PublicValue()
	buf := crypto.PadBigEndian(x, constants.DHModulusBytes)
	reverseInPlace(buf) // wire order is little-endian (§4.C)
	if err := c.WriteHeader(buf); err != nil {
		return wireerr.New(wireerr.KindIO, "AdvertisePublicValue", err)
	}
	return nil
}

// NegotiateKey performs the server side of the DH key exchange (§4.A,
// §4.C): read the client's public value Y, derive the shared secret and
// RC4 key, send the 9-byte Encrypt reply, and arm the connection's two
// independent stream ciphers (read and write derive from the same 7-byte
// key but keep separate keystream state per direction, per §4.A "read-side
// and write-side are the same key").
func NegotiateKey(c *Conn, params *crypto.Params) error {
	yBytes, err := c.ReadHeader(constants.DHModulusBytes)
	if err != nil {
		return wireerr.New(wireerr.KindIO, "NegotiateKey", err)
	}
	y := new(big.Int).SetBytes(reverseBytes(yBytes)) // wire is little-endian (§4.C)

	shared := params.SharedSecret(y)
	key := crypto.RC4Key(shared)

	readCipher, err := crypto.NewStreamCipher(key)
	if err != nil {
		return wireerr.New(wireerr.KindProtocol, "NegotiateKey", err)
	}
	writeCipher, err := crypto.NewStreamCipher(key)
	if err != nil {
		return wireerr.New(wireerr.KindProtocol, "NegotiateKey", err)
	}

	nonce := make([]byte, constants.EncryptNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return wireerr.New(wireerr.KindIO, "NegotiateKey", fmt.Errorf("generating nonce: %w", err))
	}
	reply := make([]byte, constants.EncryptReplyLen)
	copy(reply[constants.EncryptReplyLen-constants.EncryptNonceLen:], nonce)
	if err := c.WriteHeader(reply); err != nil {
		return wireerr.New(wireerr.KindIO, "NegotiateKey", err)
	}

	c.SetEstablished(readCipher, writeCipher)
	return nil
}

// reverseBytes returns a reversed copy of b, converting between the wire's
// little-endian byte order and math/big's big-endian expectation.
func reverseBytes(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

// reverseInPlace reverses b in place.
func reverseInPlace(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
