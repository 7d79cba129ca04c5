// Package constants collects the wire- and storage-level magic numbers the
// MOULArs protocol and Vault schema are defined by. Grouped by concern, the
// way the teacher's protocol constants file is, rather than one flat block.
package constants

// Channel selectors (first byte after TCP accept, §4.C).
const (
	ChannelGate  = 22
	ChannelAuth  = 10
	ChannelGame  = 11
	ChannelFile  = 20
)

// Diffie-Hellman parameters (§4.A).
const (
	// DHModulusBits is the size of the fixed modulus N used by every channel.
	DHModulusBits = 512

	// DHModulusBytes is DHModulusBits/8.
	DHModulusBytes = DHModulusBits / 8

	// DHSharedSecretKeyLen is the number of leading bytes of the shared
	// secret used to seed the RC4 streams.
	DHSharedSecretKeyLen = 7
)

// Per-channel DH base generators, fixed by the wire spec (§4.A).
const (
	DHBaseGate = 7
	DHBaseAuth = 41
	DHBaseGame = 73
)

// RC4 / Encrypt reply (§4.C).
const (
	// EncryptNonceLen is the length of the server nonce sent in the Encrypt reply.
	EncryptNonceLen = 7

	// EncryptReplyLen is the total length of the Encrypt reply body (§4.C: "9-byte Encrypt reply").
	EncryptReplyLen = 9
)

// Codec limits (§4.B), overridable via config.
const (
	DefaultMaxStringLen = 1 << 20 // 1 MiB
	DefaultMaxBlobLen   = 16 << 20
)

// Vault node field bitmap layout (§3.2).
const (
	NodeMaxInt32     = 4
	NodeMaxUInt32    = 4
	NodeMaxUUID      = 4
	NodeMaxString    = 6
	NodeMaxIString   = 2 // case-insensitive strings
	NodeMaxText      = 2
	NodeMaxBlob      = 2

	NodeStringMaxLen = 64
)

// NodeIdxFirstDynamic is the first idx CreateNode may assign; values below
// this are reserved for sentinel/system nodes (§3.2, §6.2).
const NodeIdxFirstDynamic = 10000

// Age instance defaults (§4.F).
const (
	// SDLFlushInterval bounds how long a dirty SDL entry may sit unflushed.
	SDLFlushInterval = 5 // seconds

	// InstanceEmptyGrace is the default grace period before a temporary,
	// empty instance is destroyed.
	InstanceEmptyGrace = 60 // seconds
)

// File transfer (§4.G).
const (
	FileChunkSize       = 64 << 10 // 64 KiB
	FileChunkAckTimeout = 30       // seconds
)

// Connection resource limits (§5).
const (
	DefaultOutboundQueueSize = 256
	DefaultReadBufferCap     = 1 << 20 // 1 MiB
	DefaultShutdownGrace     = 10      // seconds
)

// Ports (§6.5).
const (
	DefaultGamePort  = 14617
	DefaultAdminPort = 14615
)
