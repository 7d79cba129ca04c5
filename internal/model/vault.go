package model

// NodeRef is a directed parent->child edge with an optional owner (§3.3).
// The set of refs forms a forest-with-sharing rooted at NodeTypeSystem
// nodes; a cycle is corruption, never a valid state.
type NodeRef struct {
	Parent   uint32
	Child    uint32
	Owner    uint32
	HasOwner bool
}

// GlobalState is a singleton-per-descriptor SDL blob (§3.4,
// "AllAgeGlobalSDL-style").
type GlobalState struct {
	Descriptor string
	Blob       []byte
}

// AgeState is a per-instance SDL blob keyed by (server idx, descriptor,
// object key) (§3.4). Version drives the highest-version-wins merge rule
// of §4.F.
type AgeState struct {
	ServerIdx  uint32
	Descriptor string
	ObjectKey  string
	Version    uint32
	Blob       []byte
}

// Server is an Age instance record (§3.5). The Age Instance Manager deletes
// a temporary instance's row InstanceEmptyGrace seconds after its
// membership drops to zero; nothing deletes temporary rows at shutdown.
type Server struct {
	InstanceUUID [16]byte
	AgeFilename  string
	DisplayName  string
	ParentIdx    uint32
	RootSDLIdx   uint32
	Temporary    bool
}
