package models

import "time"

// ResolutionState enumerates the lifecycle of a conflict. Keeping it a
// closed set lets resolution logic switch exhaustively.
type ResolutionState string

const (
	ResolutionPending    ResolutionState = "pending"
	ResolutionKeepLocal  ResolutionState = "keep_local"
	ResolutionKeepRemote ResolutionState = "keep_remote"
	ResolutionFork       ResolutionState = "fork"
)

// ResolutionDecision is the client's answer to a pending conflict.
type ResolutionDecision string

const (
	DecisionKeepLocal  ResolutionDecision = "keep_local"
	DecisionKeepRemote ResolutionDecision = "keep_remote"
	DecisionFork       ResolutionDecision = "fork"
)

// Conflict records a divergence between the server's committed version of a
// file ("local") and a submission from a device whose declared parent was
// not the current version ("remote"). The remote side was never committed
// to the version store, so its attributes are carried on the conflict row;
// its content bytes are already in object storage under RemoteHash.
type Conflict struct {
	ID      string
	FileID  string
	OwnerID string

	// LocalVersionID is the server's current version at detection time.
	LocalVersionID int64
	// Remote* describe the rejected submission.
	RemoteHash            string
	RemoteSizeBytes       int64
	RemoteParentVersionID int64
	RemoteDeviceID        string

	// CommonAncestorVersionID is the nearest shared ancestor of the two
	// sides' parent chains, 0 when they share none.
	CommonAncestorVersionID int64

	State      ResolutionState
	CreatedAt  time.Time
	ResolvedAt *time.Time
}
