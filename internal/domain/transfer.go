package domain

import "errors"

var (
	// ErrTransferNotFound is returned when no transfer exists for an identifier.
	ErrTransferNotFound = errors.New("transfer not found")
	// ErrTransferAborted is returned when a download was cancelled by the user.
	ErrTransferAborted = errors.New("transfer aborted")
	// ErrDirectoryUnavailable is returned when the coordinator cannot be reached.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
)

// TransferState describes where a download sits in its lifecycle.
type TransferState string

const (
	TransferRequested TransferState = "requested"
	TransferResolving TransferState = "resolving"
	TransferStreaming TransferState = "streaming"
	TransferComplete  TransferState = "complete"
	TransferFailed    TransferState = "failed"
)

// Transfer is the observable state of one download request. Failures carry a
// single user-facing reason; partial local files are never left behind.
type Transfer struct {
	ID       string        `json:"id"`
	FileID   FileID        `json:"fileId"`
	Filename string        `json:"filename,omitempty"`
	Endpoint string        `json:"endpoint,omitempty"`
	State    TransferState `json:"state"`
	Error    string        `json:"error,omitempty"`
	Bytes    int64         `json:"bytes"`
}
