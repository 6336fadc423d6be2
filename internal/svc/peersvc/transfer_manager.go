package peersvc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/mkrupp/peershare/internal/domain"
	"github.com/mkrupp/peershare/internal/util/encoding"
	"github.com/mkrupp/peershare/internal/util/uuid"
)

// TransferManager tracks in-flight and finished downloads by transfer ID.
// Every transfer owns a cancel func so an abort can stop the stream mid-copy;
// finished transfers stay queryable until the process exits.
type TransferManager struct {
	m         sync.Mutex
	transfers map[string]*managedTransfer
}

type managedTransfer struct {
	transfer domain.Transfer
	cancel   context.CancelFunc
}

// NewTransferManager creates an empty TransferManager.
func NewTransferManager() *TransferManager {
	return &TransferManager{
		transfers: make(map[string]*managedTransfer),
	}
}

// Begin registers a new transfer for the given file in state Requested and
// returns it together with a context derived from parent that Abort cancels.
func (tm *TransferManager) Begin(
	parent context.Context,
	fileID domain.FileID,
) (domain.Transfer, context.Context, error) {
	id, err := uuid.New(uuid.UUIDv7)
	if err != nil {
		return domain.Transfer{}, nil, fmt.Errorf("new transfer id: %w", err)
	}

	ctx, cancel := context.WithCancel(parent)

	transfer := domain.Transfer{
		ID:     encoding.EncodeCrockfordB32LC(id.Bytes()),
		FileID: fileID,
		State:  domain.TransferRequested,
	}

	tm.m.Lock()
	tm.transfers[transfer.ID] = &managedTransfer{
		transfer: transfer,
		cancel:   cancel,
	}
	tm.m.Unlock()

	return transfer, ctx, nil
}

// Update applies fn to the transfer under the manager lock. Unknown IDs are
// ignored; the transfer may have raced a process restart on the caller side.
func (tm *TransferManager) Update(transferID string, fn func(*domain.Transfer)) {
	tm.m.Lock()
	defer tm.m.Unlock()

	if mt, ok := tm.transfers[transferID]; ok {
		fn(&mt.transfer)
	}
}

// Get returns the transfer with the given ID.
func (tm *TransferManager) Get(transferID string) (domain.Transfer, error) {
	tm.m.Lock()
	defer tm.m.Unlock()

	mt, ok := tm.transfers[transferID]
	if !ok {
		return domain.Transfer{}, domain.ErrTransferNotFound
	}

	return mt.transfer, nil
}

// Abort cancels the transfer's context. The streaming goroutine observes the
// cancellation, discards any partial bytes and marks the transfer Failed.
func (tm *TransferManager) Abort(transferID string) error {
	tm.m.Lock()
	defer tm.m.Unlock()

	mt, ok := tm.transfers[transferID]
	if !ok {
		return domain.ErrTransferNotFound
	}

	mt.cancel()

	return nil
}

// List returns all known transfers ordered by ID. Transfer IDs are
// time-ordered, so this is also creation order.
func (tm *TransferManager) List() []domain.Transfer {
	tm.m.Lock()
	defer tm.m.Unlock()

	transfers := make([]domain.Transfer, 0, len(tm.transfers))
	for _, mt := range tm.transfers {
		transfers = append(transfers, mt.transfer)
	}

	sort.Slice(transfers, func(i, j int) bool {
		return transfers[i].ID < transfers[j].ID
	})

	return transfers
}
