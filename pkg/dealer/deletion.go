package dealer

// DeletionInterface is the seam a real deletion back-end would implement to
// retire replicas the dealer or an operator marks for removal. Like the
// transfer back-end, its concrete logic is out of this system's scope.
type DeletionInterface interface {
	Delete(item Item, site string) error
}

// NullDeletionInterface is a documented stub satisfying DeletionInterface
// without deleting anything, grounded on the original's dummydeletion
// operation implementation: it exists so callers have a seam to wire
// against before a real deletion back-end is plugged in.
type NullDeletionInterface struct{}

// Delete does nothing and never fails.
func (NullDeletionInterface) Delete(Item, string) error { return nil }

// NullTransferBackend accepts every proposed DealerRequest unconditionally,
// the TransferBackend counterpart to NullDeletionInterface: a documented
// seam for cmd/dynamod to wire the scheduler against before a real transfer
// queue (FTS, rsync fleet, whatever moves bytes between sites) exists.
type NullTransferBackend struct{}

// Accept returns requests unchanged, accepting all of them.
func (NullTransferBackend) Accept(requests []DealerRequest) ([]DealerRequest, error) {
	return requests, nil
}
