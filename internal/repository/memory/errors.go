package memory

import "errors"

var (
	errLedgerOutOfSync = errors.New("capacity ledger out of sync: nothing to release")
	errMissingBooking  = errors.New("hold references unknown booking")
	errDuplicateHold   = errors.New("booking already has a hold")
	errDuplicateToken  = errors.New("payment token already in use")
)
