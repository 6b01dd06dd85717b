package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidThreshold is returned when a run is requested with a zero or
// negative days threshold. Nothing is compacted in that case.
var ErrInvalidThreshold = errors.New("days threshold must be a positive number of days")

// ErrLeaseHeld is returned for a client whose compaction lease is currently
// owned by another run.
var ErrLeaseHeld = errors.New("compaction lease held by another run")

// ErrStaleSelection is returned when a client's eligible set changed between
// selection and deletion, typically because a concurrent run already folded
// part of it. No summary is written for a stale batch.
var ErrStaleSelection = errors.New("eligible set changed since selection, summary not written")

// QueryError reports a failed read against the ledger store (selection or
// the final remaining count). It is surfaced to the caller, never retried
// internally.
type QueryError struct {
	Op  string
	Err error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("ledger query %q failed: %v", e.Op, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// WriteError reports an unconfirmed write (archive, delete, or summary
// insert). When the failed write is an archive, the compactor must not
// proceed to deletion for that client's batch.
type WriteError struct {
	Op       string
	ClientID string
	Err      error
}

func (e *WriteError) Error() string {
	if e.ClientID == "" {
		return fmt.Sprintf("ledger write %q failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ledger write %q for client %s failed: %v", e.Op, e.ClientID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// PartialRunError is returned when one or more clients failed while others
// completed. Completed clients' work stands; the caller can safely re-run
// compaction to converge the failed subset.
type PartialRunError struct {
	FailedClients []string
	Errs          []error
}

func (e *PartialRunError) Error() string {
	return fmt.Sprintf("compaction failed for %d client(s): %s",
		len(e.FailedClients), strings.Join(e.FailedClients, ", "))
}

func (e *PartialRunError) Unwrap() []error { return e.Errs }
