package models

// Status is the lifecycle state of a message. The values are totally
// ordered so that out-of-order or duplicate status events can be merged
// deterministically on every code path (optimistic writes, send acks,
// status pushes, rehydrated history pages).
type Status string

const (
	StatusFailed    Status = "failed"
	StatusQueued    Status = "queued"
	StatusSending   Status = "sending"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

var statusRank = map[Status]int{
	StatusFailed:    0,
	StatusQueued:    1,
	StatusSending:   2,
	StatusSent:      3,
	StatusDelivered: 4,
	StatusRead:      5,
}

// Rank returns the merge order of s. Unknown values rank below failed so a
// malformed status never wins a merge.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return -1
}

// Valid reports whether s is one of the known lifecycle states.
func (s Status) Valid() bool {
	_, ok := statusRank[s]
	return ok
}

// MergeStatus resolves the next status for a message given its current one
// and an incoming event:
//
//  1. no current value: take incoming
//  2. incoming failed: failed (a fresh failure reflects the latest attempt)
//  3. current failed: take incoming (forward progress clears a stale failure)
//  4. otherwise never regress: take incoming only if its rank >= current's
func MergeStatus(current, incoming Status) Status {
	if current == "" {
		return incoming
	}
	if incoming == StatusFailed {
		return StatusFailed
	}
	if current == StatusFailed {
		return incoming
	}
	if incoming.Rank() >= current.Rank() {
		return incoming
	}
	return current
}
