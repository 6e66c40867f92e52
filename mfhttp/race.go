package mfhttp

import "sync/atomic"

// raceToken is the single-claim token shared between an outstanding async
// I/O operation and its timeout (spec §3 invariants, §9 design notes). The
// first of {I/O completion, timeout} to call Claim wins and drives the
// state transition; the loser's call is a no-op. The token also pins a
// reference to the socket (via keepAlive) so the socket object stays
// reachable for the losing side; when the timeout wins, raceGuard closes
// the connection, and the losing I/O then fails on the closed socket.
type raceToken struct {
	claimed   atomic.Bool
	keepAlive netConnCloser
}

// newRaceToken creates a fresh, unclaimed token pinning conn alive.
func newRaceToken(conn netConnCloser) *raceToken {
	return &raceToken{keepAlive: conn}
}

// Claim attempts to win the race. It returns true exactly once across all
// callers of this token.
func (t *raceToken) Claim() bool {
	return t.claimed.CompareAndSwap(false, true)
}

// Claimed reports whether some caller already won, without claiming it.
func (t *raceToken) Claimed() bool {
	return t.claimed.Load()
}
