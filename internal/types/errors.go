package types

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for the coordinator. Kinds that need no payload are
// sentinels matched with errors.Is; kinds that carry context are structs
// matched with errors.As. Services never swallow these: a failed sub-step
// rolls back the enclosing transaction and the typed error surfaces.

var (
	// ErrInsufficientBalance is returned by wallet debits; no state change.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoEligibleWork means the matcher drained its sources without
	// finding an eligible work item; callers retry or wait.
	ErrNoEligibleWork = errors.New("no eligible work available")

	// ErrAlreadyInRound is returned when a player with an active round
	// tries to start another one in the same game.
	ErrAlreadyInRound = errors.New("player already has an active round")

	// ErrAlreadyVoted is returned for repeat votes on the same content.
	ErrAlreadyVoted = errors.New("player already voted on this content")

	// ErrAlreadyInSession is returned when joining while a member of
	// another non-terminal party session.
	ErrAlreadyInSession = errors.New("player already in an active session")

	// ErrAlreadySubmitted is returned when an entry for this content from
	// this player already exists.
	ErrAlreadySubmitted = errors.New("player already submitted to this content")

	ErrSessionFull           = errors.New("session is full")
	ErrSessionAlreadyStarted = errors.New("session already started")
	ErrSessionNotFound       = errors.New("session not found")
	ErrNotHost               = errors.New("only the host may do this")
	ErrNotEnoughPlayers      = errors.New("not enough players to start")

	// ErrRoundExpired is returned for submits arriving after
	// expires_at + grace. Never auto-retried.
	ErrRoundExpired = errors.New("round has expired")

	// ErrRoundNotActive is returned for transitions from a non-active round.
	ErrRoundNotActive = errors.New("round is not active")

	// ErrVoteLockout is returned while a guest is locked out of voting.
	ErrVoteLockout = errors.New("voting locked out")

	// ErrAIGenerationFailed means the provider produced no usable phrases;
	// the content stays stalled and the next sweep retries.
	ErrAIGenerationFailed = errors.New("ai phrase generation failed")

	// ErrProviderUnavailable wraps embedding/LLM transport failures.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrGuessOnRound blocks abandoning a TL round once a guess landed.
	ErrGuessOnRound = errors.New("round already has guesses")

	// ErrBonusAlreadyClaimed is returned for a second daily-bonus claim
	// inside the 24-hour window.
	ErrBonusAlreadyClaimed = errors.New("daily bonus already claimed")
)

// InvalidPhraseError carries the validator's rejection reason. The round
// stays active so the player may retry; no strike, no charge.
type InvalidPhraseError struct {
	Reason string
}

func (e *InvalidPhraseError) Error() string {
	return fmt.Sprintf("invalid phrase: %s", e.Reason)
}

// WrongPhaseError is returned when a party action arrives outside the
// phase that permits it.
type WrongPhaseError struct {
	Want SessionPhase
	Got  SessionPhase
}

func (e *WrongPhaseError) Error() string {
	return fmt.Sprintf("wrong phase: need %s, session is in %s", e.Want, e.Got)
}

// LockTimeoutError is returned by the lock service when a named mutex could
// not be acquired in time. The AI orchestrator retries these with backoff;
// everywhere else it surfaces.
type LockTimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("lock %q not acquired within %v", e.Name, e.Timeout)
}

// TransientStoreError wraps a store failure that is safe to retry (busy
// database, interrupted write). The AI orchestrator retries these with
// backoff; interactive callers surface them to the client.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("transient store error in %s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// IsRetryable reports whether the AI orchestrator should retry the error.
// Only lock timeouts and transient store errors qualify; everything else
// fails fast.
func IsRetryable(err error) bool {
	var lt *LockTimeoutError
	var ts *TransientStoreError
	return errors.As(err, &lt) || errors.As(err, &ts)
}
