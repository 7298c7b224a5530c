// Package types holds the shared domain entities and enumerations for the
// round & session coordinator. It has no dependencies on the service layers
// so every package can import it without cycles.
package types

import (
	"strings"
	"time"
)

// =============================================================================
// GAME / ROUND ENUMS
// =============================================================================

// GameType identifies one of the three games the coordinator runs.
type GameType string

const (
	GameQF GameType = "qf" // prompt/copy/vote rounds
	GameIR GameType = "ir" // backronym races
	GameTL GameType = "tl" // guess rounds against a snapshot
)

// RoundType is the billable activity kind inside a game.
type RoundType string

const (
	RoundPrompt RoundType = "prompt"
	RoundCopy   RoundType = "copy"
	RoundVote   RoundType = "vote"
	RoundGuess  RoundType = "guess"
)

// RoundStatus is the lifecycle state of a round. Transitions are monotonic:
// active -> submitted -> completed, or active -> {expired, abandoned}.
type RoundStatus string

const (
	RoundActive    RoundStatus = "active"
	RoundSubmitted RoundStatus = "submitted"
	RoundExpired   RoundStatus = "expired"
	RoundAbandoned RoundStatus = "abandoned"
	RoundCompleted RoundStatus = "completed"
)

// PhrasesetStatus is the QF work-item lifecycle. The intermediate "closing"
// state exists only for QF; IR sets go open -> voting -> finalized directly.
type PhrasesetStatus string

const (
	PhrasesetOpen      PhrasesetStatus = "open"
	PhrasesetVoting    PhrasesetStatus = "voting"
	PhrasesetClosing   PhrasesetStatus = "closing"
	PhrasesetFinalized PhrasesetStatus = "finalized"
)

// SetStatus is the IR backronym set lifecycle.
type SetStatus string

const (
	SetOpen      SetStatus = "open"
	SetVoting    SetStatus = "voting"
	SetFinalized SetStatus = "finalized"
)

// BackronymMode selects the IR timer profile.
type BackronymMode string

const (
	ModeStandard BackronymMode = "standard"
	ModeRapid    BackronymMode = "rapid"
)

// =============================================================================
// PARTY SESSION ENUMS
// =============================================================================

// SessionStatus is the party session lifecycle state.
type SessionStatus string

const (
	SessionOpen       SessionStatus = "OPEN"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
	SessionAbandoned  SessionStatus = "ABANDONED"
)

// Terminal reports whether the session can never accept activity again.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionAbandoned
}

// SessionPhase is the strict linear phase progression of a party session.
type SessionPhase string

const (
	PhaseLobby     SessionPhase = "LOBBY"
	PhasePrompt    SessionPhase = "PROMPT"
	PhaseCopy      SessionPhase = "COPY"
	PhaseVote      SessionPhase = "VOTE"
	PhaseResults   SessionPhase = "RESULTS"
	PhaseCompleted SessionPhase = "COMPLETED"
)

// phaseOrder defines the only legal forward progression.
var phaseOrder = []SessionPhase{PhaseLobby, PhasePrompt, PhaseCopy, PhaseVote, PhaseResults, PhaseCompleted}

// Next returns the phase that follows p, or p itself when p is terminal.
func (p SessionPhase) Next() SessionPhase {
	for i, ph := range phaseOrder {
		if ph == p && i+1 < len(phaseOrder) {
			return phaseOrder[i+1]
		}
	}
	return p
}

// Index returns the position of p in the progression, -1 if unknown.
func (p SessionPhase) Index() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// RoundTypeFor maps a work phase to the round type players submit in it.
func (p SessionPhase) RoundTypeFor() (RoundType, bool) {
	switch p {
	case PhasePrompt:
		return RoundPrompt, true
	case PhaseCopy:
		return RoundCopy, true
	case PhaseVote:
		return RoundVote, true
	default:
		return "", false
	}
}

// ParticipantStatus tracks a player inside a party session.
type ParticipantStatus string

const (
	ParticipantJoined       ParticipantStatus = "JOINED"
	ParticipantReady        ParticipantStatus = "READY"
	ParticipantActive       ParticipantStatus = "ACTIVE"
	ParticipantCompleted    ParticipantStatus = "COMPLETED"
	ParticipantDisconnected ParticipantStatus = "DISCONNECTED"
)

// =============================================================================
// LEDGER ENUMS
// =============================================================================

// TransactionKind tags a ledger row with the operation that produced it.
type TransactionKind string

const (
	TxnRoundCost      TransactionKind = "round_cost"
	TxnRoundRefund    TransactionKind = "round_refund"
	TxnPayout         TransactionKind = "payout"
	TxnVaultRake      TransactionKind = "vault_rake"
	TxnVoteReward     TransactionKind = "vote_reward"
	TxnDailyBonus     TransactionKind = "daily_bonus"
	TxnStartingGrant  TransactionKind = "starting_grant"
	TxnHintCost       TransactionKind = "hint_cost"
	TxnAdminAdjust    TransactionKind = "admin_adjust"
	TxnGuessPayout    TransactionKind = "guess_payout"
	TxnAbandonRefund  TransactionKind = "abandon_refund"
	TxnExpiredRefund  TransactionKind = "expired_refund"
)

// =============================================================================
// AI ROLES
// =============================================================================

// AIRole selects which pool a backup account belongs to.
type AIRole string

const (
	RoleQFQuip     AIRole = "QF_QUIP"
	RoleQFImpostor AIRole = "QF_IMPOSTOR"
	RoleQFVoter    AIRole = "QF_VOTER"
	RoleQFParty    AIRole = "QF_PARTY"
	RoleIRPlayer   AIRole = "IR_PLAYER"
)

// AIEmailDomain marks system-owned accounts; Player.IsAI derives from it.
const AIEmailDomain = "@ai.internal"

// =============================================================================
// ENTITIES
// =============================================================================

// Player is a human or AI account. AI accounts are detected by email domain.
type Player struct {
	ID            string
	Username      string
	UsernameLower string
	Email         string // empty for most guests
	IsGuest       bool
	CreatedAt     time.Time
	LastActiveAt  time.Time
	AnonymizedAt  *time.Time
}

// IsAI reports whether the account is a system-owned backup player.
func (p *Player) IsAI() bool {
	return strings.HasSuffix(p.Email, AIEmailDomain)
}

// PlayerGameData is the per-game subrecord of a player.
type PlayerGameData struct {
	PlayerID            string
	Game                GameType
	Wallet              int
	Vault               int
	TutorialProgress    int
	ConsecutiveBadVotes int
	VoteLockoutUntil    *time.Time
	LastBonusAt         *time.Time
}

// Round is the billable unit of player activity.
type Round struct {
	ID             string
	PlayerID       string
	Game           GameType
	Type           RoundType
	Status         RoundStatus
	Cost           int
	CreatedAt      time.Time
	ExpiresAt      time.Time
	PromptText     string // denormalized for display
	SubmittedPhrase string
	CopyPhrase     string
	ChosenEntryID  string // vote rounds: entry or phrase picked
	PromptRoundID  string // copy/vote rounds: the work item consumed
	PhrasesetID    string
	SetID          string // IR
	SessionID      string // party-scoped rounds
	SubmittedAt    *time.Time
}

// Phraseset is the QF work item: one prompt plus two copies, voted on.
type Phraseset struct {
	ID                 string
	PromptRoundID      string
	PromptText         string
	OriginalPhrase     string
	CopyPhrase1        string
	CopyPhrase2        string
	Copy1PlayerID      string
	Copy2PlayerID      string
	PromptPlayerID     string
	Status             PhrasesetStatus
	VotesOriginal      int
	VotesCopy1         int
	VotesCopy2         int
	PrizePool          int
	AvailableForVoting bool
	SessionID          string // set when the phraseset belongs to a party
	CreatedAt          time.Time
	ClosingAt          *time.Time
	FinalizedAt        *time.Time
}

// VoteCount returns the total votes recorded on the phraseset.
func (p *Phraseset) VoteCount() int {
	return p.VotesOriginal + p.VotesCopy1 + p.VotesCopy2
}

// BackronymSet is the IR work item: a 5-entry race for a short word.
type BackronymSet struct {
	ID                     string
	Word                   string
	Mode                   BackronymMode
	Status                 SetStatus
	EntryCount             int
	ParticipantVoteCount   int
	NonParticipantVoteCount int
	TransitionsToVotingAt  *time.Time
	VotingFinalizedAt      *time.Time
	CreatedAt              time.Time
	LastHumanActivityAt    time.Time
}

// BackronymEntry is one player's submission into a set.
type BackronymEntry struct {
	ID        string
	SetID     string
	PlayerID  string
	Words     []string // JSON column: one word per letter of the set word
	Votes     int
	CreatedAt time.Time
}

// BackronymVote records one vote on a set.
type BackronymVote struct {
	ID            string
	SetID         string
	VoterID       string
	EntryID       string
	Participant   bool // true when the voter has an entry in the set
	Correct       *bool
	CreatedAt     time.Time
}

// TLRound is a guess round with its frozen snapshot.
type TLRound struct {
	RoundID           string
	PromptID          string
	SnapshotAnswerIDs []string // JSON column, frozen at round start
	SnapshotClusterIDs []string
	SnapshotWeight    float64
	MatchedClusters   []string
	Strikes           int
	FinalCoverage     float64
	GrossPayout       int
	FinalizedAt       *time.Time
}

// TLAnswer is a member of the active answer corpus under a prompt.
type TLAnswer struct {
	ID                 string
	PromptID           string
	Text               string
	ClusterID          string
	Weight             float64
	ContributedMatches int
	Shows              int
	Active             bool
	CreatedAt          time.Time
}

// Usefulness is the pruning score: matches earned per time shown.
func (a *TLAnswer) Usefulness() float64 {
	return float64(a.ContributedMatches) / float64(a.Shows+1)
}

// Cluster groups semantically similar TL answers under one prompt.
// The centroid is the running arithmetic mean of member embeddings; cluster
// identity is stable even as the centroid drifts.
type Cluster struct {
	ID            string
	PromptID      string
	Centroid      []float32
	Size          int
	ExampleAnswer string
	CreatedAt     time.Time
}

// Transaction is one ledger row. BalanceAfter values form a gap-free
// monotonic sequence per player per game.
type Transaction struct {
	ID           string
	PlayerID     string
	Game         GameType
	Amount       int // signed: debits negative, credits positive
	BalanceAfter int
	Kind         TransactionKind
	Vault        bool   // true when the row moved vault balance, not wallet
	RefID        string // round / set / phraseset reference
	CreatedAt    time.Time
}

// PartySession composes QF rounds into a synchronized match.
type PartySession struct {
	ID              string
	Code            string // 8 chars, ambiguous characters excluded
	HostPlayerID    string
	MinPlayers      int
	MaxPlayers      int
	PromptsPerPlayer int
	CopiesPerPlayer int
	VotesPerPlayer  int
	Status          SessionStatus
	CurrentPhase    SessionPhase
	PhaseStartedAt  time.Time
	PhaseExpiresAt  *time.Time
	LockedAt        *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
}

// RequiredFor returns how many submissions of the phase's round type each
// participant owes.
func (s *PartySession) RequiredFor(phase SessionPhase) int {
	switch phase {
	case PhasePrompt:
		return s.PromptsPerPlayer
	case PhaseCopy:
		return s.CopiesPerPlayer
	case PhaseVote:
		return s.VotesPerPlayer
	default:
		return 0
	}
}

// Participant links a player to a party session.
type Participant struct {
	SessionID        string
	PlayerID         string
	Status           ParticipantStatus
	IsHost           bool
	PromptsSubmitted int
	CopiesSubmitted  int
	VotesSubmitted   int
	Connected        bool
	JoinedAt         time.Time
}

// ProgressFor returns the participant's counter for a phase.
func (p *Participant) ProgressFor(phase SessionPhase) int {
	switch phase {
	case PhasePrompt:
		return p.PromptsSubmitted
	case PhaseCopy:
		return p.CopiesSubmitted
	case PhaseVote:
		return p.VotesSubmitted
	default:
		return 0
	}
}

// PhraseCacheEntry caches validated AI candidate phrases for a prompt key.
type PhraseCacheEntry struct {
	ID                string
	PromptKey         string // prompt-round ID (impostor cache) or normalized prompt (quip cache)
	Phrases           []string
	UseCounts         []int // parallel to Phrases, drives least-used consumption
	Provider          string
	Model             string
	UsedForBackupCopy bool
	UsedForHint       bool
	CreatedAt         time.Time
}

// ResultView records that a participant has seen a finalized outcome.
// Created at most once per (player, ref); carries the payout so later reads
// are idempotent.
type ResultView struct {
	ID        string
	PlayerID  string
	RefID     string // set or phraseset ID
	Payout    int
	CreatedAt time.Time
}

// =============================================================================
// PARTY RESULTS
// =============================================================================

// ParticipantResult is the per-player aggregate shown in the RESULTS phase.
type ParticipantResult struct {
	PlayerID         string
	Username         string
	Spent            int
	Earned           int
	Net              int
	Rank             int
	VotesOnOriginals int
	VotesFooled      int
	VotesCast        int
	VotesCorrect     int
}

// Accuracy returns the voter's correct fraction, 0 when they never voted.
func (r *ParticipantResult) Accuracy() float64 {
	if r.VotesCast == 0 {
		return 0
	}
	return float64(r.VotesCorrect) / float64(r.VotesCast)
}

// SessionResults is the finalized tally for a party session.
type SessionResults struct {
	SessionID     string
	Rankings      []*ParticipantResult // sorted by Net descending
	BestWriter    string               // player ID, max VotesOnOriginals
	TopImpostor   string               // player ID, max VotesFooled
	SharpestVoter string               // player ID, max accuracy among voters with >= 1 vote
}
