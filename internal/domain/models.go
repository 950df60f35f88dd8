/**
 * @description
 * This file defines the core domain models for the points-service. These structs
 * represent the main entities and data transfer objects (DTOs) used throughout
 * the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Point amounts are stored as `int64` whole points, which avoids
 *   floating-point inaccuracies with balance arithmetic.
 * - A PointTransaction's Amount is signed: positive for credits, negative for
 *   debits. BalanceAfter snapshots the account balance at commit time, so a
 *   replay of an account's history is always consistent with its balance.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Role classifies an account within the platform.
type Role string

const (
	RoleMember     Role = "member"
	RoleResearcher Role = "researcher"
	RoleAdmin      Role = "admin"
)

// IsValid reports whether the role is one of the known platform roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleMember, RoleResearcher, RoleAdmin:
		return true
	}
	return false
}

// TransactionKind classifies a ledger entry by the action that produced it.
type TransactionKind string

const (
	KindDailyBonus     TransactionKind = "daily_bonus"
	KindUploadReward   TransactionKind = "upload_reward"
	KindFeedbackReward TransactionKind = "feedback_reward"
	KindDownloadDebit  TransactionKind = "download_debit"
	KindAdminCredit    TransactionKind = "admin_credit"
)

// Account represents a user's points balance plus the metadata the ledger
// needs. Admin accounts are frozen: ledger operations never mutate their
// balance, and credits/debits against them report a skipped result instead.
type Account struct {
	ID          uuid.UUID  `json:"id"`
	Username    string     `json:"username"`
	Role        Role       `json:"role"`
	Balance     int64      `json:"balance"`
	Active      bool       `json:"active"`
	LastBonusAt *time.Time `json:"last_bonus_at,omitempty"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// PointTransaction is one immutable ledger entry. Rows are append-only: they
// are never updated or deleted once committed.
type PointTransaction struct {
	ID           uuid.UUID       `json:"id"`
	AccountID    uuid.UUID       `json:"account_id"`
	Amount       int64           `json:"amount"`
	BalanceAfter int64           `json:"balance_after"`
	Kind         TransactionKind `json:"kind"`
	ReferenceID  *uuid.UUID      `json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// LedgerResult is the outcome of a single credit or debit. Skipped is true for
// Admin accounts, whose balances are exempt from ledger effects; in that case
// Transaction is nil.
type LedgerResult struct {
	Transaction *PointTransaction `json:"transaction,omitempty"`
	Skipped     bool              `json:"skipped"`
}

// Paper is the slice of research-paper state the ledger engine owns: the file
// key handed to the archive collaborator on a consumed download, and the
// download counter. Full paper metadata lives with the catalog service.
type Paper struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	UploaderID    uuid.UUID `json:"uploader_id"`
	FileKey       string    `json:"file_key"`
	DownloadCount int64     `json:"download_count"`
	Official      bool      `json:"official"`
	CreatedAt     time.Time `json:"created_at"`
}

// Feedback is a reviewer's feedback on a paper. The row doubles as the
// one-time reward claim: the store's uniqueness constraint on
// (paper_id, reviewer_id) is the sole gate against a repeated reward.
type Feedback struct {
	ID         uuid.UUID `json:"id"`
	PaperID    uuid.UUID `json:"paper_id"`
	ReviewerID uuid.UUID `json:"reviewer_id"`
	Content    string    `json:"content"`
	Rating     *int      `json:"rating,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Grant lifecycle states. A grant is issued by the authorize step, consumed
// exactly once by the consume step, or expires unconsumed. Consumed and
// expired are terminal.
const (
	GrantStatusIssued   = "issued"
	GrantStatusConsumed = "consumed"
	GrantStatusExpired  = "expired"
)

// DownloadGrant is a time-boxed, single-use authorization to retrieve one
// paper file after payment. At most one grant per (paper, account) pair is in
// the issued state at a time.
type DownloadGrant struct {
	ID          uuid.UUID  `json:"id"`
	PaperID     uuid.UUID  `json:"paper_id"`
	AccountID   uuid.UUID  `json:"account_id"`
	Status      string     `json:"status"`
	CostCharged int64      `json:"cost_charged"`
	IssuedAt    time.Time  `json:"issued_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ConsumedAt  *time.Time `json:"consumed_at,omitempty"`
}

// LoginResult reports the outcome of the daily-bonus check performed at login.
// RetryAfterSeconds is populated only when the bonus was not granted because
// the 24h window has not elapsed yet.
type LoginResult struct {
	AccountID         uuid.UUID         `json:"account_id"`
	Balance           int64             `json:"balance"`
	BonusGranted      bool              `json:"bonus_granted"`
	RetryAfterSeconds int64             `json:"retry_after_seconds,omitempty"`
	Transaction       *PointTransaction `json:"transaction,omitempty"`
}

// RewardBatch groups the credits issued together for one paper upload. It is
// never persisted as its own entity; it only exists so the distributor can
// apply the whole set of credits as one atomic unit.
type RewardBatch struct {
	PaperID         uuid.UUID   `json:"paper_id"`
	AuthorIDs       []uuid.UUID `json:"author_ids"`
	AmountPerAuthor int64       `json:"amount_per_author"`
}

// RewardDistribution reports the committed outcome of a reward batch.
// Credited holds one transaction per rewarded author; SkippedAdmins lists
// authors excluded because of the Admin exemption.
type RewardDistribution struct {
	PaperID       uuid.UUID          `json:"paper_id"`
	Credited      []PointTransaction `json:"credited"`
	SkippedAdmins []uuid.UUID        `json:"skipped_admins,omitempty"`
}

// FeedbackResult is the outcome of a feedback submission. RewardPending is
// true when the feedback claim committed but the reward credit failed; the
// claim stands and the reward needs manual reconciliation.
type FeedbackResult struct {
	Feedback      *Feedback         `json:"feedback"`
	Reward        *PointTransaction `json:"reward,omitempty"`
	RewardSkipped bool              `json:"reward_skipped,omitempty"`
	RewardPending bool              `json:"reward_pending,omitempty"`
}

// DownloadAuthorization is returned by the authorize step.
type DownloadAuthorization struct {
	Grant       *DownloadGrant    `json:"grant"`
	Transaction *PointTransaction `json:"transaction,omitempty"`
}

// DownloadDelivery is returned by the consume step: the opaque file reference
// for the archive collaborator to stream, never the file bytes themselves.
type DownloadDelivery struct {
	Grant         *DownloadGrant `json:"grant"`
	FileKey       string         `json:"file_key"`
	FileURL       string         `json:"file_url,omitempty"`
	DownloadCount int64          `json:"download_count"`
}

// ProvisionAccountRequest is the DTO for registering a ledger account for a
// platform user, sent by the auth pipeline over the internal API.
type ProvisionAccountRequest struct {
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

// RecordUploadRequest is the DTO for registering a paper upload and
// distributing the co-author reward.
type RecordUploadRequest struct {
	PaperID   uuid.UUID   `json:"paper_id"`
	Title     string      `json:"title"`
	FileKey   string      `json:"file_key"`
	AuthorIDs []uuid.UUID `json:"author_ids"`
}

// SubmitFeedbackRequest is the DTO for incoming feedback submissions.
type SubmitFeedbackRequest struct {
	Content string `json:"content"`
	Rating  *int   `json:"rating,omitempty"`
}

// AdminCreditRequest is the DTO for an Admin granting points to a user.
type AdminCreditRequest struct {
	Points int64 `json:"points"`
}
