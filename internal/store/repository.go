/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for
 * all data access operations required by the points-service. By defining an
 * interface, we decouple the ledger's business logic from the specific database
 * implementation (e.g., PostgreSQL), making the code more modular and easier to
 * test.
 *
 * Every balance-affecting method is a single atomic unit against the store:
 * the balance check and the mutation commit together or not at all, and no
 * concurrent caller can observe a state in between.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
)

// BonusGrant reports the committed outcome of a daily bonus attempt.
type BonusGrant struct {
	Granted     bool
	Skipped     bool
	Balance     int64
	RetryAfter  time.Duration
	Transaction *domain.PointTransaction
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account methods
	CreateAccount(ctx context.Context, account *domain.Account) error
	FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error)

	// Account ledger primitives. Credit and Debit lock the account row for the
	// duration of the transaction; Admin accounts report a skipped result.
	Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error)
	Debit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error)
	GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error)
	FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.PointTransaction, error)

	// Bonus policy. The eligibility re-check, the credit, and the last-bonus
	// clock advance happen inside one transaction on the locked account row.
	GrantDailyBonus(ctx context.Context, accountID uuid.UUID, amount int64, now time.Time) (*BonusGrant, error)

	// Paper methods
	CreatePaper(ctx context.Context, paper *domain.Paper) error
	FindPaperByID(ctx context.Context, paperID uuid.UUID) (*domain.Paper, error)

	// Reward distributor. All authors are credited in one transaction; any
	// failure rolls the whole batch back.
	DistributeUploadReward(ctx context.Context, batch domain.RewardBatch) (*domain.RewardDistribution, error)

	// Feedback gate. Duplicate claims surface as ErrDuplicateFeedback via the
	// store's uniqueness constraint, never via a prior read.
	CreateFeedback(ctx context.Context, feedback *domain.Feedback) error
	ListFeedbackByPaperID(ctx context.Context, paperID uuid.UUID) ([]domain.Feedback, error)

	// Download authorizer. Authorize debits the cost and issues the grant in
	// one transaction; Consume transitions the grant and bumps the paper's
	// download counter in one transaction.
	AuthorizeDownload(ctx context.Context, paperID, accountID uuid.UUID, cost int64, ttl time.Duration) (*domain.DownloadGrant, *domain.PointTransaction, error)
	ConsumeDownload(ctx context.Context, paperID, accountID uuid.UUID) (*domain.DownloadGrant, *domain.Paper, error)

	// Sweeper support: flips timed-out issued grants to expired. Lazy expiry
	// at consume time keeps this optional for correctness.
	ExpireStaleGrants(ctx context.Context, now time.Time) (int64, error)
}
