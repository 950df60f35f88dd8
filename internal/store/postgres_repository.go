/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed to interact with the accounts,
 * point_transactions, papers, feedback, and download_grants tables.
 *
 * Concurrency model: every balance-affecting operation runs as a single
 * database transaction with a `SELECT ... FOR UPDATE` lock on the account
 * row(s) it touches, so the balance check and the mutation are one atomic
 * unit. Uniqueness races (duplicate feedback, double authorize) are closed by
 * the constraints in schema.go, never by application-level read-then-write.
 *
 * @dependencies
 * - context, errors, fmt, time: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrUsernameExists       = errors.New("username already registered")
	ErrPaperNotFound        = errors.New("paper not found")
	ErrInsufficientFunds    = errors.New("insufficient points")
	ErrUnknownAuthor        = errors.New("unknown author")
	ErrDuplicateFeedback    = errors.New("feedback already submitted for this paper")
	ErrGrantNotFound        = errors.New("download grant not found")
	ErrGrantAlreadyActive   = errors.New("an unconsumed download grant already exists")
	ErrGrantExpired         = errors.New("download grant has expired")
	ErrGrantAlreadyConsumed = errors.New("download grant already consumed")
	ErrStoreUnavailable     = errors.New("ledger store unavailable")
)

const (
	pgUniqueViolation = "23505"
)

// PostgresRepository is a concrete implementation of the Repository interface
// for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// unavailable wraps transport-level failures (failed BEGIN/COMMIT, broken
// connections) so callers can match ErrStoreUnavailable and retry safely:
// the enclosing transaction has rolled back whole.
func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// CreateAccount inserts a new ledger account.
func (r *PostgresRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, username, role, balance, active, last_bonus_at, last_login_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		account.ID, account.Username, account.Role, account.Balance, account.Active, account.LastBonusAt, account.LastLoginAt,
	).Scan(&account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return unavailable("create account", err)
	}
	return nil
}

// FindAccountByID retrieves an account from the database by its ID.
func (r *PostgresRepository) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, username, role, balance, active, last_bonus_at, last_login_at, created_at, updated_at
		FROM accounts WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, accountID).Scan(
		&account.ID, &account.Username, &account.Role, &account.Balance,
		&account.Active, &account.LastBonusAt, &account.LastLoginAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// FindAccountByUsername retrieves an account from the database by username.
func (r *PostgresRepository) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	var account domain.Account
	query := `
		SELECT id, username, role, balance, active, last_bonus_at, last_login_at, created_at, updated_at
		FROM accounts WHERE lower(btrim(username)) = lower(btrim($1))
	`
	err := r.db.QueryRow(ctx, query, username).Scan(
		&account.ID, &account.Username, &account.Role, &account.Balance,
		&account.Active, &account.LastBonusAt, &account.LastLoginAt, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// lockAccount reads an account row under FOR UPDATE inside the given
// transaction. The lock is held until the transaction commits or rolls back.
func lockAccount(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) (role domain.Role, balance int64, lastBonusAt *time.Time, err error) {
	query := `SELECT role, balance, last_bonus_at FROM accounts WHERE id = $1 FOR UPDATE`
	err = tx.QueryRow(ctx, query, accountID).Scan(&role, &balance, &lastBonusAt)
	if err == pgx.ErrNoRows {
		err = ErrAccountNotFound
	}
	return
}

// appendTransaction updates the locked account's balance and inserts the
// matching ledger row, returning the committed entry. amount is signed.
func appendTransaction(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.PointTransaction, error) {
	var balanceAfter int64
	err := tx.QueryRow(ctx,
		`UPDATE accounts SET balance = balance + $1, updated_at = NOW() WHERE id = $2 RETURNING balance`,
		amount, accountID,
	).Scan(&balanceAfter)
	if err != nil {
		return nil, err
	}

	entry := &domain.PointTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Kind:         kind,
		ReferenceID:  referenceID,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO point_transactions (id, account_id, amount, balance_after, kind, reference_id)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		entry.ID, entry.AccountID, entry.Amount, entry.BalanceAfter, entry.Kind, entry.ReferenceID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Credit atomically increments an account's balance and appends the ledger
// entry. Admin accounts are exempt and report a skipped result.
func (r *PostgresRepository) Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin credit", err)
	}
	defer tx.Rollback(ctx)

	role, _, _, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin {
		return &domain.LedgerResult{Skipped: true}, nil
	}

	entry, err := appendTransaction(ctx, tx, accountID, amount, kind, referenceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit credit", err)
	}
	return &domain.LedgerResult{Transaction: entry}, nil
}

// Debit atomically checks the balance and decrements it, appending a negated
// ledger entry. The check and the mutation are one unit: no concurrent caller
// can observe a state between them. Admin accounts are exempt.
func (r *PostgresRepository) Debit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin debit", err)
	}
	defer tx.Rollback(ctx)

	role, balance, _, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	if role == domain.RoleAdmin {
		return &domain.LedgerResult{Skipped: true}, nil
	}
	if balance < amount {
		return nil, ErrInsufficientFunds
	}

	entry, err := appendTransaction(ctx, tx, accountID, -amount, kind, referenceID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit debit", err)
	}
	return &domain.LedgerResult{Transaction: entry}, nil
}

// GetBalance returns an account's current points balance.
func (r *PostgresRepository) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.QueryRow(ctx, `SELECT balance FROM accounts WHERE id = $1`, accountID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrAccountNotFound
		}
		return 0, err
	}
	return balance, nil
}

// FindTransactionsByAccountID retrieves the full ledger history for one
// account in commit order. Replaying balance_after over the result always
// yields a consistent running total.
func (r *PostgresRepository) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.PointTransaction, error) {
	query := `
		SELECT id, account_id, amount, balance_after, kind, reference_id, created_at
		FROM point_transactions
		WHERE account_id = $1
		ORDER BY created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transactions []domain.PointTransaction
	for rows.Next() {
		var entry domain.PointTransaction
		err := rows.Scan(
			&entry.ID, &entry.AccountID, &entry.Amount, &entry.BalanceAfter,
			&entry.Kind, &entry.ReferenceID, &entry.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, entry)
	}
	return transactions, rows.Err()
}

// GrantDailyBonus re-evaluates bonus eligibility from the locked account row
// and, when eligible, applies the credit and advances last_bonus_at in the
// same transaction. A partial state (points granted without the clock
// advanced, or vice versa) is therefore never observable.
func (r *PostgresRepository) GrantDailyBonus(ctx context.Context, accountID uuid.UUID, amount int64, now time.Time) (*BonusGrant, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin bonus grant", err)
	}
	defer tx.Rollback(ctx)

	role, balance, lastBonusAt, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	stampLogin := func() error {
		_, err := tx.Exec(ctx, `UPDATE accounts SET last_login_at = $1, updated_at = NOW() WHERE id = $2`, now, accountID)
		return err
	}

	if role == domain.RoleAdmin {
		if err := stampLogin(); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, unavailable("commit bonus grant", err)
		}
		return &BonusGrant{Skipped: true, Balance: balance}, nil
	}

	if !domain.BonusEligible(lastBonusAt, now) {
		if err := stampLogin(); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, unavailable("commit bonus grant", err)
		}
		return &BonusGrant{
			Balance:    balance,
			RetryAfter: domain.BonusRetryAfter(lastBonusAt, now),
		}, nil
	}

	entry, err := appendTransaction(ctx, tx, accountID, amount, domain.KindDailyBonus, nil)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx,
		`UPDATE accounts SET last_bonus_at = $1, last_login_at = $1, updated_at = NOW() WHERE id = $2`,
		now, accountID,
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit bonus grant", err)
	}
	return &BonusGrant{Granted: true, Balance: entry.BalanceAfter, Transaction: entry}, nil
}

// CreatePaper registers the slice of paper state the ledger owns.
func (r *PostgresRepository) CreatePaper(ctx context.Context, paper *domain.Paper) error {
	query := `
		INSERT INTO papers (id, title, uploader_id, file_key, official)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING download_count, created_at
	`
	err := r.db.QueryRow(ctx, query,
		paper.ID, paper.Title, paper.UploaderID, paper.FileKey, paper.Official,
	).Scan(&paper.DownloadCount, &paper.CreatedAt)
	if err != nil {
		return unavailable("create paper", err)
	}
	return nil
}

// FindPaperByID retrieves a paper's ledger-owned state.
func (r *PostgresRepository) FindPaperByID(ctx context.Context, paperID uuid.UUID) (*domain.Paper, error) {
	var paper domain.Paper
	query := `
		SELECT id, title, uploader_id, file_key, download_count, official, created_at
		FROM papers WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, paperID).Scan(
		&paper.ID, &paper.Title, &paper.UploaderID, &paper.FileKey,
		&paper.DownloadCount, &paper.Official, &paper.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrPaperNotFound
		}
		return nil, err
	}
	return &paper, nil
}

// DistributeUploadReward credits every author in the batch as one atomic
// unit. All author rows are locked in ascending id order (stable lock order
// avoids deadlocks between concurrent batches), every id is validated before
// any credit is applied, and any failure rolls back the whole batch. Admin
// authors are skipped rather than credited.
func (r *PostgresRepository) DistributeUploadReward(ctx context.Context, batch domain.RewardBatch) (*domain.RewardDistribution, error) {
	authorIDs := dedupeIDs(batch.AuthorIDs)
	if len(authorIDs) == 0 {
		return nil, fmt.Errorf("%w: empty author set", ErrUnknownAuthor)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, unavailable("begin reward batch", err)
	}
	defer tx.Rollback(ctx)

	type authorState struct {
		role   domain.Role
		active bool
	}
	states := make(map[uuid.UUID]authorState, len(authorIDs))

	// ORDER BY id gives every concurrent batch the same lock acquisition
	// order, so two overlapping uploads cannot deadlock on author rows.
	rows, err := tx.Query(ctx,
		`SELECT id, role, active FROM accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`,
		authorIDs,
	)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var id uuid.UUID
		var state authorState
		if err := rows.Scan(&id, &state.role, &state.active); err != nil {
			rows.Close()
			return nil, err
		}
		states[id] = state
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Validate every author, in input order, before any credit is applied.
	for _, id := range authorIDs {
		state, ok := states[id]
		if !ok || !state.active {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAuthor, id)
		}
	}

	distribution := &domain.RewardDistribution{PaperID: batch.PaperID}
	paperID := batch.PaperID
	for _, id := range authorIDs {
		if states[id].role == domain.RoleAdmin {
			distribution.SkippedAdmins = append(distribution.SkippedAdmins, id)
			continue
		}
		entry, err := appendTransaction(ctx, tx, id, batch.AmountPerAuthor, domain.KindUploadReward, &paperID)
		if err != nil {
			return nil, err
		}
		distribution.Credited = append(distribution.Credited, *entry)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, unavailable("commit reward batch", err)
	}
	return distribution, nil
}

// CreateFeedback inserts the feedback claim. The uniqueness constraint on
// (paper_id, reviewer_id) is the only duplicate gate: two concurrent
// submissions race at the index, and exactly one INSERT wins.
func (r *PostgresRepository) CreateFeedback(ctx context.Context, feedback *domain.Feedback) error {
	query := `
		INSERT INTO feedback (id, paper_id, reviewer_id, content, rating)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query,
		feedback.ID, feedback.PaperID, feedback.ReviewerID, feedback.Content, feedback.Rating,
	).Scan(&feedback.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateFeedback
		}
		return err
	}
	return nil
}

// ListFeedbackByPaperID retrieves all feedback entries for a paper, newest
// first.
func (r *PostgresRepository) ListFeedbackByPaperID(ctx context.Context, paperID uuid.UUID) ([]domain.Feedback, error) {
	query := `
		SELECT id, paper_id, reviewer_id, content, rating, created_at
		FROM feedback
		WHERE paper_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.db.Query(ctx, query, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.Feedback
	for rows.Next() {
		var entry domain.Feedback
		err := rows.Scan(&entry.ID, &entry.PaperID, &entry.ReviewerID, &entry.Content, &entry.Rating, &entry.CreatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AuthorizeDownload performs the authorize step of the two-phase spend as one
// transaction: reject an active grant, retire an expired one in place, check
// and debit the balance on the locked account row, and issue the new grant.
// On failure nothing is debited and no grant exists. The partial unique index
// on issued grants closes the race between two concurrent authorizes: the
// losing INSERT surfaces as ErrGrantAlreadyActive.
func (r *PostgresRepository) AuthorizeDownload(ctx context.Context, paperID, accountID uuid.UUID, cost int64, ttl time.Duration) (*domain.DownloadGrant, *domain.PointTransaction, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, unavailable("begin authorize", err)
	}
	defer tx.Rollback(ctx)

	var paperExists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM papers WHERE id = $1)`, paperID).Scan(&paperExists); err != nil {
		return nil, nil, err
	}
	if !paperExists {
		return nil, nil, ErrPaperNotFound
	}

	now := time.Now().UTC()

	var existingID uuid.UUID
	var existingExpiry time.Time
	err = tx.QueryRow(ctx,
		`SELECT id, expires_at FROM download_grants
		 WHERE paper_id = $1 AND account_id = $2 AND status = $3
		 FOR UPDATE`,
		paperID, accountID, domain.GrantStatusIssued,
	).Scan(&existingID, &existingExpiry)
	switch {
	case err == nil:
		if now.Before(existingExpiry) {
			return nil, nil, ErrGrantAlreadyActive
		}
		// Retire the timed-out grant so a fresh one can be issued. The debit
		// it charged is final; no refund.
		if _, err := tx.Exec(ctx,
			`UPDATE download_grants SET status = $1 WHERE id = $2`,
			domain.GrantStatusExpired, existingID,
		); err != nil {
			return nil, nil, err
		}
	case err == pgx.ErrNoRows:
		// No active grant for this pair.
	default:
		return nil, nil, err
	}

	role, balance, _, err := lockAccount(ctx, tx, accountID)
	if err != nil {
		return nil, nil, err
	}

	// Admins pass through the same state machine at cost zero so the
	// download counter stays uniform across roles.
	chargedCost := cost
	if role == domain.RoleAdmin {
		chargedCost = 0
	}

	var entry *domain.PointTransaction
	if chargedCost > 0 {
		if balance < chargedCost {
			return nil, nil, ErrInsufficientFunds
		}
		entry, err = appendTransaction(ctx, tx, accountID, -chargedCost, domain.KindDownloadDebit, &paperID)
		if err != nil {
			return nil, nil, err
		}
	}

	grant := &domain.DownloadGrant{
		ID:          uuid.New(),
		PaperID:     paperID,
		AccountID:   accountID,
		Status:      domain.GrantStatusIssued,
		CostCharged: chargedCost,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO download_grants (id, paper_id, account_id, status, cost_charged, issued_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		grant.ID, grant.PaperID, grant.AccountID, grant.Status, grant.CostCharged, grant.IssuedAt, grant.ExpiresAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, nil, ErrGrantAlreadyActive
		}
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, unavailable("commit authorize", err)
	}
	return grant, entry, nil
}

// ConsumeDownload performs the consume step: it locks the newest grant for
// the pair, rejects replays and expired grants deterministically, and on
// success marks the grant consumed and bumps the paper's download counter in
// the same transaction.
func (r *PostgresRepository) ConsumeDownload(ctx context.Context, paperID, accountID uuid.UUID) (*domain.DownloadGrant, *domain.Paper, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, nil, unavailable("begin consume", err)
	}
	defer tx.Rollback(ctx)

	var grant domain.DownloadGrant
	err = tx.QueryRow(ctx,
		`SELECT id, paper_id, account_id, status, cost_charged, issued_at, expires_at, consumed_at
		 FROM download_grants
		 WHERE paper_id = $1 AND account_id = $2
		 ORDER BY issued_at DESC
		 LIMIT 1
		 FOR UPDATE`,
		paperID, accountID,
	).Scan(
		&grant.ID, &grant.PaperID, &grant.AccountID, &grant.Status,
		&grant.CostCharged, &grant.IssuedAt, &grant.ExpiresAt, &grant.ConsumedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrGrantNotFound
		}
		return nil, nil, err
	}

	now := time.Now().UTC()
	switch grant.Status {
	case domain.GrantStatusConsumed:
		return nil, nil, ErrGrantAlreadyConsumed
	case domain.GrantStatusExpired:
		return nil, nil, ErrGrantExpired
	}

	if !now.Before(grant.ExpiresAt) {
		// Expiry is evaluated lazily here; persist the terminal state so the
		// failure is deterministic on replay.
		if _, err := tx.Exec(ctx,
			`UPDATE download_grants SET status = $1 WHERE id = $2`,
			domain.GrantStatusExpired, grant.ID,
		); err != nil {
			return nil, nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, nil, unavailable("commit consume", err)
		}
		return nil, nil, ErrGrantExpired
	}

	if _, err := tx.Exec(ctx,
		`UPDATE download_grants SET status = $1, consumed_at = $2 WHERE id = $3`,
		domain.GrantStatusConsumed, now, grant.ID,
	); err != nil {
		return nil, nil, err
	}
	grant.Status = domain.GrantStatusConsumed
	grant.ConsumedAt = &now

	var paper domain.Paper
	err = tx.QueryRow(ctx,
		`UPDATE papers SET download_count = download_count + 1 WHERE id = $1
		 RETURNING id, title, uploader_id, file_key, download_count, official, created_at`,
		paperID,
	).Scan(
		&paper.ID, &paper.Title, &paper.UploaderID, &paper.FileKey,
		&paper.DownloadCount, &paper.Official, &paper.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil, ErrPaperNotFound
		}
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, unavailable("commit consume", err)
	}
	return &grant, &paper, nil
}

// ExpireStaleGrants flips all timed-out issued grants to expired. It only
// reclaims storage: consume rejects stale grants on its own.
func (r *PostgresRepository) ExpireStaleGrants(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.Exec(ctx,
		`UPDATE download_grants SET status = $1 WHERE status = $2 AND expires_at <= $3`,
		domain.GrantStatusExpired, domain.GrantStatusIssued, now,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
