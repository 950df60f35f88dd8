package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
	"github.com/hasher/points-service/internal/store"
)

// memoryLedger is a behavioral in-memory implementation of store.Repository.
// Unlike the canned-result stubs, it keeps real balances, histories, claims,
// and grant states, so tests against it exercise the ledger contract itself:
// balance always equals the sum of history, debits check funds before
// mutating, claims are unique, and grants walk the issued/consumed/expired
// state machine. Operations are serialized by a single mutex, matching the
// row-lock serialization the real store provides per account.
type memoryLedger struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*domain.Account
	history  map[uuid.UUID][]domain.PointTransaction
	papers   map[uuid.UUID]*domain.Paper
	claims   map[string]*domain.Feedback
	grants   []*domain.DownloadGrant

	// clock lets tests move time forward past grant expiries.
	clock func() time.Time
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{
		accounts: make(map[uuid.UUID]*domain.Account),
		history:  make(map[uuid.UUID][]domain.PointTransaction),
		papers:   make(map[uuid.UUID]*domain.Paper),
		claims:   make(map[string]*domain.Feedback),
		clock:    time.Now,
	}
}

// appendTx mutates the balance and records the ledger entry. Callers hold mu.
func (m *memoryLedger) appendTx(accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) *domain.PointTransaction {
	acct := m.accounts[accountID]
	acct.Balance += amount
	entry := domain.PointTransaction{
		ID:           uuid.New(),
		AccountID:    accountID,
		Amount:       amount,
		BalanceAfter: acct.Balance,
		Kind:         kind,
		ReferenceID:  referenceID,
		CreatedAt:    m.clock(),
	}
	m.history[accountID] = append(m.history[accountID], entry)
	return &entry
}

func (m *memoryLedger) CreateAccount(ctx context.Context, account *domain.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Username == account.Username {
			return store.ErrUsernameExists
		}
	}
	copied := *account
	m.accounts[account.ID] = &copied
	return nil
}

func (m *memoryLedger) FindAccountByID(ctx context.Context, accountID uuid.UUID) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *acct
	return &copied, nil
}

func (m *memoryLedger) FindAccountByUsername(ctx context.Context, username string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, acct := range m.accounts {
		if acct.Username == username {
			copied := *acct
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (m *memoryLedger) Credit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if acct.Role == domain.RoleAdmin {
		return &domain.LedgerResult{Skipped: true}, nil
	}
	return &domain.LedgerResult{Transaction: m.appendTx(accountID, amount, kind, referenceID)}, nil
}

func (m *memoryLedger) Debit(ctx context.Context, accountID uuid.UUID, amount int64, kind domain.TransactionKind, referenceID *uuid.UUID) (*domain.LedgerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if acct.Role == domain.RoleAdmin {
		return &domain.LedgerResult{Skipped: true}, nil
	}
	if acct.Balance < amount {
		return nil, store.ErrInsufficientFunds
	}
	return &domain.LedgerResult{Transaction: m.appendTx(accountID, -amount, kind, referenceID)}, nil
}

func (m *memoryLedger) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return 0, store.ErrAccountNotFound
	}
	return acct.Balance, nil
}

func (m *memoryLedger) FindTransactionsByAccountID(ctx context.Context, accountID uuid.UUID) ([]domain.PointTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PointTransaction(nil), m.history[accountID]...), nil
}

func (m *memoryLedger) GrantDailyBonus(ctx context.Context, accountID uuid.UUID, amount int64, now time.Time) (*store.BonusGrant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	if acct.Role == domain.RoleAdmin {
		acct.LastLoginAt = &now
		return &store.BonusGrant{Skipped: true, Balance: acct.Balance}, nil
	}
	if !domain.BonusEligible(acct.LastBonusAt, now) {
		retry := domain.BonusRetryAfter(acct.LastBonusAt, now)
		acct.LastLoginAt = &now
		return &store.BonusGrant{Balance: acct.Balance, RetryAfter: retry}, nil
	}
	entry := m.appendTx(accountID, amount, domain.KindDailyBonus, nil)
	stamped := now
	acct.LastBonusAt = &stamped
	acct.LastLoginAt = &stamped
	return &store.BonusGrant{Granted: true, Balance: entry.BalanceAfter, Transaction: entry}, nil
}

func (m *memoryLedger) CreatePaper(ctx context.Context, paper *domain.Paper) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *paper
	copied.CreatedAt = m.clock()
	m.papers[paper.ID] = &copied
	return nil
}

func (m *memoryLedger) FindPaperByID(ctx context.Context, paperID uuid.UUID) (*domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	paper, ok := m.papers[paperID]
	if !ok {
		return nil, store.ErrPaperNotFound
	}
	copied := *paper
	return &copied, nil
}

func (m *memoryLedger) DistributeUploadReward(ctx context.Context, batch domain.RewardBatch) (*domain.RewardDistribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[uuid.UUID]struct{}, len(batch.AuthorIDs))
	authorIDs := make([]uuid.UUID, 0, len(batch.AuthorIDs))
	for _, id := range batch.AuthorIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		authorIDs = append(authorIDs, id)
	}

	// Validate the whole batch before any credit.
	for _, id := range authorIDs {
		acct, ok := m.accounts[id]
		if !ok || !acct.Active {
			return nil, fmt.Errorf("%w: %s", store.ErrUnknownAuthor, id)
		}
	}

	paperID := batch.PaperID
	distribution := &domain.RewardDistribution{PaperID: paperID}
	for _, id := range authorIDs {
		if m.accounts[id].Role == domain.RoleAdmin {
			distribution.SkippedAdmins = append(distribution.SkippedAdmins, id)
			continue
		}
		distribution.Credited = append(distribution.Credited, *m.appendTx(id, batch.AmountPerAuthor, domain.KindUploadReward, &paperID))
	}
	return distribution, nil
}

func (m *memoryLedger) CreateFeedback(ctx context.Context, feedback *domain.Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := feedback.PaperID.String() + "|" + feedback.ReviewerID.String()
	if _, ok := m.claims[key]; ok {
		return store.ErrDuplicateFeedback
	}
	copied := *feedback
	copied.CreatedAt = m.clock()
	m.claims[key] = &copied
	return nil
}

func (m *memoryLedger) ListFeedbackByPaperID(ctx context.Context, paperID uuid.UUID) ([]domain.Feedback, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []domain.Feedback
	for _, claim := range m.claims {
		if claim.PaperID == paperID {
			entries = append(entries, *claim)
		}
	}
	return entries, nil
}

func (m *memoryLedger) AuthorizeDownload(ctx context.Context, paperID, accountID uuid.UUID, cost int64, ttl time.Duration) (*domain.DownloadGrant, *domain.PointTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.papers[paperID]; !ok {
		return nil, nil, store.ErrPaperNotFound
	}

	now := m.clock()
	for _, grant := range m.grants {
		if grant.PaperID != paperID || grant.AccountID != accountID || grant.Status != domain.GrantStatusIssued {
			continue
		}
		if now.Before(grant.ExpiresAt) {
			return nil, nil, store.ErrGrantAlreadyActive
		}
		// Retire the timed-out grant in place; the debit it charged is final.
		grant.Status = domain.GrantStatusExpired
	}

	acct, ok := m.accounts[accountID]
	if !ok {
		return nil, nil, store.ErrAccountNotFound
	}

	chargedCost := cost
	if acct.Role == domain.RoleAdmin {
		chargedCost = 0
	}

	var entry *domain.PointTransaction
	if chargedCost > 0 {
		if acct.Balance < chargedCost {
			return nil, nil, store.ErrInsufficientFunds
		}
		entry = m.appendTx(accountID, -chargedCost, domain.KindDownloadDebit, &paperID)
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
	m.grants = append(m.grants, grant)
	copied := *grant
	return &copied, entry, nil
}

func (m *memoryLedger) ConsumeDownload(ctx context.Context, paperID, accountID uuid.UUID) (*domain.DownloadGrant, *domain.Paper, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var grant *domain.DownloadGrant
	for i := len(m.grants) - 1; i >= 0; i-- {
		if m.grants[i].PaperID == paperID && m.grants[i].AccountID == accountID {
			grant = m.grants[i]
			break
		}
	}
	if grant == nil {
		return nil, nil, store.ErrGrantNotFound
	}

	switch grant.Status {
	case domain.GrantStatusConsumed:
		return nil, nil, store.ErrGrantAlreadyConsumed
	case domain.GrantStatusExpired:
		return nil, nil, store.ErrGrantExpired
	}

	now := m.clock()
	if !now.Before(grant.ExpiresAt) {
		grant.Status = domain.GrantStatusExpired
		return nil, nil, store.ErrGrantExpired
	}

	grant.Status = domain.GrantStatusConsumed
	grant.ConsumedAt = &now

	paper := m.papers[paperID]
	if paper == nil {
		return nil, nil, store.ErrPaperNotFound
	}
	paper.DownloadCount++

	grantCopy := *grant
	paperCopy := *paper
	return &grantCopy, &paperCopy, nil
}

func (m *memoryLedger) ExpireStaleGrants(ctx context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var expired int64
	for _, grant := range m.grants {
		if grant.Status == domain.GrantStatusIssued && !now.Before(grant.ExpiresAt) {
			grant.Status = domain.GrantStatusExpired
			expired++
		}
	}
	return expired, nil
}
