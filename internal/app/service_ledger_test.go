package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
	"github.com/hasher/points-service/internal/store"
)

// These tests run the service against the behavioral in-memory ledger, so
// they check the ledger contract end to end rather than stubbed returns.

func seedLedgerAccount(t *testing.T, ledger *memoryLedger, role domain.Role, balance int64) uuid.UUID {
	t.Helper()
	account := &domain.Account{
		ID:       uuid.New(),
		Username: "user-" + uuid.NewString(),
		Role:     role,
		Active:   true,
	}
	if err := ledger.CreateAccount(context.Background(), account); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	if balance > 0 {
		if _, err := ledger.Credit(context.Background(), account.ID, balance, domain.KindAdminCredit, nil); err != nil {
			t.Fatalf("failed to seed balance: %v", err)
		}
	}
	return account.ID
}

func seedLedgerPaper(t *testing.T, ledger *memoryLedger, uploaderID uuid.UUID) uuid.UUID {
	t.Helper()
	paper := &domain.Paper{
		ID:         uuid.New(),
		Title:      "On Hashing",
		UploaderID: uploaderID,
		FileKey:    "papers/on-hashing.pdf",
	}
	if err := ledger.CreatePaper(context.Background(), paper); err != nil {
		t.Fatalf("failed to seed paper: %v", err)
	}
	return paper.ID
}

func TestLedger_BalanceEqualsHistorySum(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 0)
	uploaderID := seedLedgerAccount(t, ledger, domain.RoleResearcher, 0)
	paperID := seedLedgerPaper(t, ledger, uploaderID)

	if _, err := svc.AdminCredit(ctx, accountID, 50); err != nil {
		t.Fatalf("admin credit failed: %v", err)
	}
	if _, err := svc.RecordLogin(ctx, accountID); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if _, err := svc.AuthorizeDownload(ctx, paperID, accountID); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if _, err := svc.SubmitFeedback(ctx, paperID, accountID, domain.SubmitFeedbackRequest{Content: "solid methodology"}); err != nil {
		t.Fatalf("feedback failed: %v", err)
	}

	balance, err := svc.GetBalance(ctx, accountID)
	if err != nil {
		t.Fatalf("get balance failed: %v", err)
	}
	history, err := svc.GetHistory(ctx, accountID)
	if err != nil {
		t.Fatalf("get history failed: %v", err)
	}

	// +50 admin credit, +10 bonus, -10 download, +5 feedback.
	var sum int64
	for _, entry := range history {
		sum += entry.Amount
		if entry.BalanceAfter < 0 {
			t.Fatalf("observed negative balance snapshot: %+v", entry)
		}
	}
	if balance != sum {
		t.Fatalf("balance %d diverged from history sum %d", balance, sum)
	}
	if balance != 55 {
		t.Fatalf("expected balance 55, got %d", balance)
	}
}

func TestAuthorizeDownload_InsufficientFundsLeavesLedgerUntouched(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 5)
	paperID := seedLedgerPaper(t, ledger, seedLedgerAccount(t, ledger, domain.RoleResearcher, 0))

	_, err := svc.AuthorizeDownload(ctx, paperID, accountID)
	if !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 5 {
		t.Fatalf("expected balance unchanged at 5, got %d", balance)
	}
	history, _ := svc.GetHistory(ctx, accountID)
	if len(history) != 1 {
		t.Fatalf("expected only the seed credit in history, got %d entries", len(history))
	}
	if _, err := svc.ConsumeDownload(ctx, paperID, accountID); !errors.Is(err, store.ErrGrantNotFound) {
		t.Fatalf("expected no grant after failed authorize, got %v", err)
	}
}

func TestAuthorizeDownload_ConcurrentSpendOneWins(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 15)
	paperID := seedLedgerPaper(t, ledger, seedLedgerAccount(t, ledger, domain.RoleResearcher, 0))

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = svc.AuthorizeDownload(ctx, paperID, accountID)
		}(i)
	}
	wg.Wait()

	var successes int
	for _, err := range results {
		if err == nil {
			successes++
			continue
		}
		if !errors.Is(err, store.ErrInsufficientFunds) && !errors.Is(err, store.ErrGrantAlreadyActive) {
			t.Fatalf("unexpected failure mode: %v", err)
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one authorize to win, got %d", successes)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 5 {
		t.Fatalf("expected balance 5 after a single debit, got %d", balance)
	}
}

func TestRecordUpload_ThreeAuthorsCreditedOnce(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	authors := []uuid.UUID{
		seedLedgerAccount(t, ledger, domain.RoleResearcher, 0),
		seedLedgerAccount(t, ledger, domain.RoleResearcher, 0),
		seedLedgerAccount(t, ledger, domain.RoleMember, 0),
	}

	_, distribution, err := svc.RecordUpload(ctx, domain.RecordUploadRequest{
		Title:     "On Hashing",
		FileKey:   "papers/on-hashing.pdf",
		AuthorIDs: authors,
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(distribution.Credited) != 3 {
		t.Fatalf("expected three credits, got %d", len(distribution.Credited))
	}

	var total int64
	for _, authorID := range authors {
		history, _ := svc.GetHistory(ctx, authorID)
		if len(history) != 1 || history[0].Kind != domain.KindUploadReward || history[0].Amount != 100 {
			t.Fatalf("author %s: expected exactly one +100 upload reward, got %+v", authorID, history)
		}
		total += history[0].Amount
	}
	if total != 300 {
		t.Fatalf("expected total ledger credit 300, got %d", total)
	}
}

func TestRecordUpload_InvalidAuthorCreatesNoTransactions(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	validID := seedLedgerAccount(t, ledger, domain.RoleResearcher, 0)
	bogusID := uuid.New()

	paperID := uuid.New()
	_, _, err := svc.RecordUpload(ctx, domain.RecordUploadRequest{
		PaperID:   paperID,
		Title:     "On Hashing",
		AuthorIDs: []uuid.UUID{validID, bogusID},
	})
	if !errors.Is(err, store.ErrUnknownAuthor) {
		t.Fatalf("expected ErrUnknownAuthor, got %v", err)
	}

	history, _ := svc.GetHistory(ctx, validID)
	if len(history) != 0 {
		t.Fatalf("expected zero transactions after failed batch, got %d", len(history))
	}
	if _, err := ledger.FindPaperByID(ctx, paperID); !errors.Is(err, store.ErrPaperNotFound) {
		t.Fatalf("expected no paper registered after failed batch, got %v", err)
	}
}

func TestRecordLogin_SecondLoginWithinWindowIneligible(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 0)

	first, err := svc.RecordLogin(ctx, accountID)
	if err != nil {
		t.Fatalf("first login failed: %v", err)
	}
	if !first.BonusGranted || first.Balance != 10 {
		t.Fatalf("expected first login to grant +10, got %+v", first)
	}

	second, err := svc.RecordLogin(ctx, accountID)
	if err != nil {
		t.Fatalf("second login failed: %v", err)
	}
	if second.BonusGranted {
		t.Fatal("expected second login inside the window to grant nothing")
	}
	if second.RetryAfterSeconds <= 0 {
		t.Fatalf("expected a retry hint, got %d", second.RetryAfterSeconds)
	}

	history, _ := svc.GetHistory(ctx, accountID)
	if len(history) != 1 {
		t.Fatalf("expected exactly one bonus transaction, got %d", len(history))
	}
}

func TestSubmitFeedback_ConcurrentClaimsSingleReward(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	reviewerID := seedLedgerAccount(t, ledger, domain.RoleMember, 0)
	paperID := seedLedgerPaper(t, ledger, seedLedgerAccount(t, ledger, domain.RoleResearcher, 0))

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, results[slot] = svc.SubmitFeedback(ctx, paperID, reviewerID, domain.SubmitFeedbackRequest{Content: "solid methodology"})
		}(i)
	}
	wg.Wait()

	var successes, duplicates int
	for _, err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrDuplicateFeedback):
			duplicates++
		default:
			t.Fatalf("unexpected failure mode: %v", err)
		}
	}
	if successes != 1 || duplicates != 1 {
		t.Fatalf("expected one success and one duplicate, got %d/%d", successes, duplicates)
	}

	history, _ := svc.GetHistory(ctx, reviewerID)
	if len(history) != 1 || history[0].Kind != domain.KindFeedbackReward {
		t.Fatalf("expected exactly one feedback reward, got %+v", history)
	}
}

func TestConsumeDownload_ReplayNeverServesTwice(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 20)
	paperID := seedLedgerPaper(t, ledger, seedLedgerAccount(t, ledger, domain.RoleResearcher, 0))

	if _, err := svc.AuthorizeDownload(ctx, paperID, accountID); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	delivery, err := svc.ConsumeDownload(ctx, paperID, accountID)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if delivery.FileKey != "papers/on-hashing.pdf" || delivery.DownloadCount != 1 {
		t.Fatalf("unexpected delivery %+v", delivery)
	}

	if _, err := svc.ConsumeDownload(ctx, paperID, accountID); !errors.Is(err, store.ErrGrantAlreadyConsumed) {
		t.Fatalf("expected replay to fail ErrGrantAlreadyConsumed, got %v", err)
	}

	paper, _ := ledger.FindPaperByID(ctx, paperID)
	if paper.DownloadCount != 1 {
		t.Fatalf("expected download count to stay 1 after replay, got %d", paper.DownloadCount)
	}
}

func TestConsumeDownload_ExpiredGrantNotRefunded(t *testing.T) {
	ledger := newMemoryLedger()
	svc := newTestService(ledger, &publisherStub{})
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 50)
	paperID := seedLedgerPaper(t, ledger, seedLedgerAccount(t, ledger, domain.RoleResearcher, 0))

	base := time.Now()
	ledger.clock = func() time.Time { return base }

	if _, err := svc.AuthorizeDownload(ctx, paperID, accountID); err != nil {
		t.Fatalf("authorize failed: %v", err)
	}

	// Past the default grant window.
	ledger.clock = func() time.Time { return base.Add(DefaultGrantTTL + time.Minute) }

	if _, err := svc.ConsumeDownload(ctx, paperID, accountID); !errors.Is(err, store.ErrGrantExpired) {
		t.Fatalf("expected ErrGrantExpired, got %v", err)
	}

	balance, _ := svc.GetBalance(ctx, accountID)
	if balance != 40 {
		t.Fatalf("expected debit to stand after expiry, got balance %d", balance)
	}

	// A fresh authorize retires the stale grant and charges again.
	if _, err := svc.AuthorizeDownload(ctx, paperID, accountID); err != nil {
		t.Fatalf("re-authorize after expiry failed: %v", err)
	}
	balance, _ = svc.GetBalance(ctx, accountID)
	if balance != 30 {
		t.Fatalf("expected a second debit with no refund, got balance %d", balance)
	}
}

func TestDebit_InsufficientFundsLeavesHistoryUntouched(t *testing.T) {
	ledger := newMemoryLedger()
	ctx := context.Background()

	accountID := seedLedgerAccount(t, ledger, domain.RoleMember, 5)

	if _, err := ledger.Debit(ctx, accountID, 10, domain.KindDownloadDebit, nil); !errors.Is(err, store.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	history, _ := ledger.FindTransactionsByAccountID(ctx, accountID)
	if len(history) != 1 {
		t.Fatalf("expected only the seed credit after failed debit, got %d entries", len(history))
	}

	result, err := ledger.Debit(ctx, accountID, 5, domain.KindDownloadDebit, nil)
	if err != nil {
		t.Fatalf("covered debit failed: %v", err)
	}
	if result.Transaction.Amount != -5 || result.Transaction.BalanceAfter != 0 {
		t.Fatalf("expected -5 debit to balance 0, got %+v", result.Transaction)
	}
}

func TestDebit_AdminAccountSkipped(t *testing.T) {
	ledger := newMemoryLedger()
	ctx := context.Background()

	adminID := seedLedgerAccount(t, ledger, domain.RoleAdmin, 0)

	result, err := ledger.Debit(ctx, adminID, 10, domain.KindDownloadDebit, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Skipped || result.Transaction != nil {
		t.Fatalf("expected skipped result for admin debit, got %+v", result)
	}
	history, _ := ledger.FindTransactionsByAccountID(ctx, adminID)
	if len(history) != 0 {
		t.Fatalf("expected no ledger entries for admin, got %d", len(history))
	}
}
