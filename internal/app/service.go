/**
 * @description
 * This file contains the core business logic for the points-service. The `Service`
 * struct orchestrates all point movement operations, coordinating between the
 * database repository, the archive-service API client, and the message broker.
 *
 * Key features:
 * - Implements the main use cases: login bonus, upload rewards, feedback
 *   rewards, and the two-phase download spend (authorize then consume).
 * - All balance mutations go through the repository's atomic ledger
 *   operations; this layer never does read-then-write on balances.
 * - Publishes events to RabbitMQ for asynchronous processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/archiveclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hasher/points-service/internal/domain"
	"github.com/hasher/points-service/internal/store"
	"github.com/hasher/points-service/pkg/archiveclient"
	"github.com/hasher/points-service/pkg/rabbitmq"
)

const (
	DefaultDailyBonus     = 10
	DefaultUploadReward   = 100 // per co-author
	DefaultFeedbackReward = 5
	DefaultDownloadCost   = 10
	DefaultGrantTTL       = 15 * time.Minute
)

var (
	// ErrPartialRewardFailure signals that a feedback claim was recorded but
	// the matching reward credit failed. The claim stands; the credit needs
	// operator attention.
	ErrPartialRewardFailure = errors.New("feedback recorded but reward credit failed")

	ErrEmptyFeedback = errors.New("feedback content must not be empty")
	ErrEmptyTitle    = errors.New("paper title must not be empty")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
	ErrNoAuthors     = errors.New("at least one author is required")
	ErrUsernameTaken = errors.New("username already registered")
)

// RewardPolicy holds the tunable point amounts. Zero values fall back to the
// defaults above.
type RewardPolicy struct {
	DailyBonus     int64
	UploadReward   int64
	FeedbackReward int64
	DownloadCost   int64
	GrantTTL       time.Duration
}

func (p RewardPolicy) withDefaults() RewardPolicy {
	if p.DailyBonus <= 0 {
		p.DailyBonus = DefaultDailyBonus
	}
	if p.UploadReward <= 0 {
		p.UploadReward = DefaultUploadReward
	}
	if p.FeedbackReward <= 0 {
		p.FeedbackReward = DefaultFeedbackReward
	}
	if p.DownloadCost <= 0 {
		p.DownloadCost = DefaultDownloadCost
	}
	if p.GrantTTL <= 0 {
		p.GrantTTL = DefaultGrantTTL
	}
	return p
}

// Service provides the core business logic for the points ledger.
type Service struct {
	repo          store.Repository
	archiveClient *archiveclient.Client
	eventProducer rabbitmq.Publisher
	policy        RewardPolicy
	rateLimiter   RateLimiter
	ratePolicy    RateLimitPolicy
}

// NewService creates a new points service instance.
func NewService(repo store.Repository, archive *archiveclient.Client, producer rabbitmq.Publisher, policy RewardPolicy) *Service {
	return &Service{
		repo:          repo,
		archiveClient: archive,
		eventProducer: producer,
		policy:        policy.withDefaults(),
	}
}

// Policy exposes the effective reward amounts, mainly for handlers that echo
// costs back to clients.
func (s *Service) Policy() RewardPolicy {
	return s.policy
}

// ProvisionAccount registers a ledger account for a platform user. Called by
// the auth pipeline when a user signs up; every account starts at balance 0
// with an empty history.
func (s *Service) ProvisionAccount(ctx context.Context, username string, role domain.Role) (*domain.Account, error) {
	username = strings.TrimSpace(username)

	if _, err := s.repo.FindAccountByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}

	account := &domain.Account{
		ID:       uuid.New(),
		Username: username,
		Role:     role,
		Active:   true,
	}
	if err := s.repo.CreateAccount(ctx, account); err != nil {
		// Two concurrent signups for the same username race at the unique
		// index; the loser surfaces the same conflict as the pre-check.
		if errors.Is(err, store.ErrUsernameExists) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	log.Printf("level=info component=service msg=\"account provisioned\" account_id=%s role=%s", account.ID, role)
	return account, nil
}

// RecordLogin applies the daily login bonus for an account. The repository
// decides eligibility under a row lock, so two concurrent logins inside the
// same window can never both credit.
func (s *Service) RecordLogin(ctx context.Context, accountID uuid.UUID) (*domain.LoginResult, error) {
	grant, err := s.repo.GrantDailyBonus(ctx, accountID, s.policy.DailyBonus, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to grant daily bonus: %w", err)
	}

	result := &domain.LoginResult{
		AccountID:    accountID,
		Balance:      grant.Balance,
		BonusGranted: grant.Granted,
	}
	if !grant.Granted && !grant.Skipped {
		result.RetryAfterSeconds = int64(grant.RetryAfter.Seconds())
	}

	if grant.Granted {
		result.Transaction = grant.Transaction
		s.publishLedgerEvent(ctx, "points.bonus_granted", grant.Transaction)
	}
	return result, nil
}

// RecordUpload registers a paper and credits every co-author the upload
// reward as one atomic batch. If any author id is unknown nothing is
// credited and no paper is registered.
func (s *Service) RecordUpload(ctx context.Context, req domain.RecordUploadRequest) (*domain.Paper, *domain.RewardDistribution, error) {
	if len(req.AuthorIDs) == 0 {
		return nil, nil, ErrNoAuthors
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, nil, ErrEmptyTitle
	}

	paperID := req.PaperID
	if paperID == uuid.Nil {
		paperID = uuid.New()
	}

	// Validate and credit the author batch first: a bad author id must fail
	// the whole upload before the paper exists in the ledger.
	distribution, err := s.repo.DistributeUploadReward(ctx, domain.RewardBatch{
		PaperID:         paperID,
		AuthorIDs:       req.AuthorIDs,
		AmountPerAuthor: s.policy.UploadReward,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to distribute upload reward: %w", err)
	}

	// The uploader is the first author. An admin uploader is skipped by the
	// distributor, which also marks the paper as an official publication.
	uploaderID := req.AuthorIDs[0]
	official := false
	for _, id := range distribution.SkippedAdmins {
		if id == uploaderID {
			official = true
			break
		}
	}

	paper := &domain.Paper{
		ID:         paperID,
		Title:      req.Title,
		UploaderID: uploaderID,
		FileKey:    req.FileKey,
		Official:   official,
	}
	if err := s.repo.CreatePaper(ctx, paper); err != nil {
		log.Printf("CRITICAL: upload reward credited but paper %s registration failed: %v", paperID, err)
		return nil, nil, fmt.Errorf("failed to register paper: %w", err)
	}

	credited := make([]uuid.UUID, 0, len(distribution.Credited))
	for i := range distribution.Credited {
		credited = append(credited, distribution.Credited[i].AccountID)
	}
	if s.eventProducer != nil {
		if err := s.eventProducer.Publish(ctx, "hasher.events", "points.reward_distributed", rabbitmq.RewardDistributedEvent{
			PaperID:         paperID,
			CreditedAuthors: credited,
			AmountPerAuthor: s.policy.UploadReward,
			Timestamp:       time.Now().UTC(),
		}); err != nil {
			log.Printf("WARN: failed to publish reward distributed event for paper %s: %v", paperID, err)
		}
	}

	return paper, distribution, nil
}

// SubmitFeedback records feedback on a paper and credits the reviewer the
// feedback reward. The claim is recorded first; the database uniqueness
// constraint rejects a second claim for the same (paper, reviewer) pair. If
// the claim succeeds but the credit fails, the claim is NOT rolled back and
// the caller gets ErrPartialRewardFailure.
func (s *Service) SubmitFeedback(ctx context.Context, paperID, reviewerID uuid.UUID, req domain.SubmitFeedbackRequest) (*domain.FeedbackResult, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyFeedback
	}
	if req.Rating != nil && (*req.Rating < 1 || *req.Rating > 5) {
		return nil, ErrInvalidRating
	}
	if err := s.enforceLimit(ctx, "feedback", s.ratePolicy.FeedbackPerWindow, reviewerID); err != nil {
		return nil, err
	}

	if _, err := s.repo.FindPaperByID(ctx, paperID); err != nil {
		return nil, fmt.Errorf("failed to find paper: %w", err)
	}

	feedback := &domain.Feedback{
		ID:         uuid.New(),
		PaperID:    paperID,
		ReviewerID: reviewerID,
		Content:    req.Content,
		Rating:     req.Rating,
	}
	if err := s.repo.CreateFeedback(ctx, feedback); err != nil {
		return nil, fmt.Errorf("failed to record feedback: %w", err)
	}

	result := &domain.FeedbackResult{Feedback: feedback}

	credit, err := s.repo.Credit(ctx, reviewerID, s.policy.FeedbackReward, domain.KindFeedbackReward, &paperID)
	if err != nil {
		log.Printf("CRITICAL: feedback %s recorded but reward credit for reviewer %s failed: %v", feedback.ID, reviewerID, err)
		result.RewardPending = true
		return result, fmt.Errorf("%w: %v", ErrPartialRewardFailure, err)
	}
	if credit.Skipped {
		result.RewardSkipped = true
		return result, nil
	}

	result.Reward = credit.Transaction
	s.publishLedgerEvent(ctx, "points.credited", credit.Transaction)
	return result, nil
}

// ListFeedback retrieves all feedback for a paper.
func (s *Service) ListFeedback(ctx context.Context, paperID uuid.UUID) ([]domain.Feedback, error) {
	if _, err := s.repo.FindPaperByID(ctx, paperID); err != nil {
		return nil, err
	}
	return s.repo.ListFeedbackByPaperID(ctx, paperID)
}

// AuthorizeDownload is phase one of the download spend: it debits the
// download cost and issues a time-boxed grant as one atomic operation. On
// any failure nothing is charged and no grant exists.
func (s *Service) AuthorizeDownload(ctx context.Context, paperID, accountID uuid.UUID) (*domain.DownloadAuthorization, error) {
	if err := s.enforceLimit(ctx, "download_authorize", s.ratePolicy.DownloadPerWindow, accountID); err != nil {
		return nil, err
	}

	grant, entry, err := s.repo.AuthorizeDownload(ctx, paperID, accountID, s.policy.DownloadCost, s.policy.GrantTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to authorize download: %w", err)
	}

	if entry != nil {
		s.publishLedgerEvent(ctx, "points.debited", entry)
	}
	return &domain.DownloadAuthorization{Grant: grant, Transaction: entry}, nil
}

// ConsumeDownload is phase two: it redeems a previously issued grant,
// increments the paper's download counter, and resolves the file reference
// via the archive-service. Expired grants fail here and are never refunded.
func (s *Service) ConsumeDownload(ctx context.Context, paperID, accountID uuid.UUID) (*domain.DownloadDelivery, error) {
	grant, paper, err := s.repo.ConsumeDownload(ctx, paperID, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume download grant: %w", err)
	}

	delivery := &domain.DownloadDelivery{
		Grant:         grant,
		FileKey:       paper.FileKey,
		DownloadCount: paper.DownloadCount,
	}

	if s.archiveClient != nil {
		signed, err := s.archiveClient.GetSignedDownloadURL(ctx, paper.FileKey)
		if err != nil {
			// The grant is already consumed; the raw file key still lets the
			// caller retry against the archive-service directly.
			log.Printf("WARN: failed to resolve signed url for paper %s: %v", paperID, err)
		} else {
			delivery.FileURL = signed.Data.URL
		}
	}

	if s.eventProducer != nil {
		if err := s.eventProducer.Publish(ctx, "hasher.events", "download.consumed", map[string]interface{}{
			"paper_id":       paperID,
			"account_id":     accountID,
			"download_count": paper.DownloadCount,
			"timestamp":      time.Now().UTC(),
		}); err != nil {
			log.Printf("WARN: failed to publish download consumed event for paper %s: %v", paperID, err)
		}
	}

	return delivery, nil
}

// GetBalance retrieves the current points balance for an account.
func (s *Service) GetBalance(ctx context.Context, accountID uuid.UUID) (int64, error) {
	return s.repo.GetBalance(ctx, accountID)
}

// GetHistory retrieves the full ledger history for an account, oldest first.
func (s *Service) GetHistory(ctx context.Context, accountID uuid.UUID) ([]domain.PointTransaction, error) {
	if _, err := s.repo.FindAccountByID(ctx, accountID); err != nil {
		return nil, err
	}
	return s.repo.FindTransactionsByAccountID(ctx, accountID)
}

// AdminCredit applies an operator-initiated credit to an account. Credits
// against Admin accounts report a skipped result like every other ledger
// operation.
func (s *Service) AdminCredit(ctx context.Context, accountID uuid.UUID, amount int64) (*domain.LedgerResult, error) {
	if amount <= 0 {
		return nil, errors.New("credit amount must be positive")
	}

	result, err := s.repo.Credit(ctx, accountID, amount, domain.KindAdminCredit, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to apply admin credit: %w", err)
	}
	if !result.Skipped {
		s.publishLedgerEvent(ctx, "points.credited", result.Transaction)
	}
	return result, nil
}

// ExpireStaleGrants flips timed-out issued grants to expired. Called by the
// background sweeper; consume rejects stale grants on its own regardless.
func (s *Service) ExpireStaleGrants(ctx context.Context) (int64, error) {
	return s.repo.ExpireStaleGrants(ctx, time.Now().UTC())
}

func (s *Service) publishLedgerEvent(ctx context.Context, routingKey string, entry *domain.PointTransaction) {
	if s.eventProducer == nil || entry == nil {
		return
	}
	event := rabbitmq.LedgerEvent{
		AccountID:    entry.AccountID,
		Amount:       entry.Amount,
		BalanceAfter: entry.BalanceAfter,
		Kind:         string(entry.Kind),
		ReferenceID:  entry.ReferenceID,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.eventProducer.PublishLedgerEvent(ctx, routingKey, event); err != nil {
		log.Printf("WARN: failed to publish ledger event %s for account %s: %v", routingKey, entry.AccountID, err)
	}
}
