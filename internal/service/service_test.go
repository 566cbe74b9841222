package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/campus-rewards-system/internal/model"
	"github.com/mmeshcher/campus-rewards-system/internal/repository"
)

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

type stubRepo struct {
	createSubmissionID  int64
	createSubmissionErr error

	submission    *model.Submission
	submissionErr error

	updatedSubmission *model.Submission
	updateErr         error

	approvedSubmission *model.Submission
	approveErr         error
	approveDefault     int64
	approveOverride    *int64

	awardCalls int
	awardErr   error

	balance    *model.Balance
	balanceErr error

	resetErr    error
	resetCalled bool

	reactionResult *model.ReactionResult
	reactionErr    error

	tokens []string
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role, college, batch string) (int64, error) {
	return 0, nil
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) GetUserByID(ctx context.Context, id int64) (*model.User, error) {
	return nil, repository.ErrUserNotFound
}

func (s *stubRepo) CreateSubmission(ctx context.Context, sub *model.Submission) (int64, error) {
	return s.createSubmissionID, s.createSubmissionErr
}

func (s *stubRepo) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	return s.submission, s.submissionErr
}

func (s *stubRepo) UpdateSubmission(ctx context.Context, sub *model.Submission) (*model.Submission, error) {
	return s.updatedSubmission, s.updateErr
}

func (s *stubRepo) ApproveSubmission(ctx context.Context, id, verifierID int64, override *int64, defaultPoints int64) (*model.Submission, error) {
	s.approveOverride = override
	s.approveDefault = defaultPoints
	return s.approvedSubmission, s.approveErr
}

func (s *stubRepo) RejectSubmission(ctx context.Context, id, verifierID int64, reason string) (*model.Submission, error) {
	return s.submission, s.submissionErr
}

func (s *stubRepo) AwardPoints(ctx context.Context, userID, amount int64, reason string, refID int64, refKind string) error {
	s.awardCalls++
	return s.awardErr
}

func (s *stubRepo) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return nil, nil
}

func (s *stubRepo) CheckAndReset(ctx context.Context, userID int64, now time.Time) error {
	s.resetCalled = true
	return s.resetErr
}

func (s *stubRepo) ListRewards(ctx context.Context) ([]model.Reward, error) {
	return nil, nil
}

func (s *stubRepo) CreateRedemption(ctx context.Context, userID, rewardID int64) (*model.Redemption, error) {
	return nil, nil
}

func (s *stubRepo) GetAchieverPost(ctx context.Context, postID int64) (*model.AchieverPost, error) {
	return nil, repository.ErrPostNotFound
}

func (s *stubRepo) GetAchieverPostBySubmission(ctx context.Context, submissionID int64) (*model.AchieverPost, error) {
	return nil, repository.ErrPostNotFound
}

func (s *stubRepo) RegisterDeviceToken(ctx context.Context, userID int64, token string) error {
	return nil
}

func (s *stubRepo) SetReaction(ctx context.Context, userID, postID int64, t model.ReactionType) (*model.ReactionResult, error) {
	return s.reactionResult, s.reactionErr
}

func (s *stubRepo) GetDeviceTokens(ctx context.Context, userID int64) ([]string, error) {
	return s.tokens, nil
}

func TestSubmitAchievement_RequiresExactlyOneEvidence(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, 100)

	_, err := svc.SubmitAchievement(context.Background(), 1, SubmissionInput{
		Title:    "title",
		Category: "sports",
	})
	if !errors.Is(err, ErrEvidenceRequired) {
		t.Fatalf("no evidence: err = %v, want ErrEvidenceRequired", err)
	}

	_, err = svc.SubmitAchievement(context.Background(), 1, SubmissionInput{
		Title:         "title",
		Category:      "sports",
		EvidenceURL:   "https://example.com/cert.pdf",
		EvidenceImage: "uploads/cert.png",
	})
	if !errors.Is(err, ErrEvidenceRequired) {
		t.Fatalf("both evidences: err = %v, want ErrEvidenceRequired", err)
	}
}

func TestSubmitAchievement_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createSubmissionErr: repository.ErrDuplicateSubmission,
	}
	svc := NewService(repo, nil, nil, 100)

	_, err := svc.SubmitAchievement(context.Background(), 1, SubmissionInput{
		Title:       "title",
		Category:    "sports",
		EvidenceURL: "https://example.com/cert.pdf",
	})
	if !errors.Is(err, repository.ErrDuplicateSubmission) {
		t.Fatalf("err = %v, want ErrDuplicateSubmission", err)
	}
}

func TestEditSubmission_OwnerOnly(t *testing.T) {
	repo := &stubRepo{
		submission: &model.Submission{
			ID:        7,
			StudentID: 2,
			Status:    model.SubmissionRejected,
		},
	}
	svc := NewService(repo, nil, nil, 100)

	_, err := svc.EditSubmission(context.Background(), 1, 7, SubmissionInput{
		Title:       "title",
		Category:    "sports",
		EvidenceURL: "https://example.com/cert.pdf",
	})
	if !errors.Is(err, ErrNotOwner) {
		t.Fatalf("err = %v, want ErrNotOwner", err)
	}
}

func TestVerifySubmission_InvalidDecision(t *testing.T) {
	svc := NewService(&stubRepo{}, nil, nil, 100)

	_, err := svc.VerifySubmission(context.Background(), 1, 7, "maybe", nil, "")
	if !errors.Is(err, ErrInvalidDecision) {
		t.Fatalf("err = %v, want ErrInvalidDecision", err)
	}
}

func TestVerifySubmission_PassesConfiguredDefault(t *testing.T) {
	points := int64(150)
	repo := &stubRepo{
		approvedSubmission: &model.Submission{
			ID:            7,
			StudentID:     2,
			Title:         "title",
			Status:        model.SubmissionApproved,
			PointsAwarded: &points,
		},
	}
	svc := NewService(repo, nil, nil, 250)

	sub, err := svc.VerifySubmission(context.Background(), 1, 7, DecisionApproved, nil, "")
	if err != nil {
		t.Fatalf("VerifySubmission error: %v", err)
	}
	if sub.Status != model.SubmissionApproved {
		t.Fatalf("status = %s, want approved", sub.Status)
	}
	if repo.approveDefault != 250 {
		t.Fatalf("default points = %d, want 250", repo.approveDefault)
	}
	if repo.approveOverride != nil {
		t.Fatalf("override = %v, want nil", repo.approveOverride)
	}
}

func TestVerifySubmission_PropagatesConflict(t *testing.T) {
	repo := &stubRepo{
		approveErr: repository.ErrAlreadyProcessed,
	}
	svc := NewService(repo, nil, nil, 100)

	_, err := svc.VerifySubmission(context.Background(), 1, 7, DecisionApproved, nil, "")
	if !errors.Is(err, repository.ErrAlreadyProcessed) {
		t.Fatalf("err = %v, want ErrAlreadyProcessed", err)
	}
}

func TestAwardPoints_RejectsNonPositiveAmount(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, 100)

	err := svc.AwardPoints(context.Background(), 1, 0, "manual", 1, model.RefManual)
	if !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("err = %v, want ErrInvalidAmount", err)
	}
	if repo.awardCalls != 0 {
		t.Fatalf("repository must not be called for invalid amount")
	}
}

func TestSetReaction_RejectsUnknownType(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo, nil, nil, 100)

	_, err := svc.SetReaction(context.Background(), 1, 1, "r9")
	if !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("err = %v, want ErrInvalidReaction", err)
	}
}

func TestSetReaction_PropagatesRaceConflict(t *testing.T) {
	repo := &stubRepo{
		reactionErr: repository.ErrAlreadyReacted,
	}
	svc := NewService(repo, nil, nil, 100)

	_, err := svc.SetReaction(context.Background(), 1, 1, model.ReactionR1)
	if !errors.Is(err, repository.ErrAlreadyReacted) {
		t.Fatalf("err = %v, want ErrAlreadyReacted", err)
	}
}

func TestGetBalance_ResetFailureDoesNotBlock(t *testing.T) {
	repo := &stubRepo{
		resetErr: errors.New("semester store unavailable"),
		balance:  &model.Balance{Current: 300, Lifetime: 500},
	}
	svc := NewService(repo, nil, nil, 100)

	balance, err := svc.GetBalance(context.Background(), 1)
	if err != nil {
		t.Fatalf("GetBalance error: %v", err)
	}
	if !repo.resetCalled {
		t.Fatalf("reset check must run before reading balance")
	}
	if balance.Current != 300 || balance.Lifetime != 500 {
		t.Fatalf("unexpected balance: %+v", balance)
	}
}
