// Package service реализует бизнес-логику сервиса кампусных баллов.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/campus-rewards-system/internal/evidence"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
	"github.com/mmeshcher/campus-rewards-system/internal/notification"
)

// ErrNotOwner возвращается при попытке изменить чужую заявку.
var (
	ErrNotOwner = errors.New("submission belongs to another student")
	// ErrEvidenceRequired возвращается, если в заявке не ровно один источник доказательства.
	ErrEvidenceRequired = errors.New("exactly one of evidence url or image is required")
	// ErrInvalidReaction возвращается для неизвестного типа реакции.
	ErrInvalidReaction = errors.New("unknown reaction type")
	// ErrInvalidDecision возвращается для неизвестного решения проверяющего.
	ErrInvalidDecision = errors.New("decision must be approved or rejected")
	// ErrInvalidAmount возвращается при попытке начислить неположительную сумму.
	ErrInvalidAmount = errors.New("award amount must be positive")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Решения проверяющего по заявке.
const (
	DecisionApproved = "approved"
	DecisionRejected = "rejected"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte, role model.Role, college, batch string) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, id int64) (*model.User, error)
	CreateSubmission(ctx context.Context, s *model.Submission) (int64, error)
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	UpdateSubmission(ctx context.Context, s *model.Submission) (*model.Submission, error)
	ApproveSubmission(ctx context.Context, id, verifierID int64, override *int64, defaultPoints int64) (*model.Submission, error)
	RejectSubmission(ctx context.Context, id, verifierID int64, reason string) (*model.Submission, error)
	AwardPoints(ctx context.Context, userID, amount int64, reason string, refID int64, refKind string) error
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetLedgerByUser(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	CheckAndReset(ctx context.Context, userID int64, now time.Time) error
	ListRewards(ctx context.Context) ([]model.Reward, error)
	CreateRedemption(ctx context.Context, userID, rewardID int64) (*model.Redemption, error)
	GetAchieverPost(ctx context.Context, postID int64) (*model.AchieverPost, error)
	GetAchieverPostBySubmission(ctx context.Context, submissionID int64) (*model.AchieverPost, error)
	SetReaction(ctx context.Context, userID, postID int64, t model.ReactionType) (*model.ReactionResult, error)
	RegisterDeviceToken(ctx context.Context, userID int64, token string) error
	GetDeviceTokens(ctx context.Context, userID int64) ([]string, error)
}

// Service содержит бизнес-логику сервиса кампусных баллов.
type Service struct {
	repo               Repository
	notifyClient       *notification.Client
	logger             *zap.Logger
	defaultAwardPoints int64
}

// NewService создаёт новый сервис с указанным репозиторием и клиентом уведомлений.
func NewService(repo Repository, notifyClient *notification.Client, logger *zap.Logger, defaultAwardPoints int64) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultAwardPoints <= 0 {
		defaultAwardPoints = 100
	}
	return &Service{
		repo:               repo,
		notifyClient:       notifyClient,
		logger:             logger,
		defaultAwardPoints: defaultAwardPoints,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового студента.
func (s *Service) RegisterUser(ctx context.Context, login, password, college, batch string) (int64, error) {
	hashed := hashPassword(login, password)
	return s.repo.CreateUser(ctx, login, hashed, model.RoleStudent, college, batch)
}

// AuthenticateUser проверяет логин и пароль пользователя.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (*model.User, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return nil, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// SubmissionInput содержит поля заявки, задаваемые студентом.
type SubmissionInput struct {
	Title         string
	Category      string
	Description   string
	EvidenceURL   string
	EvidenceImage string
}

func (in SubmissionInput) evidenceSource() (string, error) {
	switch {
	case in.EvidenceURL != "" && in.EvidenceImage == "":
		return in.EvidenceURL, nil
	case in.EvidenceURL == "" && in.EvidenceImage != "":
		return in.EvidenceImage, nil
	default:
		return "", ErrEvidenceRequired
	}
}

// SubmitAchievement создаёт заявку на достижение в состоянии pending.
// Заявка с уже известным отпечатком доказательства отклоняется.
func (s *Service) SubmitAchievement(ctx context.Context, studentID int64, in SubmissionInput) (*model.Submission, error) {
	source, err := in.evidenceSource()
	if err != nil {
		return nil, err
	}

	sub := &model.Submission{
		StudentID:     studentID,
		Title:         in.Title,
		Category:      in.Category,
		Description:   in.Description,
		EvidenceURL:   in.EvidenceURL,
		EvidenceImage: in.EvidenceImage,
		EvidenceHash:  evidence.Hash(in.Title, source),
	}

	id, err := s.repo.CreateSubmission(ctx, sub)
	if err != nil {
		return nil, err
	}

	return s.repo.GetSubmission(ctx, id)
}

// EditSubmission изменяет заявку владельца. Редактирование допустимо только
// в состояниях pending, rejected и resubmit; после правки заявка
// возвращается в pending, отпечаток доказательства пересчитывается.
func (s *Service) EditSubmission(ctx context.Context, requesterID, submissionID int64, in SubmissionInput) (*model.Submission, error) {
	existing, err := s.repo.GetSubmission(ctx, submissionID)
	if err != nil {
		return nil, err
	}

	if existing.StudentID != requesterID {
		return nil, ErrNotOwner
	}

	source, err := in.evidenceSource()
	if err != nil {
		return nil, err
	}

	updated := &model.Submission{
		ID:            submissionID,
		Title:         in.Title,
		Category:      in.Category,
		Description:   in.Description,
		EvidenceURL:   in.EvidenceURL,
		EvidenceImage: in.EvidenceImage,
		EvidenceHash:  evidence.Hash(in.Title, source),
	}

	return s.repo.UpdateSubmission(ctx, updated)
}

// VerifySubmission выполняет решение проверяющего по заявке. Утверждение
// начисляет баллы и публикует запись о достижении; уведомление студенту
// отправляется после фиксации транзакции и не влияет на результат.
func (s *Service) VerifySubmission(ctx context.Context, verifierID, submissionID int64, decision string, pointsOverride *int64, reason string) (*model.Submission, error) {
	switch decision {
	case DecisionApproved:
		sub, err := s.repo.ApproveSubmission(ctx, submissionID, verifierID, pointsOverride, s.defaultAwardPoints)
		if err != nil {
			return nil, err
		}

		s.notifyApproved(sub)
		return sub, nil

	case DecisionRejected:
		return s.repo.RejectSubmission(ctx, submissionID, verifierID, reason)

	default:
		return nil, ErrInvalidDecision
	}
}

// notifyApproved отправляет push-уведомление об утверждении достижения.
// Доставка best-effort: сбои логируются и никогда не влияют на вызов.
func (s *Service) notifyApproved(sub *model.Submission) {
	if s.notifyClient == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		tokens, err := s.repo.GetDeviceTokens(ctx, sub.StudentID)
		if err != nil {
			s.logger.Warn("get device tokens", zap.Error(err), zap.Int64("studentID", sub.StudentID))
			return
		}
		if len(tokens) == 0 {
			return
		}

		var points int64
		if sub.PointsAwarded != nil {
			points = *sub.PointsAwarded
		}

		err = s.notifyClient.Push(ctx, notification.Payload{
			Tokens: tokens,
			Title:  "Achievement approved",
			Body:   fmt.Sprintf("%s: +%d points", sub.Title, points),
		})
		if err != nil {
			s.logger.Warn("push notification", zap.Error(err), zap.Int64("studentID", sub.StudentID))
		}
	}()
}

// AwardPoints начисляет баллы пользователю. Повторный вызов с той же
// ссылкой не создаёт второй записи журнала.
func (s *Service) AwardPoints(ctx context.Context, userID, amount int64, reason string, refID int64, refKind string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.repo.AwardPoints(ctx, userID, amount, reason, refID, refKind)
}

// RedeemReward обменивает баллы пользователя на награду из каталога.
func (s *Service) RedeemReward(ctx context.Context, userID, rewardID int64) (*model.Redemption, error) {
	return s.repo.CreateRedemption(ctx, userID, rewardID)
}

// ListRewards возвращает доступный каталог наград.
func (s *Service) ListRewards(ctx context.Context) ([]model.Reward, error) {
	return s.repo.ListRewards(ctx)
}

// SetReaction устанавливает, снимает или переключает реакцию пользователя.
func (s *Service) SetReaction(ctx context.Context, userID, postID int64, t model.ReactionType) (*model.ReactionResult, error) {
	if !model.ValidReactionType(t) {
		return nil, ErrInvalidReaction
	}
	return s.repo.SetReaction(ctx, userID, postID, t)
}

// GetAchieverPost возвращает публикацию достижения со счётчиками реакций.
func (s *Service) GetAchieverPost(ctx context.Context, postID int64) (*model.AchieverPost, error) {
	return s.repo.GetAchieverPost(ctx, postID)
}

// GetSubmissionPost возвращает публикацию, созданную для утверждённой заявки.
func (s *Service) GetSubmissionPost(ctx context.Context, submissionID int64) (*model.AchieverPost, error) {
	return s.repo.GetAchieverPostBySubmission(ctx, submissionID)
}

// GetBalance возвращает счёт пользователя. Перед чтением лениво выполняется
// проверка семестрового сброса; её сбой не мешает показать баланс.
func (s *Service) GetBalance(ctx context.Context, userID int64) (*model.Balance, error) {
	if err := s.repo.CheckAndReset(ctx, userID, time.Now()); err != nil {
		s.logger.Warn("semester reset check", zap.Error(err), zap.Int64("userID", userID))
	}
	return s.repo.GetBalance(ctx, userID)
}

// GetLedger возвращает историю движений баллов пользователя.
func (s *Service) GetLedger(ctx context.Context, userID int64) ([]model.LedgerEntry, error) {
	return s.repo.GetLedgerByUser(ctx, userID)
}

// RegisterDeviceToken привязывает токен устройства пользователя,
// на который будут приходить push-уведомления.
func (s *Service) RegisterDeviceToken(ctx context.Context, userID int64, token string) error {
	return s.repo.RegisterDeviceToken(ctx, userID, token)
}
