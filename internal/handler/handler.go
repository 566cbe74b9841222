// Package handler содержит HTTP-обработчики API сервиса кампусных баллов.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/mmeshcher/campus-rewards-system/internal/middleware"
	"github.com/mmeshcher/campus-rewards-system/internal/model"
	"github.com/mmeshcher/campus-rewards-system/internal/repository"
	"github.com/mmeshcher/campus-rewards-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password, college, batch string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (*model.User, error)
	SubmitAchievement(ctx context.Context, studentID int64, in service.SubmissionInput) (*model.Submission, error)
	EditSubmission(ctx context.Context, requesterID, submissionID int64, in service.SubmissionInput) (*model.Submission, error)
	VerifySubmission(ctx context.Context, verifierID, submissionID int64, decision string, pointsOverride *int64, reason string) (*model.Submission, error)
	AwardPoints(ctx context.Context, userID, amount int64, reason string, refID int64, refKind string) error
	RedeemReward(ctx context.Context, userID, rewardID int64) (*model.Redemption, error)
	ListRewards(ctx context.Context) ([]model.Reward, error)
	SetReaction(ctx context.Context, userID, postID int64, t model.ReactionType) (*model.ReactionResult, error)
	GetAchieverPost(ctx context.Context, postID int64) (*model.AchieverPost, error)
	GetSubmissionPost(ctx context.Context, submissionID int64) (*model.AchieverPost, error)
	GetBalance(ctx context.Context, userID int64) (*model.Balance, error)
	GetLedger(ctx context.Context, userID int64) ([]model.LedgerEntry, error)
	RegisterDeviceToken(ctx context.Context, userID int64, token string) error
}

// Handler реализует HTTP-обработчики API сервиса кампусных баллов.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
	validate       *validator.Validate
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
		validate:       validator.New(),
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, kind, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: kind, Message: message})
}

// writeServiceError транслирует типовые бизнес-ошибки в HTTP-статусы.
// Неожиданные ошибки логируются и становятся 500.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, "duplicate_submission", "an identical achievement has already been submitted")
	case errors.Is(err, repository.ErrAlreadyProcessed):
		writeError(w, http.StatusConflict, "already_processed", "submission has already been verified")
	case errors.Is(err, repository.ErrSubmissionLocked):
		writeError(w, http.StatusConflict, "submission_locked", "approved submissions cannot be edited")
	case errors.Is(err, repository.ErrAlreadyReacted):
		writeError(w, http.StatusConflict, "already_reacted", "reaction already recorded, retry to change it")
	case errors.Is(err, repository.ErrOutOfStock):
		writeError(w, http.StatusConflict, "out_of_stock", "reward is out of stock")
	case errors.Is(err, repository.ErrInsufficientPoints):
		writeError(w, http.StatusPaymentRequired, "insufficient_points", "not enough points for this reward")
	case errors.Is(err, repository.ErrUserExists):
		writeError(w, http.StatusConflict, "user_exists", "login is already taken")
	case errors.Is(err, repository.ErrSubmissionNotFound),
		errors.Is(err, repository.ErrRewardNotFound),
		errors.Is(err, repository.ErrPostNotFound),
		errors.Is(err, repository.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrNotOwner):
		writeError(w, http.StatusForbidden, "not_owner", "only the submitting student can edit this achievement")
	case errors.Is(err, service.ErrEvidenceRequired),
		errors.Is(err, service.ErrInvalidReaction),
		errors.Is(err, service.ErrInvalidDecision),
		errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "validation", err.Error())
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireRole(w http.ResponseWriter, r *http.Request, roles ...model.Role) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized))
		return 0, false
	}

	role, _ := middleware.GetUserRoleFromContext(r.Context())
	for _, allowed := range roles {
		if role == allowed {
			return userID, true
		}
	}

	writeError(w, http.StatusForbidden, "forbidden", "operation is not permitted for this role")
	return 0, false
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, name), 10, 64)
}

type credentialsRequest struct {
	Login    string `json:"login" validate:"required"`
	Password string `json:"password" validate:"required"`
	College  string `json:"college"`
	Batch    string `json:"batch"`
}

// Register обрабатывает регистрацию нового студента.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password, req.College, req.Batch)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID, model.RoleStudent)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию пользователя и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}

	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "validation", "login and password are required")
		return
	}

	user, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid login or password")
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", http.StatusText(http.StatusInternalServerError))
		return
	}

	h.authMiddleware.SetAuthCookie(w, user.ID, user.Role)
	w.WriteHeader(http.StatusOK)
}

type submissionRequest struct {
	Title         string `json:"title" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Description   string `json:"description"`
	EvidenceURL   string `json:"evidence_url" validate:"omitempty,url"`
	EvidenceImage string `json:"evidence_image"`
}

func (req submissionRequest) input() service.SubmissionInput {
	return service.SubmissionInput{
		Title:         req.Title,
		Category:      req.Category,
		Description:   req.Description,
		EvidenceURL:   req.EvidenceURL,
		EvidenceImage: req.EvidenceImage,
	}
}

type submissionResponse struct {
	ID              int64  `json:"id"`
	Title           string `json:"title"`
	Category        string `json:"category"`
	Description     string `json:"description,omitempty"`
	EvidenceURL     string `json:"evidence_url,omitempty"`
	EvidenceImage   string `json:"evidence_image,omitempty"`
	Status          string `json:"status"`
	PointsAwarded   *int64 `json:"points_awarded,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toSubmissionResponse(s *model.Submission) submissionResponse {
	return submissionResponse{
		ID:              s.ID,
		Title:           s.Title,
		Category:        s.Category,
		Description:     s.Description,
		EvidenceURL:     s.EvidenceURL,
		EvidenceImage:   s.EvidenceImage,
		Status:          string(s.Status),
		PointsAwarded:   s.PointsAwarded,
		RejectionReason: s.RejectionReason,
		CreatedAt:       s.CreatedAt.Format(time.RFC3339),
	}
}

// SubmitAchievement принимает заявку на достижение от текущего студента.
func (h *Handler) SubmitAchievement(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireRole(w, r, model.RoleStudent)
	if !ok {
		return
	}

	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	sub, err := h.service.SubmitAchievement(r.Context(), userID, req.input())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSubmissionResponse(sub))
}

// EditSubmission изменяет заявку владельца и возвращает её в pending.
func (h *Handler) EditSubmission(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireRole(w, r, model.RoleStudent)
	if !ok {
		return
	}

	submissionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid submission id")
		return
	}

	var req submissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	sub, err := h.service.EditSubmission(r.Context(), userID, submissionID, req.input())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

type verifyRequest struct {
	Decision string `json:"decision" validate:"required"`
	Points   *int64 `json:"points,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// VerifySubmission выполняет решение проверяющего по заявке.
func (h *Handler) VerifySubmission(w http.ResponseWriter, r *http.Request) {
	verifierID, ok := requireRole(w, r, model.RoleVerifier, model.RoleAdmin)
	if !ok {
		return
	}

	submissionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid submission id")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	sub, err := h.service.VerifySubmission(r.Context(), verifierID, submissionID, req.Decision, req.Points, req.Reason)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

type awardRequest struct {
	UserID int64  `json:"user_id" validate:"required"`
	Amount int64  `json:"amount" validate:"required"`
	Reason string `json:"reason" validate:"required"`
	RefID  int64  `json:"reference_id" validate:"required"`
}

// AwardPoints выполняет ручное начисление баллов администратором.
func (h *Handler) AwardPoints(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireRole(w, r, model.RoleAdmin); !ok {
		return
	}

	var req awardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	if err := h.service.AwardPoints(r.Context(), req.UserID, req.Amount, req.Reason, req.RefID, model.RefManual); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type rewardResponse struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	PointsCost int64  `json:"points_cost"`
	Stock      int64  `json:"stock"`
	Category   string `json:"category,omitempty"`
}

// ListRewards возвращает каталог наград.
func (h *Handler) ListRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if len(rewards) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, rewardResponse{
			ID:         rw.ID,
			Name:       rw.Name,
			PointsCost: rw.PointsCost,
			Stock:      rw.Stock,
			Category:   rw.Category,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

type redemptionResponse struct {
	ID         int64  `json:"id"`
	RewardID   int64  `json:"reward_id"`
	Status     string `json:"status"`
	RedeemedAt string `json:"redeemed_at"`
}

// RedeemReward обменивает баллы текущего студента на награду.
func (h *Handler) RedeemReward(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireRole(w, r, model.RoleStudent)
	if !ok {
		return
	}

	rewardID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid reward id")
		return
	}

	redemption, err := h.service.RedeemReward(r.Context(), userID, rewardID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, redemptionResponse{
		ID:         redemption.ID,
		RewardID:   redemption.RewardID,
		Status:     string(redemption.Status),
		RedeemedAt: redemption.RedeemedAt.Format(time.RFC3339),
	})
}

type reactionRequest struct {
	Type string `json:"type" validate:"required"`
}

type reactionResponse struct {
	Counts       map[string]int64 `json:"counts"`
	UserReaction *string          `json:"user_reaction"`
}

func toReactionResponse(res *model.ReactionResult) reactionResponse {
	counts := make(map[string]int64, len(res.Counts))
	for k, v := range res.Counts {
		counts[string(k)] = v
	}

	var userReaction *string
	if res.UserReaction != nil {
		s := string(*res.UserReaction)
		userReaction = &s
	}

	return reactionResponse{Counts: counts, UserReaction: userReaction}
}

// SetReaction устанавливает, снимает или переключает реакцию текущего пользователя.
func (h *Handler) SetReaction(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized))
		return
	}

	postID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid post id")
		return
	}

	var req reactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	result, err := h.service.SetReaction(r.Context(), userID, postID, model.ReactionType(req.Type))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toReactionResponse(result))
}

type achieverPostResponse struct {
	ID          int64            `json:"id"`
	Title       string           `json:"title"`
	Category    string           `json:"category"`
	PublishedAt string           `json:"published_at"`
	Reactions   map[string]int64 `json:"reactions"`
}

func toAchieverPostResponse(post *model.AchieverPost) achieverPostResponse {
	counts := make(map[string]int64, len(post.Reactions))
	for k, v := range post.Reactions {
		counts[string(k)] = v
	}

	return achieverPostResponse{
		ID:          post.ID,
		Title:       post.Title,
		Category:    post.Category,
		PublishedAt: post.PublishedAt.Format(time.RFC3339),
		Reactions:   counts,
	}
}

// GetAchieverPost возвращает публикацию достижения со счётчиками реакций.
func (h *Handler) GetAchieverPost(w http.ResponseWriter, r *http.Request) {
	postID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid post id")
		return
	}

	post, err := h.service.GetAchieverPost(r.Context(), postID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAchieverPostResponse(post))
}

// GetSubmissionPost возвращает публикацию, созданную для утверждённой заявки.
func (h *Handler) GetSubmissionPost(w http.ResponseWriter, r *http.Request) {
	submissionID, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid submission id")
		return
	}

	post, err := h.service.GetSubmissionPost(r.Context(), submissionID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toAchieverPostResponse(post))
}

// GetBalance возвращает счёт текущего пользователя.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized))
		return
	}

	balance, err := h.service.GetBalance(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, balance)
}

type deviceTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

// RegisterDeviceToken регистрирует токен устройства текущего пользователя
// для push-уведомлений. Повторная регистрация токена не является ошибкой.
func (h *Handler) RegisterDeviceToken(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized))
		return
	}

	var req deviceTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	if err := h.service.RegisterDeviceToken(r.Context(), userID, req.Token); err != nil {
		h.writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type ledgerEntryResponse struct {
	Amount        int64  `json:"amount"`
	Kind          string `json:"kind"`
	Reason        string `json:"reason,omitempty"`
	ReferenceKind string `json:"reference_kind,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// GetLedger возвращает историю движений баллов текущего пользователя.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", http.StatusText(http.StatusUnauthorized))
		return
	}

	entries, err := h.service.GetLedger(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if len(entries) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]ledgerEntryResponse, 0, len(entries))
	for _, e := range entries {
		item := ledgerEntryResponse{
			Amount:    e.Amount,
			Kind:      string(e.Kind),
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt.Format(time.RFC3339),
		}
		if e.ReferenceKind != nil {
			item.ReferenceKind = *e.ReferenceKind
		}
		resp = append(resp, item)
	}

	writeJSON(w, http.StatusOK, resp)
}
