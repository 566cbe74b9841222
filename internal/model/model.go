// Package model содержит доменные сущности сервиса кампусных баллов.
package model

import "time"

// Role определяет роль пользователя в системе.
type Role string

const (
	RoleStudent  Role = "student"
	RoleVerifier Role = "verifier"
	RoleAdmin    Role = "admin"
)

// User представляет зарегистрированного пользователя вместе со счётом баллов.
type User struct {
	ID              int64
	Login           string
	PasswordHash    []byte
	Role            Role
	College         string
	Batch           string
	PointsBalance   int64
	LifetimePoints  int64
	LastPointsReset *time.Time
	CreatedAt       time.Time
}

// LedgerKind описывает тип движения баллов в журнале.
type LedgerKind string

const (
	LedgerCredit LedgerKind = "credit"
	LedgerDebit  LedgerKind = "debit"
	LedgerReset  LedgerKind = "reset"
)

// Типы сущностей, на которые может ссылаться запись журнала.
const (
	RefSubmission = "submission"
	RefRedemption = "redemption"
	RefManual     = "manual"
)

// LedgerEntry — неизменяемая запись о движении баллов. Записи только
// добавляются, никогда не обновляются и не удаляются.
type LedgerEntry struct {
	ID            int64
	UserID        int64
	Amount        int64
	Kind          LedgerKind
	Reason        string
	ReferenceID   *int64
	ReferenceKind *string
	CreatedAt     time.Time
}

// SubmissionStatus описывает состояние заявки на достижение.
type SubmissionStatus string

const (
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionApproved SubmissionStatus = "approved"
	SubmissionRejected SubmissionStatus = "rejected"
	SubmissionResubmit SubmissionStatus = "resubmit"
)

// Submission описывает заявку студента на подтверждение достижения.
type Submission struct {
	ID              int64
	StudentID       int64
	Title           string
	Category        string
	Description     string
	EvidenceURL     string
	EvidenceImage   string
	EvidenceHash    string
	Status          SubmissionStatus
	PointsAwarded   *int64
	VerifiedBy      *int64
	RejectionReason string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Reward описывает позицию каталога наград.
type Reward struct {
	ID         int64
	Name       string
	PointsCost int64
	Stock      int64
	Category   string
	IsDeleted  bool
}

// RedemptionStatus описывает состояние обмена баллов на награду.
type RedemptionStatus string

const (
	RedemptionPending   RedemptionStatus = "pending"
	RedemptionFulfilled RedemptionStatus = "fulfilled"
	RedemptionCancelled RedemptionStatus = "cancelled"
)

// Redemption описывает факт обмена баллов на награду из каталога.
type Redemption struct {
	ID         int64
	UserID     int64
	RewardID   int64
	Status     RedemptionStatus
	RedeemedAt time.Time
}

// Badge описывает уровень значка из статического каталога.
type Badge struct {
	ID             int64
	Name           string
	PointsRequired int64
}

// ReactionType — тип реакции на публикацию достижения.
type ReactionType string

const (
	ReactionR1 ReactionType = "r1"
	ReactionR2 ReactionType = "r2"
	ReactionR3 ReactionType = "r3"
	ReactionR4 ReactionType = "r4"
	ReactionR5 ReactionType = "r5"
)

// ValidReactionType возвращает true, если тип реакции известен системе.
func ValidReactionType(t ReactionType) bool {
	switch t {
	case ReactionR1, ReactionR2, ReactionR3, ReactionR4, ReactionR5:
		return true
	}
	return false
}

// ReactionCounts содержит счётчики реакций публикации по типам.
type ReactionCounts map[ReactionType]int64

// ReactionResult содержит итог операции с реакцией: счётчики публикации
// и текущая реакция пользователя (nil, если реакция снята).
type ReactionResult struct {
	Counts       ReactionCounts
	UserReaction *ReactionType
}

// AchieverPost — публичная запись об утверждённом достижении.
type AchieverPost struct {
	ID           int64
	SubmissionID int64
	UserID       int64
	Title        string
	Category     string
	PublishedAt  time.Time
	Reactions    ReactionCounts
}

// SemesterConfig задаёт окно семестра для колледжа и набора.
type SemesterConfig struct {
	ID          int64
	CollegeName string
	Batch       string
	Semester    string
	StartDate   time.Time
	EndDate     time.Time
}

// Balance содержит текущий счёт пользователя и набор полученных значков.
type Balance struct {
	Current  int64    `json:"current"`
	Lifetime int64    `json:"lifetime"`
	Badges   []string `json:"badges"`
}
