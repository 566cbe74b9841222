package repository

// Интеграционные тесты хранилища. Выполняются только при заданной
// переменной окружения DATABASE_URI и проверяют транзакционные свойства,
// которые обеспечиваются на уровне SQL: идемпотентность начислений,
// атомарность обмена, законы счётчиков реакций, однократность
// семестрового сброса и защиту от повторных заявок.

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/mmeshcher/campus-rewards-system/internal/model"
)

func newTestRepository(t *testing.T) *PostgresRepository {
	t.Helper()

	dsn := os.Getenv("DATABASE_URI")
	if dsn == "" {
		t.Skip("DATABASE_URI is not set, skipping integration test")
	}

	repo, err := NewPostgresRepository(dsn)
	if err != nil {
		t.Fatalf("init repository: %v", err)
	}
	t.Cleanup(func() {
		repo.Close()
	})

	return repo
}

func uniqueSuffix() string {
	return fmt.Sprintf("%d", time.Now().UnixNano())
}

func createTestUser(t *testing.T, repo *PostgresRepository, role model.Role, college, batch string) int64 {
	t.Helper()

	login := "it-user-" + uniqueSuffix()
	id, err := repo.CreateUser(context.Background(), login, []byte("hash"), role, college, batch)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return id
}

func createTestSubmission(t *testing.T, repo *PostgresRepository, studentID int64) int64 {
	t.Helper()

	suffix := uniqueSuffix()
	id, err := repo.CreateSubmission(context.Background(), &model.Submission{
		StudentID:    studentID,
		Title:        "hackathon " + suffix,
		Category:     "technical",
		EvidenceURL:  "https://example.com/proof/" + suffix,
		EvidenceHash: "hash-" + suffix,
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return id
}

func createTestReward(t *testing.T, repo *PostgresRepository, cost, stock int64) int64 {
	t.Helper()

	var id int64
	err := repo.pool.QueryRow(context.Background(),
		`INSERT INTO rewards (name, points_cost, stock, category)
		 VALUES ($1, $2, $3, 'merch') RETURNING id`,
		"it-reward-"+uniqueSuffix(), cost, stock,
	).Scan(&id)
	if err != nil {
		t.Fatalf("create reward: %v", err)
	}
	return id
}

func rewardStock(t *testing.T, repo *PostgresRepository, rewardID int64) int64 {
	t.Helper()

	var stock int64
	err := repo.pool.QueryRow(context.Background(),
		`SELECT stock FROM rewards WHERE id = $1`,
		rewardID,
	).Scan(&stock)
	if err != nil {
		t.Fatalf("select stock: %v", err)
	}
	return stock
}

func TestAwardPoints_RepeatedReferenceNoOp(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo, model.RoleStudent, "", "")

	if err := repo.AwardPoints(ctx, userID, 150, "first", 1, model.RefManual); err != nil {
		t.Fatalf("first award: %v", err)
	}
	if err := repo.AwardPoints(ctx, userID, 150, "second", 1, model.RefManual); err != nil {
		t.Fatalf("repeated award must be a no-op, got %v", err)
	}

	b, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Current != 150 || b.Lifetime != 150 {
		t.Fatalf("balance = %d/%d, want 150/150", b.Current, b.Lifetime)
	}
	if len(b.Badges) != 1 || b.Badges[0] != "Rising Star" {
		t.Fatalf("badges = %v, want [Rising Star]", b.Badges)
	}

	entries, err := repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	if entries[0].Kind != model.LedgerCredit || entries[0].Amount != 150 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestCreateRedemption_InsufficientPointsLeavesNoEffects(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo, model.RoleStudent, "", "")
	rewardID := createTestReward(t, repo, 500, 3)

	_, err := repo.CreateRedemption(ctx, userID, rewardID)
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}

	if stock := rewardStock(t, repo, rewardID); stock != 3 {
		t.Fatalf("stock = %d, want 3: failed redemption must not touch stock", stock)
	}

	entries, err := repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("ledger entries = %d, want 0", len(entries))
	}

	var redemptions int64
	err = repo.pool.QueryRow(ctx,
		`SELECT count(*) FROM redemptions WHERE user_id = $1`,
		userID,
	).Scan(&redemptions)
	if err != nil {
		t.Fatalf("count redemptions: %v", err)
	}
	if redemptions != 0 {
		t.Fatalf("redemptions = %d, want 0", redemptions)
	}
}

func TestCreateRedemption_CommitsAllEffects(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo, model.RoleStudent, "", "")
	rewardID := createTestReward(t, repo, 500, 3)

	if err := repo.AwardPoints(ctx, userID, 600, "top up", 1, model.RefManual); err != nil {
		t.Fatalf("award: %v", err)
	}

	rd, err := repo.CreateRedemption(ctx, userID, rewardID)
	if err != nil {
		t.Fatalf("create redemption: %v", err)
	}
	if rd.RewardID != rewardID || rd.Status != model.RedemptionPending {
		t.Fatalf("unexpected redemption: %+v", rd)
	}

	b, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Current != 100 || b.Lifetime != 600 {
		t.Fatalf("balance = %d/%d, want 100/600: debit must not touch lifetime", b.Current, b.Lifetime)
	}

	if stock := rewardStock(t, repo, rewardID); stock != 2 {
		t.Fatalf("stock = %d, want 2", stock)
	}

	entries, err := repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	var debit *model.LedgerEntry
	for i := range entries {
		if entries[i].Kind == model.LedgerDebit {
			debit = &entries[i]
		}
	}
	if debit == nil || debit.Amount != -500 {
		t.Fatalf("ledger must contain a -500 debit entry, got %+v", entries)
	}
}

func TestCreateSubmission_DuplicateEvidenceHash(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo, model.RoleStudent, "", "")

	hash := "hash-" + uniqueSuffix()
	sub := &model.Submission{
		StudentID:    userID,
		Title:        "science fair",
		Category:     "academic",
		EvidenceURL:  "https://example.com/proof",
		EvidenceHash: hash,
	}

	if _, err := repo.CreateSubmission(ctx, sub); err != nil {
		t.Fatalf("first submission: %v", err)
	}

	_, err := repo.CreateSubmission(ctx, sub)
	if !errors.Is(err, ErrDuplicateSubmission) {
		t.Fatalf("err = %v, want ErrDuplicateSubmission", err)
	}
}

func TestApproveSubmission_SecondDecisionConflict(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	studentID := createTestUser(t, repo, model.RoleStudent, "", "")
	verifierID := createTestUser(t, repo, model.RoleVerifier, "", "")
	subID := createTestSubmission(t, repo, studentID)

	override := int64(50)
	sub, err := repo.ApproveSubmission(ctx, subID, verifierID, &override, 100)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if sub.Status != model.SubmissionApproved || sub.PointsAwarded == nil || *sub.PointsAwarded != 50 {
		t.Fatalf("unexpected submission: %+v", sub)
	}

	if _, err := repo.ApproveSubmission(ctx, subID, verifierID, &override, 100); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("second approve err = %v, want ErrAlreadyProcessed", err)
	}
	if _, err := repo.RejectSubmission(ctx, subID, verifierID, "late"); !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("reject after approve err = %v, want ErrAlreadyProcessed", err)
	}

	// Повторные решения не меняют счёт: начислено ровно одно.
	b, err := repo.GetBalance(ctx, studentID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Current != 50 {
		t.Fatalf("balance = %d, want 50", b.Current)
	}
}

func TestSetReaction_ToggleAndSwitchLaws(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	studentID := createTestUser(t, repo, model.RoleStudent, "", "")
	verifierID := createTestUser(t, repo, model.RoleVerifier, "", "")
	subID := createTestSubmission(t, repo, studentID)

	override := int64(50)
	if _, err := repo.ApproveSubmission(ctx, subID, verifierID, &override, 100); err != nil {
		t.Fatalf("approve: %v", err)
	}

	post, err := repo.GetAchieverPostBySubmission(ctx, subID)
	if err != nil {
		t.Fatalf("get post by submission: %v", err)
	}
	if post.SubmissionID != subID {
		t.Fatalf("post.SubmissionID = %d, want %d", post.SubmissionID, subID)
	}

	res, err := repo.SetReaction(ctx, studentID, post.ID, model.ReactionR1)
	if err != nil {
		t.Fatalf("first reaction: %v", err)
	}
	if res.Counts[model.ReactionR1] != 1 || res.UserReaction == nil || *res.UserReaction != model.ReactionR1 {
		t.Fatalf("after create: counts=%v user=%v", res.Counts, res.UserReaction)
	}

	// Реакция другого типа переключает: старый счётчик вниз, новый вверх.
	res, err = repo.SetReaction(ctx, studentID, post.ID, model.ReactionR2)
	if err != nil {
		t.Fatalf("switch reaction: %v", err)
	}
	if res.Counts[model.ReactionR1] != 0 || res.Counts[model.ReactionR2] != 1 {
		t.Fatalf("after switch: counts=%v", res.Counts)
	}
	if res.UserReaction == nil || *res.UserReaction != model.ReactionR2 {
		t.Fatalf("after switch: user=%v", res.UserReaction)
	}

	// Повтор того же типа снимает реакцию.
	res, err = repo.SetReaction(ctx, studentID, post.ID, model.ReactionR2)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if res.Counts[model.ReactionR2] != 0 {
		t.Fatalf("after toggle off: counts=%v", res.Counts)
	}
	if res.UserReaction != nil {
		t.Fatalf("after toggle off user reaction must be nil, got %v", *res.UserReaction)
	}
}

func TestCheckAndReset_SecondCallNoOp(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	college := "it-college-" + uniqueSuffix()
	now := time.Now()

	_, err := repo.pool.Exec(ctx,
		`INSERT INTO semester_configs (college_name, batch, semester, start_date, end_date)
		 VALUES ($1, $2, $3, $4, $5)`,
		college, "2026", "spring", now.Add(-24*time.Hour), now.Add(24*time.Hour),
	)
	if err != nil {
		t.Fatalf("insert semester config: %v", err)
	}

	userID := createTestUser(t, repo, model.RoleStudent, college, "2026")
	if err := repo.AwardPoints(ctx, userID, 200, "prep", 1, model.RefManual); err != nil {
		t.Fatalf("award: %v", err)
	}

	if err := repo.CheckAndReset(ctx, userID, now); err != nil {
		t.Fatalf("first reset: %v", err)
	}

	b, err := repo.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if b.Current != 0 || b.Lifetime != 200 {
		t.Fatalf("balance = %d/%d, want 0/200: reset must not touch lifetime", b.Current, b.Lifetime)
	}

	entries, err := repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want 2 (credit + reset)", len(entries))
	}
	var reset *model.LedgerEntry
	for i := range entries {
		if entries[i].Kind == model.LedgerReset {
			reset = &entries[i]
		}
	}
	if reset == nil || reset.Amount != -200 {
		t.Fatalf("ledger must contain a -200 reset entry, got %+v", entries)
	}

	if err := repo.CheckAndReset(ctx, userID, now.Add(time.Hour)); err != nil {
		t.Fatalf("second reset: %v", err)
	}

	entries, err = repo.GetLedgerByUser(ctx, userID)
	if err != nil {
		t.Fatalf("get ledger: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ledger entries after repeated reset = %d, want 2", len(entries))
	}
}

func TestRegisterDeviceToken_Idempotent(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	userID := createTestUser(t, repo, model.RoleStudent, "", "")

	token := "it-token-" + uniqueSuffix()
	if err := repo.RegisterDeviceToken(ctx, userID, token); err != nil {
		t.Fatalf("register token: %v", err)
	}
	if err := repo.RegisterDeviceToken(ctx, userID, token); err != nil {
		t.Fatalf("repeated registration must be a no-op, got %v", err)
	}

	tokens, err := repo.GetDeviceTokens(ctx, userID)
	if err != nil {
		t.Fatalf("get tokens: %v", err)
	}
	if len(tokens) != 1 || tokens[0] != token {
		t.Fatalf("tokens = %v, want [%s]", tokens, token)
	}
}
