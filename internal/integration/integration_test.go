package integration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/app"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/memory"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/postgres"
	pgmigrations "github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/postgres/migrations"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/infra/rabbitmq"
	"github.com/jackc/pgx/v4/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"
	"go.uber.org/zap"
)

func sampleKey() domain.AnswerKey {
	return domain.AnswerKey{
		ID: 1,
		Questions: []domain.KeyQuestion{
			{ID: 1, Options: []domain.KeyOption{
				{ID: 10, IsCorrect: true},
				{ID: 11, IsCorrect: false},
			}},
			{ID: 2, Options: []domain.KeyOption{
				{ID: 20, IsCorrect: true},
				{ID: 21, IsCorrect: false},
			}},
		},
	}
}

func TestProcessSubmissionEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, cleanup := startPostgres(t, ctx)
	defer cleanup()
	migrateDB(t, ctx, dsn)

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := postgres.NewResultStore(pool)
	fetcher := memory.NewStaticAnswerKeySource(map[int]domain.AnswerKey{1: sampleKey()})
	service := app.NewScoringService(fetcher, store, zap.NewNop())

	submittedAt := time.Date(2025, 6, 21, 12, 0, 0, 0, time.UTC)
	err = service.Process(ctx, domain.QuizSubmittedEvent{
		QuizID:      1,
		UserID:      42,
		SubmittedAt: submittedAt,
		Answers: []domain.SubmittedAnswer{
			{QuestionID: 1, SelectedOptionID: 10}, // correct
			{QuestionID: 2, SelectedOptionID: 21}, // wrong
		},
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var resultID int64
	var score int
	var completedAt time.Time
	err = pool.QueryRow(ctx,
		`SELECT id, score, completed_at FROM user_results WHERE quiz_id=1 AND user_id=42`,
	).Scan(&resultID, &score, &completedAt)
	if err != nil {
		t.Fatalf("query result: %v", err)
	}
	if score != 1 {
		t.Fatalf("expected persisted score 1, got %d", score)
	}
	if !completedAt.Equal(submittedAt) {
		t.Fatalf("expected completedAt %v, got %v", submittedAt, completedAt)
	}

	rows, err := pool.Query(ctx,
		`SELECT question_id, option_id FROM user_answers WHERE result_id=$1 ORDER BY id`, resultID)
	if err != nil {
		t.Fatalf("query answers: %v", err)
	}
	defer rows.Close()
	var answers []domain.UserAnswer
	for rows.Next() {
		var a domain.UserAnswer
		if err := rows.Scan(&a.QuestionID, &a.OptionID); err != nil {
			t.Fatalf("scan answer: %v", err)
		}
		answers = append(answers, a)
	}
	if len(answers) != 2 {
		t.Fatalf("expected 2 answer rows, got %d", len(answers))
	}
	if answers[0].QuestionID != 1 || answers[0].OptionID != 10 ||
		answers[1].QuestionID != 2 || answers[1].OptionID != 21 {
		t.Fatalf("answer rows out of order: %+v", answers)
	}
}

func TestEmptySubmissionPersistsRootOnly(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, cleanup := startPostgres(t, ctx)
	defer cleanup()
	migrateDB(t, ctx, dsn)

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	store := postgres.NewResultStore(pool)
	fetcher := memory.NewStaticAnswerKeySource(map[int]domain.AnswerKey{1: sampleKey()})
	service := app.NewScoringService(fetcher, store, zap.NewNop())

	err = service.Process(ctx, domain.QuizSubmittedEvent{
		QuizID:      1,
		UserID:      42,
		SubmittedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	var score, children int
	if err := pool.QueryRow(ctx, `SELECT score FROM user_results WHERE user_id=42`).Scan(&score); err != nil {
		t.Fatalf("query result: %v", err)
	}
	if score != 0 {
		t.Fatalf("expected score 0, got %d", score)
	}
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM user_answers`).Scan(&children); err != nil {
		t.Fatalf("count answers: %v", err)
	}
	if children != 0 {
		t.Fatalf("expected no answer rows, got %d", children)
	}
}

// Dropping the child table mid-flight forces the second insert to fail; the
// root row must not survive the rollback.
func TestChildInsertFailureLeavesNoRootRow(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	dsn, cleanup := startPostgres(t, ctx)
	defer cleanup()
	migrateDB(t, ctx, dsn)

	pool, err := pgxpool.Connect(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pg: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `DROP TABLE user_answers`); err != nil {
		t.Fatalf("drop answers table: %v", err)
	}

	store := postgres.NewResultStore(pool)
	fetcher := memory.NewStaticAnswerKeySource(map[int]domain.AnswerKey{1: sampleKey()})
	service := app.NewScoringService(fetcher, store, zap.NewNop())

	err = service.Process(ctx, domain.QuizSubmittedEvent{
		QuizID:      1,
		UserID:      42,
		SubmittedAt: time.Now().UTC(),
		Answers:     []domain.SubmittedAnswer{{QuestionID: 1, SelectedOptionID: 10}},
	})
	if err == nil {
		t.Fatalf("expected persistence failure")
	}

	var roots int
	if err := pool.QueryRow(ctx, `SELECT count(*) FROM user_results`).Scan(&roots); err != nil {
		t.Fatalf("count results: %v", err)
	}
	if roots != 0 {
		t.Fatalf("root row committed despite child failure, count=%d", roots)
	}
}

// flakyStore fails the first save and succeeds afterwards, standing in for
// a database that comes back between deliveries.
type flakyStore struct {
	mu        sync.Mutex
	failures  int
	persisted []*domain.UserResult
}

func (s *flakyStore) NewUnit() app.ResultUnit {
	return &flakyUnit{store: s}
}

type flakyUnit struct {
	store *flakyStore
	begun bool
}

func (u *flakyUnit) Begin(context.Context) error {
	u.begun = true
	return nil
}

func (u *flakyUnit) SaveResult(_ context.Context, res *domain.UserResult) (int64, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()
	if u.store.failures > 0 {
		u.store.failures--
		return 0, errors.New("database unreachable")
	}
	u.store.persisted = append(u.store.persisted, res)
	return int64(len(u.store.persisted)), nil
}

func (u *flakyUnit) Commit(context.Context) error   { return nil }
func (u *flakyUnit) Rollback(context.Context) error { return nil }

func (s *flakyStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.persisted)
}

func TestConsumerRedeliversOnPersistenceFailure(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	amqpURL, cleanup := startRabbit(t, ctx)
	defer cleanup()

	store := &flakyStore{failures: 1}
	fetcher := memory.NewStaticAnswerKeySource(map[int]domain.AnswerKey{1: sampleKey()})
	service := app.NewScoringService(fetcher, store, zap.NewNop())

	consumer := rabbitmq.NewConsumer(rabbitmq.Config{URL: amqpURL}, service, zap.NewNop())
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(runCtx) }()

	publishSubmission(t, ctx, amqpURL,
		`{"quizId":1,"userId":42,"submittedAt":"2025-06-21T12:00:00Z","answers":[{"questionId":1,"selectedOptionId":10}]}`)

	// First delivery fails and is requeued; the redelivery must persist.
	deadline := time.Now().Add(30 * time.Second)
	for store.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("submission never persisted after redelivery")
		}
		time.Sleep(200 * time.Millisecond)
	}
	if store.persisted[0].Score != 1 {
		t.Fatalf("expected score 1, got %d", store.persisted[0].Score)
	}

	stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("consumer shutdown: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func publishSubmission(t *testing.T, ctx context.Context, url, body string) {
	t.Helper()
	conn, err := amqp.Dial(url)
	if err != nil {
		t.Fatalf("dial amqp: %v", err)
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		t.Fatalf("open channel: %v", err)
	}
	defer ch.Close()

	// The consumer declares the topology; wait for the queue to exist so
	// the publish is not dropped.
	deadline := time.Now().Add(30 * time.Second)
	for {
		if _, err := ch.QueueDeclarePassive("quiz_submissions", true, false, false, false, nil); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never declared")
		}
		// A failed passive declare closes the channel.
		ch, err = conn.Channel()
		if err != nil {
			t.Fatalf("reopen channel: %v", err)
		}
		time.Sleep(200 * time.Millisecond)
	}

	err = ch.PublishWithContext(ctx, "quiz_exchange", "quiz_submitted", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        []byte(body),
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())
	defer db.Close()

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	if err := migrator.Init(ctx); err != nil {
		t.Fatalf("migrator init: %v", err)
	}
	if _, err := migrator.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "scoring", "POSTGRES_PASSWORD": "scoringpass", "POSTGRES_DB": "scoringdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://scoring:scoringpass@%s:%s/scoringdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRabbit(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "rabbitmq:3.13-alpine",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForListeningPort("5672/tcp").WithStartupTimeout(90 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start rabbitmq: %v", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("rabbit host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5672/tcp")
	if err != nil {
		t.Fatalf("rabbit port: %v", err)
	}
	url := fmt.Sprintf("amqp://guest:guest@%s:%s/", host, port.Port())
	return url, func() {
		_ = container.Terminate(ctx)
	}
}

func requireDocker(t *testing.T) {
	t.Helper()
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
