package postgres

import (
	"context"
	"fmt"

	"github.com/Muradxanyann/OnlineQuizScoreService/internal/app"
	"github.com/Muradxanyann/OnlineQuizScoreService/internal/domain"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
)

// ResultStore persists scored results into Postgres. Each processed
// submission gets its own UnitOfWork; the store itself holds no
// transactional state.
type ResultStore struct {
	pool *pgxpool.Pool
}

func NewResultStore(pool *pgxpool.Pool) *ResultStore {
	return &ResultStore{pool: pool}
}

// NewUnit implements app.ResultStore.
func (s *ResultStore) NewUnit() app.ResultUnit {
	return &UnitOfWork{pool: s.pool}
}

// UnitOfWork is one transactional scope over the result tables. It owns its
// transaction for its whole lifetime: begun once, then committed or rolled
// back, never reused.
type UnitOfWork struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
	done bool
}

// Begin opens the transaction. Beginning while one is already open is a
// programming defect and panics.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		panic("postgres: transaction already begun on this unit of work")
	}
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	u.tx = tx
	return nil
}

// Commit commits the open transaction. Redundant calls after the unit is
// finished are no-ops.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil || u.done {
		return nil
	}
	u.done = true
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the open transaction. Safe to call redundantly, including
// after Commit or before Begin.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("rollback: %w", err)
	}
	u.done = true
	return nil
}

// SaveResult inserts the aggregate: the root row first, then all answer
// rows stamped with the generated id in one bulk copy. It runs entirely on
// the unit's transaction and never commits; the caller decides the fate of
// the scope.
func (u *UnitOfWork) SaveResult(ctx context.Context, res *domain.UserResult) (int64, error) {
	if u.tx == nil || u.done {
		return 0, domain.ErrNoTransaction
	}

	var resultID int64
	err := u.tx.QueryRow(ctx,
		`INSERT INTO user_results (user_id, quiz_id, score, time_spent, completed_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		res.UserID, res.QuizID, res.Score, res.TimeSpent, res.CompletedAt,
	).Scan(&resultID)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	res.ID = resultID

	// An empty submission still produces a root row.
	if len(res.Answers) == 0 {
		return resultID, nil
	}

	rows := make([][]interface{}, 0, len(res.Answers))
	for i := range res.Answers {
		res.Answers[i].ResultID = resultID
		rows = append(rows, []interface{}{resultID, res.Answers[i].QuestionID, res.Answers[i].OptionID})
	}

	_, err = u.tx.CopyFrom(ctx,
		pgx.Identifier{"user_answers"},
		[]string{"result_id", "question_id", "option_id"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("insert answers: %w", err)
	}
	return resultID, nil
}
