package migrations

import (
	"context"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"
)

var Migrations = migrate.NewMigrations()

const createResultsSQL = `
CREATE TABLE IF NOT EXISTS user_results (
    id           BIGSERIAL PRIMARY KEY,
    user_id      INTEGER     NOT NULL,
    quiz_id      INTEGER     NOT NULL,
    score        INTEGER     NOT NULL,
    time_spent   INTEGER     NOT NULL DEFAULT 0,
    completed_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS user_answers (
    id          BIGSERIAL PRIMARY KEY,
    result_id   BIGINT  NOT NULL REFERENCES user_results (id) ON DELETE CASCADE,
    question_id INTEGER NOT NULL,
    option_id   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_results_quiz_user ON user_results (quiz_id, user_id);
CREATE INDEX IF NOT EXISTS idx_user_answers_result ON user_answers (result_id);
`

func init() {
	Migrations.MustRegister(
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createResultsSQL)
			return err
		},
		func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS user_answers; DROP TABLE IF EXISTS user_results`)
			return err
		},
	)
}
