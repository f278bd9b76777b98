package db

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subjectsConfig() UpsertConfig {
	return UpsertConfig{
		Table:        "subjects",
		Columns:      []string{"id", "name", "death"},
		ConflictKeys: []string{"id"},
	}
}

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.Background(), nil, subjectsConfig(), nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  UpsertConfig
		want string
	}{
		{"no columns", UpsertConfig{Table: "subjects", ConflictKeys: []string{"id"}}, "no columns specified"},
		{"no conflict keys", UpsertConfig{Table: "subjects", Columns: []string{"id"}}, "no conflict keys specified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BulkUpsert(context.Background(), nil, tt.cfg, [][]any{{"nm1"}})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestBulkUpsert_Chunks(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := subjectsConfig()
	cfg.ChunkSize = 2
	rows := [][]any{{"nm1", "A", "2001"}, {"nm2", "B", "2002"}, {"nm3", "C", "2003"}}

	for _, size := range []int64{2, 1} {
		mock.ExpectBegin()
		mock.ExpectExec(`CREATE TEMP TABLE "_stage_subjects"`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectCopyFrom(pgx.Identifier{"_stage_subjects"}, cfg.Columns).WillReturnResult(size)
		mock.ExpectExec(`INSERT INTO "subjects"`).WillReturnResult(pgxmock.NewResult("INSERT", size))
		mock.ExpectCommit()
	}

	n, err := BulkUpsert(context.Background(), mock, cfg, rows)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkUpsert_CopyErrorRollsBack(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := subjectsConfig()
	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_stage_subjects"}, cfg.Columns).WillReturnError(errors.New("copy failed"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, cfg, [][]any{{"nm1", "A", "2001"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "copy into staging table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeSQL(t *testing.T) {
	cfg := subjectsConfig()
	assert.Equal(t,
		`INSERT INTO "subjects" ("id", "name", "death") SELECT "id", "name", "death" FROM "_stage_subjects" `+
			`ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "death" = EXCLUDED."death" `+
			`WHERE ("subjects"."name", "subjects"."death") IS DISTINCT FROM (EXCLUDED."name", EXCLUDED."death")`,
		cfg.mergeSQL())

	cfg.UpdateCols = []string{}
	assert.Contains(t, cfg.mergeSQL(), "DO NOTHING")
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"public.subjects", `"public"."subjects"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}
