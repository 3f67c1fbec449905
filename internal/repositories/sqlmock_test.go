package repositories

import (
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		_ = raw.Close()
	})
	return sqlx.NewDb(raw, "postgres"), mock
}

func q(fragment string) string {
	return regexp.QuoteMeta(fragment)
}

func columns(list string) []string {
	parts := strings.Split(list, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func directRow(id, createdBy, key string) *sqlmock.Rows {
	return sqlmock.NewRows(columns(conversationColumns)).
		AddRow(id, "direct", nil, nil, nil, true, createdBy, fixedTime, fixedTime, nil, key, 0)
}

func groupRow(id, name, createdBy string) *sqlmock.Rows {
	return sqlmock.NewRows(columns(conversationColumns)).
		AddRow(id, "group", name, nil, nil, false, createdBy, fixedTime, fixedTime, nil, nil, 0)
}

func participantRow(convID, userID, role string, active bool) *sqlmock.Rows {
	return sqlmock.NewRows(columns(participantColumns)).
		AddRow(convID, userID, role, fixedTime, nil, active, nil)
}

func messageRow(id, convID string, seq int64, sender string, content any, deletedAt any) *sqlmock.Rows {
	return sqlmock.NewRows(columns(messageColumns)).
		AddRow(id, convID, seq, sender, content, "text", nil, nil, nil, false, false, nil, nil, deletedAt, fixedTime)
}
