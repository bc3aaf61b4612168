package outbox

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

const createOutboxDLQ = `CREATE TABLE outbox_dlq (
	id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	payload_json BLOB NOT NULL,
	error_reason TEXT NOT NULL,
	error_message TEXT,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	failed_at DATETIME,
	created_at DATETIME
)`

const createPaymentsStatus = `CREATE TABLE payments (
	id TEXT PRIMARY KEY,
	reference TEXT NOT NULL,
	status TEXT NOT NULL
)`

func newDLQDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn := newOutboxDB(t)
	require.NoError(t, conn.Exec(createOutboxDLQ).Error)
	require.NoError(t, conn.Exec(createPaymentsStatus).Error)
	return conn
}

func deadLetter(reference string, failedAt time.Time) models.OutboxDLQ {
	msg := "publish failed"
	return models.OutboxDLQ{
		ID:            uuid.New(),
		EventID:       uuid.New(),
		Reference:     reference,
		EventType:     enums.EventTicketConfirmed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   AggregateIDFor(reference),
		Payload:       []byte(`{"reference":"` + reference + `"}`),
		ErrorReason:   enums.OutboxDLQReasonMaxAttempts,
		ErrorMessage:  &msg,
		AttemptCount:  10,
		FailedAt:      failedAt,
	}
}

func insertDeadLetters(t *testing.T, conn *gorm.DB, repo *DLQRepository, entries ...models.OutboxDLQ) {
	t.Helper()
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		for _, e := range entries {
			if err := repo.InsertTx(tx, e); err != nil {
				return err
			}
		}
		return nil
	}))
}

func TestDLQInsertNormalizesReferenceAndError(t *testing.T) {
	conn := newDLQDB(t)
	repo := NewDLQRepository(conn)

	padded := deadLetter("  PNR123 ", time.Now().UTC())
	long := strings.Repeat("x", maxDLQErrorLen+50)
	padded.ErrorMessage = &long
	orphan := deadLetter("", time.Now().UTC())
	orphan.AggregateID = AggregateIDFor("PNR-LOST")
	insertDeadLetters(t, conn, repo, padded, orphan)

	rows, err := repo.ListByReference(context.Background(), "PNR123", 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Len(t, *rows[0].ErrorMessage, maxDLQErrorLen)

	rows, err = repo.ListByReference(context.Background(), orphan.AggregateID.String(), 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	require.Error(t, repo.InsertTx(nil, padded))
}

func TestDLQListByReferenceNewestFirst(t *testing.T) {
	conn := newDLQDB(t)
	repo := NewDLQRepository(conn)
	now := time.Now().UTC()

	older := deadLetter("PNR1", now.Add(-2*time.Hour))
	newer := deadLetter("PNR1", now.Add(-time.Hour))
	other := deadLetter("PNR2", now)
	insertDeadLetters(t, conn, repo, older, newer, other)

	rows, err := repo.ListByReference(context.Background(), " PNR1 ", 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, newer.EventID, rows[0].EventID)
	assert.Equal(t, older.EventID, rows[1].EventID)

	rows, err = repo.ListByReference(context.Background(), "PNR1", 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	_, err = repo.ListByReference(context.Background(), "  ", 10)
	require.Error(t, err)
}

func TestDLQDeleteSettledBeforeKeepsReferencesAwaitingRetry(t *testing.T) {
	conn := newDLQDB(t)
	repo := NewDLQRepository(conn)
	now := time.Now().UTC()
	old := now.AddDate(0, 0, -40)

	require.NoError(t, conn.Exec(`INSERT INTO payments (id, reference, status) VALUES ('p1', 'PNR-FAILED', 'payment_failed'), ('p2', 'PNR-DONE', 'confirmed')`).Error)
	insertDeadLetters(t, conn, repo,
		deadLetter("PNR-FAILED", old),
		deadLetter("PNR-DONE", old),
		deadLetter("PNR-UNKNOWN", old),
		deadLetter("PNR-DONE", now),
	)

	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeleteSettledBefore(context.Background(), tx, now.AddDate(0, 0, -30))
		return err
	}))
	assert.Equal(t, int64(2), deleted)

	var remaining []models.OutboxDLQ
	require.NoError(t, conn.Order("reference ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	assert.Equal(t, "PNR-DONE", remaining[0].Reference)
	assert.Equal(t, "PNR-FAILED", remaining[1].Reference)

	_, err := repo.DeleteSettledBefore(context.Background(), nil, now)
	require.Error(t, err)
}
