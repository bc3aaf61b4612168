package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

const createOutboxEvents = `CREATE TABLE outbox_events (
	id TEXT PRIMARY KEY,
	event_type TEXT NOT NULL,
	aggregate_type TEXT NOT NULL,
	aggregate_id TEXT NOT NULL,
	reference TEXT NOT NULL DEFAULT '',
	payload BLOB NOT NULL,
	created_at DATETIME,
	published_at DATETIME,
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
)`

func newOutboxDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, conn.Exec(createOutboxEvents).Error)
	return conn
}

func confirmedEvent(reference string) DomainEvent {
	return DomainEvent{
		EventType:     enums.EventTicketConfirmed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   AggregateIDFor(reference),
		Reference:     reference,
		Actor:         &ActorRef{Source: string(enums.TriggerPoll)},
		Data:          map[string]string{"reference": reference},
	}
}

func TestEmitWritesEnvelope(t *testing.T) {
	conn := newOutboxDB(t)
	svc := NewService(NewRepository(conn), nil)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, confirmedEvent("INV-1"))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Equal(t, enums.EventTicketConfirmed, rows[0].EventType)
	assert.Equal(t, AggregateIDFor("INV-1"), rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, rows[0].ID.String(), envelope.EventID)
	assert.Equal(t, 1, envelope.Version)
	require.NotNil(t, envelope.Actor)
	assert.Equal(t, "poll", envelope.Actor.Source)
	assert.JSONEq(t, `{"reference":"INV-1"}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	err := svc.Emit(context.Background(), nil, confirmedEvent("INV-1"))
	require.Error(t, err)
}

func TestEmitIfNotExistsSkipsDuplicate(t *testing.T) {
	conn := newOutboxDB(t)
	svc := NewService(NewRepository(conn), nil)
	ctx := context.Background()

	var first, second bool
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		first, err = svc.EmitIfNotExists(ctx, tx, confirmedEvent("INV-2"))
		return err
	}))
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		second, err = svc.EmitIfNotExists(ctx, tx, confirmedEvent("INV-2"))
		return err
	}))

	assert.True(t, first)
	assert.False(t, second)
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestAggregateIDForIsStable(t *testing.T) {
	assert.Equal(t, AggregateIDFor("INV-9"), AggregateIDFor(" INV-9 "))
	assert.NotEqual(t, AggregateIDFor("INV-9"), AggregateIDFor("INV-10"))
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for _, ref := range []string{"INV-A", "INV-B", "INV-C"} {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, confirmedEvent(ref))
		}))
	}

	var rows []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, rows[1].ID, errors.New("topic unavailable")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[2].ID, errors.New("bad payload"), 3)
	}))

	var pending []models.OutboxEvent
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		pending, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, pending, 1)
	assert.Equal(t, rows[1].ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].AttemptCount)
	require.NotNil(t, pending[0].LastError)
	assert.Equal(t, "topic unavailable", *pending[0].LastError)
}

func TestDeletePublishedBeforeKeepsRetryableRows(t *testing.T) {
	conn := newOutboxDB(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)
	ctx := context.Background()

	for _, ref := range []string{"INV-P", "INV-R", "INV-T"} {
		require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
			return svc.Emit(ctx, tx, confirmedEvent(ref))
		}))
	}
	var rows []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Order("id ASC").Find(&rows).Error)
	require.Len(t, rows, 3)

	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkPublishedTx(tx, rows[0].ID); err != nil {
			return err
		}
		if err := repo.MarkFailedTx(tx, rows[1].ID, errors.New("timeout")); err != nil {
			return err
		}
		return repo.MarkTerminalTx(tx, rows[2].ID, errors.New("bad payload"), 5)
	}))

	cutoff := time.Now().AddDate(1, 0, 0).UTC()
	var deleted int64
	require.NoError(t, conn.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(ctx, tx, cutoff, 5)
		return err
	}))
	assert.Equal(t, int64(2), deleted)

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, rows[1].ID, remaining[0].ID)
}
