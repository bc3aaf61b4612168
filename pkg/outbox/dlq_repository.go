package outbox

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/busline-backend/pkg/db/models"
	"github.com/angelmondragon/busline-backend/pkg/enums"
)

const (
	maxDLQErrorLen   = 1024
	defaultDLQListed = 50
	maxDLQListed     = 200
)

// DLQRepository stores ticket outcome events the publisher gave up on. Rows
// are looked up and pruned by payment reference.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// InsertTx parks entry inside tx. An entry without a reference is filed
// under its aggregate id.
func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	entry.Reference = strings.TrimSpace(entry.Reference)
	if entry.Reference == "" {
		entry.Reference = entry.AggregateID.String()
	}
	if entry.ErrorMessage != nil {
		msg := truncateDLQError(*entry.ErrorMessage)
		entry.ErrorMessage = &msg
	}
	return tx.Create(&entry).Error
}

// ListByReference returns the newest dead letters for one payment reference.
func (r *DLQRepository) ListByReference(ctx context.Context, reference string, limit int) ([]models.OutboxDLQ, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("reference required")
	}
	switch {
	case limit <= 0:
		limit = defaultDLQListed
	case limit > maxDLQListed:
		limit = maxDLQListed
	}
	var rows []models.OutboxDLQ
	err := r.db.WithContext(ctx).
		Where("reference = ?", reference).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// DeleteSettledBefore drops dead letters older than cutoff. Rows whose
// payment is still payment_failed are kept while an agent may retry it.
func (r *DLQRepository) DeleteSettledBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	awaitingRetry := tx.Model(&models.Payment{}).
		Select("reference").
		Where("status = ?", enums.ReconciliationPaymentFailed)
	res := tx.WithContext(ctx).
		Where("failed_at < ?", cutoff).
		Where("reference NOT IN (?)", awaitingRetry).
		Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}

func truncateDLQError(message string) string {
	if len(message) <= maxDLQErrorLen {
		return message
	}
	return message[:maxDLQErrorLen]
}
