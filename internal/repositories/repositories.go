package repositories

import (
	"context"
	"time"

	"example.com/backstage/services/transactions/internal/models"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// ErrNoRowsMatched is returned by conditional writes when no active row
// satisfied the condition.
var ErrNoRowsMatched = errors.New("no matching active row")

// ErrDuplicateKey is returned by inserts that violate a uniqueness
// constraint. The constraint in the store is the final arbiter; pre-insert
// existence checks are an early exit only.
var ErrDuplicateKey = errors.New("duplicate key violates unique constraint")

// ScanFilter holds optional equality filters for transaction scans.
type ScanFilter struct {
	Status   *models.TransactionStatus
	Currency *string
}

// TransactionRepository is the record store contract for transactions.
// The lifecycle service depends on this interface, not on GORM, so tests
// can substitute an in-memory implementation.
type TransactionRepository interface {
	FindActiveByExternalID(ctx context.Context, externalID string) (*models.Transaction, error)
	FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	Insert(ctx context.Context, txn *models.Transaction) error
	ScanActive(ctx context.Context, filter ScanFilter, offset, limit int) ([]models.Transaction, int64, error)
	UpdateIfActive(ctx context.Context, id uuid.UUID, expectedStatus *models.TransactionStatus, fields map[string]interface{}) (*models.Transaction, error)
	SoftDeleteIfActive(ctx context.Context, id uuid.UUID) (int64, error)
	CountActiveByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error)
}

// WebhookEventRepository is the record store contract for webhook events.
type WebhookEventRepository interface {
	FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	Insert(ctx context.Context, event *models.WebhookEvent) error
	ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.WebhookEvent, error)
}

// GormTransactionRepository implements TransactionRepository on GORM.
type GormTransactionRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// FindActiveByExternalID gets the active transaction carrying the given
// external id, or nil when none exists.
func (r *GormTransactionRepository) FindActiveByExternalID(ctx context.Context, externalID string) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.readOnlyDB.WithContext(ctx).
		Where("external_id = ? AND is_active = ?", externalID, true).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get transaction by external id")
	}
	return &txn, nil
}

// FindActiveByID gets an active transaction by id, or nil when none exists.
func (r *GormTransactionRepository) FindActiveByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var txn models.Transaction
	err := r.readOnlyDB.WithContext(ctx).
		Where("id = ? AND is_active = ?", id, true).
		First(&txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get transaction by id")
	}
	return &txn, nil
}

// Insert creates a new transaction row. Uniqueness of the active external id
// is enforced by a partial unique index; violations surface as
// gorm.ErrDuplicatedKey.
func (r *GormTransactionRepository) Insert(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(txn).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to insert transaction")
	}
	return nil
}

// ScanActive returns a window of active transactions matching the filter,
// ordered by creation time descending, plus the total matching count.
func (r *GormTransactionRepository) ScanActive(ctx context.Context, filter ScanFilter, offset, limit int) ([]models.Transaction, int64, error) {
	query := r.readOnlyDB.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("is_active = ?", true)
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.Currency != nil {
		query = query.Where("currency = ?", *filter.Currency)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "failed to count transactions")
	}

	var txns []models.Transaction
	err := query.
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&txns).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "failed to scan transactions")
	}

	return txns, total, nil
}

// UpdateIfActive applies fields to the row matching id and is_active, and the
// expected status when given, in a single conditional UPDATE. Returns
// ErrNoRowsMatched when the condition no longer holds, so a status validated
// against a stale snapshot is never applied.
func (r *GormTransactionRepository) UpdateIfActive(ctx context.Context, id uuid.UUID, expectedStatus *models.TransactionStatus, fields map[string]interface{}) (*models.Transaction, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND is_active = ?", id, true)
	if expectedStatus != nil {
		query = query.Where("status = ?", *expectedStatus)
	}

	result := query.Updates(fields)
	if result.Error != nil {
		return nil, errors.Wrap(result.Error, "failed to update transaction")
	}
	if result.RowsAffected == 0 {
		return nil, ErrNoRowsMatched
	}

	var txn models.Transaction
	if err := r.db.WithContext(ctx).First(&txn, "id = ?", id).Error; err != nil {
		return nil, errors.Wrap(err, "failed to reload updated transaction")
	}
	return &txn, nil
}

// SoftDeleteIfActive flips is_active and stamps deleted_at for the row
// matching id and is_active, returning how many rows were updated (0 or 1).
// The check-and-flip is a single UPDATE so concurrent deletes cannot both
// take effect.
func (r *GormTransactionRepository) SoftDeleteIfActive(ctx context.Context, id uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{
			"is_active":  false,
			"deleted_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, errors.Wrap(result.Error, "failed to soft delete transaction")
	}
	return result.RowsAffected, nil
}

// CountActiveByStatus returns per-status counts of active transactions.
func (r *GormTransactionRepository) CountActiveByStatus(ctx context.Context) (map[models.TransactionStatus]int64, error) {
	var rows []struct {
		Status models.TransactionStatus
		Count  int64
	}
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Transaction{}).
		Select("status, COUNT(*) AS count").
		Where("is_active = ?", true).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to count transactions by status")
	}

	counts := make(map[models.TransactionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// GormWebhookEventRepository implements WebhookEventRepository on GORM.
type GormWebhookEventRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewWebhookEventRepository creates a new webhook event repository
func NewWebhookEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *GormWebhookEventRepository {
	return &GormWebhookEventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// FindByEventID gets a webhook event by its event id, or nil when none exists.
// Reads go through the write database: the replay check must see the newest
// committed row, not a lagging replica.
func (r *GormWebhookEventRepository) FindByEventID(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.WithContext(ctx).
		Where("event_id = ?", eventID).
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "failed to get webhook event by event id")
	}
	return &event, nil
}

// Insert creates a new webhook event row. The unique index on event_id makes
// concurrent duplicate deliveries surface as gorm.ErrDuplicatedKey.
func (r *GormWebhookEventRepository) Insert(ctx context.Context, event *models.WebhookEvent) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	err := r.db.WithContext(ctx).Create(event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return errors.Wrap(err, "failed to insert webhook event")
	}
	return nil
}

// ListByTransactionID returns the events recorded against a transaction,
// newest first.
func (r *GormWebhookEventRepository) ListByTransactionID(ctx context.Context, transactionID uuid.UUID) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	err := r.readOnlyDB.WithContext(ctx).
		Where("transaction_id = ?", transactionID).
		Order("processed_at DESC").
		Find(&events).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list webhook events for transaction")
	}
	return events, nil
}
