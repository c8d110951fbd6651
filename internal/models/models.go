package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// TransactionStatus is the lifecycle state of a transaction.
type TransactionStatus string

const (
	StatusPending    TransactionStatus = "PENDING"
	StatusProcessing TransactionStatus = "PROCESSING"
	StatusComplete   TransactionStatus = "COMPLETE"
	StatusFailed     TransactionStatus = "FAILED"
)

// TransactionType classifies a transaction.
type TransactionType string

const (
	TypePayment    TransactionType = "PAYMENT"
	TypeRefund     TransactionType = "REFUND"
	TypeAdjustment TransactionType = "ADJUSTMENT"
)

// Currencies supported for transactions (ISO 4217).
var Currencies = []string{"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF"}

// StatusTransitions is the closed state machine governing status changes.
// Self-transitions are not listed and are therefore invalid; COMPLETE and
// FAILED are terminal.
var StatusTransitions = map[TransactionStatus][]TransactionStatus{
	StatusPending:    {StatusProcessing, StatusFailed},
	StatusProcessing: {StatusComplete, StatusFailed},
	StatusComplete:   {},
	StatusFailed:     {},
}

// CanTransition reports whether moving from one status to another is allowed
// by the transition table.
func CanTransition(from, to TransactionStatus) bool {
	for _, allowed := range StatusTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Metadata is an open key-value map stored as JSONB. Updates shallow-merge
// into the existing map rather than replacing it.
type Metadata map[string]interface{}

// Value implements driver.Valuer for JSONB storage.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		m = Metadata{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal metadata")
	}
	return data, nil
}

// Scan implements sql.Scanner for JSONB storage.
func (m *Metadata) Scan(value interface{}) error {
	if value == nil {
		*m = Metadata{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.Errorf("unsupported metadata column type %T", value)
	}
	if err := json.Unmarshal(data, m); err != nil {
		return errors.Wrap(err, "failed to unmarshal metadata")
	}
	return nil
}

// Merge returns a copy of m with the keys of other applied on top. Keys not
// present in other are preserved.
func (m Metadata) Merge(other Metadata) Metadata {
	merged := make(Metadata, len(m)+len(other))
	for k, v := range m {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}

// Transaction is a recorded financial transaction. Soft-deleted rows keep
// their data but become invisible to every read path; external id uniqueness
// is enforced only among active rows so a soft-deleted key can be reused.
type Transaction struct {
	ID         uuid.UUID         `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt  time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
	ExternalID string            `gorm:"not null;index:ux_transactions_active_external_id,unique,where:is_active" json:"external_id"`
	Amount     int64             `gorm:"not null" json:"amount"`
	Currency   string            `gorm:"not null" json:"currency"`
	Type       TransactionType   `gorm:"not null" json:"type"`
	Status     TransactionStatus `gorm:"not null;default:PENDING" json:"status"`
	Metadata   Metadata          `gorm:"type:jsonb" json:"metadata"`
	IsActive   bool              `gorm:"not null;default:true" json:"is_active"`
	DeletedAt  *time.Time        `json:"deleted_at,omitempty"`
}

// WebhookEvent is the durable record of an inbound processor notification.
// Rows are insert-only; at most one row ever exists per event id.
type WebhookEvent struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	EventID       string    `gorm:"not null;uniqueIndex" json:"event_id"`
	TransactionID uuid.UUID `gorm:"type:uuid;not null;index" json:"transaction_id"`
	EventType     string    `gorm:"not null" json:"event_type"`
	Payload       Metadata  `gorm:"type:jsonb" json:"payload"`
	ProcessedAt   time.Time `gorm:"not null" json:"processed_at"`
}

// SetupModels configures GORM models and runs migrations
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Transaction{},
		&WebhookEvent{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
