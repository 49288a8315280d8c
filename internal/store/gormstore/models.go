package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// UserCredit represents the user_credits table: one balance row per user.
type UserCredit struct {
	UserID    string    `gorm:"primaryKey"`
	Credits   int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (UserCredit) TableName() string { return "user_credits" }

// CreditTransaction mirrors the credit_transactions audit log.
type CreditTransaction struct {
	TransactionID     string    `gorm:"type:uuid;primaryKey"`
	UserID            string    `gorm:"not null;index:idx_transactions_user_created,priority:1"`
	Type              string    `gorm:"not null"`
	Amount            int64     `gorm:"not null"`
	Description       string    `gorm:""`
	ExternalReference string    `gorm:"index"`
	CreatedAt         time.Time `gorm:"not null;index:idx_transactions_user_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// ContentGeneration mirrors the content_generations table.
type ContentGeneration struct {
	GenerationID string         `gorm:"type:uuid;primaryKey"`
	UserID       string         `gorm:"not null;index:idx_generations_user_created,priority:1"`
	Topic        string         `gorm:"not null"`
	Title        string         `gorm:"not null"`
	Content      string         `gorm:"not null"`
	SEOTips      datatypes.JSON `gorm:"not null"`
	CreditsUsed  int64          `gorm:"not null"`
	CreatedAt    time.Time      `gorm:"not null;index:idx_generations_user_created,priority:2"`
}

func (ContentGeneration) TableName() string { return "content_generations" }

func (generation *ContentGeneration) BeforeCreate(tx *gorm.DB) error {
	if generation.GenerationID == "" {
		generation.GenerationID = uuid.NewString()
	}
	return nil
}

// PaymentIntent mirrors the payment_intents table.
type PaymentIntent struct {
	OrderID     string    `gorm:"primaryKey"`
	UserID      string    `gorm:"not null;index"`
	ProductID   string    `gorm:"not null"`
	ProductName string    `gorm:"not null"`
	Amount      int64     `gorm:"not null"`
	Credits     int64     `gorm:"not null"`
	Email       string    `gorm:""`
	Status      string    `gorm:"not null;index"`
	PaymentKey  *string   `gorm:"index"`
	CreatedAt   time.Time `gorm:"not null"`
	UpdatedAt   time.Time `gorm:"not null"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }
