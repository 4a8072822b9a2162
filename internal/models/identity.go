package models

import "time"

// Identity is a visitor who has signed in at least once. ContactID is filled once the
// visitor's Dynamics contact is known, by a profile save or the webhook.
type Identity struct {
	ID           int64      `json:"id" gorm:"primaryKey;autoIncrement"`
	Email        string     `json:"email" gorm:"uniqueIndex;not null"`
	ExternalID   string     `json:"external_id"`
	DisplayName  string     `json:"display_name"`
	ContactID    *string    `json:"contact_id"`
	LastSyncedAt *time.Time `json:"last_synced_at"`
	LastLoginAt  *time.Time `json:"last_login_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Identity
func (Identity) TableName() string {
	return "identities"
}
