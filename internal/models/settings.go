package models

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

var apiVersionPattern = regexp.MustCompile(`^\d+\.\d+$`)

// Settings is the single configuration record. ClientSecret and WebhookSecret are
// stored sealed and never serialized.
type Settings struct {
	ID             int       `json:"id" gorm:"primaryKey;autoIncrement"`
	ClientID       string    `json:"client_id" gorm:"not null;default:''"`
	ClientSecret   string    `json:"-" gorm:"not null;default:''"`
	TenantID       string    `json:"tenant_id" gorm:"not null;default:''"`
	ResourceURL    string    `json:"resource_url" gorm:"not null;default:''"`
	APIVersion     string    `json:"api_version" gorm:"not null;default:'9.2'"`
	RedirectURL    string    `json:"redirect_url" gorm:"not null;default:''"`
	LoggingEnabled bool      `json:"logging_enabled" gorm:"not null;default:true"`
	WebhookSecret  string    `json:"-" gorm:"not null;default:''"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Settings
func (Settings) TableName() string {
	return "settings"
}

// Validate checks the non-secret fields. Empty endpoint fields are allowed and mean
// "not configured yet".
func (s *Settings) Validate() error {
	if s.ResourceURL != "" {
		u, err := url.Parse(s.ResourceURL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return fmt.Errorf("resource URL must be an absolute URL")
		}
		if u.Scheme != "https" {
			return fmt.Errorf("resource URL must use https")
		}
		if u.RawQuery != "" || u.Fragment != "" {
			return fmt.Errorf("resource URL must not carry a query or fragment")
		}
	}
	if !apiVersionPattern.MatchString(s.APIVersion) {
		return fmt.Errorf("API version must look like 9.2")
	}
	if s.RedirectURL != "" {
		u, err := url.Parse(s.RedirectURL)
		if err != nil || !u.IsAbs() {
			return fmt.Errorf("redirect URL must be an absolute URL")
		}
	}
	if strings.ContainsAny(s.TenantID, "/?#") {
		return fmt.Errorf("tenant ID contains invalid characters")
	}
	return nil
}
