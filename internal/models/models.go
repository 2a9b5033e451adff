package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AlertSeverity classifies how urgently an alert needs operator attention
type AlertSeverity string

// Severity levels
const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// AlertCategory identifies the risk rule that produced an alert. Deduplication
// matches on this field, so each rule maps to exactly one category.
type AlertCategory string

// Alert categories, one per risk rule
const (
	CategoryDrought    AlertCategory = "drought"
	CategoryPestRisk   AlertCategory = "pest-risk"
	CategoryHeavyRain  AlertCategory = "heavy-rain"
	CategorySiloDanger AlertCategory = "silo-danger"
	CategorySoilHealth AlertCategory = "soil-health"
)

// CooldownFor returns the minimum interval before an equivalent alert may be
// re-raised for the same device and category. Critical conditions re-fire
// hourly because they represent ongoing physical risk; lower severities are
// throttled to once per day to avoid notification fatigue.
func CooldownFor(severity AlertSeverity) time.Duration {
	if severity == SeverityCritical {
		return time.Hour
	}
	return 24 * time.Hour
}

// Alert is a risk notification raised for one device. Alerts are immutable
// after creation; they are read back only for deduplication and audit.
type Alert struct {
	ID              uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt       time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
	DeviceID        string        `gorm:"not null;index:idx_alerts_device_category" json:"device_id"`
	Category        AlertCategory `gorm:"not null;index:idx_alerts_device_category" json:"category"`
	Severity        AlertSeverity `gorm:"not null" json:"severity"`
	Message         string        `gorm:"not null" json:"message"`
	GeneratedAt     time.Time     `gorm:"not null;index" json:"generated_at"`
	SuggestedAction string        `gorm:"not null" json:"suggested_action"`
	RecipientEmail  string        `gorm:"not null;default:''" json:"recipient_email"`
}

// NewAlert creates an alert with a fresh id and generation timestamp
func NewAlert(deviceID string, category AlertCategory, severity AlertSeverity, message, suggestedAction string) *Alert {
	return &Alert{
		ID:              uuid.New(),
		DeviceID:        deviceID,
		Category:        category,
		Severity:        severity,
		Message:         message,
		GeneratedAt:     time.Now().UTC(),
		SuggestedAction: suggestedAction,
	}
}

// SetupModels runs the schema migrations
func SetupModels(db *gorm.DB) error {
	return db.AutoMigrate(&Alert{})
}
