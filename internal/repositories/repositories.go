package repositories

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"

	"example.com/agrosolutions/services/alerts/internal/models"
)

// ErrStorage wraps alert store failures. Storage failures are logged and
// never block the remaining candidates of a message.
var ErrStorage = errors.New("alert storage failure")

// AlertRepository provides access to persisted alerts
type AlertRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *gorm.DB, readOnlyDB *gorm.DB) *AlertRepository {
	return &AlertRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Save persists a new alert
func (r *AlertRepository) Save(ctx context.Context, alert *models.Alert) error {
	// Use write DB for writes
	if err := r.db.WithContext(ctx).Create(alert).Error; err != nil {
		return errors.Wrapf(ErrStorage, "saving alert %s: %v", alert.ID, err)
	}
	return nil
}

// ExistsRecent reports whether an alert for the device and category was
// generated inside the window ending now. Deduplication matches on the
// category column, not on the message text.
func (r *AlertRepository) ExistsRecent(ctx context.Context, deviceID string, category models.AlertCategory, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)

	var count int64
	// Use read-only DB for reads
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.Alert{}).
		Where("device_id = ? AND category = ? AND generated_at >= ?", deviceID, category, cutoff).
		Count(&count).Error
	if err != nil {
		return false, errors.Wrapf(ErrStorage, "checking recent alerts for device %s: %v", deviceID, err)
	}
	return count > 0, nil
}

// ListRecent returns alerts ordered newest first, optionally filtered by
// device, severity and generation time
func (r *AlertRepository) ListRecent(ctx context.Context, deviceID string, severity models.AlertSeverity, since time.Time, limit int) ([]models.Alert, error) {
	if limit <= 0 {
		limit = 50
	}

	query := r.readOnlyDB.WithContext(ctx).Model(&models.Alert{})
	if deviceID != "" {
		query = query.Where("device_id = ?", deviceID)
	}
	if severity != "" {
		query = query.Where("severity = ?", severity)
	}
	if !since.IsZero() {
		query = query.Where("generated_at >= ?", since)
	}

	var alerts []models.Alert
	err := query.Order("generated_at DESC").Limit(limit).Find(&alerts).Error
	if err != nil {
		return nil, errors.Wrapf(ErrStorage, "listing alerts: %v", err)
	}
	return alerts, nil
}

// DeleteOlderThan hard-deletes alerts generated before the cutoff and
// returns the number removed. Used by the retention job.
func (r *AlertRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("generated_at < ?", cutoff).
		Delete(&models.Alert{})
	if result.Error != nil {
		return 0, errors.Wrapf(ErrStorage, "purging alerts before %s: %v", cutoff.Format(time.RFC3339), result.Error)
	}
	return result.RowsAffected, nil
}
