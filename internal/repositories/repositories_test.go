package repositories

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/agrosolutions/services/alerts/internal/models"
)

func newTestRepository(t *testing.T) *AlertRepository {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.SetupModels(db))

	return NewAlertRepository(db, db)
}

func plantAlert(t *testing.T, repo *AlertRepository, deviceID string, category models.AlertCategory, severity models.AlertSeverity, age time.Duration) {
	t.Helper()

	alert := models.NewAlert(deviceID, category, severity, "msg", "action")
	alert.GeneratedAt = time.Now().UTC().Add(-age)
	require.NoError(t, repo.Save(context.Background(), alert))
}

func TestExistsRecentCriticalCooldownBoundary(t *testing.T) {
	repo := newTestRepository(t)
	window := models.CooldownFor(models.SeverityCritical)

	// An alert 59 minutes old still sits inside the 1h Critical cooldown
	plantAlert(t, repo, "silo-inside", models.CategorySiloDanger, models.SeverityCritical, 59*time.Minute)
	exists, err := repo.ExistsRecent(context.Background(), "silo-inside", models.CategorySiloDanger, window)
	require.NoError(t, err)
	require.True(t, exists)

	// At 61 minutes the cooldown has lapsed and the alert may fire again
	plantAlert(t, repo, "silo-outside", models.CategorySiloDanger, models.SeverityCritical, 61*time.Minute)
	exists, err = repo.ExistsRecent(context.Background(), "silo-outside", models.CategorySiloDanger, window)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestExistsRecentWarningCooldownBoundary(t *testing.T) {
	repo := newTestRepository(t)
	window := models.CooldownFor(models.SeverityWarning)

	plantAlert(t, repo, "soil-inside", models.CategorySoilHealth, models.SeverityWarning, 23*time.Hour+59*time.Minute)
	exists, err := repo.ExistsRecent(context.Background(), "soil-inside", models.CategorySoilHealth, window)
	require.NoError(t, err)
	require.True(t, exists)

	plantAlert(t, repo, "soil-outside", models.CategorySoilHealth, models.SeverityWarning, 24*time.Hour+time.Minute)
	exists, err = repo.ExistsRecent(context.Background(), "soil-outside", models.CategorySoilHealth, window)
	require.NoError(t, err)
	require.False(t, exists)
}

func TestExistsRecentMatchesOnCategory(t *testing.T) {
	repo := newTestRepository(t)

	// A fresh drought alert must not suppress a soil-health alert for the
	// same device
	plantAlert(t, repo, "soil-001", models.CategoryDrought, models.SeverityCritical, 5*time.Minute)

	exists, err := repo.ExistsRecent(context.Background(), "soil-001", models.CategorySoilHealth, 24*time.Hour)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = repo.ExistsRecent(context.Background(), "soil-001", models.CategoryDrought, time.Hour)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestDeleteOlderThanPurgesOnlyExpired(t *testing.T) {
	repo := newTestRepository(t)

	plantAlert(t, repo, "dev-old", models.CategoryDrought, models.SeverityCritical, 100*24*time.Hour)
	plantAlert(t, repo, "dev-new", models.CategoryDrought, models.SeverityCritical, time.Hour)

	removed, err := repo.DeleteOlderThan(context.Background(), time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)

	remaining, err := repo.ListRecent(context.Background(), "", "", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	require.Equal(t, "dev-new", remaining[0].DeviceID)
}
