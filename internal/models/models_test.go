package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestCooldownFor(t *testing.T) {
	require.Equal(t, time.Hour, CooldownFor(SeverityCritical))
	require.Equal(t, 24*time.Hour, CooldownFor(SeverityWarning))
	require.Equal(t, 24*time.Hour, CooldownFor(SeverityInfo))
}

func TestNewAlert(t *testing.T) {
	alert := NewAlert("dev-1", CategoryDrought, SeverityCritical, "msg", "action")

	require.NotEqual(t, uuid.Nil, alert.ID)
	require.Equal(t, "dev-1", alert.DeviceID)
	require.Equal(t, CategoryDrought, alert.Category)
	require.Equal(t, SeverityCritical, alert.Severity)
	require.WithinDuration(t, time.Now().UTC(), alert.GeneratedAt, time.Second)
}
