package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/models"
)

func TestAccountIsLocked(t *testing.T) {
	now := time.Now()
	future := now.Add(10 * time.Minute)
	past := now.Add(-10 * time.Minute)

	assert.False(t, (&models.Account{}).IsLocked(now))
	assert.True(t, (&models.Account{LockedUntil: &future}).IsLocked(now))
	// An expired lock is not a lock; no background job clears it
	assert.False(t, (&models.Account{LockedUntil: &past}).IsLocked(now))
}

func TestAccountEffectiveFailedAttempts(t *testing.T) {
	now := time.Now()
	window := 15 * time.Minute

	assert.Zero(t, (&models.Account{FailedAttemptCount: 5}).EffectiveFailedAttempts(now, window))

	recent := now.Add(-5 * time.Minute)
	a := &models.Account{FailedAttemptCount: 5, LastFailedAttemptAt: &recent}
	assert.Equal(t, 5, a.EffectiveFailedAttempts(now, window))

	// Counter goes stale once the window has fully elapsed
	stale := now.Add(-16 * time.Minute)
	a = &models.Account{FailedAttemptCount: 5, LastFailedAttemptAt: &stale}
	assert.Zero(t, a.EffectiveFailedAttempts(now, window))

	// Exactly at the boundary the count still applies
	boundary := now.Add(-window)
	a = &models.Account{FailedAttemptCount: 5, LastFailedAttemptAt: &boundary}
	assert.Equal(t, 5, a.EffectiveFailedAttempts(now, window))
}

func TestAccountKnownSets(t *testing.T) {
	a := &models.Account{
		KnownOrigins:          []string{"US/CA/San Jose", "192.0.2.1"},
		KnownDeviceSignatures: []string{"sig-1"},
	}

	assert.True(t, a.KnowsOrigin("US/CA/San Jose"))
	assert.False(t, a.KnowsOrigin("BR/SP/Sao Paulo"))
	assert.True(t, a.KnowsDevice("sig-1"))
	assert.False(t, a.KnowsDevice("sig-2"))
}
