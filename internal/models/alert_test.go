package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tmcalister/rampart/internal/models"
)

func TestSeverityRank(t *testing.T) {
	assert.Less(t, models.SeverityInfo.Rank(), models.SeverityWarning.Rank())
	assert.Less(t, models.SeverityWarning.Rank(), models.SeverityCritical.Rank())
	assert.Less(t, models.SeverityCritical.Rank(), models.SeverityUrgent.Rank())
	assert.Equal(t, -1, models.AlertSeverity("bogus").Rank())
}

func TestNewTimeWindow(t *testing.T) {
	end := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	w := models.NewTimeWindow(end, time.Hour)

	assert.Equal(t, end.Add(-time.Hour), w.Start)
	assert.Equal(t, end, w.End)
	assert.Equal(t, time.Hour, w.Duration())
}

func TestDetailsRoundTrip(t *testing.T) {
	in := models.VelocityAttackDetails{
		Origin:         "198.51.100.7",
		AttemptCount:   75,
		TargetAccounts: 40,
	}

	data, err := models.MarshalDetails(in)
	assert.NoError(t, err)

	out, err := models.UnmarshalDetails(models.AlertTypeVelocityAttack, data)
	assert.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestUnmarshalDetailsUnknownType(t *testing.T) {
	_, err := models.UnmarshalDetails(models.AlertType("bogus"), []byte(`{}`))
	assert.Error(t, err)
}

func TestMarshalDetailsNil(t *testing.T) {
	data, err := models.MarshalDetails(nil)
	assert.NoError(t, err)
	assert.Nil(t, data)

	out, err := models.UnmarshalDetails(models.AlertTypeSpikeFailures, nil)
	assert.NoError(t, err)
	assert.Nil(t, out)
}
