package normalizer

import (
	"context"
	"errors"
	"testing"
	"time"

	"wisefido-vitals/internal/gateway"
	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func newTestNormalizer(heightM float64) *Normalizer {
	store := repository.NewMemoryHealthStore()
	gw := gateway.NewRecordGateway(store, zap.NewNop(), gateway.Options{})
	return NewNormalizer(gw, NewMetricsCache(), zap.NewNop(), Options{HeightM: heightM})
}

func TestExpand_BloodPressureProducesTwoMetrics(t *testing.T) {
	n := newTestNormalizer(0)
	rec := models.Record{
		ID: "bp", Category: models.CategoryBloodPressure, StartTime: t0, EndTime: t0,
		BloodPressure: &models.BloodPressurePayload{SystolicMmHg: 120, DiastolicMmHg: 80},
	}

	metrics := n.Expand(rec)
	require.Len(t, metrics, 2)
	assert.Equal(t, models.MetricBloodPressureSys, metrics[0].Type)
	assert.Equal(t, "120.0", metrics[0].Value)
	assert.Equal(t, models.MetricBloodPressureDia, metrics[1].Type)
	assert.Equal(t, "80.0", metrics[1].Value)
	for _, m := range metrics {
		assert.Equal(t, "2024-03-01T08:00:00Z", m.StartTime)
		assert.Equal(t, UnitMmHg, m.Unit)
	}
}

func TestExpand_HeartRateFansOutPerSample(t *testing.T) {
	n := newTestNormalizer(0)
	rec := models.Record{
		ID: "hr", Category: models.CategoryHeartRate, StartTime: t0, EndTime: t0.Add(time.Hour),
		HeartRate: &models.HeartRatePayload{Samples: []models.HeartRateSample{
			{Time: t0.Add(5 * time.Minute), BeatsPerMinute: 60},
			{Time: t0.Add(20 * time.Minute), BeatsPerMinute: 72},
			{Time: t0.Add(40 * time.Minute), BeatsPerMinute: 80},
		}},
	}

	metrics := n.Expand(rec)
	require.Len(t, metrics, 3)
	assert.Equal(t, "2024-03-01T08:05:00Z", metrics[0].StartTime)
	assert.Equal(t, "2024-03-01T08:05:00Z", metrics[0].EndTime)
	assert.Equal(t, "2024-03-01T08:40:00Z", metrics[2].StartTime)
	assert.Equal(t, "72.0", metrics[1].Value)
}

func TestExpand_ValueFormatting(t *testing.T) {
	n := newTestNormalizer(1.75)
	lean := 52.3

	tests := []struct {
		name  string
		rec   models.Record
		types []string
		units []string
		vals  []string
	}{
		{
			name:  "steps",
			rec:   models.Record{Category: models.CategorySteps, StartTime: t0, EndTime: t0, Steps: &models.StepsPayload{Count: 10000}},
			types: []string{models.MetricStepCount}, units: []string{UnitCount}, vals: []string{"10000.0"},
		},
		{
			name:  "oxygen",
			rec:   models.Record{Category: models.CategoryOxygenSaturation, StartTime: t0, EndTime: t0, OxygenSaturation: &models.OxygenSaturationPayload{Fraction: 0.97}},
			types: []string{models.MetricBloodOxygen}, units: []string{UnitPercentage}, vals: []string{"97.0"},
		},
		{
			name:  "sleep",
			rec:   models.Record{Category: models.CategorySleep, StartTime: t0, EndTime: t0.Add(7*time.Hour + 30*time.Minute), Sleep: &models.SleepPayload{}},
			types: []string{models.MetricSleep}, units: []string{UnitHours}, vals: []string{"7.5"},
		},
		{
			name:  "distance",
			rec:   models.Record{Category: models.CategoryDistance, StartTime: t0, EndTime: t0, Distance: &models.DistancePayload{Meters: 2500}},
			types: []string{models.MetricDistance}, units: []string{UnitKm}, vals: []string{"2.5"},
		},
		{
			name:  "respiratory",
			rec:   models.Record{Category: models.CategoryRespiratoryRate, StartTime: t0, EndTime: t0, RespiratoryRate: &models.RespiratoryRatePayload{Rate: 14}},
			types: []string{models.MetricRespiratoryRate}, units: []string{UnitBreathsMin}, vals: []string{"14.0"},
		},
		{
			name:  "body mass",
			rec:   models.Record{Category: models.CategoryLeanBodyMass, StartTime: t0, EndTime: t0, BodyMass: &models.BodyMassPayload{MassKg: 70, LeanMassKg: &lean}},
			types: []string{models.MetricWeight, models.MetricBMI, models.MetricLeanBodyMass},
			units: []string{UnitKg, UnitBMI, UnitKg},
			vals:  []string{"70.0", "22.9", "52.3"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := n.Expand(tt.rec)
			require.Len(t, metrics, len(tt.types))
			for i, m := range metrics {
				assert.Equal(t, tt.types[i], m.Type)
				assert.Equal(t, tt.units[i], m.Unit)
				assert.Equal(t, tt.vals[i], m.Value)
			}
		})
	}
}

func TestExpand_BMILabelAndUnknownHeight(t *testing.T) {
	rec := models.Record{Category: models.CategoryLeanBodyMass, StartTime: t0, EndTime: t0,
		BodyMass: &models.BodyMassPayload{MassKg: 95}}

	withHeight := newTestNormalizer(1.75).Expand(rec)
	require.Len(t, withHeight, 2)
	assert.Equal(t, models.BMIObese, withHeight[1].Category)

	withoutHeight := newTestNormalizer(0).Expand(rec)
	require.Len(t, withoutHeight, 1)
	assert.Equal(t, models.MetricWeight, withoutHeight[0].Type)
}

func TestExpand_WorkoutDurationWithSubType(t *testing.T) {
	n := newTestNormalizer(0)
	rec := models.Record{Category: models.CategoryExercise, StartTime: t0, EndTime: t0.Add(45 * time.Minute),
		Exercise: &models.ExercisePayload{ExerciseType: 56}}

	metrics := n.Expand(rec)
	require.Len(t, metrics, 1)
	assert.Equal(t, "45.0", metrics[0].Value)
	assert.Equal(t, "56", metrics[0].Category)
	assert.Equal(t, UnitMinutes, metrics[0].Unit)
}

func TestRefresh_ReplacesCacheAndIsolatesFailures(t *testing.T) {
	store := repository.NewMemoryHealthStore()
	gw := gateway.NewRecordGateway(store, zap.NewNop(), gateway.Options{})
	n := NewNormalizer(gw, NewMetricsCache(), zap.NewNop(), Options{})
	ctx := context.Background()

	require.True(t, gw.WriteSteps(ctx, 3000, t0, t0.Add(time.Hour)).OK())
	require.True(t, gw.WriteBloodPressure(ctx, 120, 80, t0).OK())

	metrics := n.Refresh(ctx, t0.Add(-time.Hour), t0.Add(2*time.Hour))
	assert.Len(t, metrics, 3)
	assert.Equal(t, metrics, n.Metrics())

	store.SetReadError(models.CategorySteps, errors.New("read failed"))
	metrics = n.Refresh(ctx, t0.Add(-time.Hour), t0.Add(2*time.Hour))
	require.Len(t, metrics, 2)
	assert.Empty(t, FilterByTypes(metrics, models.MetricStepCount))
	assert.Len(t, n.Metrics(), 2)
}
