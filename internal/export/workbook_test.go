package export

import (
	"bytes"
	"testing"

	"wisefido-vitals/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestMetricsWorkbook(t *testing.T) {
	metrics := []models.Metric{
		{Type: models.MetricStepCount, StartTime: "2024-03-01T08:00:00Z", EndTime: "2024-03-01T09:00:00Z", Value: "3000.0", Unit: "count", Source: "watch"},
		{Type: models.MetricStepCount, StartTime: "2024-03-01T18:00:00Z", EndTime: "2024-03-01T19:00:00Z", Value: "4000.0", Unit: "count", Source: "watch"},
		{Type: models.MetricHeartRate, StartTime: "2024-03-01T08:00:00Z", EndTime: "2024-03-01T08:00:00Z", Value: "60.0", Unit: "bpm", Source: "watch", ManualEntry: true},
	}

	data, err := MetricsWorkbook(metrics)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{MetricsSheet, DailySheet}, f.GetSheetList())

	rows, err := f.GetRows(MetricsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, MetricsHeader, rows[0])
	assert.Equal(t, models.MetricStepCount, rows[1][0])
	assert.Equal(t, "3000", rows[1][4])
	assert.Equal(t, "Yes", rows[3][7])

	daily, err := f.GetRows(DailySheet)
	require.NoError(t, err)
	require.Len(t, daily, 3)
	assert.Equal(t, []string{"2024-03-01", models.MetricHeartRate, "average", "60", "1"}, daily[1])
	assert.Equal(t, []string{"2024-03-01", models.MetricStepCount, "sum", "7000", "2"}, daily[2])
}

func TestMetricsWorkbook_Empty(t *testing.T) {
	data, err := MetricsWorkbook(nil)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(MetricsSheet)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
