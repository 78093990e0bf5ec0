package normalizer

import (
	"sort"
	"strconv"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// Aggregation 每日聚合方式
type Aggregation string

const (
	AggregateSum     Aggregation = "sum"
	AggregateAverage Aggregation = "average"
	AggregateLast    Aggregation = "last"
)

// AggregatorFor 指标类型对应的聚合方式；未知类型按求和
func AggregatorFor(metricType string) Aggregation {
	switch metricType {
	case models.MetricStepCount, models.MetricDistance, models.MetricCalories,
		models.MetricSleep, models.MetricWorkout, models.MetricMindfulness:
		return AggregateSum
	case models.MetricHeartRate, models.MetricBloodPressureSys, models.MetricBloodPressureDia,
		models.MetricBloodOxygen, models.MetricRespiratoryRate:
		return AggregateAverage
	case models.MetricLeanBodyMass, models.MetricWeight, models.MetricBMI:
		return AggregateLast
	default:
		return AggregateSum
	}
}

// Apply 聚合一组按时间排序的值
func (a Aggregation) Apply(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	switch a {
	case AggregateAverage:
		var total float64
		for _, v := range values {
			total += v
		}
		return total / float64(len(values))
	case AggregateLast:
		return values[len(values)-1]
	default:
		var total float64
		for _, v := range values {
			total += v
		}
		return total
	}
}

// DailyValue 某天某类型的聚合结果
type DailyValue struct {
	Date        string      `json:"date"`
	Type        string      `json:"type"`
	Aggregation Aggregation `json:"aggregation"`
	Value       float64     `json:"value"`
	Count       int         `json:"count"`
}

// FilterByTimeRange 保留与 [from, to] 有重叠的指标；时间无法解析的指标被排除并记录日志
func FilterByTimeRange(metrics []models.Metric, from, to time.Time, logger *zap.Logger) []models.Metric {
	out := []models.Metric{}
	for _, m := range metrics {
		start, err := time.Parse(time.RFC3339, m.StartTime)
		if err != nil {
			logParseFailure(logger, m, err)
			continue
		}
		end, err := time.Parse(time.RFC3339, m.EndTime)
		if err != nil {
			logParseFailure(logger, m, err)
			continue
		}
		if !start.After(to) && !end.Before(from) {
			out = append(out, m)
		}
	}
	return out
}

// FilterByTypes 保留指定类型
func FilterByTypes(metrics []models.Metric, types ...string) []models.Metric {
	set := toSet(types)
	out := []models.Metric{}
	for _, m := range metrics {
		if _, ok := set[m.Type]; ok {
			out = append(out, m)
		}
	}
	return out
}

// FilterBySources 保留指定来源
func FilterBySources(metrics []models.Metric, sources ...string) []models.Metric {
	set := toSet(sources)
	out := []models.Metric{}
	for _, m := range metrics {
		if _, ok := set[m.Source]; ok {
			out = append(out, m)
		}
	}
	return out
}

// FilterByManualEntry 按是否手动录入过滤
func FilterByManualEntry(metrics []models.Metric, manual bool) []models.Metric {
	out := []models.Metric{}
	for _, m := range metrics {
		if m.ManualEntry == manual {
			out = append(out, m)
		}
	}
	return out
}

// GroupByDate 按起始时间文本的日期部分（YYYY-MM-DD）分组
func GroupByDate(metrics []models.Metric) map[string][]models.Metric {
	out := make(map[string][]models.Metric)
	for _, m := range metrics {
		d := dateOf(m)
		out[d] = append(out[d], m)
	}
	return out
}

// DailySummary 某类型在某天的聚合值；当天没有可解析的值时返回 false
func DailySummary(metrics []models.Metric, metricType, date string) (float64, bool) {
	var day []models.Metric
	for _, m := range metrics {
		if m.Type == metricType && dateOf(m) == date {
			day = append(day, m)
		}
	}
	values := sortedValues(day)
	if len(values) == 0 {
		return 0, false
	}
	return AggregatorFor(metricType).Apply(values), true
}

// DailySummaries 某类型逐日聚合（按日期升序）
func DailySummaries(metrics []models.Metric, metricType string) []DailyValue {
	agg := AggregatorFor(metricType)
	groups := GroupByDate(FilterByTypes(metrics, metricType))

	dates := make([]string, 0, len(groups))
	for d := range groups {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	out := make([]DailyValue, 0, len(dates))
	for _, d := range dates {
		values := sortedValues(groups[d])
		if len(values) == 0 {
			continue
		}
		out = append(out, DailyValue{
			Date:        d,
			Type:        metricType,
			Aggregation: agg,
			Value:       agg.Apply(values),
			Count:       len(values),
		})
	}
	return out
}

// MostRecent 某类型中结束时间最晚的指标
func MostRecent(metrics []models.Metric, metricType string, logger *zap.Logger) (models.Metric, bool) {
	var best models.Metric
	var bestEnd time.Time
	found := false
	for _, m := range metrics {
		if m.Type != metricType {
			continue
		}
		end, err := time.Parse(time.RFC3339, m.EndTime)
		if err != nil {
			logParseFailure(logger, m, err)
			continue
		}
		if !found || end.After(bestEnd) {
			best, bestEnd, found = m, end, true
		}
	}
	return best, found
}

// Types 指标列表中出现的类型（已排序）
func Types(metrics []models.Metric) []string {
	set := make(map[string]struct{})
	for _, m := range metrics {
		set[m.Type] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func dateOf(m models.Metric) string {
	if len(m.StartTime) < 10 {
		return m.StartTime
	}
	return m.StartTime[:10]
}

// sortedValues 按起始时间排序后的数值；非数字值被跳过
func sortedValues(metrics []models.Metric) []float64 {
	sorted := append([]models.Metric(nil), metrics...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime < sorted[j].StartTime })

	values := make([]float64, 0, len(sorted))
	for _, m := range sorted {
		v, err := strconv.ParseFloat(m.Value, 64)
		if err != nil {
			continue
		}
		values = append(values, v)
	}
	return values
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, s := range items {
		set[s] = struct{}{}
	}
	return set
}

func logParseFailure(logger *zap.Logger, m models.Metric, err error) {
	if logger == nil {
		return
	}
	logger.Warn("Skipping metric with unparsable time",
		zap.String("type", m.Type),
		zap.String("start_time", m.StartTime),
		zap.String("end_time", m.EndTime),
		zap.Error(err),
	)
}
