package normalizer

import (
	"context"
	"strconv"
	"sync"
	"time"

	"wisefido-vitals/internal/cache"
	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// 单位
const (
	UnitCount      = "count"
	UnitBPM        = "bpm"
	UnitMmHg       = "mmHg"
	UnitPercentage = "percentage"
	UnitBreathsMin = "breaths/min"
	UnitMinutes    = "minutes"
	UnitHours      = "hours"
	UnitKg         = "kg"
	UnitBMI        = "kg/m²"
	UnitKm         = "km"
)

// RecordReader 按类别读取记录（读取失败返回空列表）
type RecordReader interface {
	Read(ctx context.Context, c models.Category, start, end time.Time) []models.Record
}

// Options 归一化参数
type Options struct {
	// HeightM 身高（米）；<=0 时不输出 BMI
	HeightM float64
	// Location 指标时间文本使用的时区，默认 UTC
	Location *time.Location
	// Categories 参与 Refresh 的类别，默认全部
	Categories []models.Category
}

// Normalizer 将记录展开为扁平指标，并维护缓存的指标列表
type Normalizer struct {
	reader     RecordReader
	metrics    *cache.Observable[[]models.Metric]
	logger     *zap.Logger
	heightM    float64
	loc        *time.Location
	categories []models.Category
	mu         sync.Mutex
}

// NewNormalizer 创建归一化器；metrics 为共享的指标缓存
func NewNormalizer(reader RecordReader, metrics *cache.Observable[[]models.Metric], logger *zap.Logger, opts Options) *Normalizer {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if len(opts.Categories) == 0 {
		opts.Categories = models.AllCategories
	}
	return &Normalizer{
		reader:     reader,
		metrics:    metrics,
		logger:     logger,
		heightM:    opts.HeightM,
		loc:        opts.Location,
		categories: opts.Categories,
	}
}

// NewMetricsCache 指标列表缓存
func NewMetricsCache() *cache.Observable[[]models.Metric] {
	return cache.NewObservable(models.MetricsEqual)
}

// Metrics 当前缓存的指标列表
func (n *Normalizer) Metrics() []models.Metric {
	list, _ := n.metrics.Get()
	return list
}

// Refresh 读取 [start, end) 内所有类别的记录，重建指标列表并整体替换缓存
func (n *Normalizer) Refresh(ctx context.Context, start, end time.Time) []models.Metric {
	n.mu.Lock()
	defer n.mu.Unlock()

	results := make([][]models.Record, len(n.categories))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range n.categories {
		i, c := i, c
		g.Go(func() error {
			results[i] = n.reader.Read(gctx, c, start, end)
			return nil
		})
	}
	_ = g.Wait()

	byCategory := make(map[models.Category][]models.Record, len(n.categories))
	for i, c := range n.categories {
		byCategory[c] = results[i]
	}

	metrics := n.Build(n.categories, byCategory)
	n.metrics.Set(metrics)

	n.logger.Debug("Metrics refreshed",
		zap.Time("start", start),
		zap.Time("end", end),
		zap.Int("count", len(metrics)),
	)
	return metrics
}

// Build 按类别顺序展开记录
func (n *Normalizer) Build(order []models.Category, byCategory map[models.Category][]models.Record) []models.Metric {
	metrics := []models.Metric{}
	for _, c := range order {
		for _, rec := range byCategory[c] {
			metrics = append(metrics, n.Expand(rec)...)
		}
	}
	return metrics
}

// Expand 单条记录展开为一个或多个指标
func (n *Normalizer) Expand(rec models.Record) []models.Metric {
	switch rec.Category {
	case models.CategorySteps:
		if rec.Steps == nil {
			break
		}
		return []models.Metric{n.metric(rec, models.MetricStepCount, UnitCount, float64(rec.Steps.Count))}

	case models.CategoryHeartRate:
		if rec.HeartRate == nil {
			break
		}
		out := make([]models.Metric, 0, len(rec.HeartRate.Samples))
		for _, s := range rec.HeartRate.Samples {
			m := n.metric(rec, models.MetricHeartRate, UnitBPM, float64(s.BeatsPerMinute))
			m.StartTime = n.format(s.Time)
			m.EndTime = m.StartTime
			out = append(out, m)
		}
		return out

	case models.CategoryBloodPressure:
		if rec.BloodPressure == nil {
			break
		}
		return []models.Metric{
			n.metric(rec, models.MetricBloodPressureSys, UnitMmHg, rec.BloodPressure.SystolicMmHg),
			n.metric(rec, models.MetricBloodPressureDia, UnitMmHg, rec.BloodPressure.DiastolicMmHg),
		}

	case models.CategoryOxygenSaturation:
		if rec.OxygenSaturation == nil {
			break
		}
		return []models.Metric{n.metric(rec, models.MetricBloodOxygen, UnitPercentage, rec.OxygenSaturation.Fraction*100)}

	case models.CategoryRespiratoryRate:
		if rec.RespiratoryRate == nil {
			break
		}
		return []models.Metric{n.metric(rec, models.MetricRespiratoryRate, UnitBreathsMin, rec.RespiratoryRate.Rate)}

	case models.CategoryExercise:
		if rec.Exercise == nil {
			break
		}
		m := n.metric(rec, models.MetricWorkout, UnitMinutes, rec.Duration().Minutes())
		m.Category = strconv.Itoa(rec.Exercise.ExerciseType)
		return []models.Metric{m}

	case models.CategorySleep:
		if rec.Sleep == nil {
			break
		}
		return []models.Metric{n.metric(rec, models.MetricSleep, UnitHours, rec.Duration().Hours())}

	case models.CategoryLeanBodyMass:
		if rec.BodyMass == nil {
			break
		}
		out := []models.Metric{n.metric(rec, models.MetricWeight, UnitKg, rec.BodyMass.MassKg)}
		if bmi, ok := models.BodyMassIndex(rec.BodyMass.MassKg, n.heightM); ok {
			m := n.metric(rec, models.MetricBMI, UnitBMI, bmi)
			m.Category = models.BMILabel(bmi)
			out = append(out, m)
		}
		if rec.BodyMass.LeanMassKg != nil {
			out = append(out, n.metric(rec, models.MetricLeanBodyMass, UnitKg, *rec.BodyMass.LeanMassKg))
		}
		return out

	case models.CategoryDistance:
		if rec.Distance == nil {
			break
		}
		return []models.Metric{n.metric(rec, models.MetricDistance, UnitKm, rec.Distance.Meters/1000)}

	case models.CategoryMindfulness:
		if rec.Mindfulness == nil {
			break
		}
		m := n.metric(rec, models.MetricMindfulness, UnitMinutes, rec.Duration().Minutes())
		m.Category = strconv.Itoa(rec.Mindfulness.SessionType)
		return []models.Metric{m}
	}

	n.logger.Warn("Record has no payload for its category",
		zap.String("record_id", rec.ID),
		zap.String("category", string(rec.Category)),
	)
	return nil
}

func (n *Normalizer) metric(rec models.Record, typ, unit string, value float64) models.Metric {
	return models.Metric{
		Type:        typ,
		StartTime:   n.format(rec.StartTime),
		EndTime:     n.format(rec.EndTime),
		Source:      rec.Metadata.Source,
		Unit:        unit,
		Value:       FormatValue(value),
		ManualEntry: rec.Metadata.ManualEntry,
	}
}

func (n *Normalizer) format(t time.Time) string {
	return t.In(n.loc).Format(time.RFC3339)
}

// FormatValue 一位小数的定点格式（10000 -> "10000.0"）
func FormatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64)
}
