package gateway

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"

	"go.uber.org/zap"
)

// WriteRecord 写入一条预先构造好的记录（补齐 ID / 来源 / 时间）
func (g *RecordGateway) WriteRecord(ctx context.Context, rec models.Record) (res WriteResult) {
	defer func() {
		if r := recover(); r != nil {
			res = WriteResult{Err: fmt.Errorf("write %s panicked: %v", rec.Category, r)}
			g.logger.Error("Health store write panicked",
				zap.String("category", string(rec.Category)),
				zap.Any("panic", r),
			)
		}
	}()

	now := g.now()
	if rec.ID == "" {
		rec.ID = g.newID()
	}
	if rec.StartTime.IsZero() {
		rec.StartTime = now
	}
	if rec.EndTime.IsZero() {
		rec.EndTime = rec.StartTime
	}
	if rec.Metadata.Source == "" {
		rec.Metadata.Source = g.source
	}
	if rec.Metadata.Device == "" {
		rec.Metadata.Device = g.device
	}
	if rec.Metadata.LastModified.IsZero() {
		rec.Metadata.LastModified = now
	}
	rec = rec.Normalize()

	if err := rec.Validate(); err != nil {
		g.logger.Warn("Rejected invalid health record",
			zap.String("category", string(rec.Category)),
			zap.Error(err),
		)
		return WriteResult{Err: err}
	}

	if err := g.store.InsertRecords(ctx, []models.Record{rec}); err != nil {
		g.logger.Error("Failed to write health record",
			zap.String("record_id", rec.ID),
			zap.String("category", string(rec.Category)),
			zap.Error(err),
		)
		return WriteResult{Err: fmt.Errorf("failed to insert %s record: %w", rec.Category, err)}
	}

	g.logger.Debug("Health record written",
		zap.String("record_id", rec.ID),
		zap.String("category", string(rec.Category)),
	)
	return WriteResult{RecordID: rec.ID}
}

// manual 用户手动录入的记录
func manual(c models.Category, start, end time.Time) models.Record {
	return models.Record{
		Category:  c,
		StartTime: start,
		EndTime:   end,
		Metadata:  models.Metadata{ManualEntry: true},
	}
}

// WriteSteps 写入步数；start 为零值时取当前时间，end 为零值时等于 start
func (g *RecordGateway) WriteSteps(ctx context.Context, count int64, start, end time.Time) WriteResult {
	rec := manual(models.CategorySteps, start, end)
	rec.Steps = &models.StepsPayload{Count: count}
	return g.WriteRecord(ctx, rec)
}

// WriteHeartRate 写入单个心率样本
func (g *RecordGateway) WriteHeartRate(ctx context.Context, bpm int64, at time.Time) WriteResult {
	if at.IsZero() {
		at = g.now()
	}
	rec := manual(models.CategoryHeartRate, at, at)
	rec.HeartRate = &models.HeartRatePayload{
		Samples: []models.HeartRateSample{{Time: at, BeatsPerMinute: bpm}},
	}
	return g.WriteRecord(ctx, rec)
}

func (g *RecordGateway) WriteSleep(ctx context.Context, start, end time.Time, title, notes string) WriteResult {
	rec := manual(models.CategorySleep, start, end)
	rec.Sleep = &models.SleepPayload{Title: title, Notes: notes}
	return g.WriteRecord(ctx, rec)
}

// WriteBodyMass 写入体重（可选瘦体重）
func (g *RecordGateway) WriteBodyMass(ctx context.Context, massKg float64, leanMassKg *float64, at time.Time) WriteResult {
	rec := manual(models.CategoryLeanBodyMass, at, at)
	rec.BodyMass = &models.BodyMassPayload{MassKg: massKg, LeanMassKg: leanMassKg}
	return g.WriteRecord(ctx, rec)
}

// WriteOxygenSaturation 写入血氧；fraction 取值 0~1
func (g *RecordGateway) WriteOxygenSaturation(ctx context.Context, fraction float64, at time.Time) WriteResult {
	rec := manual(models.CategoryOxygenSaturation, at, at)
	rec.OxygenSaturation = &models.OxygenSaturationPayload{Fraction: fraction}
	return g.WriteRecord(ctx, rec)
}

func (g *RecordGateway) WriteBloodPressure(ctx context.Context, systolic, diastolic float64, at time.Time) WriteResult {
	rec := manual(models.CategoryBloodPressure, at, at)
	rec.BloodPressure = &models.BloodPressurePayload{SystolicMmHg: systolic, DiastolicMmHg: diastolic}
	return g.WriteRecord(ctx, rec)
}

func (g *RecordGateway) WriteRespiratoryRate(ctx context.Context, rate float64, at time.Time) WriteResult {
	rec := manual(models.CategoryRespiratoryRate, at, at)
	rec.RespiratoryRate = &models.RespiratoryRatePayload{Rate: rate}
	return g.WriteRecord(ctx, rec)
}

func (g *RecordGateway) WriteExercise(ctx context.Context, exerciseType int, title string, start, end time.Time) WriteResult {
	rec := manual(models.CategoryExercise, start, end)
	rec.Exercise = &models.ExercisePayload{ExerciseType: exerciseType, Title: title}
	return g.WriteRecord(ctx, rec)
}

// WriteDistance 写入距离（米）
func (g *RecordGateway) WriteDistance(ctx context.Context, meters float64, start, end time.Time) WriteResult {
	rec := manual(models.CategoryDistance, start, end)
	rec.Distance = &models.DistancePayload{Meters: meters}
	return g.WriteRecord(ctx, rec)
}

func (g *RecordGateway) WriteMindfulness(ctx context.Context, sessionType int, title string, start, end time.Time) WriteResult {
	rec := manual(models.CategoryMindfulness, start, end)
	rec.Mindfulness = &models.MindfulnessPayload{SessionType: sessionType, Title: title}
	return g.WriteRecord(ctx, rec)
}
