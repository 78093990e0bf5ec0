package repository

import (
	"encoding/json"
	"fmt"

	"wisefido-vitals/internal/models"
)

// encodePayload 序列化记录中与类别对应的 payload（存入 JSONB 列）
func encodePayload(r models.Record) ([]byte, error) {
	var v any
	switch r.Category {
	case models.CategorySteps:
		v = r.Steps
	case models.CategoryHeartRate:
		v = r.HeartRate
	case models.CategorySleep:
		v = r.Sleep
	case models.CategoryLeanBodyMass:
		v = r.BodyMass
	case models.CategoryOxygenSaturation:
		v = r.OxygenSaturation
	case models.CategoryBloodPressure:
		v = r.BloodPressure
	case models.CategoryRespiratoryRate:
		v = r.RespiratoryRate
	case models.CategoryExercise:
		v = r.Exercise
	case models.CategoryDistance:
		v = r.Distance
	case models.CategoryMindfulness:
		v = r.Mindfulness
	default:
		return nil, fmt.Errorf("unsupported category %q", r.Category)
	}
	return json.Marshal(v)
}

// decodePayload 将 JSONB payload 还原到记录对应字段
func decodePayload(r *models.Record, raw []byte) error {
	var target any
	switch r.Category {
	case models.CategorySteps:
		r.Steps = &models.StepsPayload{}
		target = r.Steps
	case models.CategoryHeartRate:
		r.HeartRate = &models.HeartRatePayload{}
		target = r.HeartRate
	case models.CategorySleep:
		r.Sleep = &models.SleepPayload{}
		target = r.Sleep
	case models.CategoryLeanBodyMass:
		r.BodyMass = &models.BodyMassPayload{}
		target = r.BodyMass
	case models.CategoryOxygenSaturation:
		r.OxygenSaturation = &models.OxygenSaturationPayload{}
		target = r.OxygenSaturation
	case models.CategoryBloodPressure:
		r.BloodPressure = &models.BloodPressurePayload{}
		target = r.BloodPressure
	case models.CategoryRespiratoryRate:
		r.RespiratoryRate = &models.RespiratoryRatePayload{}
		target = r.RespiratoryRate
	case models.CategoryExercise:
		r.Exercise = &models.ExercisePayload{}
		target = r.Exercise
	case models.CategoryDistance:
		r.Distance = &models.DistancePayload{}
		target = r.Distance
	case models.CategoryMindfulness:
		r.Mindfulness = &models.MindfulnessPayload{}
		target = r.Mindfulness
	default:
		return fmt.Errorf("unsupported category %q", r.Category)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", r.Category, err)
	}
	return nil
}
