package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRecord 记录内容与类别不符或时间区间非法
var ErrInvalidRecord = errors.New("invalid record")

// Metadata 记录来源信息
type Metadata struct {
	Source       string    `json:"source"`           // 数据来源（应用/包名）
	Device       string    `json:"device,omitempty"` // 采集设备
	ManualEntry  bool      `json:"manual_entry"`
	LastModified time.Time `json:"last_modified"`
}

// Record 单条健康记录；Category 决定哪个 payload 非空
type Record struct {
	ID        string    `json:"id"`
	Category  Category  `json:"category"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Metadata  Metadata  `json:"metadata"`

	Steps            *StepsPayload            `json:"steps,omitempty"`
	HeartRate        *HeartRatePayload        `json:"heart_rate,omitempty"`
	Sleep            *SleepPayload            `json:"sleep,omitempty"`
	BodyMass         *BodyMassPayload         `json:"body_mass,omitempty"`
	OxygenSaturation *OxygenSaturationPayload `json:"oxygen_saturation,omitempty"`
	BloodPressure    *BloodPressurePayload    `json:"blood_pressure,omitempty"`
	RespiratoryRate  *RespiratoryRatePayload  `json:"respiratory_rate,omitempty"`
	Exercise         *ExercisePayload         `json:"exercise,omitempty"`
	Distance         *DistancePayload         `json:"distance,omitempty"`
	Mindfulness      *MindfulnessPayload      `json:"mindfulness,omitempty"`
}

type StepsPayload struct {
	Count int64 `json:"count"`
}

type HeartRateSample struct {
	Time           time.Time `json:"time"`
	BeatsPerMinute int64     `json:"bpm"`
}

type HeartRatePayload struct {
	Samples []HeartRateSample `json:"samples"`
}

type SleepStage struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Stage     string    `json:"stage"` // awake, light, deep, rem
}

type SleepPayload struct {
	Title  string       `json:"title,omitempty"`
	Notes  string       `json:"notes,omitempty"`
	Stages []SleepStage `json:"stages,omitempty"`
}

// BodyMassPayload 体重记录；LeanMassKg 可选
type BodyMassPayload struct {
	MassKg     float64  `json:"mass_kg"`
	LeanMassKg *float64 `json:"lean_mass_kg,omitempty"`
}

// OxygenSaturationPayload 血氧，Fraction 取值 0~1
type OxygenSaturationPayload struct {
	Fraction float64 `json:"fraction"`
}

type BloodPressurePayload struct {
	SystolicMmHg        float64 `json:"systolic_mmhg"`
	DiastolicMmHg       float64 `json:"diastolic_mmhg"`
	BodyPosition        string  `json:"body_position,omitempty"`
	MeasurementLocation string  `json:"measurement_location,omitempty"`
}

type RespiratoryRatePayload struct {
	Rate float64 `json:"rate"`
}

type ExercisePayload struct {
	ExerciseType int    `json:"exercise_type"`
	Title        string `json:"title,omitempty"`
}

type DistancePayload struct {
	Meters float64 `json:"meters"`
}

type MindfulnessPayload struct {
	SessionType int    `json:"session_type"`
	Title       string `json:"title,omitempty"`
}

// Validate 校验 tag 与 payload 是否一致，以及时间区间
func (r Record) Validate() error {
	if !r.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidRecord, r.Category)
	}
	if r.StartTime.IsZero() {
		return fmt.Errorf("%w: start time is required", ErrInvalidRecord)
	}
	if r.EndTime.Before(r.StartTime) {
		return fmt.Errorf("%w: end time %s before start time %s", ErrInvalidRecord,
			r.EndTime.Format(time.RFC3339), r.StartTime.Format(time.RFC3339))
	}

	set := r.payloadCount()
	if set != 1 {
		return fmt.Errorf("%w: expected exactly one payload, got %d", ErrInvalidRecord, set)
	}
	if !r.hasPayloadFor(r.Category) {
		return fmt.Errorf("%w: payload does not match category %s", ErrInvalidRecord, r.Category)
	}

	switch r.Category {
	case CategoryOxygenSaturation:
		if r.OxygenSaturation.Fraction < 0 || r.OxygenSaturation.Fraction > 1 {
			return fmt.Errorf("%w: oxygen saturation fraction %v out of [0,1]", ErrInvalidRecord, r.OxygenSaturation.Fraction)
		}
	case CategoryHeartRate:
		if len(r.HeartRate.Samples) == 0 {
			return fmt.Errorf("%w: heart rate record without samples", ErrInvalidRecord)
		}
	case CategoryLeanBodyMass:
		if r.BodyMass.MassKg <= 0 {
			return fmt.Errorf("%w: body mass must be positive", ErrInvalidRecord)
		}
	}
	return nil
}

func (r Record) payloadCount() int {
	n := 0
	for _, set := range []bool{
		r.Steps != nil, r.HeartRate != nil, r.Sleep != nil, r.BodyMass != nil,
		r.OxygenSaturation != nil, r.BloodPressure != nil, r.RespiratoryRate != nil,
		r.Exercise != nil, r.Distance != nil, r.Mindfulness != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

func (r Record) hasPayloadFor(c Category) bool {
	switch c {
	case CategorySteps:
		return r.Steps != nil
	case CategoryHeartRate:
		return r.HeartRate != nil
	case CategorySleep:
		return r.Sleep != nil
	case CategoryLeanBodyMass:
		return r.BodyMass != nil
	case CategoryOxygenSaturation:
		return r.OxygenSaturation != nil
	case CategoryBloodPressure:
		return r.BloodPressure != nil
	case CategoryRespiratoryRate:
		return r.RespiratoryRate != nil
	case CategoryExercise:
		return r.Exercise != nil
	case CategoryDistance:
		return r.Distance != nil
	case CategoryMindfulness:
		return r.Mindfulness != nil
	}
	return false
}

// Normalize 返回所有时间转换为 UTC 的副本（去掉单调时钟，保证结构相等可比较）
func (r Record) Normalize() Record {
	out := r
	out.StartTime = r.StartTime.UTC()
	out.EndTime = r.EndTime.UTC()
	if !r.Metadata.LastModified.IsZero() {
		out.Metadata.LastModified = r.Metadata.LastModified.UTC()
	}
	if r.HeartRate != nil {
		hr := &HeartRatePayload{Samples: make([]HeartRateSample, len(r.HeartRate.Samples))}
		for i, s := range r.HeartRate.Samples {
			hr.Samples[i] = HeartRateSample{Time: s.Time.UTC(), BeatsPerMinute: s.BeatsPerMinute}
		}
		out.HeartRate = hr
	}
	if r.Sleep != nil {
		sl := *r.Sleep
		if len(r.Sleep.Stages) > 0 {
			sl.Stages = make([]SleepStage, len(r.Sleep.Stages))
			for i, st := range r.Sleep.Stages {
				sl.Stages[i] = SleepStage{StartTime: st.StartTime.UTC(), EndTime: st.EndTime.UTC(), Stage: st.Stage}
			}
		}
		out.Sleep = &sl
	}
	return out
}

// Duration 区间长度（时间点记录为 0）
func (r Record) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}
