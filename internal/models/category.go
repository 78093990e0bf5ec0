package models

import (
	"fmt"
	"strings"
)

// Category 健康数据类别
type Category string

const (
	CategorySteps            Category = "steps"
	CategoryHeartRate        Category = "heart_rate"
	CategorySleep            Category = "sleep"
	CategoryLeanBodyMass     Category = "lean_body_mass"
	CategoryOxygenSaturation Category = "oxygen_saturation"
	CategoryBloodPressure    Category = "blood_pressure"
	CategoryRespiratoryRate  Category = "respiratory_rate"
	CategoryExercise         Category = "exercise"
	CategoryDistance         Category = "distance"
	CategoryMindfulness      Category = "mindfulness"
)

// SnapshotCategories 快照跟踪的九个类别（顺序即查询顺序）
var SnapshotCategories = []Category{
	CategorySteps,
	CategoryHeartRate,
	CategorySleep,
	CategoryLeanBodyMass,
	CategoryOxygenSaturation,
	CategoryBloodPressure,
	CategoryRespiratoryRate,
	CategoryExercise,
	CategoryDistance,
}

// AllCategories 所有支持读写的类别
var AllCategories = append(append([]Category{}, SnapshotCategories...), CategoryMindfulness)

// IsInterval 区间型记录（有起止时间）；其余为时间点记录
func (c Category) IsInterval() bool {
	switch c {
	case CategorySteps, CategoryHeartRate, CategorySleep, CategoryExercise, CategoryDistance, CategoryMindfulness:
		return true
	default:
		return false
	}
}

// Valid 是否为已知类别
func (c Category) Valid() bool {
	for _, known := range AllCategories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory 解析类别名（兼容连字符写法，如 "heart-rate"）
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// ParseCategories 解析逗号分隔的类别列表
func ParseCategories(s string) ([]Category, error) {
	var out []Category
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := ParseCategory(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
