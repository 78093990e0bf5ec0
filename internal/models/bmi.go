package models

import "math"

// BMI 标签
const (
	BMIUnderweight = "Underweight"
	BMINormal      = "Normal"
	BMIOverweight  = "Overweight"
	BMIObese       = "Obese"
)

// BodyMassIndex 体重(kg) / 身高(m)²；身高未知（<=0）时返回 false
func BodyMassIndex(massKg, heightM float64) (float64, bool) {
	if heightM <= 0 || massKg <= 0 {
		return 0, false
	}
	bmi := massKg / (heightM * heightM)
	if math.IsInf(bmi, 0) || math.IsNaN(bmi) {
		return 0, false
	}
	return bmi, true
}

// BMILabel BMI 分类
func BMILabel(bmi float64) string {
	switch {
	case bmi < 18.5:
		return BMIUnderweight
	case bmi < 25:
		return BMINormal
	case bmi < 30:
		return BMIOverweight
	default:
		return BMIObese
	}
}
