package models

// Metric 扁平化的单个指标（时间为带时区偏移的 RFC 3339 文本）
type Metric struct {
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
	Source      string `json:"source"`
	Unit        string `json:"unit"`
	Value       string `json:"value"`
	ManualEntry bool   `json:"manual_entry"`
}

// 指标类型名
const (
	MetricStepCount        = "stepcount"
	MetricHeartRate        = "heartrate"
	MetricBloodPressureSys = "bloodpressure_systolic"
	MetricBloodPressureDia = "bloodpressure_diastolic"
	MetricBloodOxygen      = "bloodoxygen"
	MetricRespiratoryRate  = "respiratoryrate"
	MetricWorkout          = "workout"
	MetricSleep            = "sleep"
	MetricWeight           = "weight"
	MetricBMI              = "bmi"
	MetricLeanBodyMass     = "leanbodymass"
	MetricDistance         = "distance"
	MetricMindfulness      = "mindfulness"
	MetricCalories         = "calories"
)

// MetricsEqual 两个指标列表逐项相等
func MetricsEqual(a, b []Metric) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
