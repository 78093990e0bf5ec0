package gateway

import (
	"context"
	"fmt"
	"time"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSource 本服务写入记录时使用的来源名
const DefaultSource = "com.wisefido.vitals"

// ReadResult 带错误原因的读取结果
type ReadResult struct {
	Records []models.Record
	Err     error
}

// WriteResult 写入结果：成功时 RecordID 非空，失败时 Err 非空
type WriteResult struct {
	RecordID string
	Err      error
}

// OK 写入是否成功
func (r WriteResult) OK() bool {
	return r.Err == nil
}

// Options 网关参数
type Options struct {
	Source string
	Device string
}

// RecordGateway 健康数据存储适配层
//
// 读取失败只记录日志并返回空列表；写入失败记录日志并通过 WriteResult 返回原因，不会 panic。
type RecordGateway struct {
	store  repository.HealthStore
	logger *zap.Logger
	source string
	device string
	now    func() time.Time
	newID  func() string
}

// NewRecordGateway 创建网关
func NewRecordGateway(store repository.HealthStore, logger *zap.Logger, opts Options) *RecordGateway {
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	return &RecordGateway{
		store:  store,
		logger: logger,
		source: opts.Source,
		device: opts.Device,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Read 查询类别在 [start, end) 内的记录；失败返回空列表
func (g *RecordGateway) Read(ctx context.Context, c models.Category, start, end time.Time) []models.Record {
	res := g.ReadDetailed(ctx, c, start, end)
	if res.Err != nil {
		return []models.Record{}
	}
	return res.Records
}

// ReadDetailed 与 Read 相同，但保留失败原因
func (g *RecordGateway) ReadDetailed(ctx context.Context, c models.Category, start, end time.Time) (res ReadResult) {
	defer func() {
		if r := recover(); r != nil {
			res = ReadResult{Records: []models.Record{}, Err: fmt.Errorf("read %s panicked: %v", c, r)}
			g.logger.Error("Health store read panicked",
				zap.String("category", string(c)),
				zap.Any("panic", r),
			)
		}
	}()

	records, err := g.store.ReadRecords(ctx, c, models.TimeRange{Start: start, End: end})
	if err != nil {
		g.logger.Warn("Failed to read health records",
			zap.String("category", string(c)),
			zap.Time("start", start),
			zap.Time("end", end),
			zap.Error(err),
		)
		return ReadResult{Records: []models.Record{}, Err: err}
	}

	out := make([]models.Record, 0, len(records))
	for _, rec := range records {
		if rec.Category != c {
			g.logger.Debug("Dropping record with mismatched category",
				zap.String("record_id", rec.ID),
				zap.String("want", string(c)),
				zap.String("got", string(rec.Category)),
			)
			continue
		}
		out = append(out, rec.Normalize())
	}
	return ReadResult{Records: out}
}

func (g *RecordGateway) ReadSteps(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategorySteps, start, end)
}

func (g *RecordGateway) ReadHeartRate(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryHeartRate, start, end)
}

func (g *RecordGateway) ReadSleep(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategorySleep, start, end)
}

func (g *RecordGateway) ReadBodyMass(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryLeanBodyMass, start, end)
}

func (g *RecordGateway) ReadOxygenSaturation(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryOxygenSaturation, start, end)
}

func (g *RecordGateway) ReadBloodPressure(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryBloodPressure, start, end)
}

func (g *RecordGateway) ReadRespiratoryRate(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryRespiratoryRate, start, end)
}

func (g *RecordGateway) ReadExercise(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryExercise, start, end)
}

func (g *RecordGateway) ReadDistance(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryDistance, start, end)
}

func (g *RecordGateway) ReadMindfulness(ctx context.Context, start, end time.Time) []models.Record {
	return g.Read(ctx, models.CategoryMindfulness, start, end)
}

// BMIReading 由体重记录推导的 BMI
type BMIReading struct {
	Record models.Record `json:"record"`
	MassKg float64       `json:"mass_kg"`
	BMI    float64       `json:"bmi"`
	Label  string        `json:"label"`
}

// ReadBMI 读取体重记录并按身高(m)计算 BMI；身高未知时返回空列表
func (g *RecordGateway) ReadBMI(ctx context.Context, start, end time.Time, heightM float64) []BMIReading {
	out := []BMIReading{}
	if heightM <= 0 {
		return out
	}
	for _, rec := range g.ReadBodyMass(ctx, start, end) {
		bmi, ok := models.BodyMassIndex(rec.BodyMass.MassKg, heightM)
		if !ok {
			continue
		}
		out = append(out, BMIReading{
			Record: rec,
			MassKg: rec.BodyMass.MassKg,
			BMI:    bmi,
			Label:  models.BMILabel(bmi),
		})
	}
	return out
}
