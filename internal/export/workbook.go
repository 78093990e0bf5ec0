package export

import (
	"bytes"
	"fmt"
	"strconv"

	"wisefido-vitals/internal/models"
	"wisefido-vitals/internal/normalizer"

	"github.com/xuri/excelize/v2"
)

const (
	MetricsSheet = "Metrics"
	DailySheet   = "Daily Summary"
)

// MetricsHeader 指标表头
var MetricsHeader = []string{
	"Type",
	"Sub Type",
	"Start Time",
	"End Time",
	"Value",
	"Unit",
	"Source",
	"Manual Entry",
}

// DailyHeader 每日汇总表头
var DailyHeader = []string{
	"Date",
	"Type",
	"Aggregation",
	"Value",
	"Samples",
}

// MetricsWorkbook 生成包含明细与每日汇总两个工作表的 Excel 文件
func MetricsWorkbook(metrics []models.Metric) ([]byte, error) {
	f := excelize.NewFile()

	index, err := f.NewSheet(MetricsSheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(DailySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}

	// 删除默认的 Sheet1
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeHeader(f, MetricsSheet, MetricsHeader, headerStyle, []float64{24, 14, 27, 27, 12, 12, 28, 13}); err != nil {
		f.Close()
		return nil, err
	}
	for i, m := range metrics {
		row := []interface{}{
			m.Type,
			m.Category,
			m.StartTime,
			m.EndTime,
			cellNumber(m.Value),
			m.Unit,
			m.Source,
			yesNo(m.ManualEntry),
		}
		if err := writeRow(f, MetricsSheet, i+2, row); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := writeHeader(f, DailySheet, DailyHeader, headerStyle, []float64{12, 24, 12, 12, 10}); err != nil {
		f.Close()
		return nil, err
	}
	row := 2
	for _, typ := range normalizer.Types(metrics) {
		for _, d := range normalizer.DailySummaries(metrics, typ) {
			values := []interface{}{d.Date, d.Type, string(d.Aggregation), roundTenth(d.Value), d.Count}
			if err := writeRow(f, DailySheet, row, values); err != nil {
				f.Close()
				return nil, err
			}
			row++
		}
	}

	for _, sheet := range []string{MetricsSheet, DailySheet} {
		if err := f.SetPanes(sheet, &excelize.Panes{
			Freeze:      true,
			YSplit:      1,
			TopLeftCell: "A2",
			ActivePane:  "bottomLeft",
		}); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to freeze panes: %w", err)
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func writeHeader(f *excelize.File, sheet string, headers []string, style int, widths []float64) error {
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return fmt.Errorf("failed to set header cell %s: %w", cell, err)
		}
		if err := f.SetCellStyle(sheet, cell, cell, style); err != nil {
			return fmt.Errorf("failed to set header style: %w", err)
		}
		if col < len(widths) {
			name, err := excelize.ColumnNumberToName(col + 1)
			if err != nil {
				return fmt.Errorf("failed to convert column number: %w", err)
			}
			if err := f.SetColWidth(sheet, name, name, widths[col]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	return nil
}

func writeRow(f *excelize.File, sheet string, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

// cellNumber 数值写成数字单元格，无法解析时保留原文本
func cellNumber(v string) interface{} {
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return n
	}
	return v
}

func roundTenth(v float64) float64 {
	n, _ := strconv.ParseFloat(normalizer.FormatValue(v), 64)
	return n
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
