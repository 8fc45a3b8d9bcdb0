package reporting

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
)

// OperationReport представляет JSON отчёт о завершённой операции затирания.
// Пишется один файл на операцию: движок живёт долго, агрегировать нечего.
type OperationReport struct {
	OperationID  string     `json:"operation_id"`
	Version      string     `json:"version"`
	Hostname     string     `json:"hostname"`
	Device       string     `json:"device"`
	Algorithm    string     `json:"algorithm"`
	AlgorithmID  uint32     `json:"algorithm_id"`
	Passes       int        `json:"passes"`
	SizeBytes    uint64     `json:"size_bytes"`
	BytesWritten uint64     `json:"bytes_written"`
	Status       string     `json:"status"`
	StartTime    time.Time  `json:"start_time"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	Duration     string     `json:"duration"`
	SpeedMBps    float64    `json:"speed_mbps"`
	Verified     bool       `json:"verified"`
	VerifyPassed bool       `json:"verify_passed"`
	Error        string     `json:"error,omitempty"`
}

const reportVersion = "1.0.0"

// NewOperationReport создаёт заготовку отчёта в момент старта операции
func NewOperationReport(device, algorithm string, algorithmID uint32, passes int, sizeBytes uint64, startTime time.Time) *OperationReport {
	hostname, _ := os.Hostname()
	return &OperationReport{
		OperationID: fmt.Sprintf("op_%d", startTime.UnixNano()),
		Version:     reportVersion,
		Hostname:    hostname,
		Device:      device,
		Algorithm:   algorithm,
		AlgorithmID: algorithmID,
		Passes:      passes,
		SizeBytes:   sizeBytes,
		StartTime:   startTime,
	}
}

// Finish фиксирует терминальное состояние операции
func (r *OperationReport) Finish(status string, bytesWritten uint64, errMsg string) {
	now := time.Now()
	r.EndTime = &now
	r.Status = status
	r.BytesWritten = bytesWritten
	r.Error = errMsg

	elapsed := now.Sub(r.StartTime)
	r.Duration = elapsed.String()
	if elapsed > 0 {
		r.SpeedMBps = float64(bytesWritten) / elapsed.Seconds() / (1024 * 1024)
	}
}

// SaveReport сохраняет отчёт в JSON файл
func SaveReport(report *OperationReport, cfg *config.Config) error {
	if !cfg.Reporting.Enabled {
		return nil
	}

	if err := os.MkdirAll(cfg.Reporting.LocalPath, 0755); err != nil {
		return fmt.Errorf("ошибка создания директории для отчётов: %w", err)
	}

	filename := fmt.Sprintf("wipe_report_%s_%s.json",
		filepath.Base(report.Device), report.StartTime.Format("20060102_150405"))
	path := filepath.Join(cfg.Reporting.LocalPath, filename)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("ошибка сериализации отчёта: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("ошибка записи отчёта: %w", err)
	}

	return nil
}
