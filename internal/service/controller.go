package service

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
	"github.com/kidoz/storage-wiper-sub000/internal/logging"
	"github.com/kidoz/storage-wiper-sub000/internal/reporting"
	"github.com/kidoz/storage-wiper-sub000/internal/system"
	"github.com/kidoz/storage-wiper-sub000/internal/wipe"
)

// Статусы операции затирания
const (
	StatusIdle       = "idle"
	StatusValidating = "validating"
	StatusRunning    = "running"
	StatusVerifying  = "verifying"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// Event событие прогресса, привязанное к устройству. Доставляется
// асинхронно всем подписчикам через общий EventSink.
type Event struct {
	DevicePath string
	wipe.Progress
}

// EventSink принимает события операций контроллера
type EventSink interface {
	Publish(e Event)
}

// EventFunc адаптер функции к EventSink
type EventFunc func(Event)

func (f EventFunc) Publish(e Event) { f(e) }

// TargetValidator проверяет допустимость устройства как цели затирания
type TargetValidator interface {
	ValidateWipeTarget(path string) error
}

// Controller управляет единственной одновременной операцией затирания.
// Start возвращает управление сразу, работа идёт в фоновом воркере,
// прогресс уходит подписчикам через EventSink.
type Controller struct {
	cfg      *config.Config
	registry *wipe.Registry
	policy   TargetValidator
	logger   *logging.EnterpriseLogger
	sink     EventSink

	// Единственное состояние, разделяемое между управляющим потоком
	// и воркером. Атомики, не мьютекс: флаг отмены опрашивается на
	// горячем пути записи.
	cancelRequested atomic.Bool
	inProgress      atomic.Bool

	mu     sync.Mutex
	done   chan struct{}
	status string
	device string

	// Подменяются в тестах, чтобы гонять воркер по временным файлам
	openWipe   func(path string) (*os.File, error)
	openVerify func(path string) (*os.File, error)
	querySize  func(f *os.File) (uint64, error)
}

func NewController(cfg *config.Config, registry *wipe.Registry, policy TargetValidator, logger *logging.EnterpriseLogger, sink EventSink) *Controller {
	return &Controller{
		cfg:        cfg,
		registry:   registry,
		policy:     policy,
		logger:     logger,
		sink:       sink,
		status:     StatusIdle,
		openWipe:   system.OpenForWipe,
		openVerify: system.OpenForVerify,
		querySize:  system.QueryDeviceSize,
	}
}

// Status возвращает текущий статус контроллера и устройство операции
func (c *Controller) Status() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status, c.device
}

// Start запускает операцию затирания в фоне. Пока предыдущая операция
// не завершена, повторный запуск отклоняется без создания второго воркера.
func (c *Controller) Start(devicePath string, kind wipe.WipeAlgorithmKind, verify bool) error {
	if !c.inProgress.CompareAndSwap(false, true) {
		return fmt.Errorf("wipe operation already in progress")
	}

	// Наблюдатели Status видят валидацию как отдельную фазу; отклонённый
	// запуск возвращает прежнее состояние, не затирая терминальный статус
	// предыдущей операции
	c.mu.Lock()
	prevStatus, prevDevice := c.status, c.device
	c.status = StatusValidating
	c.device = devicePath
	c.mu.Unlock()

	reject := func(err error) error {
		c.mu.Lock()
		c.status, c.device = prevStatus, prevDevice
		c.mu.Unlock()
		c.inProgress.Store(false)
		return err
	}

	if err := c.policy.ValidateWipeTarget(devicePath); err != nil {
		c.logger.Log("WARN", "Цель затирания отклонена политикой", "device", devicePath, "reason", err.Error())
		return reject(err)
	}

	alg, err := c.registry.Lookup(kind)
	if err != nil {
		return reject(err)
	}

	// Верификация запрошена, но алгоритм её не поддерживает — тихо
	// пропускаем, операция остаётся успешной без клейма о проверке
	if verify && !alg.SupportsVerification() {
		verify = false
	}

	c.cancelRequested.Store(false)

	done := make(chan struct{})
	c.mu.Lock()
	c.done = done
	c.status = StatusRunning
	c.device = devicePath
	c.mu.Unlock()

	c.logger.Log("INFO", "Операция затирания запущена",
		"device", devicePath, "algorithm", alg.Name(), "passes", alg.Passes(), "verify", verify)

	go c.run(devicePath, alg, verify, done)

	return nil
}

// Cancel взводит флаг отмены, не дожидаясь его обработки воркером.
// Возвращает true, если операция была в полёте.
func (c *Controller) Cancel() bool {
	wasInProgress := c.inProgress.Load()
	c.cancelRequested.Store(true)
	if wasInProgress {
		c.logger.Log("INFO", "Запрошена отмена операции")
	}
	return wasInProgress
}

// Close останавливает контроллер: запрашивает отмену и ждёт воркер не
// дольше льготного периода. Незавершившийся воркер отцепляется, а не
// блокирует остановку: прерывать аппаратное стирание силой небезопасно.
func (c *Controller) Close() {
	if !c.inProgress.Load() {
		return
	}

	c.Cancel()

	c.mu.Lock()
	done := c.done
	c.mu.Unlock()

	grace := c.cfg.GetShutdownGrace()
	select {
	case <-done:
		c.logger.Log("INFO", "Воркер завершился при остановке")
	case <-time.After(grace):
		c.logger.Log("WARN", "Воркер не завершился за льготный период, отцеплен",
			"grace", grace.String())
	}
}

// run тело воркера: открытие устройства, проходы, верификация, терминальное
// событие. Выполняется в собственной горутине, все выходы проходят через
// finish ровно один раз.
func (c *Controller) run(devicePath string, alg wipe.Algorithm, verify bool, done chan struct{}) {
	var last wipe.Progress
	recorder := wipe.ProgressFunc(func(p wipe.Progress) {
		last = p
		c.sink.Publish(Event{DevicePath: devicePath, Progress: p})
	})
	tracker := wipe.NewProgressTracker(recorder)

	var report *reporting.OperationReport

	defer func() {
		if r := recover(); r != nil {
			c.logger.Log("ERROR", "Паника в воркере затирания", "device", devicePath, "panic", fmt.Sprint(r))
			c.finish(devicePath, report, last, StatusFailed,
				fmt.Sprintf("internal error: %v", r), false, false)
		}
		c.inProgress.Store(false)
		close(done)
	}()

	size, wipeErr := c.executeAlgorithm(devicePath, alg, tracker, &report)

	// Приоритет исходов: отмена, затем сбой записи, затем сбой
	// верификации, затем успех
	if errors.Is(wipeErr, wipe.ErrCancelled) {
		c.finish(devicePath, report, last, StatusCancelled, "", verify, false)
		return
	}
	if wipeErr != nil {
		c.finish(devicePath, report, last, StatusFailed, wipeErr.Error(), verify, false)
		return
	}

	if verify {
		c.setStatus(StatusVerifying)
		passed, verr := c.runVerification(devicePath, alg, size, tracker)
		if errors.Is(verr, wipe.ErrCancelled) {
			c.finish(devicePath, report, last, StatusCancelled, "", verify, false)
			return
		}
		if verr != nil {
			c.finish(devicePath, report, last, StatusFailed,
				fmt.Sprintf("verification error: %v", verr), verify, false)
			return
		}
		if !passed {
			c.finish(devicePath, report, last, StatusFailed,
				"Verification failed: wiped data does not match expected state", verify, false)
			return
		}
	}

	c.finish(devicePath, report, last, StatusCompleted, "", verify, verify)
}

// executeAlgorithm открывает цель и прогоняет алгоритм. Аппаратные
// алгоритмы получают путь, программные — дескриптор с O_SYNC.
func (c *Controller) executeAlgorithm(devicePath string, alg wipe.Algorithm, tracker *wipe.ProgressTracker, report **reporting.OperationReport) (uint64, error) {
	if devAlg, ok := alg.(wipe.DeviceAlgorithm); ok && alg.RequiresRawDevice() {
		f, err := c.openVerify(devicePath)
		if err != nil {
			return 0, err
		}
		size, err := c.querySize(f)
		f.Close()
		if err != nil {
			return 0, err
		}

		*report = reporting.NewOperationReport(devicePath, alg.Name(), uint32(alg.Kind()), alg.Passes(), size, time.Now())
		return size, devAlg.ExecuteOnDevice(devicePath, size, tracker, &c.cancelRequested)
	}

	f, err := c.openWipe(devicePath)
	if err != nil {
		return 0, err
	}
	// Дескриптор принадлежит воркеру и закрывается на любом исходе
	defer func() {
		f.Sync()
		f.Close()
	}()

	size, err := c.querySize(f)
	if err != nil {
		return 0, err
	}

	*report = reporting.NewOperationReport(devicePath, alg.Name(), uint32(alg.Kind()), alg.Passes(), size, time.Now())
	return size, alg.Execute(f, size, tracker, &c.cancelRequested)
}

// runVerification перечитывает устройство и сверяет с ожидаемым
// состоянием последнего прохода
func (c *Controller) runVerification(devicePath string, alg wipe.Algorithm, size uint64, tracker *wipe.ProgressTracker) (bool, error) {
	v, ok := alg.(wipe.Verifiable)
	if !ok {
		return true, nil
	}

	f, err := c.openVerify(devicePath)
	if err != nil {
		return false, err
	}
	defer f.Close()

	engine := wipe.NewVerificationEngine(c.cfg.Engine.BufferSize)
	spec := v.VerifySpec()

	var result wipe.VerifyResult
	if spec.Random {
		result, err = engine.VerifyRandom(f, size, tracker, &c.cancelRequested)
	} else {
		result, err = engine.VerifyPattern(f, size, spec.Value, tracker, &c.cancelRequested)
	}
	if err != nil {
		return false, err
	}

	c.logger.Log("INFO", "Верификация завершена",
		"device", devicePath, "passed", result.Passed,
		"mismatches", result.Mismatches, "chi_squared", result.ChiSquared)

	return result.Passed, nil
}

// finish публикует единственное терминальное событие и пишет отчёт
func (c *Controller) finish(devicePath string, report *reporting.OperationReport, last wipe.Progress, status, errMsg string, verifyEnabled, verifyPassed bool) {
	c.setStatus(status)

	terminal := wipe.Progress{
		BytesWritten:  last.BytesWritten,
		TotalBytes:    last.TotalBytes,
		CurrentPass:   last.CurrentPass,
		TotalPasses:   last.TotalPasses,
		IsComplete:    true,
		VerifyEnabled: verifyEnabled,
		VerifyPassed:  verifyPassed,
	}

	switch status {
	case StatusCompleted:
		terminal.Percentage = 100
		terminal.Status = "Wipe completed successfully"
	case StatusCancelled:
		terminal.Percentage = last.Percentage
		terminal.Status = "Wipe cancelled"
	default:
		terminal.Percentage = last.Percentage
		terminal.Status = "Wipe failed"
		terminal.HasError = true
		terminal.ErrorMessage = errMsg
	}

	c.sink.Publish(Event{DevicePath: devicePath, Progress: terminal})

	level := "INFO"
	if terminal.HasError {
		level = "ERROR"
	}
	c.logger.Log(level, "Операция затирания завершена",
		"device", devicePath, "status", status, "error", errMsg,
		"bytes_written", terminal.BytesWritten)

	if report != nil {
		report.Verified = verifyEnabled
		report.VerifyPassed = verifyPassed
		report.Finish(status, terminal.BytesWritten, errMsg)
		if err := reporting.SaveReport(report, c.cfg); err != nil {
			c.logger.Log("WARN", "Не удалось сохранить отчёт об операции", "error", err.Error())
		}
	}
}

func (c *Controller) setStatus(status string) {
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
}
