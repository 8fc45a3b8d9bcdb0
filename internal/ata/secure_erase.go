package ata

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/kidoz/storage-wiper-sub000/internal/logging"
	"github.com/kidoz/storage-wiper-sub000/internal/wipe"
)

// SecurityPort транспорт команд ATA Security; абстрагирован от SG_IO,
// чтобы конечный автомат можно было проверять без реального устройства
type SecurityPort interface {
	ReadSecurityInfo(path string) (SecurityInfo, error)
	SetPassword(path, password string) error
	ErasePrepare(path string) error
	EraseUnit(path, password string, enhanced bool, timeout time.Duration) error
	DisablePassword(path, password string) error
}

// SecureEraseAlgorithm аппаратное затирание через ATA SECURITY ERASE UNIT.
// Firmware очищает весь носитель, включая переназначенные и скрытые
// wear-leveling области, недоступные обычному вводу-выводу.
type SecureEraseAlgorithm struct {
	port         SecurityPort
	tempPassword string
	logger       *logging.EnterpriseLogger
}

func NewSecureEraseAlgorithm(port SecurityPort, tempPassword string, logger *logging.EnterpriseLogger) *SecureEraseAlgorithm {
	return &SecureEraseAlgorithm{
		port:         port,
		tempPassword: tempPassword,
		logger:       logger,
	}
}

func (a *SecureEraseAlgorithm) Kind() wipe.WipeAlgorithmKind { return wipe.KindSecureErase }
func (a *SecureEraseAlgorithm) Name() string                 { return "ATA Secure Erase" }
func (a *SecureEraseAlgorithm) Description() string {
	return "Firmware-level purge via the ATA security feature set, including spare and wear-leveled areas."
}
func (a *SecureEraseAlgorithm) Passes() int                { return 1 }
func (a *SecureEraseAlgorithm) SSDCompatible() bool        { return true }
func (a *SecureEraseAlgorithm) RequiresRawDevice() bool    { return true }
func (a *SecureEraseAlgorithm) SupportsVerification() bool { return false }

// Execute не применим: алгоритм работает только с путём устройства
func (a *SecureEraseAlgorithm) Execute(_ *os.File, _ uint64, _ wipe.ProgressSink, _ *atomic.Bool) error {
	return fmt.Errorf("hardware secure erase requires raw device access")
}

// ExecuteOnDevice проводит конечный автомат аппаратного стирания:
// CheckSupport → SetTemporaryPassword → PrepareErase → ExecuteEraseUnit →
// PostVerifyPasswordCleared. Отмена проверяется только на границах фаз:
// выданную команду стирания прервать нельзя.
func (a *SecureEraseAlgorithm) ExecuteOnDevice(path string, size uint64, sink wipe.ProgressSink, cancel *atomic.Bool) error {
	started := time.Now()
	phase := func(status string, percentage float64) {
		sink.Publish(wipe.Progress{
			TotalBytes:  size,
			CurrentPass: 1,
			TotalPasses: 1,
			Percentage:  percentage,
			Status:      status,
		})
	}

	// Фаза 1: чтение слова безопасности и проверка применимости
	phase("Secure erase: checking drive security capability", 0)
	info, err := a.port.ReadSecurityInfo(path)
	if err != nil {
		return fmt.Errorf("failed to read ATA security state: %w", err)
	}
	if err := checkEraseViability(info); err != nil {
		return err
	}

	enhanced := info.EnhancedSupported

	if cancel.Load() {
		return wipe.ErrCancelled
	}

	// Фаза 2: временный пароль — протокол не примет стирание без него
	phase("Secure erase: installing temporary password", 10)
	if err := a.port.SetPassword(path, a.tempPassword); err != nil {
		return fmt.Errorf("failed to set temporary security password: %w", err)
	}

	if cancel.Load() {
		// До стирания ещё можно отступить: снимаем пароль и выходим
		a.disableBestEffort(path)
		return wipe.ErrCancelled
	}

	// Фаза 3: подготовка к стиранию
	phase("Secure erase: issuing erase prepare", 20)
	if err := a.port.ErasePrepare(path); err != nil {
		// Не оставляем устройство под паролем при сбое подготовки
		a.disableBestEffort(path)
		return fmt.Errorf("erase prepare command failed: %w", err)
	}

	if cancel.Load() {
		a.disableBestEffort(path)
		return wipe.ErrCancelled
	}

	// Фаза 4: собственно стирание. Может блокироваться на часы; команда
	// атомарна и после выдачи не отменяется.
	mode := "standard"
	if enhanced {
		mode = "enhanced"
	}
	phase(fmt.Sprintf("Secure erase: erase unit running (%s mode), this may take hours", mode), 30)
	a.logger.Log("INFO", "ATA erase unit issued",
		"device", path, "enhanced", enhanced, "estimate", info.EraseTimeout(enhanced).String())

	if err := a.port.EraseUnit(path, a.tempPassword, enhanced, info.EraseTimeout(enhanced)); err != nil {
		a.disableBestEffort(path)
		return fmt.Errorf("erase unit command failed: %w", err)
	}

	// Фаза 5: контроль снятия пароля. Успешный ERASE UNIT сбрасывает его
	// сам; если пароль остался активен, снимаем, чтобы не оставить диск
	// заблокированным.
	phase("Secure erase: verifying password cleared", 95)
	after, err := a.port.ReadSecurityInfo(path)
	if err != nil {
		a.logger.Log("WARN", "Failed to re-read security state after erase", "device", path, "error", err.Error())
	} else if after.Enabled {
		a.logger.Log("WARN", "Security password still enabled after erase, disabling", "device", path)
		a.disableBestEffort(path)
	}

	elapsed := time.Since(started).Round(time.Second)
	phase(fmt.Sprintf("Secure erase finished in %s (%s mode)", elapsed, mode), 100)
	a.logger.Log("INFO", "ATA secure erase finished",
		"device", path, "elapsed", elapsed.String(), "enhanced", enhanced)

	return nil
}

// checkEraseViability возвращает отдельное, действенное сообщение для
// каждого блокирующего состояния вместо общего отказа
func checkEraseViability(info SecurityInfo) error {
	if !info.Supported {
		return fmt.Errorf("drive does not support the ATA security feature set")
	}
	if info.Frozen {
		return fmt.Errorf("drive security is frozen; a sleep/wake or power cycle is required before secure erase")
	}
	if info.Locked {
		return fmt.Errorf("drive security is locked; unlock the drive or power cycle it before secure erase")
	}
	if info.CountExpired {
		return fmt.Errorf("drive security unlock attempt count expired; power cycle the drive before secure erase")
	}
	return nil
}

func (a *SecureEraseAlgorithm) disableBestEffort(path string) {
	if err := a.port.DisablePassword(path, a.tempPassword); err != nil {
		a.logger.Log("WARN", "Failed to disable temporary security password", "device", path, "error", err.Error())
	}
}
