package wipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrCancelled сигнализирует кооперативную отмену операции.
// Отмена — отдельный терминальный исход, не ошибка ввода-вывода.
var ErrCancelled = errors.New("wipe operation cancelled")

// Algorithm общий контракт алгоритма затирания
type Algorithm interface {
	Kind() WipeAlgorithmKind
	Name() string
	Description() string
	Passes() int
	SSDCompatible() bool
	RequiresRawDevice() bool
	SupportsVerification() bool

	// Execute выполняет затирание через открытый для записи дескриптор.
	// Возвращает nil при успехе, ErrCancelled при отмене, иначе ошибку I/O.
	Execute(f *os.File, size uint64, sink ProgressSink, cancel *atomic.Bool) error
}

// DeviceAlgorithm алгоритм, требующий прямой доступ к устройству по пути.
// Такие алгоритмы никогда не вызываются через файловый дескриптор.
type DeviceAlgorithm interface {
	Algorithm
	ExecuteOnDevice(path string, size uint64, sink ProgressSink, cancel *atomic.Bool) error
}

// softwareAlgorithm программный многопроходный алгоритм перезаписи
type softwareAlgorithm struct {
	kind          WipeAlgorithmKind
	name          string
	description   string
	passes        []passSpec
	ssdCompatible bool
	bufferSize    int
	maxSpeedMBps  float64
}

func (a *softwareAlgorithm) Kind() WipeAlgorithmKind { return a.kind }
func (a *softwareAlgorithm) Name() string            { return a.name }
func (a *softwareAlgorithm) Description() string     { return a.description }
func (a *softwareAlgorithm) Passes() int             { return len(a.passes) }
func (a *softwareAlgorithm) SSDCompatible() bool     { return a.ssdCompatible }
func (a *softwareAlgorithm) RequiresRawDevice() bool { return false }

// Программные алгоритмы верифицируемы: последний проход оставляет
// известный паттерн либо случайные данные с проверяемой статистикой.
func (a *softwareAlgorithm) SupportsVerification() bool { return true }

// VerifySpec описывает, что верификация должна найти на носителе
// после завершения всех проходов
type VerifySpec struct {
	// Random: последний проход писал случайные данные, проверяется
	// статистическая равномерность вместо точного значения
	Random bool
	Value  byte
}

// Verifiable реализуют алгоритмы, чей последний проход оставляет
// проверяемое состояние носителя
type Verifiable interface {
	VerifySpec() VerifySpec
}

// VerifySpec возвращает спецификацию последнего прохода для верификации
func (a *softwareAlgorithm) VerifySpec() VerifySpec {
	last := a.passes[len(a.passes)-1]
	return VerifySpec{Random: last.random, Value: last.value}
}

func (a *softwareAlgorithm) Execute(f *os.File, size uint64, sink ProgressSink, cancel *atomic.Bool) error {
	// Нулевой размер — идемпотентный no-op без единого события
	if size == 0 {
		return nil
	}

	bufferSize := a.bufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	buf := GetBuffer(bufferSize)
	defer PutBuffer(buf)

	writer := NewThrottledWriter(f, a.maxSpeedMBps)
	defer writer.Close()

	totalPasses := len(a.passes)
	for passIdx, spec := range a.passes {
		pass := passIdx + 1

		if passIdx > 0 {
			// Каждый следующий проход перезаписывает тот же диапазон с начала
			if _, err := writer.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("pass %d: seek failed: %w", pass, err)
			}
		}

		if !spec.random {
			FillBufferPattern(buf, spec.value)
		}

		if err := a.writePass(writer, buf, size, pass, totalPasses, spec, sink, cancel); err != nil {
			return err
		}

		if err := writer.Sync(); err != nil {
			return fmt.Errorf("pass %d: sync failed: %w", pass, err)
		}
	}

	return nil
}

// writePass пишет один полный проход по всему диапазону
func (a *softwareAlgorithm) writePass(writer *ThrottledWriter, buf []byte, size uint64, pass, totalPasses int, spec passSpec, sink ProgressSink, cancel *atomic.Bool) error {
	var written uint64
	for written < size {
		// Флаг отмены опрашивается перед каждой записью буфера:
		// при отмене проход не дописывается
		if cancel.Load() {
			return ErrCancelled
		}

		remaining := size - written
		chunk := uint64(len(buf))
		if remaining < chunk {
			chunk = remaining
		}

		if spec.random {
			// Свежие случайные байты на каждое заполнение буфера
			if err := FillRandom(buf[:chunk]); err != nil {
				return err
			}
		}

		off := 0
		for off < int(chunk) {
			n, err := writer.Write(buf[off:chunk])
			if n > 0 {
				off += n
				written += uint64(n)
			}
			if err != nil {
				if isTransientIOError(err) {
					// Прерванную сигналом запись повторяем, а не роняем проход
					continue
				}
				return fmt.Errorf("pass %d: write failed at %d bytes: %w", pass, written, err)
			}
			if n == 0 {
				return fmt.Errorf("pass %d: write returned 0 bytes without error", pass)
			}
		}

		sink.Publish(Progress{
			BytesWritten: written,
			TotalBytes:   size,
			CurrentPass:  pass,
			TotalPasses:  totalPasses,
			Percentage:   float64(written) / float64(size) * 100,
			Status:       fmt.Sprintf("Pass %d of %d: %s", pass, totalPasses, spec.label()),
		})
	}

	return nil
}

// isTransientIOError определяет временные сбои записи, подлежащие повтору
func isTransientIOError(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}
