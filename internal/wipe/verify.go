package wipe

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

// Критическое значение хи-квадрат для 255 степеней свободы на уровне
// значимости 0.1%. Превышение означает, что распределение байтов
// статистически отличается от равномерного.
const chiSquaredCritical = 310.457

// Доля самого частого значения байта, выше которой поток считается
// вырожденным даже при проходимом хи-квадрат (короткие повторяющиеся циклы)
const dominantByteRatio = 0.01

// VerifyResult результат проверки затирания
type VerifyResult struct {
	Passed     bool
	Mismatches uint64
	BytesRead  uint64
	ChiSquared float64 // заполняется только для VerifyRandom
}

// VerificationEngine выполняет контрольное чтение устройства после затирания.
// Размер буфера чтения совпадает с буфером записи для симметрии пропускной
// способности.
type VerificationEngine struct {
	bufferSize int
}

func NewVerificationEngine(bufferSize int) *VerificationEngine {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &VerificationEngine{bufferSize: bufferSize}
}

// VerifyPattern проверяет, что каждый байт равен ожидаемому значению.
// Останавливается на первом расхождении: дальше читать незачем.
func (v *VerificationEngine) VerifyPattern(f *os.File, size uint64, expected byte, sink ProgressSink, cancel *atomic.Bool) (VerifyResult, error) {
	result := VerifyResult{}

	err := v.streamRead(f, size, sink, cancel, func(chunk []byte, read uint64) (bool, error) {
		for i, b := range chunk {
			if b != expected {
				result.Mismatches++
				result.BytesRead = read - uint64(len(chunk)) + uint64(i)
				return false, nil
			}
		}
		result.BytesRead = read
		return true, nil
	})
	if err != nil {
		return result, err
	}

	result.Passed = result.Mismatches == 0 && result.BytesRead == size
	return result, nil
}

// VerifyBufferPattern проверяет, что содержимое устройства равно байтовой
// последовательности, циклически повторённой от нулевого смещения
func (v *VerificationEngine) VerifyBufferPattern(f *os.File, size uint64, pattern []byte, sink ProgressSink, cancel *atomic.Bool) (VerifyResult, error) {
	result := VerifyResult{}
	if len(pattern) == 0 {
		return result, fmt.Errorf("verification pattern cannot be empty")
	}

	var pos uint64
	err := v.streamRead(f, size, sink, cancel, func(chunk []byte, read uint64) (bool, error) {
		for i, b := range chunk {
			if b != pattern[(pos+uint64(i))%uint64(len(pattern))] {
				result.Mismatches++
				result.BytesRead = pos + uint64(i)
				return false, nil
			}
		}
		pos += uint64(len(chunk))
		result.BytesRead = read
		return true, nil
	})
	if err != nil {
		return result, err
	}

	result.Passed = result.Mismatches == 0 && result.BytesRead == size
	return result, nil
}

// VerifyRandom проверяет случайное заполнение: точные байты неизвестны,
// поэтому применяется критерий согласия хи-квадрат к распределению значений
// байтов плюс проверка доли доминирующего значения
func (v *VerificationEngine) VerifyRandom(f *os.File, size uint64, sink ProgressSink, cancel *atomic.Bool) (VerifyResult, error) {
	result := VerifyResult{}

	var counts [256]uint64
	err := v.streamRead(f, size, sink, cancel, func(chunk []byte, read uint64) (bool, error) {
		for _, b := range chunk {
			counts[b]++
		}
		result.BytesRead = read
		return true, nil
	})
	if err != nil {
		return result, err
	}

	if result.BytesRead == 0 {
		result.Passed = true
		return result, nil
	}

	total := float64(result.BytesRead)
	expected := total / 256

	var chi float64
	var maxCount uint64
	for _, c := range counts {
		diff := float64(c) - expected
		chi += diff * diff / expected
		if c > maxCount {
			maxCount = c
		}
	}
	result.ChiSquared = chi

	if chi > chiSquaredCritical {
		result.Passed = false
		return result, nil
	}
	if float64(maxCount)/total > dominantByteRatio {
		// "Выглядит случайно, но не случайно": короткий повторяющийся цикл
		result.Passed = false
		return result, nil
	}

	result.Passed = true
	return result, nil
}

// streamRead последовательно читает устройство с начала, отдавая чанки
// визитору. Визитор возвращает false для досрочного завершения.
func (v *VerificationEngine) streamRead(f *os.File, size uint64, sink ProgressSink, cancel *atomic.Bool, visit func(chunk []byte, read uint64) (bool, error)) error {
	if size == 0 {
		return nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("verification seek failed: %w", err)
	}

	buf := GetBuffer(v.bufferSize)
	defer PutBuffer(buf)

	var read uint64
	for read < size {
		// Отмена проверяется между чтениями
		if cancel.Load() {
			return ErrCancelled
		}

		chunk := uint64(len(buf))
		if size-read < chunk {
			chunk = size - read
		}

		n, err := io.ReadFull(f, buf[:chunk])
		if n > 0 {
			read += uint64(n)
			cont, verr := visit(buf[:n], read)
			if verr != nil {
				return verr
			}
			if !cont {
				return nil
			}
		}
		if err != nil {
			return fmt.Errorf("verification read failed at %d bytes: %w", read, err)
		}

		if sink != nil {
			sink.Publish(Progress{
				BytesWritten:     read,
				TotalBytes:       size,
				Percentage:       float64(read) / float64(size) * 100,
				Status:           "Verifying wiped data",
				VerifyEnabled:    true,
				VerifyInProgress: true,
				VerifyPercentage: float64(read) / float64(size) * 100,
			})
		}
	}

	return nil
}
