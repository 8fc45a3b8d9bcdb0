package wipe

import (
	"time"
)

// Progress снимок состояния операции затирания.
// После первого события с IsComplete=true новых событий не бывает.
type Progress struct {
	BytesWritten uint64
	TotalBytes   uint64
	CurrentPass  int
	TotalPasses  int
	Percentage   float64 // прогресс текущего прохода, [0,100]
	Status       string
	IsComplete   bool
	HasError     bool
	ErrorMessage string
	SpeedBps     float64
	ETASeconds   int64 // -1 = неизвестно

	VerifyEnabled    bool
	VerifyInProgress bool
	VerifyPassed     bool
	VerifyPercentage float64
	VerifyMismatches uint64
}

// ProgressSink принимает события прогресса
type ProgressSink interface {
	Publish(p Progress)
}

// ProgressFunc адаптер функции к ProgressSink
type ProgressFunc func(Progress)

func (f ProgressFunc) Publish(p Progress) { f(p) }

const (
	speedWindowSize    = 10
	speedSampleMinTick = 100 * time.Millisecond
)

// ProgressTracker оборачивает ProgressSink и досчитывает скорость и ETA
// по скользящему окну, чтобы алгоритмам не нужно было знать о времени.
type ProgressTracker struct {
	sink ProgressSink

	window    [speedWindowSize]float64
	samples   int
	nextSlot  int
	lastTime  time.Time
	lastBytes uint64

	lastSpeed float64
	lastETA   int64
	hasSample bool
}

func NewProgressTracker(sink ProgressSink) *ProgressTracker {
	return &ProgressTracker{
		sink:    sink,
		lastETA: -1,
	}
}

// Publish дополняет событие скоростью/ETA и передаёт его дальше
func (t *ProgressTracker) Publish(p Progress) {
	now := time.Now()

	if t.lastTime.IsZero() {
		// Первое событие задаёт точку отсчёта, семпл не считаем
		t.lastTime = now
		t.lastBytes = p.BytesWritten
	} else if p.BytesWritten < t.lastBytes {
		// Счётчик байт сбрасывается на границе прохода: перезаряжаем точку
		// отсчёта без семпла, интервал через границу дал бы мусорную скорость
		t.lastTime = now
		t.lastBytes = p.BytesWritten
	} else if elapsed := now.Sub(t.lastTime); elapsed >= speedSampleMinTick && p.BytesWritten > t.lastBytes {
		// Семпл только при продвижении и достаточном интервале:
		// частые колбэки дают нулевые интервалы и шумные значения
		instant := float64(p.BytesWritten-t.lastBytes) / elapsed.Seconds()
		t.window[t.nextSlot] = instant
		t.nextSlot = (t.nextSlot + 1) % speedWindowSize
		if t.samples < speedWindowSize {
			t.samples++
		}

		t.lastSpeed = t.windowMean()
		t.lastETA = t.estimateETA(p)
		t.hasSample = true
		t.lastTime = now
		t.lastBytes = p.BytesWritten
	}

	// Между семплами переиспользуем прошлую оценку, а не обнуляем её
	if t.hasSample {
		p.SpeedBps = t.lastSpeed
		p.ETASeconds = t.lastETA
	} else {
		p.SpeedBps = 0
		p.ETASeconds = -1
	}

	t.sink.Publish(p)
}

func (t *ProgressTracker) windowMean() float64 {
	if t.samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < t.samples; i++ {
		sum += t.window[i]
	}
	return sum / float64(t.samples)
}

// estimateETA учитывает остаток текущего прохода и все целые оставшиеся проходы
func (t *ProgressTracker) estimateETA(p Progress) int64 {
	speed := t.windowMean()
	if speed <= 0 || p.TotalBytes == 0 {
		return -1
	}

	remaining := p.TotalBytes - p.BytesWritten
	if p.BytesWritten > p.TotalBytes {
		remaining = 0
	}
	if p.TotalPasses > p.CurrentPass {
		remaining += uint64(p.TotalPasses-p.CurrentPass) * p.TotalBytes
	}

	return int64(float64(remaining) / speed)
}
