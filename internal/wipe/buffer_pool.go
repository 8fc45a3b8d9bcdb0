package wipe

import (
	"crypto/rand"
	"fmt"
	"sync"
)

// BufferPool управляет пулом буферов для записи и верификации
type BufferPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

var globalBufferPool = &BufferPool{
	pools: make(map[int]*sync.Pool),
}

// GetBuffer получает буфер из пула или создает новый
func GetBuffer(size int) []byte {
	if size <= 0 {
		return nil
	}

	return globalBufferPool.getBuffer(size)
}

// PutBuffer возвращает буфер в пул
func PutBuffer(buf []byte) {
	if len(buf) == 0 {
		return
	}

	globalBufferPool.putBuffer(buf)
}

// getBuffer получает буфер нужного размера
func (bp *BufferPool) getBuffer(size int) []byte {
	// Находим ближайший размер из существующих пулов
	poolSize := bp.getPoolSize(size)

	bp.mu.RLock()
	pool, exists := bp.pools[poolSize]
	bp.mu.RUnlock()

	if !exists {
		bp.mu.Lock()
		// Double-check
		pool, exists = bp.pools[poolSize]
		if !exists {
			pool = &sync.Pool{
				New: func() interface{} {
					return make([]byte, poolSize)
				},
			}
			bp.pools[poolSize] = pool
		}
		bp.mu.Unlock()
	}

	buf := pool.Get().([]byte)
	return buf[:size] // Возвращаем слайс нужного размера
}

// putBuffer возвращает буфер в соответствующий пул
func (bp *BufferPool) putBuffer(buf []byte) {
	capacity := cap(buf)
	poolSize := bp.getPoolSize(capacity)

	bp.mu.RLock()
	pool, exists := bp.pools[poolSize]
	bp.mu.RUnlock()

	if exists {
		// Сбрасываем буфер перед возвращением в пул
		for i := range buf {
			buf[i] = 0
		}
		pool.Put(buf[:capacity])
	}
}

// getPoolSize определяет размер пула для буфера
func (bp *BufferPool) getPoolSize(size int) int {
	// Стандартные размеры пулов (степени двойки)
	sizes := []int{4096, 65536, 262144, 1048576, 4194304}

	for _, poolSize := range sizes {
		if size <= poolSize {
			return poolSize
		}
	}

	// Если размер больше максимального, создаем пул точного размера
	return ((size + 4095) / 4096) * 4096 // Округляем до 4KB
}

// FillBufferPattern заполняет буфер одним байтом паттерна
func FillBufferPattern(buf []byte, pattern byte) {
	for i := range buf {
		buf[i] = pattern
	}
}

// FillRandom заполняет буфер криптографически случайными данными.
// Каждый вызов — свежие байты: два вызова не дают одинаковый вывод.
func FillRandom(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}

	if _, err := rand.Read(buf); err != nil {
		return fmt.Errorf("random data generation failed: %w", err)
	}

	return nil
}
