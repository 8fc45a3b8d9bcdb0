package wipe

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collectingSink накапливает события прогресса в порядке публикации
type collectingSink struct {
	events []Progress
}

func (s *collectingSink) Publish(p Progress) { s.events = append(s.events, p) }

func newTestTarget(t *testing.T, size int, fill byte) *os.File {
	t.Helper()

	path := filepath.Join(t.TempDir(), "target.bin")
	data := make([]byte, size)
	for i := range data {
		data[i] = fill
	}
	require.NoError(t, os.WriteFile(path, data, 0600))

	f, err := os.OpenFile(path, os.O_RDWR, 0600)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })

	return f
}

func algorithmByKind(t *testing.T, kind WipeAlgorithmKind, bufferSize int) *softwareAlgorithm {
	t.Helper()
	for _, alg := range softwareAlgorithms(bufferSize, 0) {
		if alg.Kind() == kind {
			return alg
		}
	}
	t.Fatalf("no software algorithm for kind %d", kind)
	return nil
}

func readBack(t *testing.T, f *os.File) []byte {
	t.Helper()
	data, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	return data
}

func TestExecuteZeroSizeProducesNoEvents(t *testing.T) {
	f := newTestTarget(t, 0, 0)
	sink := &collectingSink{}
	var cancel atomic.Bool

	for _, alg := range softwareAlgorithms(4096, 0) {
		err := alg.Execute(f, 0, sink, &cancel)
		assert.NoError(t, err, alg.Name())
	}
	assert.Empty(t, sink.events)
}

func TestZeroFillOverwritesEveryByte(t *testing.T) {
	f := newTestTarget(t, 8192, 0xAB)
	alg := algorithmByKind(t, KindZeroFill, 1024)
	sink := &collectingSink{}
	var cancel atomic.Bool

	require.NoError(t, alg.Execute(f, 8192, sink, &cancel))

	for i, b := range readBack(t, f) {
		require.Equalf(t, byte(0x00), b, "byte %d not wiped", i)
	}

	require.NotEmpty(t, sink.events)
	last := sink.events[len(sink.events)-1]
	assert.Equal(t, uint64(8192), last.BytesWritten)
	assert.Equal(t, 1, last.CurrentPass)
	assert.Equal(t, 1, last.TotalPasses)
	assert.InDelta(t, 100.0, last.Percentage, 0.001)
}

// Содержимое носителя проверяется на границе каждого прохода: следующий
// проход перезаписывает тот же диапазон, после завершения видно только
// последний паттерн
func TestThreePassVisitsPatternSequence(t *testing.T) {
	f := newTestTarget(t, 4096, 0xAB)
	alg := algorithmByKind(t, KindThreePass, 1024)
	var cancel atomic.Bool

	passContents := map[int]byte{}
	sink := ProgressFunc(func(p Progress) {
		if p.BytesWritten != p.TotalBytes {
			return
		}
		data, err := os.ReadFile(f.Name())
		require.NoError(t, err)
		passContents[p.CurrentPass] = data[len(data)/2]
	})

	require.NoError(t, alg.Execute(f, 4096, sink, &cancel))

	assert.Equal(t, byte(0x00), passContents[1])
	assert.Equal(t, byte(0xFF), passContents[2])
	// Третий проход случайный, конкретное значение не фиксировано
	_, sawThird := passContents[3]
	assert.True(t, sawThird)
}

func TestThreePassProgressEvents(t *testing.T) {
	f := newTestTarget(t, 4096, 0xAB)
	alg := algorithmByKind(t, KindThreePass, 1024)
	sink := &collectingSink{}
	var cancel atomic.Bool

	require.NoError(t, alg.Execute(f, 4096, sink, &cancel))

	seen := map[int]bool{}
	var prevPass int
	var prevBytes uint64
	for _, e := range sink.events {
		seen[e.CurrentPass] = true
		assert.Equal(t, 3, e.TotalPasses)
		if e.CurrentPass == prevPass {
			assert.GreaterOrEqual(t, e.BytesWritten, prevBytes)
		}
		prevPass = e.CurrentPass
		prevBytes = e.BytesWritten
	}
	assert.Equal(t, map[int]bool{1: true, 2: true, 3: true}, seen)
}

func TestCancelBeforeExecuteStopsImmediately(t *testing.T) {
	f := newTestTarget(t, 8192, 0xAB)
	alg := algorithmByKind(t, KindZeroFill, 1024)
	sink := &collectingSink{}

	var cancel atomic.Bool
	cancel.Store(true)

	err := alg.Execute(f, 8192, sink, &cancel)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Empty(t, sink.events)

	// Ни один байт не записан: отмена проверяется до первой записи буфера
	for _, b := range readBack(t, f) {
		require.Equal(t, byte(0xAB), b)
	}
}

func TestRandomFillProducesDifferentOutput(t *testing.T) {
	alg := algorithmByKind(t, KindRandomFill, 1024)
	var cancel atomic.Bool

	outputs := make([][]byte, 2)
	for i := range outputs {
		f := newTestTarget(t, 4096, 0)
		require.NoError(t, alg.Execute(f, 4096, &collectingSink{}, &cancel))
		outputs[i] = readBack(t, f)
	}

	assert.NotEqual(t, outputs[0], outputs[1])
}

func TestSchneierFinalPassIsRandom(t *testing.T) {
	alg := algorithmByKind(t, KindSchneier, 1024)
	assert.Equal(t, 7, alg.Passes())
	assert.True(t, alg.VerifySpec().Random)
}

func TestVSITRFinalPassIsRandom(t *testing.T) {
	alg := algorithmByKind(t, KindVSITR, 1024)
	assert.Equal(t, 7, alg.Passes())
	assert.True(t, alg.VerifySpec().Random)
}

func TestGutmannPassStructure(t *testing.T) {
	passes := buildGutmannPasses()
	require.Len(t, passes, 35)

	for i := 0; i < 4; i++ {
		assert.True(t, passes[i].random, "pass %d must be random", i+1)
	}
	for i := 31; i < 35; i++ {
		assert.True(t, passes[i].random, "pass %d must be random", i+1)
	}
	for i := 4; i < 31; i++ {
		assert.False(t, passes[i].random, "pass %d must be fixed", i+1)
		assert.Equal(t, gutmannFixedValues[i-4], passes[i].value)
	}
}

func TestVerifySpecReflectsLastPass(t *testing.T) {
	zero := algorithmByKind(t, KindZeroFill, 1024)
	assert.Equal(t, VerifySpec{Random: false, Value: 0x00}, zero.VerifySpec())

	gost := algorithmByKind(t, KindGOST, 1024)
	assert.True(t, gost.VerifySpec().Random)
}
