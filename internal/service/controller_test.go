package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
	"github.com/kidoz/storage-wiper-sub000/internal/logging"
	"github.com/kidoz/storage-wiper-sub000/internal/wipe"
)

type allowAllPolicy struct{}

func (allowAllPolicy) ValidateWipeTarget(string) error { return nil }

type denyPolicy struct{ message string }

func (p denyPolicy) ValidateWipeTarget(string) error { return fmt.Errorf("%s", p.message) }

// mockAlgorithm управляемый алгоритм: блокируется до release и считает
// число запусков
type mockAlgorithm struct {
	kind       wipe.WipeAlgorithmKind
	verifiable bool
	started    chan struct{}
	release    chan error
	runs       atomic.Int32
}

func newMockAlgorithm(kind wipe.WipeAlgorithmKind) *mockAlgorithm {
	return &mockAlgorithm{
		kind:    kind,
		started: make(chan struct{}, 8),
		release: make(chan error, 8),
	}
}

func (m *mockAlgorithm) Kind() wipe.WipeAlgorithmKind { return m.kind }
func (m *mockAlgorithm) Name() string                 { return "Mock" }
func (m *mockAlgorithm) Description() string          { return "test double" }
func (m *mockAlgorithm) Passes() int                  { return 1 }
func (m *mockAlgorithm) SSDCompatible() bool          { return true }
func (m *mockAlgorithm) RequiresRawDevice() bool      { return false }
func (m *mockAlgorithm) SupportsVerification() bool   { return m.verifiable }

func (m *mockAlgorithm) Execute(f *os.File, size uint64, sink wipe.ProgressSink, cancel *atomic.Bool) error {
	m.runs.Add(1)
	m.started <- struct{}{}

	for {
		select {
		case err := <-m.release:
			return err
		case <-time.After(5 * time.Millisecond):
			if cancel.Load() {
				return wipe.ErrCancelled
			}
		}
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Reporting.Enabled = false
	cfg.Engine.ShutdownGrace = "200ms"
	return cfg
}

func testTarget(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "device.img")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0600))
	return path
}

// newTestController собирает контроллер поверх временного файла вместо
// блочного устройства
func newTestController(t *testing.T, registry *wipe.Registry, policy TargetValidator, sink EventSink) *Controller {
	t.Helper()

	c := NewController(testConfig(t), registry, policy, logging.NewTestLogger(), sink)
	c.openWipe = func(path string) (*os.File, error) {
		return os.OpenFile(path, os.O_RDWR, 0600)
	}
	c.openVerify = os.Open
	c.querySize = func(f *os.File) (uint64, error) {
		st, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return uint64(st.Size()), nil
	}
	return c
}

func waitTerminal(t *testing.T, events <-chan Event) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case e := <-events:
			if e.IsComplete {
				return e
			}
		case <-deadline:
			t.Fatal("no terminal event within deadline")
		}
	}
}

func TestStartRejectsSecondConcurrentOperation(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill)
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	events := make(chan Event, 64)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	target := testTarget(t, 4096)
	require.NoError(t, c.Start(target, wipe.KindZeroFill, false))
	<-mock.started

	err := c.Start(target, wipe.KindZeroFill, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	mock.release <- nil
	terminal := waitTerminal(t, events)
	assert.False(t, terminal.HasError)

	// Второй исполнитель так и не создавался
	assert.Equal(t, int32(1), mock.runs.Load())

	// После завершения контроллер снова принимает операции
	require.NoError(t, c.Start(target, wipe.KindZeroFill, false))
	<-mock.started
	mock.release <- nil
	waitTerminal(t, events)
	assert.Equal(t, int32(2), mock.runs.Load())
}

func TestStartRejectedByPolicy(t *testing.T) {
	registry := wipe.NewRegistry(4096, 0)
	c := newTestController(t, registry, denyPolicy{message: "Device is mounted: /"}, EventFunc(func(Event) {}))

	err := c.Start("/dev/sda", wipe.KindZeroFill, false)
	require.Error(t, err)
	assert.Equal(t, "Device is mounted: /", err.Error())

	// Отказ политики не оставляет контроллер в занятом состоянии
	err = c.Start("/dev/sda", wipe.KindZeroFill, false)
	assert.Equal(t, "Device is mounted: /", err.Error())
}

// blockingPolicy держит валидацию открытой, пока тест наблюдает статус
type blockingPolicy struct {
	entered chan struct{}
	release chan error
}

func (p *blockingPolicy) ValidateWipeTarget(string) error {
	p.entered <- struct{}{}
	return <-p.release
}

func TestStartExposesValidatingStatus(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill)
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	policy := &blockingPolicy{entered: make(chan struct{}), release: make(chan error)}
	events := make(chan Event, 64)
	c := newTestController(t, registry, policy, EventFunc(func(e Event) { events <- e }))

	target := testTarget(t, 4096)
	startErr := make(chan error, 1)
	go func() { startErr <- c.Start(target, wipe.KindZeroFill, false) }()

	<-policy.entered
	status, device := c.Status()
	assert.Equal(t, StatusValidating, status)
	assert.Equal(t, target, device)

	// Отклонённый запуск возвращает контроллер в прежнее состояние
	policy.release <- fmt.Errorf("Device is mounted: /")
	require.Error(t, <-startErr)
	status, device = c.Status()
	assert.Equal(t, StatusIdle, status)
	assert.Empty(t, device)

	// Успешная валидация ведёт в running
	go func() { startErr <- c.Start(target, wipe.KindZeroFill, false) }()
	<-policy.entered
	policy.release <- nil
	require.NoError(t, <-startErr)
	<-mock.started

	status, _ = c.Status()
	assert.Equal(t, StatusRunning, status)

	mock.release <- nil
	waitTerminal(t, events)
}

func TestStartUnknownAlgorithm(t *testing.T) {
	registry := wipe.NewRegistry(4096, 0)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(Event) {}))

	err := c.Start(testTarget(t, 4096), wipe.WipeAlgorithmKind(99), false)
	require.Error(t, err)

	// И после этого отказа контроллер свободен
	assert.Error(t, c.Start(testTarget(t, 4096), wipe.WipeAlgorithmKind(99), false))
}

func TestCancelReportsWasInProgress(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill)
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	events := make(chan Event, 64)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	assert.False(t, c.Cancel(), "nothing in flight yet")

	require.NoError(t, c.Start(testTarget(t, 4096), wipe.KindZeroFill, false))
	<-mock.started

	assert.True(t, c.Cancel())

	terminal := waitTerminal(t, events)
	assert.False(t, terminal.HasError)
	assert.Equal(t, "Wipe cancelled", terminal.Status)

	status, _ := c.Status()
	assert.Equal(t, StatusCancelled, status)
}

func TestWipeFailureProducesErrorTerminal(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill)
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	events := make(chan Event, 64)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	require.NoError(t, c.Start(testTarget(t, 4096), wipe.KindZeroFill, false))
	<-mock.started
	mock.release <- fmt.Errorf("write failed at 1024 bytes")

	terminal := waitTerminal(t, events)
	assert.True(t, terminal.HasError)
	assert.Contains(t, terminal.ErrorMessage, "write failed")
}

func TestEndToEndZeroFillWithVerification(t *testing.T) {
	registry := wipe.NewRegistry(1024, 0)
	events := make(chan Event, 256)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	target := testTarget(t, 8192)
	require.NoError(t, c.Start(target, wipe.KindZeroFill, true))

	terminal := waitTerminal(t, events)
	assert.False(t, terminal.HasError)
	assert.True(t, terminal.VerifyEnabled)
	assert.True(t, terminal.VerifyPassed)
	assert.Equal(t, "Wipe completed successfully", terminal.Status)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	for _, b := range data {
		require.Equal(t, byte(0x00), b)
	}
}

func TestVerificationSilentlySkippedWhenUnsupported(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill) // verifiable=false
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	events := make(chan Event, 64)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	require.NoError(t, c.Start(testTarget(t, 4096), wipe.KindZeroFill, true))
	<-mock.started
	mock.release <- nil

	terminal := waitTerminal(t, events)
	assert.False(t, terminal.HasError)
	assert.False(t, terminal.VerifyEnabled)
	assert.False(t, terminal.VerifyPassed)
}

func TestTerminalEventIsLastAndUnique(t *testing.T) {
	registry := wipe.NewRegistry(1024, 0)

	var events []Event
	done := make(chan struct{})
	sink := EventFunc(func(e Event) {
		events = append(events, e)
		if e.IsComplete {
			close(done)
		}
	})
	c := newTestController(t, registry, allowAllPolicy{}, sink)

	require.NoError(t, c.Start(testTarget(t, 8192), wipe.KindThreePass, false))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("no terminal event")
	}
	// События публикуются из одной горутины воркера, после терминального
	// новых не бывает
	time.Sleep(50 * time.Millisecond)

	var terminals int
	for i, e := range events {
		if e.IsComplete {
			terminals++
			assert.Equal(t, len(events)-1, i, "terminal event must be last")
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestCloseWaitsForWorkerWithinGrace(t *testing.T) {
	mock := newMockAlgorithm(wipe.KindZeroFill)
	registry := wipe.NewRegistry(4096, 0)
	registry.Register(mock)

	events := make(chan Event, 64)
	c := newTestController(t, registry, allowAllPolicy{}, EventFunc(func(e Event) { events <- e }))

	require.NoError(t, c.Start(testTarget(t, 4096), wipe.KindZeroFill, false))
	<-mock.started

	// Воркер опрашивает флаг отмены и завершится в пределах льготного периода
	start := time.Now()
	c.Close()
	assert.Less(t, time.Since(start), time.Second)

	terminal := waitTerminal(t, events)
	assert.Equal(t, "Wipe cancelled", terminal.Status)
}
