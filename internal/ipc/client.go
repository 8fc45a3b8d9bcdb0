package ipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Client типизированная обёртка над вызовами движка через системную шину
type Client struct {
	conn    *dbus.Conn
	busName string
}

// Dial подключается к системной шине и привязывается к имени движка
func Dial(busName string) (*Client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	return &Client{conn: conn, busName: busName}, nil
}

func (c *Client) Close() {
	c.conn.Close()
}

func (c *Client) object() dbus.BusObject {
	return c.conn.Object(c.busName, ObjectPath)
}

// ListDisks запрашивает перечисление дисков у движка
func (c *Client) ListDisks() ([]WireDisk, error) {
	var disks []WireDisk
	if err := c.object().Call(Interface+".ListDisks", 0).Store(&disks); err != nil {
		return nil, fmt.Errorf("ListDisks call failed: %w", err)
	}
	return disks, nil
}

// ValidateDevicePath проверяет путь политикой движка
func (c *Client) ValidateDevicePath(path string) (bool, string, error) {
	var valid bool
	var message string
	if err := c.object().Call(Interface+".ValidateDevicePath", 0, path).Store(&valid, &message); err != nil {
		return false, "", fmt.Errorf("ValidateDevicePath call failed: %w", err)
	}
	return valid, message, nil
}

// UnmountDevice просит движок размонтировать устройство
func (c *Client) UnmountDevice(path string) (bool, string, error) {
	var ok bool
	var message string
	if err := c.object().Call(Interface+".UnmountDevice", 0, path).Store(&ok, &message); err != nil {
		return false, "", fmt.Errorf("UnmountDevice call failed: %w", err)
	}
	return ok, message, nil
}

// GetAlgorithms запрашивает таблицу алгоритмов
func (c *Client) GetAlgorithms() ([]WireAlgorithm, error) {
	var algorithms []WireAlgorithm
	if err := c.object().Call(Interface+".GetAlgorithms", 0).Store(&algorithms); err != nil {
		return nil, fmt.Errorf("GetAlgorithms call failed: %w", err)
	}
	return algorithms, nil
}

// StartWipe запускает операцию затирания
func (c *Client) StartWipe(path string, algorithmID uint32, verify bool) (bool, string, error) {
	var started bool
	var message string
	if err := c.object().Call(Interface+".StartWipe", 0, path, algorithmID, verify).Store(&started, &message); err != nil {
		return false, "", fmt.Errorf("StartWipe call failed: %w", err)
	}
	return started, message, nil
}

// CancelWipe запрашивает отмену текущей операции
func (c *Client) CancelWipe() (bool, error) {
	var wasRunning bool
	if err := c.object().Call(Interface+".CancelWipe", 0).Store(&wasRunning); err != nil {
		return false, fmt.Errorf("CancelWipe call failed: %w", err)
	}
	return wasRunning, nil
}

// ProgressEvent распакованный сигнал WipeProgress
type ProgressEvent struct {
	DevicePath   string
	Percentage   float64
	CurrentPass  int32
	TotalPasses  int32
	Status       string
	IsComplete   bool
	HasError     bool
	ErrorMessage string
	BytesWritten uint64
	TotalBytes   uint64
	SpeedBps     float64
	ETASeconds   int64
}

// WatchProgress подписывается на поток прогресса движка. Возвращённый
// канал закрывается при закрытии соединения.
func (c *Client) WatchProgress() (<-chan ProgressEvent, error) {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ObjectPath),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember("WipeProgress"),
	); err != nil {
		return nil, fmt.Errorf("failed to subscribe to progress signal: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	events := make(chan ProgressEvent, 16)
	go func() {
		defer close(events)
		for sig := range signals {
			if sig.Name != ProgressSignal {
				continue
			}
			if e, ok := decodeProgress(sig.Body); ok {
				events <- e
			}
		}
	}()

	return events, nil
}

func decodeProgress(body []interface{}) (ProgressEvent, bool) {
	if len(body) != 12 {
		return ProgressEvent{}, false
	}

	e := ProgressEvent{}
	ok := true
	assign := func(i int, dst interface{}) {
		if !ok {
			return
		}
		switch d := dst.(type) {
		case *string:
			*d, ok = body[i].(string)
		case *float64:
			*d, ok = body[i].(float64)
		case *int32:
			*d, ok = body[i].(int32)
		case *bool:
			*d, ok = body[i].(bool)
		case *uint64:
			*d, ok = body[i].(uint64)
		case *int64:
			*d, ok = body[i].(int64)
		}
	}

	assign(0, &e.DevicePath)
	assign(1, &e.Percentage)
	assign(2, &e.CurrentPass)
	assign(3, &e.TotalPasses)
	assign(4, &e.Status)
	assign(5, &e.IsComplete)
	assign(6, &e.HasError)
	assign(7, &e.ErrorMessage)
	assign(8, &e.BytesWritten)
	assign(9, &e.TotalBytes)
	assign(10, &e.SpeedBps)
	assign(11, &e.ETASeconds)

	return e, ok
}
