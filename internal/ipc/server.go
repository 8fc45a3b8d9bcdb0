package ipc

import (
	"fmt"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/kidoz/storage-wiper-sub000/internal/config"
	"github.com/kidoz/storage-wiper-sub000/internal/logging"
	"github.com/kidoz/storage-wiper-sub000/internal/service"
	"github.com/kidoz/storage-wiper-sub000/internal/system"
	"github.com/kidoz/storage-wiper-sub000/internal/wipe"
)

const (
	// Interface совпадает с именем шины из конфигурации по умолчанию
	Interface  = "ru.kidoz.StorageWiper1"
	ObjectPath = "/ru/kidoz/StorageWiper1"

	ProgressSignal = Interface + ".WipeProgress"

	polkitService   = "org.freedesktop.PolicyKit1"
	polkitPath      = "/org/freedesktop/PolicyKit1/Authority"
	polkitInterface = "org.freedesktop.PolicyKit1.Authority"

	// Разрешаем polkit поднимать диалог аутентификации
	polkitAllowInteraction = uint32(1)
)

// WireDisk плоское представление DiskInfo для передачи через шину.
// Поля SMART развёрнуты, чтобы клиентам не требовались вложенные
// структурные сигнатуры.
type WireDisk struct {
	Path         string
	Name         string
	Model        string
	Serial       string
	SizeBytes    uint64
	Removable    bool
	SSD          bool
	Filesystem   string
	Mounted      bool
	MountPoint   string
	DMBacked     bool
	SmartOK      bool
	SmartHealthy bool
	Temperature  int32
	PowerOnHours int64
}

// WireAlgorithm описание алгоритма для передачи через шину
type WireAlgorithm struct {
	ID          uint32
	Name        string
	Description string
	Passes      int32
}

// Server экспортирует движок затирания на системной шине D-Bus.
// Авторизация привилегированных вызовов делегирована polkit: движок
// доверяет возвращённому булеву и сам политику доступа не реализует.
type Server struct {
	cfg        *config.Config
	controller *service.Controller
	enumerator system.DiskLister
	policy     service.TargetValidator
	registry   *wipe.Registry
	logger     *logging.EnterpriseLogger

	conn *dbus.Conn
}

func NewServer(cfg *config.Config, controller *service.Controller, enumerator system.DiskLister, policy service.TargetValidator, registry *wipe.Registry, logger *logging.EnterpriseLogger) *Server {
	return &Server{
		cfg:        cfg,
		controller: controller,
		enumerator: enumerator,
		policy:     policy,
		registry:   registry,
		logger:     logger,
	}
}

// Run подключается к системной шине, занимает имя и экспортирует методы.
// Блокирующей петли нет: godbus обслуживает вызовы в своих горутинах.
func (s *Server) Run() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system D-Bus: %w", err)
	}
	s.conn = conn

	if err := conn.Export(s, ObjectPath, Interface); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export service object: %w", err)
	}

	node := &introspect.Node{
		Name: ObjectPath,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: introspect.Methods(s),
				Signals: []introspect.Signal{{
					Name: "WipeProgress",
					Args: []introspect.Arg{
						{Name: "device_path", Type: "s"},
						{Name: "percentage", Type: "d"},
						{Name: "current_pass", Type: "i"},
						{Name: "total_passes", Type: "i"},
						{Name: "status", Type: "s"},
						{Name: "is_complete", Type: "b"},
						{Name: "has_error", Type: "b"},
						{Name: "error_message", Type: "s"},
						{Name: "bytes_written", Type: "t"},
						{Name: "total_bytes", Type: "t"},
						{Name: "speed_bps", Type: "d"},
						{Name: "eta_seconds", Type: "x"},
					},
				}},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), ObjectPath, "org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export introspection data: %w", err)
	}

	reply, err := conn.RequestName(s.cfg.Engine.BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request bus name %s: %w", s.cfg.Engine.BusName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken, another engine instance running?", s.cfg.Engine.BusName)
	}

	s.logger.Log("INFO", "Движок доступен на системной шине",
		"bus_name", s.cfg.Engine.BusName, "object_path", ObjectPath)

	return nil
}

// Close освобождает имя и закрывает соединение с шиной
func (s *Server) Close() {
	if s.conn != nil {
		s.conn.ReleaseName(s.cfg.Engine.BusName)
		s.conn.Close()
	}
}

// EmitProgress публикует событие прогресса всем подписчикам шины.
// Один общий поток на все операции: подписчики фильтруют по пути устройства.
func (s *Server) EmitProgress(e service.Event) {
	if s.conn == nil {
		return
	}

	err := s.conn.Emit(ObjectPath, ProgressSignal,
		e.DevicePath,
		e.Percentage,
		int32(e.CurrentPass),
		int32(e.TotalPasses),
		e.Status,
		e.IsComplete,
		e.HasError,
		e.ErrorMessage,
		e.BytesWritten,
		e.TotalBytes,
		e.SpeedBps,
		e.ETASeconds,
	)
	if err != nil {
		s.logger.Log("WARN", "Не удалось отправить сигнал прогресса", "error", err.Error())
	}
}

// ListDisks возвращает свежее перечисление физических дисков
func (s *Server) ListDisks(sender dbus.Sender) ([]WireDisk, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.ListActionID); err != nil {
		return nil, err
	}

	disks, err := s.enumerator.ListDisks()
	if err != nil {
		s.logger.Log("ERROR", "Ошибка перечисления дисков", "error", err.Error())
		return nil, dbus.MakeFailedError(err)
	}

	wire := make([]WireDisk, len(disks))
	for i, d := range disks {
		wire[i] = WireDisk{
			Path:         d.Path,
			Name:         d.Name,
			Model:        d.Model,
			Serial:       d.Serial,
			SizeBytes:    d.SizeBytes,
			Removable:    d.Removable,
			SSD:          d.SSD,
			Filesystem:   d.Filesystem,
			Mounted:      d.Mounted,
			MountPoint:   d.MountPoint,
			DMBacked:     d.DMBacked,
			SmartOK:      d.Smart.Available,
			SmartHealthy: d.Smart.Healthy,
			Temperature:  int32(d.Smart.Temperature),
			PowerOnHours: d.Smart.PowerOnHours,
		}
	}

	return wire, nil
}

// ValidateDevicePath прогоняет путь через политику без побочных эффектов
func (s *Server) ValidateDevicePath(sender dbus.Sender, path string) (bool, string, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.ListActionID); err != nil {
		return false, "", err
	}

	if err := s.policy.ValidateWipeTarget(path); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

// IsDeviceWritable проверяет только доступность устройства на запись
func (s *Server) IsDeviceWritable(sender dbus.Sender, path string) (bool, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.ListActionID); err != nil {
		return false, err
	}

	type writableChecker interface {
		IsWritable(path string) bool
	}
	if wc, ok := s.policy.(writableChecker); ok {
		return wc.IsWritable(path), nil
	}
	return s.policy.ValidateWipeTarget(path) == nil, nil
}

// UnmountDevice размонтирует устройство и его разделы
func (s *Server) UnmountDevice(sender dbus.Sender, path string) (bool, string, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.WipeActionID); err != nil {
		return false, "", err
	}

	if err := system.UnmountDevice(path); err != nil {
		s.logger.Log("WARN", "Размонтирование не удалось", "device", path, "error", err.Error())
		return false, err.Error(), nil
	}

	s.logger.Log("INFO", "Устройство размонтировано", "device", path)
	return true, "", nil
}

// GetAlgorithms возвращает таблицу доступных алгоритмов
func (s *Server) GetAlgorithms() ([]WireAlgorithm, *dbus.Error) {
	descriptors := s.registry.Descriptors()
	wire := make([]WireAlgorithm, len(descriptors))
	for i, d := range descriptors {
		wire[i] = WireAlgorithm{
			ID:          uint32(d.Kind),
			Name:        d.Name,
			Description: d.Description,
			Passes:      int32(d.Passes),
		}
	}
	return wire, nil
}

// StartWipe запускает операцию затирания; возвращает управление сразу
func (s *Server) StartWipe(sender dbus.Sender, path string, algorithmID uint32, verify bool) (bool, string, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.WipeActionID); err != nil {
		return false, "", err
	}

	if err := s.controller.Start(path, wipe.WipeAlgorithmKind(algorithmID), verify); err != nil {
		return false, err.Error(), nil
	}
	return true, "", nil
}

// CancelWipe взводит флаг отмены; true, если операция была в полёте
func (s *Server) CancelWipe(sender dbus.Sender) (bool, *dbus.Error) {
	if err := s.authorize(sender, s.cfg.Policy.WipeActionID); err != nil {
		return false, err
	}
	return s.controller.Cancel(), nil
}

// authorize спрашивает polkit, разрешено ли отправителю действие.
// Движок доверяет вердикту и не интерпретирует причину отказа.
func (s *Server) authorize(sender dbus.Sender, actionID string) *dbus.Error {
	if s.cfg.Policy.SkipPolkit {
		return nil
	}

	subject := struct {
		Kind    string
		Details map[string]dbus.Variant
	}{
		Kind: "system-bus-name",
		Details: map[string]dbus.Variant{
			"name": dbus.MakeVariant(string(sender)),
		},
	}

	var result struct {
		IsAuthorized bool
		IsChallenge  bool
		Details      map[string]string
	}

	authority := s.conn.Object(polkitService, polkitPath)
	err := authority.Call(polkitInterface+".CheckAuthorization", 0,
		subject, actionID, map[string]string{}, polkitAllowInteraction, "").Store(&result)
	if err != nil {
		s.logger.Log("ERROR", "Ошибка запроса авторизации polkit",
			"action", actionID, "sender", string(sender), "error", err.Error())
		return dbus.MakeFailedError(fmt.Errorf("authorization check failed: %w", err))
	}

	if !result.IsAuthorized {
		s.logger.Log("WARN", "Действие отклонено polkit",
			"action", actionID, "sender", string(sender))
		return dbus.NewError("org.freedesktop.DBus.Error.AccessDenied",
			[]interface{}{fmt.Sprintf("not authorized for %s", actionID)})
	}

	return nil
}
