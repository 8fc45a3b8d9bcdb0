//go:build linux

package system

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// DiskLister перечисляет доступные физические диски; в тестах
// подменяется фиктивной реализацией
type DiskLister interface {
	ListDisks() ([]DiskInfo, error)
}

// deniedPrefixes пути device-mapper отклоняются явно: стирать нужно
// физический носитель, а не виртуальное отображение поверх него
var deniedPrefixes = []string{"/dev/dm-", "/dev/mapper/"}

// DeviceAccessPolicy проверяет, что путь указывает на разрешённый
// физический диск, не смонтированный и доступный для записи.
// Проверки выполняются строго по порядку, первая неудача прерывает
// остальные; до последней проверки устройство не открывается
type DeviceAccessPolicy struct {
	allowedPrefixes []string
	lister          DiskLister
	loadMounts      func() (*MountTable, error)
}

func NewDeviceAccessPolicy(allowedPrefixes []string, lister DiskLister) *DeviceAccessPolicy {
	return &DeviceAccessPolicy{
		allowedPrefixes: allowedPrefixes,
		lister:          lister,
		loadMounts:      LoadMountTable,
	}
}

// ValidateWipeTarget проверяет путь по всем правилам политики.
// Возвращаемая ошибка содержит конкретное человекочитаемое сообщение,
// передаваемое клиенту без изменений
func (p *DeviceAccessPolicy) ValidateWipeTarget(path string) error {
	// 1: пустой путь
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("Device path is empty")
	}

	// 2: префикс из списка разрешённых, device-mapper запрещён
	if !p.prefixAllowed(path) {
		return fmt.Errorf("Device path prefix not allowed")
	}

	// 3: узел существует и является блочным устройством
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return fmt.Errorf("Device node does not exist: %s", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return fmt.Errorf("Path is not a block device: %s", path)
	}

	// 4: устройство присутствует в актуальном перечислении
	disks, err := p.lister.ListDisks()
	if err != nil {
		return fmt.Errorf("failed to enumerate disks: %w", err)
	}
	if !diskListed(disks, path) {
		return fmt.Errorf("Device not found in system disk list: %s", path)
	}

	// 5: устройство не смонтировано ни напрямую, ни через цепочку
	// device-mapper держателей
	mounts, err := p.loadMounts()
	if err != nil {
		return fmt.Errorf("failed to read mount table: %w", err)
	}
	if busy, where := mounts.DeviceBusy(path); busy {
		return fmt.Errorf("Device is mounted: %s", where)
	}

	// 6: устройство открывается на запись привилегированным процессом
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("Device is not writable: %v", err)
	}
	unix.Close(fd)

	return nil
}

// IsWritable выполняет только последнюю проверку политики
func (p *DeviceAccessPolicy) IsWritable(path string) bool {
	fd, err := unix.Open(path, unix.O_WRONLY, 0)
	if err != nil {
		return false
	}
	unix.Close(fd)
	return true
}

func (p *DeviceAccessPolicy) prefixAllowed(path string) bool {
	for _, denied := range deniedPrefixes {
		if strings.HasPrefix(path, denied) {
			return false
		}
	}
	for _, allowed := range p.allowedPrefixes {
		if strings.HasPrefix(path, allowed) {
			return true
		}
	}
	return false
}

func diskListed(disks []DiskInfo, path string) bool {
	for _, disk := range disks {
		if disk.Path == path {
			return true
		}
	}
	return false
}
