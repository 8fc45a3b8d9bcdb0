//go:build linux

package system

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	gopsutildisk "github.com/shirou/gopsutil/v3/disk"
)

const (
	procSelfMountInfo = "/proc/self/mountinfo"
	sysClassBlock     = "/sys/class/block"
)

// mountEntry одна запись таблицы монтирования
type mountEntry struct {
	Source     string // устройство, как записано в таблице (может быть /dev/mapper/*)
	Resolved   string // источник после разрешения симлинков; "" если не удалось
	MountPath  string
	Filesystem string
}

// MountTable таблица монтирования с учётом device-mapper цепочек.
// Непрозрачность dm-томов — риск потери данных: LUKS/LVM том поверх
// физического диска делает занятым и сам диск.
type MountTable struct {
	entries []mountEntry
	sysfs   string // корень sysfs, переопределяется в тестах
}

// LoadMountTable читает /proc/self/mountinfo и дополняет его таблицей
// разделов из gopsutil (второй независимый источник для mapper-имен)
func LoadMountTable() (*MountTable, error) {
	data, err := os.ReadFile(procSelfMountInfo)
	if err != nil {
		return nil, errors.Errorf("failed to read %s: %v", procSelfMountInfo, err)
	}

	mt := ParseMountInfo(data)
	mt.sysfs = sysClassBlock

	// Второй источник: gopsutil отдаёт уже развёрнутые пути для части
	// mapper-томов и сетевых ФС, mountinfo мог их не покрыть
	ctx, cancelCtx := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancelCtx()
	if parts, perr := gopsutildisk.PartitionsWithContext(ctx, true); perr == nil {
		for _, p := range parts {
			if !strings.HasPrefix(p.Device, "/dev/") {
				continue
			}
			if mt.hasEntry(p.Device, p.Mountpoint) {
				continue
			}
			mt.entries = append(mt.entries, mountEntry{
				Source:     p.Device,
				Resolved:   resolveMountSource(p.Device),
				MountPath:  p.Mountpoint,
				Filesystem: p.Fstype,
			})
		}
	}

	return mt, nil
}

// ParseMountInfo разбирает содержимое mountinfo.
// Формат строки: `120 95 253:2 / /home rw,relatime shared:67 - ext4 /dev/mapper/vg-home rw`
func ParseMountInfo(data []byte) *MountTable {
	mt := &MountTable{sysfs: sysClassBlock}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		groups := strings.SplitN(line, " - ", 2)
		if len(groups) < 2 {
			continue
		}

		fieldsPre := strings.Fields(groups[0])
		fieldsSuf := strings.Fields(groups[1])
		if len(fieldsPre) < 5 || len(fieldsSuf) < 2 {
			continue
		}

		source := fieldsSuf[1]
		if !strings.HasPrefix(source, "/dev/") {
			continue
		}

		mt.entries = append(mt.entries, mountEntry{
			Source:     source,
			Resolved:   resolveMountSource(source),
			MountPath:  fieldsPre[4],
			Filesystem: fieldsSuf[0],
		})
	}

	return mt
}

// resolveMountSource разрешает симлинки mapper-имён (/dev/mapper/vg-lv →
// /dev/dm-0). Пустая строка означает неудачу разрешения.
func resolveMountSource(source string) string {
	if !strings.HasPrefix(source, "/dev/mapper/") && !strings.HasPrefix(source, "/dev/disk/") {
		return source
	}
	resolved, err := filepath.EvalSymlinks(source)
	if err != nil {
		return ""
	}
	return resolved
}

func (mt *MountTable) hasEntry(source, mountPath string) bool {
	for _, e := range mt.entries {
		if e.MountPath == mountPath && (e.Source == source || e.Resolved == source) {
			return true
		}
	}
	return false
}

// DirectMount возвращает точку монтирования устройства, если оно
// смонтировано непосредственно
func (mt *MountTable) DirectMount(devicePath string) (mountEntry, bool) {
	for _, e := range mt.entries {
		if e.Source == devicePath || e.Resolved == devicePath {
			return e, true
		}
	}
	return mountEntry{}, false
}

// HasUnresolvedMapper сообщает, остались ли mapper-записи, чьи симлинки
// не разрешились. Такие записи не сопоставимы с устройствами, поэтому
// устройство с dm-держателями при их наличии считается занятым (fail-safe:
// молча пропустить возможный монтаж — риск потери данных).
func (mt *MountTable) HasUnresolvedMapper() bool {
	for _, e := range mt.entries {
		if strings.HasPrefix(e.Source, "/dev/mapper/") && e.Resolved == "" {
			return true
		}
	}
	return false
}

// DeviceBusy проверяет занятость устройства: прямое монтирование самого
// устройства, его разделов, и транзитивно — держателей device-mapper
func (mt *MountTable) DeviceBusy(devicePath string) (bool, string) {
	name := filepath.Base(devicePath)

	if e, ok := mt.DirectMount(devicePath); ok {
		return true, e.MountPath
	}

	// Разделы: /sys/class/block/sda1 с файлом partition и префиксом имени диска
	entries, err := os.ReadDir(mt.sysfs)
	if err == nil {
		for _, entry := range entries {
			sub := entry.Name()
			if sub == name || !strings.HasPrefix(sub, name) {
				continue
			}
			if !sysfsExists(filepath.Join(mt.sysfs, sub, "partition")) {
				continue
			}
			if busy, where := mt.nodeBusy(sub); busy {
				return true, where
			}
		}
	}

	return mt.holdersBusy(name)
}

// nodeBusy проверяет один узел (раздел или dm-устройство) и его держателей
func (mt *MountTable) nodeBusy(name string) (bool, string) {
	if e, ok := mt.DirectMount(filepath.Join("/dev", name)); ok {
		return true, e.MountPath
	}
	return mt.holdersBusy(name)
}

// holdersBusy рекурсивно обходит цепочку держателей
// /sys/class/block/<dev>/holders (LVM/LUKS поверх устройства)
func (mt *MountTable) holdersBusy(name string) (bool, string) {
	holdersDir := filepath.Join(mt.sysfs, name, "holders")
	holders, err := os.ReadDir(holdersDir)
	if err != nil {
		return false, ""
	}

	for _, holder := range holders {
		holderName := holder.Name()
		if busy, where := mt.nodeBusy(holderName); busy {
			return true, where
		}
		// dm-держатель + неразрешённые mapper-записи: сопоставить нельзя,
		// считаем устройство занятым
		if strings.HasPrefix(holderName, "dm-") && mt.HasUnresolvedMapper() {
			return true, "unresolved device-mapper mount"
		}
	}

	return false, ""
}

func sysfsExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}
