//go:build linux

package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const runUdevData = "/run/udev/data"

// virtualDevicePrefixes имена блочных устройств, не являющихся физическими
// дисками; отсекаются на верхнем уровне перечисления
var virtualDevicePrefixes = []string{"loop", "ram", "zram", "dm-", "md", "sr", "fd"}

// Enumerator перечисляет физические диски системы
type Enumerator struct {
	sysfs        string
	udevData     string
	smartctlPath string
}

func NewEnumerator(smartctlPath string) *Enumerator {
	return &Enumerator{
		sysfs:        sysClassBlock,
		udevData:     runUdevData,
		smartctlPath: smartctlPath,
	}
}

// ListDisks сканирует /sys/class/block и собирает свежие снимки дисков.
// Результат не кэшируется: монтирование и здоровье меняются между вызовами.
func (e *Enumerator) ListDisks() ([]DiskInfo, error) {
	entries, err := os.ReadDir(e.sysfs)
	if err != nil {
		return nil, errors.Errorf("failed to list %s: %v", e.sysfs, err)
	}

	mounts, err := LoadMountTable()
	if err != nil {
		return nil, err
	}

	var disks []DiskInfo
	for _, entry := range entries {
		name := entry.Name()
		if isVirtualDevice(name) {
			continue
		}

		entryPath := filepath.Join(e.sysfs, name)

		// Разделы и устройства без физического бэкенда пропускаем
		if sysfsExists(filepath.Join(entryPath, "partition")) {
			continue
		}
		if !sysfsExists(filepath.Join(entryPath, "device")) {
			continue
		}

		disk := DiskInfo{
			Name: name,
			Path: filepath.Join("/dev", name),
		}

		if size, err := readSysfsUint(filepath.Join(entryPath, "size")); err == nil {
			disk.SizeBytes = size * 512
		}
		if removable, err := readSysfsUint(filepath.Join(entryPath, "removable")); err == nil {
			disk.Removable = removable == 1
		}
		if rotational, err := readSysfsUint(filepath.Join(entryPath, "queue", "rotational")); err == nil {
			disk.SSD = rotational == 0
		}
		if model, err := os.ReadFile(filepath.Join(entryPath, "device", "model")); err == nil {
			disk.Model = strings.TrimSpace(string(model))
		}

		e.fillUdevInfo(entryPath, &disk)

		if e, ok := mounts.DirectMount(disk.Path); ok {
			disk.Mounted = true
			disk.MountPoint = e.MountPath
			disk.Filesystem = e.Filesystem
		} else if busy, where := mounts.DeviceBusy(disk.Path); busy {
			disk.Mounted = true
			disk.MountPoint = where
		}

		disk.DMBacked = hasDMHolders(e.sysfs, name)

		disk.Smart = CollectSmart(e.smartctlPath, disk.Path)

		disks = append(disks, disk)
	}

	return disks, nil
}

// isVirtualDevice отсекает loopback, RAM-диски, device-mapper и прочие
// виртуальные узлы; физические диски, служащие LVM PV, остаются
func isVirtualDevice(name string) bool {
	for _, prefix := range virtualDevicePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// fillUdevInfo дополняет модель и серийник из udev-базы (/run/udev/data)
func (e *Enumerator) fillUdevInfo(entryPath string, disk *DiskInfo) {
	devNumber, err := os.ReadFile(filepath.Join(entryPath, "dev"))
	if err != nil {
		return
	}

	udevFile := filepath.Join(e.udevData, "b"+strings.TrimSpace(string(devNumber)))
	data, err := os.ReadFile(udevFile)
	if err != nil {
		return
	}

	props := map[string]string{}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "E:") {
			continue
		}
		kv := strings.SplitN(line[2:], "=", 2)
		if len(kv) != 2 {
			continue
		}
		props[kv[0]] = kv[1]
	}

	// Серийник: от более специфичных ключей к менее
	for _, key := range []string{"SCSI_IDENT_SERIAL", "ID_SCSI_SERIAL", "ID_SERIAL_SHORT", "ID_SERIAL"} {
		if props[key] != "" {
			disk.Serial = props[key]
			break
		}
	}

	if disk.Model == "" && props["ID_MODEL"] != "" {
		disk.Model = props["ID_MODEL"]
	}
}

// hasDMHolders проверяет, собран ли поверх диска (или его разделов)
// device-mapper том
func hasDMHolders(sysfs, name string) bool {
	if dirHasDMEntries(filepath.Join(sysfs, name, "holders")) {
		return true
	}

	entries, err := os.ReadDir(sysfs)
	if err != nil {
		return false
	}
	for _, entry := range entries {
		sub := entry.Name()
		if sub == name || !strings.HasPrefix(sub, name) {
			continue
		}
		if !sysfsExists(filepath.Join(sysfs, sub, "partition")) {
			continue
		}
		if dirHasDMEntries(filepath.Join(sysfs, sub, "holders")) {
			return true
		}
	}
	return false
}

func dirHasDMEntries(dir string) bool {
	holders, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, h := range holders {
		if strings.HasPrefix(h.Name(), "dm-") {
			return true
		}
	}
	return false
}

func readSysfsUint(path string) (uint64, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	value, err := strconv.ParseUint(strings.TrimSpace(string(content)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return value, nil
}
