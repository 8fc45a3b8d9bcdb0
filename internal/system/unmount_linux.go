//go:build linux

package system

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// UnmountDevice размонтирует все точки монтирования устройства и его
// разделов. Тома device-mapper поверх устройства не трогаются: их
// разбор остаётся за администратором
func UnmountDevice(path string) error {
	mounts, err := LoadMountTable()
	if err != nil {
		return fmt.Errorf("failed to read mount table: %w", err)
	}

	var targets []string
	for _, e := range mounts.entries {
		source := e.Resolved
		if source == "" {
			source = e.Source
		}
		if matchesDevice(source, path) {
			targets = append(targets, e.MountPath)
		}
	}

	if len(targets) == 0 {
		return fmt.Errorf("Device is not mounted: %s", path)
	}

	for _, mountPath := range targets {
		if err := unix.Unmount(mountPath, 0); err != nil {
			return fmt.Errorf("failed to unmount %s: %w", mountPath, err)
		}
	}

	return nil
}

// matchesDevice сопоставляет источник монтирования с устройством: само
// устройство либо его раздел. Голый префикс не годится: /dev/sda совпал
// бы с соседним /dev/sdab1
func matchesDevice(source, device string) bool {
	if source == device {
		return true
	}
	return strings.HasPrefix(source, device) && partitionSuffix(source[len(device):])
}

// partitionSuffix распознаёт хвост имени раздела: цифры (sda1) либо
// «p» с цифрами (nvme0n1p1, mmcblk0p2)
func partitionSuffix(rest string) bool {
	if rest == "" {
		return false
	}
	if rest[0] == 'p' {
		rest = rest[1:]
	}
	if rest == "" {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if rest[i] < '0' || rest[i] > '9' {
			return false
		}
	}
	return true
}
