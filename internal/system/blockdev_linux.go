//go:build linux

package system

import (
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// OpenForWipe открывает устройство на запись с синхронным сбросом.
// O_SYNC гарантирует, что каждый проход реально достиг носителя,
// а не остался в страничном кэше
func OpenForWipe(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Errorf("failed to open device %s for writing: %v", path, err)
	}
	return f, nil
}

// OpenForVerify открывает устройство только на чтение
func OpenForVerify(path string) (*os.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Errorf("failed to open device %s for reading: %v", path, err)
	}
	return f, nil
}

// QueryDeviceSize возвращает ёмкость блочного устройства через ioctl
// BLKGETSIZE64; для обычных файлов (тестовые цели) берётся размер файла
func QueryDeviceSize(f *os.File) (uint64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, errors.Errorf("failed to stat %s: %v", f.Name(), err)
	}

	if st.Mode().IsRegular() {
		return uint64(st.Size()), nil
	}

	size, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64)
	if err != nil {
		return 0, errors.Errorf("BLKGETSIZE64 ioctl failed on %s: %v", f.Name(), err)
	}

	return uint64(size), nil
}
