//go:build linux

package system

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	disks []DiskInfo
	err   error
	calls int
}

func (f *fakeLister) ListDisks() ([]DiskInfo, error) {
	f.calls++
	return f.disks, f.err
}

var testPrefixes = []string{"/dev/sd", "/dev/hd", "/dev/nvme", "/dev/mmcblk", "/dev/vd", "/dev/xvd"}

func TestPolicyRejectsEmptyPath(t *testing.T) {
	policy := NewDeviceAccessPolicy(testPrefixes, &fakeLister{})

	for _, path := range []string{"", "   "} {
		err := policy.ValidateWipeTarget(path)
		require.Error(t, err)
		assert.Equal(t, "Device path is empty", err.Error())
	}
}

func TestPolicyRejectsDisallowedPrefixes(t *testing.T) {
	lister := &fakeLister{}
	policy := NewDeviceAccessPolicy(testPrefixes, lister)

	rejected := []string{
		"/dev/loop0",
		"/dev/ram0",
		"/dev/dm-0",
		"/dev/mapper/x",
		"/tmp/notadevice",
		"/dev/zero",
	}
	for _, path := range rejected {
		err := policy.ValidateWipeTarget(path)
		require.Errorf(t, err, "path %s must be rejected", path)
		assert.Equal(t, "Device path prefix not allowed", err.Error(), path)
	}

	// Отказ на проверке префикса: перечисление дисков не запрашивалось
	assert.Zero(t, lister.calls)
}

func TestPolicyRejectsMapperEvenIfPrefixAllowed(t *testing.T) {
	// Явный запрет dm/mapper сильнее любого разрешённого префикса
	policy := NewDeviceAccessPolicy([]string{"/dev/"}, &fakeLister{})

	for _, path := range []string{"/dev/dm-3", "/dev/mapper/vg-root"} {
		err := policy.ValidateWipeTarget(path)
		require.Error(t, err)
		assert.Equal(t, "Device path prefix not allowed", err.Error())
	}
}

func TestPolicyRejectsNonexistentNode(t *testing.T) {
	policy := NewDeviceAccessPolicy(testPrefixes, &fakeLister{})

	err := policy.ValidateWipeTarget("/dev/sdzz99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestPolicyChecksShortCircuitInOrder(t *testing.T) {
	// Пустой путь отсекается раньше префикса, префикс — раньше stat
	lister := &fakeLister{}
	policy := NewDeviceAccessPolicy(testPrefixes, lister)

	assert.Equal(t, "Device path is empty", policy.ValidateWipeTarget("").Error())
	assert.Equal(t, "Device path prefix not allowed", policy.ValidateWipeTarget("/dev/loop7").Error())
	assert.Zero(t, lister.calls)
}
