//go:build linux

package ata

import (
	"os"
	"time"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// SG_IO транспорт ATA-команд через SCSI generic passthrough (ATA-16 CDB)

const (
	sgIOCtl = 0x2285 // SG_IO из scsi/sg.h

	sgDxferNone    = -1
	sgDxferToDev   = -2
	sgDxferFromDev = -3

	sgInterfaceID = int32('S')

	ata16Opcode = 0x85

	// Протоколы ATA passthrough
	protoNonData = 3
	protoPIOIn   = 4
	protoPIOOut  = 5

	// Команды ATA
	cmdIdentifyDevice          = 0xEC
	cmdSecuritySetPassword     = 0xF1
	cmdSecurityUnlock          = 0xF2
	cmdSecurityErasePrepare    = 0xF3
	cmdSecurityEraseUnit       = 0xF4
	cmdSecurityDisablePassword = 0xF6

	sectorSize = 512

	defaultCommandTimeout = 15 * time.Second
)

// sgIOHdr повторяет С-структуру sg_io_hdr_t (LP64)
type sgIOHdr struct {
	interfaceID    int32
	dxferDirection int32
	cmdLen         uint8
	mxSBLen        uint8
	iovecCount     uint16
	dxferLen       uint32
	dxferp         unsafe.Pointer
	cmdp           unsafe.Pointer
	sbp            unsafe.Pointer
	timeout        uint32
	flags          uint32
	packID         int32
	_              [4]byte
	usrPtr         unsafe.Pointer
	status         uint8
	maskedStatus   uint8
	msgStatus      uint8
	sbLenWr        uint8
	hostStatus     uint16
	driverStatus   uint16
	resid          int32
	duration       uint32
	info           uint32
}

// ataCommand описывает одну команду для ATA-16 passthrough
type ataCommand struct {
	command  uint8
	features uint16
	count    uint16
	dataIn   bool // данные от устройства
	dataOut  bool // данные к устройству
	timeout  time.Duration
}

// SGIOPort выполняет команды безопасности напрямую через SG_IO.
// Требует привилегий на открытие блочного устройства.
type SGIOPort struct{}

func NewSGIOPort() *SGIOPort { return &SGIOPort{} }

// run открывает устройство и выполняет одну ATA-команду
func (p *SGIOPort) run(path string, cmd ataCommand, data []byte) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return errors.Errorf("failed to open %s for ATA passthrough: %v", path, err)
	}
	defer f.Close()

	return p.exec(f, cmd, data)
}

func (p *SGIOPort) exec(f *os.File, cmd ataCommand, data []byte) error {
	cdb := make([]byte, 16)
	cdb[0] = ata16Opcode

	switch {
	case cmd.dataIn:
		cdb[1] = protoPIOIn << 1
		// t_dir=1 (от устройства), byt_blok=1 (блоки), t_length=10b (поле count)
		cdb[2] = 0x0E
	case cmd.dataOut:
		cdb[1] = protoPIOOut << 1
		cdb[2] = 0x06
	default:
		cdb[1] = protoNonData << 1
		cdb[2] = 0x00
	}

	cdb[3] = byte(cmd.features >> 8)
	cdb[4] = byte(cmd.features)
	cdb[5] = byte(cmd.count >> 8)
	cdb[6] = byte(cmd.count)
	cdb[13] = 0x40 // бит obsolete device, как ставит hdparm
	cdb[14] = cmd.command

	timeout := cmd.timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}

	sense := make([]byte, 32)
	hdr := sgIOHdr{
		interfaceID: sgInterfaceID,
		cmdLen:      uint8(len(cdb)),
		mxSBLen:     uint8(len(sense)),
		cmdp:        unsafe.Pointer(&cdb[0]),
		sbp:         unsafe.Pointer(&sense[0]),
		timeout:     uint32(timeout.Milliseconds()),
	}

	switch {
	case cmd.dataIn:
		hdr.dxferDirection = sgDxferFromDev
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = unsafe.Pointer(&data[0])
	case cmd.dataOut:
		hdr.dxferDirection = sgDxferToDev
		hdr.dxferLen = uint32(len(data))
		hdr.dxferp = unsafe.Pointer(&data[0])
	default:
		hdr.dxferDirection = sgDxferNone
	}

	for {
		_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), sgIOCtl, uintptr(unsafe.Pointer(&hdr)))
		if errno == unix.EINTR {
			continue
		}
		if errno != 0 {
			return errors.Errorf("SG_IO ioctl failed for command 0x%02X: %v", cmd.command, errno)
		}
		break
	}

	if hdr.status != 0 || hdr.hostStatus != 0 || hdr.driverStatus&^0x08 != 0 {
		// driver_status бит 0x08 (DRIVER_SENSE) сопровождает и успешный
		// ATA passthrough, остальное — отказ команды
		return errors.Errorf("ATA command 0x%02X rejected by device: status=%d host=%d driver=%d",
			cmd.command, hdr.status, hdr.hostStatus, hdr.driverStatus)
	}

	return nil
}

// ReadSecurityInfo выполняет IDENTIFY DEVICE и разбирает слова безопасности
func (p *SGIOPort) ReadSecurityInfo(path string) (SecurityInfo, error) {
	identify := make([]byte, sectorSize)
	err := p.run(path, ataCommand{
		command: cmdIdentifyDevice,
		count:   1,
		dataIn:  true,
	}, identify)
	if err != nil {
		return SecurityInfo{}, err
	}

	return ParseSecurityInfo(identify)
}

// securityPayload собирает 512-байтный блок данных для команд безопасности.
// word 0 — control (бит 0: master=1/user=0; для ERASE UNIT бит 1: enhanced),
// words 1-16 — пароль.
func securityPayload(password string, control uint16) []byte {
	payload := make([]byte, sectorSize)
	payload[0] = byte(control)
	payload[1] = byte(control >> 8)
	copy(payload[2:34], password)
	return payload
}

// SetPassword устанавливает пользовательский пароль (high security)
func (p *SGIOPort) SetPassword(path, password string) error {
	return p.run(path, ataCommand{
		command: cmdSecuritySetPassword,
		count:   1,
		dataOut: true,
	}, securityPayload(password, 0))
}

// ErasePrepare выдаёт SECURITY ERASE PREPARE; обязательный шаг протокола
// непосредственно перед ERASE UNIT
func (p *SGIOPort) ErasePrepare(path string) error {
	return p.run(path, ataCommand{command: cmdSecurityErasePrepare}, nil)
}

// EraseUnit выдаёт SECURITY ERASE UNIT. Блокируется до завершения стирания:
// команда атомарна и не прерывается после выдачи.
func (p *SGIOPort) EraseUnit(path, password string, enhanced bool, timeout time.Duration) error {
	var control uint16
	if enhanced {
		control |= 1 << 1
	}
	return p.run(path, ataCommand{
		command: cmdSecurityEraseUnit,
		count:   1,
		dataOut: true,
		timeout: timeout,
	}, securityPayload(password, control))
}

// DisablePassword снимает пользовательский пароль
func (p *SGIOPort) DisablePassword(path, password string) error {
	return p.run(path, ataCommand{
		command: cmdSecurityDisablePassword,
		count:   1,
		dataOut: true,
	}, securityPayload(password, 0))
}
