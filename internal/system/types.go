package system

// DiskInfo информация о физическом диске. Снимок создаётся заново при
// каждом перечислении: состояние монтирования и здоровья меняется.
type DiskInfo struct {
	Path       string
	Name       string
	Model      string
	Serial     string
	SizeBytes  uint64
	Removable  bool
	SSD        bool
	Filesystem string
	Mounted    bool
	MountPoint string
	// DMBacked: поверх диска (или его разделов) собран device-mapper том
	// (LVM/LUKS); сам диск при этом остаётся допустимой целью перечисления
	DMBacked bool
	Smart    SmartHealth
}

// SmartHealth снимок SMART-состояния диска
type SmartHealth struct {
	Available    bool
	Healthy      bool
	Temperature  int64
	PowerOnHours int64
}
