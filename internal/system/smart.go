package system

import (
	"context"
	"os/exec"
	"time"

	"github.com/tidwall/gjson"
)

const smartctlTimeout = 5 * time.Second

// CollectSmart опрашивает SMART-статус диска через smartctl -j.
// Отсутствие smartctl или ошибка опроса не фатальны: возвращается
// отчёт с Available=false, диск остаётся доступным для стирания.
func CollectSmart(smartctlPath, devicePath string) SmartHealth {
	if smartctlPath == "" {
		smartctlPath = "smartctl"
	}

	ctx, cancel := context.WithTimeout(context.Background(), smartctlTimeout)
	defer cancel()

	// smartctl возвращает ненулевой код при деградации диска,
	// JSON при этом валиден, поэтому ошибку exec игнорируем
	output, _ := exec.CommandContext(ctx, smartctlPath, "-j", "-H", "-A", devicePath).Output()
	if len(output) == 0 || !gjson.ValidBytes(output) {
		return SmartHealth{}
	}

	parsed := gjson.ParseBytes(output)

	status := parsed.Get("smart_status.passed")
	if !status.Exists() {
		return SmartHealth{}
	}

	return SmartHealth{
		Available:    true,
		Healthy:      status.Bool(),
		Temperature:  parsed.Get("temperature.current").Int(),
		PowerOnHours: parsed.Get("power_on_time.hours").Int(),
	}
}
