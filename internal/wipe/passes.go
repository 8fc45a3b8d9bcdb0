package wipe

import "fmt"

// DefaultBufferSize размер буфера записи по умолчанию (1 MiB):
// крупные блоки амортизируют стоимость системных вызовов
const DefaultBufferSize = 1024 * 1024

// passSpec описывает один проход: фиксированный байт либо случайные данные
type passSpec struct {
	random bool
	value  byte
}

func fixedPass(value byte) passSpec { return passSpec{value: value} }
func randomPass() passSpec          { return passSpec{random: true} }

func (p passSpec) label() string {
	if p.random {
		return "random"
	}
	switch p.value {
	case 0x00:
		return "zeros"
	case 0xFF:
		return "ones"
	default:
		return fmt.Sprintf("0x%02X", p.value)
	}
}

// gutmannFixedValues — 27 фиксированных значений для проходов 5-31 метода
// Гутмана. Современное упрощение исторической MFM/RLL-таблицы: от каждого
// паттерна берётся ведущий байт, значения циклически повторяются.
var gutmannFixedValues = [27]byte{
	0x55, 0xAA,
	0x92, 0x49, 0x24,
	0x00, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77,
	0x88, 0x99, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF,
	0x92, 0x49, 0x24,
	0x6D, 0xB6, 0xDB,
}

// buildGutmannPasses собирает 35 проходов: 4 случайных, 27 фиксированных,
// 4 случайных
func buildGutmannPasses() []passSpec {
	passes := make([]passSpec, 0, 35)
	for i := 0; i < 4; i++ {
		passes = append(passes, randomPass())
	}
	for i := 0; i < 27; i++ {
		passes = append(passes, fixedPass(gutmannFixedValues[i%len(gutmannFixedValues)]))
	}
	for i := 0; i < 4; i++ {
		passes = append(passes, randomPass())
	}
	return passes
}

// softwareAlgorithms возвращает все программные алгоритмы перезаписи
func softwareAlgorithms(bufferSize int, maxSpeedMBps float64) []*softwareAlgorithm {
	return []*softwareAlgorithm{
		{
			kind:          KindZeroFill,
			name:          "Zero Fill",
			description:   "Single pass of zeros. Fast baseline sanitization.",
			passes:        []passSpec{fixedPass(0x00)},
			ssdCompatible: true,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:          KindRandomFill,
			name:          "Random Fill",
			description:   "Single pass of cryptographically random data.",
			passes:        []passSpec{randomPass()},
			ssdCompatible: true,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:          KindThreePass,
			name:          "Three Pass",
			description:   "Three passes: zeros, ones, random (DoD 5220.22-M style).",
			passes:        []passSpec{fixedPass(0x00), fixedPass(0xFF), randomPass()},
			ssdCompatible: false,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:        KindSchneier,
			name:        "Schneier",
			description: "Seven passes: ones, zeros, then five random passes.",
			passes: []passSpec{
				fixedPass(0xFF), fixedPass(0x00),
				randomPass(), randomPass(), randomPass(), randomPass(), randomPass(),
			},
			ssdCompatible: false,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:        KindVSITR,
			name:        "VSITR",
			description: "German VSITR: six alternating zero/one passes plus one random pass.",
			passes: []passSpec{
				fixedPass(0x00), fixedPass(0xFF),
				fixedPass(0x00), fixedPass(0xFF),
				fixedPass(0x00), fixedPass(0xFF),
				randomPass(),
			},
			ssdCompatible: false,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:          KindGOST,
			name:          "GOST R 50739-95",
			description:   "Two passes: zeros, then random data.",
			passes:        []passSpec{fixedPass(0x00), randomPass()},
			ssdCompatible: false,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
		{
			kind:          KindGutmann,
			name:          "Gutmann",
			description:   "35 passes: 4 random, 27 fixed patterns, 4 random.",
			passes:        buildGutmannPasses(),
			ssdCompatible: false,
			bufferSize:    bufferSize,
			maxSpeedMBps:  maxSpeedMBps,
		},
	}
}
