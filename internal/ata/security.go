package ata

import (
	"fmt"
	"time"
)

// SecurityInfo снимок состояния ATA Security Feature Set устройства.
// Читается заново перед каждой попыткой аппаратного затирания и нигде
// не кэшируется: состояние меняется при сне/пробуждении диска.
type SecurityInfo struct {
	Supported         bool
	Enabled           bool
	Locked            bool
	Frozen            bool
	CountExpired      bool
	EnhancedSupported bool

	// Оценки производителя из IDENTIFY (words 89/90), 0 = неизвестно
	EraseEstimate         time.Duration
	EnhancedEraseEstimate time.Duration
}

const (
	// IDENTIFY DEVICE word 128: статус безопасности
	identifySecurityStatusWord = 128
	// IDENTIFY DEVICE words 89/90: оценки времени стирания
	identifyEraseTimeWord         = 89
	identifyEnhancedEraseTimeWord = 90

	securitySupportedBit    = 1 << 0
	securityEnabledBit      = 1 << 1
	securityLockedBit       = 1 << 2
	securityFrozenBit       = 1 << 3
	securityCountExpiredBit = 1 << 4
	securityEnhancedBit     = 1 << 5
)

// identifyWord извлекает 16-битное слово из 512-байтного ответа IDENTIFY
// (little-endian, как отдаёт устройство)
func identifyWord(identify []byte, word int) uint16 {
	return uint16(identify[word*2]) | uint16(identify[word*2+1])<<8
}

// ParseSecurityInfo разбирает слова безопасности из ответа IDENTIFY DEVICE
func ParseSecurityInfo(identify []byte) (SecurityInfo, error) {
	if len(identify) < 512 {
		return SecurityInfo{}, fmt.Errorf("IDENTIFY DEVICE response too short: %d bytes", len(identify))
	}

	status := identifyWord(identify, identifySecurityStatusWord)
	info := SecurityInfo{
		Supported:         status&securitySupportedBit != 0,
		Enabled:           status&securityEnabledBit != 0,
		Locked:            status&securityLockedBit != 0,
		Frozen:            status&securityFrozenBit != 0,
		CountExpired:      status&securityCountExpiredBit != 0,
		EnhancedSupported: status&securityEnhancedBit != 0,
	}

	// Младший байт слова — время в единицах по 2 минуты, 255 = ">508 минут"
	info.EraseEstimate = decodeEraseTime(identifyWord(identify, identifyEraseTimeWord))
	info.EnhancedEraseEstimate = decodeEraseTime(identifyWord(identify, identifyEnhancedEraseTimeWord))

	return info, nil
}

func decodeEraseTime(word uint16) time.Duration {
	value := word & 0xFF
	if value == 0 {
		return 0
	}
	if value == 255 {
		// Производитель сообщает "больше 508 минут"
		return 509 * 2 * time.Minute
	}
	return time.Duration(value) * 2 * time.Minute
}

// EraseTimeout возвращает таймаут для команды ERASE UNIT с запасом.
// Команда атомарна и неотменяема: таймаут должен заведомо перекрывать
// оценку производителя.
func (s SecurityInfo) EraseTimeout(enhanced bool) time.Duration {
	estimate := s.EraseEstimate
	if enhanced {
		estimate = s.EnhancedEraseEstimate
	}
	if estimate == 0 {
		return 4 * time.Hour
	}
	return estimate + estimate/2
}
