package ata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func identifyFixture(status, eraseTime, enhancedTime uint16) []byte {
	identify := make([]byte, 512)
	put := func(word int, value uint16) {
		identify[word*2] = byte(value)
		identify[word*2+1] = byte(value >> 8)
	}
	put(identifySecurityStatusWord, status)
	put(identifyEraseTimeWord, eraseTime)
	put(identifyEnhancedEraseTimeWord, enhancedTime)
	return identify
}

func TestParseSecurityInfoStatusBits(t *testing.T) {
	tests := []struct {
		name   string
		status uint16
		want   SecurityInfo
	}{
		{
			name:   "unsupported",
			status: 0,
			want:   SecurityInfo{},
		},
		{
			name:   "supported only",
			status: securitySupportedBit,
			want:   SecurityInfo{Supported: true},
		},
		{
			name:   "supported enhanced",
			status: securitySupportedBit | securityEnhancedBit,
			want:   SecurityInfo{Supported: true, EnhancedSupported: true},
		},
		{
			name:   "frozen",
			status: securitySupportedBit | securityFrozenBit,
			want:   SecurityInfo{Supported: true, Frozen: true},
		},
		{
			name:   "enabled and locked",
			status: securitySupportedBit | securityEnabledBit | securityLockedBit,
			want:   SecurityInfo{Supported: true, Enabled: true, Locked: true},
		},
		{
			name:   "count expired",
			status: securitySupportedBit | securityCountExpiredBit,
			want:   SecurityInfo{Supported: true, CountExpired: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := ParseSecurityInfo(identifyFixture(tt.status, 0, 0))
			require.NoError(t, err)
			assert.Equal(t, tt.want, info)
		})
	}
}

func TestParseSecurityInfoShortBuffer(t *testing.T) {
	_, err := ParseSecurityInfo(make([]byte, 100))
	assert.Error(t, err)
}

func TestEraseTimeEstimates(t *testing.T) {
	// Единица измерения — 2 минуты; 255 означает "больше 508 минут"
	info, err := ParseSecurityInfo(identifyFixture(securitySupportedBit, 30, 45))
	require.NoError(t, err)
	assert.Equal(t, 60*time.Minute, info.EraseEstimate)
	assert.Equal(t, 90*time.Minute, info.EnhancedEraseEstimate)

	info, err = ParseSecurityInfo(identifyFixture(securitySupportedBit, 255, 0))
	require.NoError(t, err)
	assert.Equal(t, 509*2*time.Minute, info.EraseEstimate)
	assert.Equal(t, time.Duration(0), info.EnhancedEraseEstimate)
}

func TestEraseTimeoutMargin(t *testing.T) {
	info := SecurityInfo{EraseEstimate: 60 * time.Minute, EnhancedEraseEstimate: 40 * time.Minute}
	assert.Equal(t, 90*time.Minute, info.EraseTimeout(false))
	assert.Equal(t, 60*time.Minute, info.EraseTimeout(true))

	// Без оценки производителя используется консервативный максимум
	unknown := SecurityInfo{}
	assert.Equal(t, 4*time.Hour, unknown.EraseTimeout(false))
	assert.Equal(t, 4*time.Hour, unknown.EraseTimeout(true))
}
