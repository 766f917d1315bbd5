package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProfile(t *testing.T) {
	p, err := NewProfile(DesktopWin, "")
	require.NoError(t, err)
	assert.Equal(t, "DESKTOPWIN\t9.2.0.3403\tWINDOWS\t10.0.0-NT-x64", p.AppName())
	assert.Equal(t, "Line/9.2.0.3403", p.UserAgent())

	p, err = NewProfile(DesktopWin, "9.9.9.9999")
	require.NoError(t, err)
	assert.Equal(t, "Line/9.9.9.9999", p.UserAgent())

	_, err = NewProfile("PDP11", "")
	assert.Error(t, err)
}

func TestCapabilityFlags(t *testing.T) {
	cases := []struct {
		kind    Kind
		tokenV3 bool
		primary bool
	}{
		{DesktopWin, true, false},
		{DesktopMac, true, false},
		{ChromeOS, false, false},
		{Android, true, true},
		{IOS, true, true},
		{IOSIpad, false, false},
		{WatchOS, false, false},
		{WearOS, false, false},
	}
	for _, c := range cases {
		p, err := NewProfile(c.kind, "")
		require.NoError(t, err)
		assert.Equal(t, c.tokenV3, p.SupportsTokenV3(), string(c.kind))
		assert.Equal(t, c.primary, p.IsPrimary(), string(c.kind))
	}
}
