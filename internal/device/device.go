// Package device holds the client identities LINE accepts and the
// capability flags that pick login and token flows per identity.
package device

import "fmt"

// Kind is a LINE client platform identifier as sent in
// x-line-application.
type Kind string

const (
	DesktopWin Kind = "DESKTOPWIN"
	DesktopMac Kind = "DESKTOPMAC"
	ChromeOS   Kind = "CHROMEOS"
	Android    Kind = "ANDROID"
	IOS        Kind = "IOS"
	IOSIpad    Kind = "IOSIPAD"
	WatchOS    Kind = "WATCHOS"
	WearOS     Kind = "WEAROS"
)

// Profile is a fully resolved client identity.
type Profile struct {
	Kind          Kind
	AppVersion    string
	SystemName    string
	SystemVersion string
}

var defaults = map[Kind]Profile{
	DesktopWin: {DesktopWin, "9.2.0.3403", "WINDOWS", "10.0.0-NT-x64"},
	DesktopMac: {DesktopMac, "9.2.0.3402", "MAC", "12.1.4"},
	ChromeOS:   {ChromeOS, "3.0.3", "Chrome_OS", "1"},
	Android:    {Android, "13.4.1", "Android OS", "12.1.4"},
	IOS:        {IOS, "15.19.0", "iOS", "12.1.4"},
	IOSIpad:    {IOSIpad, "15.19.0", "iOS", "12.1.4"},
	WatchOS:    {WatchOS, "15.19.0", "Watch OS", "12.1.4"},
	WearOS:     {WearOS, "13.4.1", "Wear OS", "12.1.4"},
}

// tokenV3 devices receive TokenInfo responses with refresh tokens; the
// rest stay on long-lived v1 access tokens.
var tokenV3 = map[Kind]bool{
	DesktopWin: true,
	DesktopMac: true,
	IOS:        true,
	Android:    true,
}

// primary devices own the account; LINE rejects token refresh for them.
var primary = map[Kind]bool{
	Android: true,
	IOS:     true,
}

// NewProfile resolves a device kind to its identity. An empty version
// keeps the default app version for that kind.
func NewProfile(kind Kind, version string) (Profile, error) {
	p, ok := defaults[kind]
	if !ok {
		return Profile{}, fmt.Errorf("device: unknown kind %q", kind)
	}
	if version != "" {
		p.AppVersion = version
	}
	return p, nil
}

// AppName renders the x-line-application header value.
func (p Profile) AppName() string {
	return string(p.Kind) + "\t" + p.AppVersion + "\t" + p.SystemName + "\t" + p.SystemVersion
}

// UserAgent renders the user-agent header value.
func (p Profile) UserAgent() string {
	return "Line/" + p.AppVersion
}

// SupportsTokenV3 reports whether login returns a refreshable TokenInfo.
func (p Profile) SupportsTokenV3() bool {
	return tokenV3[p.Kind]
}

// IsPrimary reports whether the device is an account-owning client.
func (p Profile) IsPrimary() bool {
	return primary[p.Kind]
}

// Kinds lists every supported device kind.
func Kinds() []Kind {
	return []Kind{DesktopWin, DesktopMac, ChromeOS, Android, IOS, IOSIpad, WatchOS, WearOS}
}
