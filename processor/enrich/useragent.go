package enrich

import (
	"strings"

	"github.com/mssola/useragent"

	"github.com/qualabs/cmcd-toolkit/record"
)

// User agent fields written by the UA stage
const (
	FieldUABrowserName    = "request_ua_browser_name"
	FieldUABrowserVersion = "request_ua_browser_version"
	FieldUAEngineName     = "request_ua_engine_name"
	FieldUAEngineVersion  = "request_ua_engine_version"
	FieldUAOSName         = "request_ua_os_name"
	FieldUAOSVersion      = "request_ua_os_version"
	FieldUADeviceType     = "request_ua_device_type"
	FieldUADeviceVendor   = "request_ua_device_vendor"
	FieldUACPU            = "request_ua_cpu_architecture"
)

// Device types
const (
	DeviceBot     = "bot"
	DeviceTablet  = "tablet"
	DeviceMobile  = "mobile"
	DeviceDesktop = "desktop"
	DeviceTV      = "smarttv"
)

// UserAgent is a classified user-agent string. Empty fields are unknown.
type UserAgent struct {
	BrowserName    string
	BrowserVersion string
	EngineName     string
	EngineVersion  string
	OSName         string
	OSVersion      string
	DeviceType     string
	DeviceVendor   string
	CPU            string
}

// cpuTokens is checked in order; 64-bit tokens come before the 32-bit ones
// they contain.
var cpuTokens = []struct {
	token string
	arch  string
}{
	{"x86_64", "amd64"},
	{"x86-64", "amd64"},
	{"amd64", "amd64"},
	{"win64", "amd64"},
	{"wow64", "amd64"},
	{"x64", "amd64"},
	{"aarch64", "arm64"},
	{"arm64", "arm64"},
	{"armv8", "arm64"},
	{"armv7", "armhf"},
	{"armhf", "armhf"},
	{"arm", "arm"},
	{"i686", "ia32"},
	{"i586", "ia32"},
	{"i386", "ia32"},
	{"x86", "ia32"},
	{"ppc64", "ppc64"},
	{"ppc", "ppc"},
	{"mips", "mips"},
	{"sparc", "sparc"},
}

var tvTokens = []string{"smart-tv", "smarttv", "googletv", "appletv", "hbbtv", "tizen", "webos", "roku", "crkey", "aftb", "aftm"}

// ParseUserAgent classifies s
func ParseUserAgent(s string) UserAgent {
	ua := useragent.New(s)
	lower := strings.ToLower(s)

	out := UserAgent{
		DeviceVendor: ua.Platform(),
		CPU:          cpuArchitecture(lower),
	}
	out.BrowserName, out.BrowserVersion = ua.Browser()
	out.EngineName, out.EngineVersion = ua.Engine()

	osInfo := ua.OSInfo()
	out.OSName, out.OSVersion = osInfo.Name, osInfo.Version

	switch {
	case ua.Bot():
		out.DeviceType = DeviceBot
	case containsAny(lower, tvTokens):
		out.DeviceType = DeviceTV
	case strings.Contains(lower, "ipad") || strings.Contains(lower, "tablet"):
		out.DeviceType = DeviceTablet
	case ua.Mobile():
		out.DeviceType = DeviceMobile
	case out.OSName != "" || out.DeviceVendor != "":
		out.DeviceType = DeviceDesktop
	}
	return out
}

func cpuArchitecture(lower string) string {
	for _, t := range cpuTokens {
		if strings.Contains(lower, t.token) {
			return t.arch
		}
	}
	return ""
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// apply writes the non-empty attributes into rec
func (u UserAgent) apply(rec record.Record) {
	rec.SetIfPresent(FieldUABrowserName, u.BrowserName)
	rec.SetIfPresent(FieldUABrowserVersion, u.BrowserVersion)
	rec.SetIfPresent(FieldUAEngineName, u.EngineName)
	rec.SetIfPresent(FieldUAEngineVersion, u.EngineVersion)
	rec.SetIfPresent(FieldUAOSName, u.OSName)
	rec.SetIfPresent(FieldUAOSVersion, u.OSVersion)
	rec.SetIfPresent(FieldUADeviceType, u.DeviceType)
	rec.SetIfPresent(FieldUADeviceVendor, u.DeviceVendor)
	rec.SetIfPresent(FieldUACPU, u.CPU)
}
