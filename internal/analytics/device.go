package analytics

import "strings"

// Device classification buckets for user-agent strings.
const (
	DeviceMobile  = "Mobile"
	DeviceTablet  = "Tablet"
	DeviceDesktop = "Desktop"
	DeviceBot     = "Bot"
	DeviceUnknown = "Unknown"
)

// classifyUserAgent buckets a user-agent string by substring matching.
// Order matters: bots first so crawler agents that also claim a platform
// land in the bot bucket, tablets before mobile because tablet agents
// usually contain "mobile" too.
func classifyUserAgent(ua string) string {
	if ua == "" {
		return DeviceUnknown
	}
	ua = strings.ToLower(ua)

	for _, marker := range []string{"bot", "crawler", "spider", "curl", "wget", "python-requests"} {
		if strings.Contains(ua, marker) {
			return DeviceBot
		}
	}

	for _, marker := range []string{"ipad", "tablet", "kindle"} {
		if strings.Contains(ua, marker) {
			return DeviceTablet
		}
	}

	for _, marker := range []string{"mobile", "iphone", "android", "blackberry", "windows phone"} {
		if strings.Contains(ua, marker) {
			return DeviceMobile
		}
	}

	for _, marker := range []string{"windows", "macintosh", "mac os", "x11", "linux"} {
		if strings.Contains(ua, marker) {
			return DeviceDesktop
		}
	}

	return DeviceUnknown
}
