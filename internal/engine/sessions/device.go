package sessions

import "strings"

// deviceLabel condenses a User-Agent header into the short "platform /
// browser" string shown in the active sessions list. Best effort; unknown
// agents still get a stable label.
func deviceLabel(ua string) string {
	l := strings.ToLower(ua)

	platform := "Unknown"
	switch {
	// Android UAs also advertise linux, so check mobile platforms first.
	case strings.Contains(l, "android"):
		platform = "Android"
	case strings.Contains(l, "iphone"), strings.Contains(l, "ipad"):
		platform = "iOS"
	case strings.Contains(l, "windows"):
		platform = "Windows"
	case strings.Contains(l, "mac os"):
		platform = "macOS"
	case strings.Contains(l, "linux"):
		platform = "Linux"
	}

	browser := "Unknown"
	switch {
	// Chromium-based Edge advertises both edg and chrome.
	case strings.Contains(l, "edg"):
		browser = "Edge"
	case strings.Contains(l, "firefox"):
		browser = "Firefox"
	case strings.Contains(l, "chrome"):
		browser = "Chrome"
	case strings.Contains(l, "safari"):
		browser = "Safari"
	}

	return platform + " / " + browser
}
