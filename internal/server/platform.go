package server

import (
	"strings"

	"github.com/mssola/useragent"
)

// preferencesFor narrows the encoding preferences for browsers that cannot
// play WebM back. Apple platforms preview only MP4, so a WebM recording
// could be captured but never reviewed there.
func preferencesFor(userAgent string, prefs []string) []string {
	if userAgent == "" || !prefersMP4(useragent.New(userAgent)) {
		return prefs
	}
	var mp4 []string
	for _, p := range prefs {
		if strings.HasPrefix(p, "video/mp4") {
			mp4 = append(mp4, p)
		}
	}
	if len(mp4) == 0 {
		return prefs
	}
	return mp4
}

func prefersMP4(ua *useragent.UserAgent) bool {
	switch ua.Platform() {
	case "iPhone", "iPad", "iPod":
		return true
	}
	name, _ := ua.Browser()
	return name == "Safari"
}
