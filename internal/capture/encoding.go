package capture

// DefaultPreferences ranks MP4/H.264 first since it plays everywhere the
// recording ends up, then WebM which more recorders can produce.
var DefaultPreferences = []string{
	"video/mp4;codecs=h264,aac",
	"video/mp4;codecs=avc1.42E01E,mp4a.40.2",
	"video/mp4",
	"video/webm;codecs=vp9,opus",
	"video/webm;codecs=vp8,opus",
	"video/webm;codecs=h264,opus",
	"video/webm",
}

// FallbackMIMEType tags an asset when neither the device nor negotiation
// named an encoding.
const FallbackMIMEType = "video/webm"

// Negotiate returns the first candidate the predicate accepts. ok is false
// when none is supported and the device default should be used.
func Negotiate(preferences []string, supported func(string) bool) (mimeType string, ok bool) {
	if supported == nil {
		return "", false
	}
	for _, candidate := range preferences {
		if supported(candidate) {
			return candidate, true
		}
	}
	return "", false
}
