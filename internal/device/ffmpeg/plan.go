package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/promorec/promorec/internal/capture"
)

// defaultMIMEType is produced when no preferred encoding is available. It
// only needs encoders built into every ffmpeg.
const defaultMIMEType = "video/x-matroska;codecs=mp4v,aac"

type plan struct {
	mimeType   string
	muxer      string
	videoCodec string
	audioCodec string
}

var videoEncoders = map[string]string{
	"h264": "libx264",
	"avc1": "libx264",
	"vp9":  "libvpx-vp9",
	"vp09": "libvpx-vp9",
	"vp8":  "libvpx",
	"mp4v": "mpeg4",
}

var audioEncoders = map[string]string{
	"aac":  "aac",
	"mp4a": "aac",
	"opus": "libopus",
}

type container struct {
	muxer        string
	defaultVideo string
	defaultAudio string
	video        map[string]bool
	audio        map[string]bool
}

var containers = map[string]container{
	"video/mp4": {
		muxer: "mp4", defaultVideo: "libx264", defaultAudio: "aac",
		video: map[string]bool{"libx264": true, "mpeg4": true},
		audio: map[string]bool{"aac": true, "libopus": true},
	},
	"video/webm": {
		muxer: "webm", defaultVideo: "libvpx", defaultAudio: "libopus",
		video: map[string]bool{"libvpx": true, "libvpx-vp9": true},
		audio: map[string]bool{"libopus": true},
	},
	"video/x-matroska": {
		muxer: "matroska", defaultVideo: "mpeg4", defaultAudio: "aac",
		video: map[string]bool{"libx264": true, "mpeg4": true, "libvpx": true, "libvpx-vp9": true},
		audio: map[string]bool{"aac": true, "libopus": true},
	},
}

// planFor maps a recorder MIME type such as "video/mp4;codecs=h264,aac" to
// the muxer and encoders that produce it. An empty type selects the device
// default.
func planFor(mimeType string) (plan, error) {
	if mimeType == "" {
		mimeType = defaultMIMEType
	}
	mediaType, codecs := splitMIME(mimeType)
	c, ok := containers[mediaType]
	if !ok {
		return plan{}, fmt.Errorf("unsupported container %q", mediaType)
	}

	p := plan{mimeType: mimeType, muxer: c.muxer, videoCodec: c.defaultVideo, audioCodec: c.defaultAudio}
	if codecs != "" {
		var haveVideo, haveAudio bool
		for _, codec := range strings.Split(codecs, ",") {
			family := strings.ToLower(strings.TrimSpace(codec))
			if i := strings.IndexByte(family, '.'); i >= 0 {
				family = family[:i]
			}
			if enc, ok := videoEncoders[family]; ok && !haveVideo {
				p.videoCodec, haveVideo = enc, true
				continue
			}
			if enc, ok := audioEncoders[family]; ok && !haveAudio {
				p.audioCodec, haveAudio = enc, true
				continue
			}
			return plan{}, fmt.Errorf("unsupported codec %q in %q", codec, mimeType)
		}
	}
	if !c.video[p.videoCodec] || !c.audio[p.audioCodec] {
		return plan{}, fmt.Errorf("%s cannot carry %s/%s", c.muxer, p.videoCodec, p.audioCodec)
	}
	return p, nil
}

// splitMIME separates the media type from its codecs parameter. Recorder
// types leave the codec list unquoted, so mime.ParseMediaType rejects them.
func splitMIME(v string) (mediaType, codecs string) {
	base, rest, _ := strings.Cut(v, ";")
	mediaType = strings.ToLower(strings.TrimSpace(base))
	for _, param := range strings.Split(rest, ";") {
		key, value, ok := strings.Cut(param, "=")
		if ok && strings.EqualFold(strings.TrimSpace(key), "codecs") {
			codecs = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return mediaType, codecs
}

func buildArgs(cfg Config, s *stream, p plan, opts capture.CaptureOptions) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", cfg.VideoFormat}
	if s.width > 0 && s.height > 0 {
		args = append(args, "-video_size", fmt.Sprintf("%dx%d", s.width, s.height))
	}
	args = append(args, "-i", s.videoDevice)
	if cfg.AudioDevice != "" {
		args = append(args, "-f", cfg.AudioFormat, "-i", cfg.AudioDevice)
	}

	args = append(args, "-c:v", p.videoCodec)
	switch p.videoCodec {
	case "libx264":
		args = append(args, "-preset", "veryfast", "-tune", "zerolatency", "-pix_fmt", "yuv420p")
	case "libvpx", "libvpx-vp9":
		args = append(args, "-deadline", "realtime", "-cpu-used", "8")
	}
	if opts.VideoBitsPerSecond > 0 {
		args = append(args, "-b:v", strconv.Itoa(opts.VideoBitsPerSecond))
	}
	if cfg.AudioDevice != "" {
		args = append(args, "-c:a", p.audioCodec)
		if opts.AudioBitsPerSecond > 0 {
			args = append(args, "-b:a", strconv.Itoa(opts.AudioBitsPerSecond))
		}
	}

	switch p.muxer {
	case "mp4":
		args = append(args, "-movflags", "frag_keyframe+empty_moov+default_base_moof")
		if opts.Interval > 0 {
			args = append(args, "-frag_duration", strconv.FormatInt(opts.Interval.Microseconds(), 10))
		}
	case "webm", "matroska":
		if opts.Interval > 0 {
			args = append(args, "-cluster_time_limit", strconv.FormatInt(opts.Interval.Milliseconds(), 10))
		}
	}
	return append(args, "-flush_packets", "1", "-f", p.muxer, "pipe:1")
}
