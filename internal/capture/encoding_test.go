package capture

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name      string
		supported map[string]bool
		want      string
		wantOK    bool
	}{
		{"H264MP4", map[string]bool{"video/mp4;codecs=h264,aac": true, "video/webm": true}, "video/mp4;codecs=h264,aac", true},
		{"PlainMP4", map[string]bool{"video/mp4": true, "video/webm;codecs=vp9,opus": true}, "video/mp4", true},
		{"WebMOnly", map[string]bool{"video/webm;codecs=vp8,opus": true, "video/webm": true}, "video/webm;codecs=vp8,opus", true},
		{"Nothing", map[string]bool{}, "", false},
		{"UnlistedOnly", map[string]bool{"video/ogg": true}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Negotiate(DefaultPreferences, func(m string) bool { return tt.supported[m] })
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("expected (%q, %v), got (%q, %v)", tt.want, tt.wantOK, got, ok)
			}
		})
	}
}

func TestNegotiateIsDeterministic(t *testing.T) {
	supported := func(m string) bool { return m == "video/webm" || m == "video/mp4" }
	first, _ := Negotiate(DefaultPreferences, supported)
	for i := 0; i < 10; i++ {
		if got, _ := Negotiate(DefaultPreferences, supported); got != first {
			t.Fatalf("expected %q every time, got %q", first, got)
		}
	}
}

func TestNegotiateNilPredicate(t *testing.T) {
	if got, ok := Negotiate(DefaultPreferences, nil); ok || got != "" {
		t.Errorf("expected no selection, got (%q, %v)", got, ok)
	}
}

func TestLoadProfileAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	content := `tiers:
  - name: sd
    width: 640
    height: 480
    video_bitrate: 500000
  - name: hd
    width: 1920
    height: 1080
    video_bitrate: 3000000
interval: 250ms
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := LoadProfile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.DefaultTier != "hd" {
		t.Errorf("expected last tier as default, got %q", p.DefaultTier)
	}
	if p.Interval != 250*time.Millisecond {
		t.Errorf("expected 250ms interval, got %v", p.Interval)
	}
	if len(p.Preferences) != len(DefaultPreferences) {
		t.Errorf("expected default preferences, got %v", p.Preferences)
	}
	if p.AudioBitsPerSecond != 128_000 {
		t.Errorf("expected default audio bitrate, got %d", p.AudioBitsPerSecond)
	}
}

func TestLoadProfileRejectsUnknownDefaultTier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte("default_tier: ultra\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadProfile(path); err == nil {
		t.Fatal("expected error for undefined default tier")
	}
}

func TestLoadProfileMissingFile(t *testing.T) {
	if _, err := LoadProfile("/nonexistent/profile.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
