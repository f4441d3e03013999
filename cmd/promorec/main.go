package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/device/ffmpeg"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/geoip"
	"github.com/promorec/promorec/internal/server"
	"github.com/promorec/promorec/internal/storage"
	"github.com/promorec/promorec/internal/submit"
	"github.com/promorec/promorec/internal/telegram"
	"github.com/promorec/promorec/internal/upload"
	"github.com/promorec/promorec/internal/webhook"
)

type config struct {
	Port           string
	BaseURL        string
	WebDir         string
	BotToken       string
	ChatID         string
	TelegramAPIURL string
	MaxUploadBytes int64
	SubmitTimeout  time.Duration

	FFmpegPath       string
	VideoDevice      string
	FrontVideoDevice string
	AudioDevice      string
	ProfilePath      string
	Tier             string

	GeoStateDir string
	GeoIPDBPath string
	GeoTimeout  time.Duration

	Archive       *storage.Config
	WebhookURL    string
	WebhookSecret string
}

func loadConfig() (config, error) {
	cfg := config{
		Port:           getEnv("PORT", "8080"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:8080"),
		WebDir:         os.Getenv("WEB_DIR"),
		BotToken:       os.Getenv("TELEGRAM_BOT_TOKEN"),
		ChatID:         os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramAPIURL: getEnv("TELEGRAM_API_URL", telegram.DefaultAPIURL),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", telegram.DefaultMaxUploadBytes),
		SubmitTimeout:  getEnvDuration("SUBMIT_TIMEOUT", server.DefaultSubmitTimeout),

		FFmpegPath:       getEnv("FFMPEG_PATH", ffmpeg.DefaultBinary),
		VideoDevice:      getEnv("CAPTURE_VIDEO_DEVICE", ffmpeg.DefaultVideoDevice),
		FrontVideoDevice: os.Getenv("CAPTURE_FRONT_VIDEO_DEVICE"),
		AudioDevice:      getEnv("CAPTURE_AUDIO_DEVICE", ffmpeg.DefaultAudioDevice),
		ProfilePath:      os.Getenv("CAPTURE_PROFILE"),
		Tier:             os.Getenv("CAPTURE_TIER"),

		GeoStateDir: getEnv("GEO_STATE_DIR", "/var/lib/promorec"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),
		GeoTimeout:  getEnvDuration("GEO_TIMEOUT", geo.DefaultTimeout),

		WebhookURL:    os.Getenv("WEBHOOK_URL"),
		WebhookSecret: os.Getenv("WEBHOOK_SECRET"),
	}

	if cfg.BotToken == "" {
		return config{}, errors.New("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.ChatID == "" {
		return config{}, errors.New("TELEGRAM_CHAT_ID is required")
	}

	if bucket := os.Getenv("ARCHIVE_S3_BUCKET"); bucket != "" {
		cfg.Archive = &storage.Config{
			Endpoint:       os.Getenv("ARCHIVE_S3_ENDPOINT"),
			Bucket:         bucket,
			AccessKey:      os.Getenv("ARCHIVE_S3_ACCESS_KEY"),
			SecretKey:      os.Getenv("ARCHIVE_S3_SECRET_KEY"),
			Region:         getEnv("ARCHIVE_S3_REGION", "eu-central-1"),
			Prefix:         getEnv("ARCHIVE_S3_PREFIX", "recordings"),
			MaxUploadBytes: getEnvInt64("ARCHIVE_MAX_UPLOAD_BYTES", 0),
		}
	}
	return cfg, nil
}

func loadProfile(cfg config) (capture.Profile, error) {
	profile := capture.DefaultProfile()
	if cfg.ProfilePath != "" {
		p, err := capture.LoadProfile(cfg.ProfilePath)
		if err != nil {
			return capture.Profile{}, err
		}
		profile = p
	}
	if cfg.Tier != "" {
		if _, ok := profile.Tier(cfg.Tier); !ok {
			return capture.Profile{}, fmt.Errorf("CAPTURE_TIER %q: %w", cfg.Tier, capture.ErrUnknownTier)
		}
		profile.DefaultTier = cfg.Tier
	}
	return profile, nil
}

func buildUploader(ctx context.Context, cfg config) (upload.Uploader, error) {
	primary := telegram.New(telegram.Config{
		APIURL:         cfg.TelegramAPIURL,
		Token:          cfg.BotToken,
		MaxUploadBytes: cfg.MaxUploadBytes,
		Timeout:        cfg.SubmitTimeout,
	})

	var archives []upload.Uploader
	if cfg.Archive != nil {
		archive, err := storage.New(ctx, *cfg.Archive)
		if err != nil {
			return nil, fmt.Errorf("archive storage: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("archive bucket: %w", err)
		}
		slog.Info("archive storage ready", "bucket", cfg.Archive.Bucket, "prefix", cfg.Archive.Prefix)
		archives = append(archives, archive)
	}
	if cfg.WebhookURL != "" {
		archives = append(archives, webhook.New(cfg.WebhookURL, cfg.WebhookSecret))
		slog.Info("submission webhook enabled")
	}

	if len(archives) == 0 {
		return primary, nil
	}
	return upload.NewMulti(primary, archives...), nil
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := loadConfig()
	if err != nil {
		log.Fatal(err)
	}

	profile, err := loadProfile(cfg)
	if err != nil {
		log.Fatalf("capture profile: %v", err)
	}

	device := ffmpeg.New(ffmpeg.Config{
		Binary:           cfg.FFmpegPath,
		VideoDevice:      cfg.VideoDevice,
		FrontVideoDevice: cfg.FrontVideoDevice,
		AudioDevice:      cfg.AudioDevice,
	})
	session, err := capture.NewSession(device, profile)
	if err != nil {
		log.Fatalf("capture session: %v", err)
	}

	if err := os.MkdirAll(cfg.GeoStateDir, 0o755); err != nil {
		log.Fatalf("geo state dir: %v", err)
	}
	locator := geo.NewLocator(geo.LocatorConfig{
		Timeout: cfg.GeoTimeout,
		Store:   geo.FileStore{Dir: cfg.GeoStateDir},
	})

	resolver, err := geoip.New(cfg.GeoIPDBPath)
	if err != nil {
		log.Fatalf("geoip: %v", err)
	}
	defer func() { _ = resolver.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	uploader, err := buildUploader(ctx, cfg)
	cancel()
	if err != nil {
		log.Fatalf("uploader: %v", err)
	}

	preparer := submit.New(submit.Config{
		Session:     session,
		Locator:     locator,
		Uploader:    uploader,
		Destination: cfg.ChatID,
	})

	var webFS fs.FS
	if cfg.WebDir != "" {
		webFS = os.DirFS(cfg.WebDir)
		slog.Info("serving kiosk UI", "dir", cfg.WebDir)
	} else {
		slog.Info("no WEB_DIR set, UI serving disabled")
	}

	var fallback server.FallbackLocator
	if resolver.Enabled() {
		fallback = resolver
	}

	srv := server.New(server.Config{
		Session:       session,
		Preparer:      preparer,
		Locator:       locator,
		Fallback:      fallback,
		WebFS:         webFS,
		BaseURL:       cfg.BaseURL,
		SubmitTimeout: cfg.SubmitTimeout,
	})
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      cfg.SubmitTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("promorec listening", "port", cfg.Port, "tier", profile.DefaultTier)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-shutdownCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown failed", "error", err)
	}
	preparer.Retake()
	if multi, ok := uploader.(*upload.Multi); ok {
		if err := multi.Wait(shutdownCtx); err != nil {
			slog.Warn("archive uploads still running at shutdown", "error", err)
		}
	}
	slog.Info("shutdown complete")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}
