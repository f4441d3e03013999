package server

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/promorec/promorec/internal/capture"
	"github.com/promorec/promorec/internal/geo"
	"github.com/promorec/promorec/internal/httputil"
	"github.com/promorec/promorec/internal/ratelimit"
	"github.com/promorec/promorec/internal/submit"
)

type tierResponse struct {
	Name               string `json:"name"`
	Label              string `json:"label"`
	Width              int    `json:"width"`
	Height             int    `json:"height"`
	VideoBitsPerSecond int    `json:"videoBitsPerSecond"`
}

type assetResponse struct {
	RecordingID string    `json:"recordingId"`
	Size        int       `json:"size"`
	MIMEType    string    `json:"mimeType"`
	Container   string    `json:"container"`
	Filename    string    `json:"filename"`
	CreatedAt   time.Time `json:"createdAt"`
}

type sessionResponse struct {
	State         capture.State     `json:"state"`
	Tier          string            `json:"tier"`
	Tiers         []tierResponse    `json:"tiers"`
	Encoding      string            `json:"encoding,omitempty"`
	RecordingID   string            `json:"recordingId,omitempty"`
	BytesCaptured int64             `json:"bytesCaptured"`
	Asset         *assetResponse    `json:"asset,omitempty"`
	Fields        submit.FormFields `json:"fields"`
	Location      *geo.Fix          `json:"location,omitempty"`
	LocationError string            `json:"locationError,omitempty"`
	Uploading     bool              `json:"uploading"`
}

func (s *Server) sessionView() sessionResponse {
	snap := s.session.Snapshot()
	profile := s.session.Profile()

	resp := sessionResponse{
		State:         snap.State,
		Tier:          snap.Tier.Name,
		Tiers:         make([]tierResponse, 0, len(profile.Tiers)),
		Encoding:      snap.Encoding,
		RecordingID:   snap.RecordingID,
		BytesCaptured: snap.BytesCaptured,
		Fields:        s.preparer.Fields(),
		Uploading:     s.preparer.Uploading(),
	}
	for _, t := range profile.Tiers {
		resp.Tiers = append(resp.Tiers, tierResponse{
			Name:               t.Name,
			Label:              t.Label,
			Width:              t.Width,
			Height:             t.Height,
			VideoBitsPerSecond: t.VideoBitsPerSecond,
		})
	}
	if a := snap.Asset; a != nil {
		container, _ := submit.ContainerFor(a.MIMEType)
		resp.Asset = &assetResponse{
			RecordingID: a.RecordingID,
			Size:        a.Size(),
			MIMEType:    a.MIMEType,
			Container:   container,
			Filename:    submit.Filename(a.MIMEType, a.CreatedAt),
			CreatedAt:   a.CreatedAt,
		}
	}
	if s.locator != nil {
		resp.Location = s.locator.Current()
		resp.LocationError = s.locator.LastError()
	}
	return resp
}

func (s *Server) writeSession(w http.ResponseWriter) {
	httputil.WriteJSON(w, http.StatusOK, s.sessionView())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s.writeSession(w)
}

// handleAsset serves the reviewed recording for in-page preview. Range
// requests are honoured since mobile players seek with them.
func (s *Server) handleAsset(w http.ResponseWriter, r *http.Request) {
	asset := s.session.Snapshot().Asset
	if asset == nil {
		httputil.WriteError(w, http.StatusNotFound, "no recording to preview")
		return
	}
	container, _ := submit.ContainerFor(asset.MIMEType)
	w.Header().Set("Content-Type", container)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, submit.Filename(asset.MIMEType, asset.CreatedAt), asset.CreatedAt, bytes.NewReader(asset.Data))
}

type tierRequest struct {
	Tier string `json:"tier"`
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var req tierRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.session.SetTier(req.Tier); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

func (s *Server) handleSetFields(w http.ResponseWriter, r *http.Request) {
	var req submit.FormFields
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.preparer.SetFields(req); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	prefs := preferencesFor(r.UserAgent(), s.session.Profile().Preferences)
	if err := s.session.Start(r.Context(), prefs); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if _, err := s.session.Stop(); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

func (s *Server) handleRetake(w http.ResponseWriter, r *http.Request) {
	s.preparer.Retake()
	s.writeSession(w)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.preparer.Reset()
	s.writeSession(w)
}

// handleSubmit keeps uploading after the browser disconnects; the outcome
// is visible through the session on the next poll.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.submitTimeout)
	defer cancel()

	if err := s.preparer.Submit(ctx); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Accuracy  *float64 `json:"accuracy"`
	// Timestamp is when the browser measured the fix, in Unix milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// handleLocation records a fix reported by the browser, or looks the client
// up by address when the body is empty.
func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	if s.locator == nil {
		httputil.WriteError(w, http.StatusNotFound, "location is disabled")
		return
	}

	var req locationRequest
	var provider geo.Provider
	err := httputil.DecodeJSON(w, r, &req)
	switch {
	case errors.Is(err, httputil.ErrEmptyBody):
		provider = s.fallbackProvider(ratelimit.ClientIP(r))
	case err != nil:
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	case req.Latitude == nil || req.Longitude == nil:
		httputil.WriteError(w, http.StatusBadRequest, "latitude and longitude are required")
		return
	default:
		fix := geo.Fix{Latitude: *req.Latitude, Longitude: *req.Longitude, AccuracyMeters: req.Accuracy}
		if req.Timestamp > 0 {
			fix.FixedAt = time.UnixMilli(req.Timestamp)
		}
		provider = geo.Reported{Fix: fix, MaxAge: s.locator.MaxAge()}
	}

	if _, err := s.locator.Locate(r.Context(), provider); err != nil {
		writeActionError(w, err)
		return
	}
	s.writeSession(w)
}

func (s *Server) fallbackProvider(clientIP string) geo.Provider {
	if s.fallback == nil {
		return geo.ProviderFunc(func(context.Context) (geo.Fix, error) {
			return geo.Fix{}, &geo.LocationError{Reason: "no fallback available"}
		})
	}
	return s.fallback.Provider(clientIP)
}
