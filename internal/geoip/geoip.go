// Package geoip gives a coarse position for a client address when the
// browser cannot report one.
package geoip

import (
	"context"
	"errors"
	"log/slog"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/promorec/promorec/internal/geo"
)

var ErrDisabled = errors.New("geoip database not loaded")

type Resolver struct {
	db *maxminddb.Reader
}

type cityRecord struct {
	Location struct {
		Latitude       float64 `maxminddb:"latitude"`
		Longitude      float64 `maxminddb:"longitude"`
		AccuracyRadius uint16  `maxminddb:"accuracy_radius"`
	} `maxminddb:"location"`
}

func New(dbPath string) (*Resolver, error) {
	if dbPath == "" {
		return &Resolver{}, nil
	}
	db, err := maxminddb.Open(dbPath)
	if err != nil {
		slog.Warn("geoip: failed to open database, fallback location disabled", "path", dbPath, "error", err)
		return &Resolver{}, nil
	}
	slog.Info("geoip: loaded database", "path", dbPath)
	return &Resolver{db: db}, nil
}

func (r *Resolver) Enabled() bool {
	return r != nil && r.db != nil
}

// Lookup returns the city-level position recorded for ipStr. The accuracy
// radius is stored in kilometres and reported in metres.
func (r *Resolver) Lookup(ipStr string) (geo.Fix, error) {
	if !r.Enabled() {
		return geo.Fix{}, &geo.LocationError{Reason: "no fallback available", Err: ErrDisabled}
	}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return geo.Fix{}, &geo.LocationError{Reason: "invalid client address"}
	}
	var rec cityRecord
	if err := r.db.Lookup(ip, &rec); err != nil {
		return geo.Fix{}, &geo.LocationError{Reason: "lookup failed", Err: err}
	}
	loc := rec.Location
	if loc.Latitude == 0 && loc.Longitude == 0 && loc.AccuracyRadius == 0 {
		return geo.Fix{}, &geo.LocationError{Reason: "address not in database"}
	}
	fix := geo.Fix{Latitude: loc.Latitude, Longitude: loc.Longitude}
	if loc.AccuracyRadius > 0 {
		meters := float64(loc.AccuracyRadius) * 1000
		fix.AccuracyMeters = &meters
	}
	return fix, nil
}

// Provider returns a one-shot provider for ipStr.
func (r *Resolver) Provider(ipStr string) geo.Provider {
	return geo.ProviderFunc(func(ctx context.Context) (geo.Fix, error) {
		if err := ctx.Err(); err != nil {
			return geo.Fix{}, err
		}
		return r.Lookup(ipStr)
	})
}

func (r *Resolver) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
