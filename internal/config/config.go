package config

import "journalshare/internal/store"

// Config is intentionally small and JSON-friendly.
type Config struct {
	// Addr is the listen address, e.g. "0.0.0.0:8000". The discovery
	// transport hands out (ip, port) pairs pointing here.
	Addr string `json:"addr"`

	// WebDir is the activity bundle's web asset directory (index.html,
	// images/ with the SVG icon sources).
	WebDir string `json:"webDir"`

	// StateDir holds the instance scratch dir, the local store, and the
	// saved selection. Default: <webDir>/../.journalshare
	StateDir string `json:"stateDir"`

	// NickName and the icon colors identify the local user in comments,
	// shared_by and downloaded_by records.
	NickName    string `json:"nickName"`
	StrokeColor string `json:"strokeColor"`
	FillColor   string `json:"fillColor"`

	// Store selects the object store backend.
	Store StoreConfig `json:"store"`
}

// StoreConfig selects and configures the object store backend.
type StoreConfig struct {
	// Backend is "local" (default) or "minio".
	Backend string `json:"backend"`

	// Minio is used when Backend is "minio".
	Minio store.MinioConfig `json:"minio,omitempty"`
}
