package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"journalshare/internal/catalog"
	"journalshare/internal/config"
	"journalshare/internal/httpserver"
	"journalshare/internal/journal"
	"journalshare/internal/store"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		addr    = flag.String("addr", "0.0.0.0:8000", "listen address")
		webDir  = flag.String("web", "", "web asset dir (required if -config is not set)")
		state   = flag.String("state", "", "state dir for the store and instance scratch (default: <web>/../.journalshare)")
		cfgPath = flag.String("config", "", "path to config json (optional)")
		nick    = flag.String("nick", "", "local nick name")
		stroke  = flag.String("stroke", "#666666", "icon stroke color")
		fill    = flag.String("fill", "#FFFFFF", "icon fill color")
	)
	flag.Parse()

	var cfg config.Config
	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			log.Fatalf("read config: %v", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			log.Fatalf("parse config: %v", err)
		}
	} else {
		if strings.TrimSpace(*webDir) == "" {
			log.Fatalf("missing -web (or provide -config)")
		}
		cfg.Addr = *addr
		cfg.WebDir = *webDir
		cfg.StateDir = *state
		cfg.NickName = *nick
		cfg.StrokeColor = *stroke
		cfg.FillColor = *fill
	}

	if cfg.WebDir == "" {
		log.Fatalf("config: webDir is required")
	}
	absWeb, err := filepath.Abs(cfg.WebDir)
	if err != nil {
		log.Fatalf("abs web dir: %v", err)
	}
	cfg.WebDir = absWeb
	if cfg.Addr == "" {
		cfg.Addr = *addr
	}
	if cfg.StateDir == "" {
		cfg.StateDir = filepath.Join(filepath.Dir(cfg.WebDir), ".journalshare")
	}
	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatalf("mkdir state: %v", err)
	}

	ctx := context.Background()
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store init: %v", err)
	}

	owner := journal.Identity{
		From: cfg.NickName,
		Icon: []string{cfg.StrokeColor, cfg.FillColor},
	}
	mgr, err := catalog.New(ctx, st, filepath.Join(cfg.StateDir, "instance"), owner)
	if err != nil {
		log.Fatalf("catalog init: %v", err)
	}

	statePath := filepath.Join(cfg.StateDir, "shared_items.json")
	if f, err := os.Open(statePath); err == nil {
		if err := mgr.LoadState(ctx, f); err != nil {
			log.Printf("resume state: %v", err)
		}
		_ = f.Close()
	}

	srv, err := httpserver.New(httpserver.Options{
		WebDir:  cfg.WebDir,
		Catalog: mgr,
	})
	if err != nil {
		log.Fatalf("server init: %v", err)
	}

	go saveStateOnSignal(mgr, statePath)

	log.Printf("journalshare listening on http://%s (web=%s)", cfg.Addr, cfg.WebDir)
	log.Printf("viewer entry point: http://%s/web/index.html", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, withHeaders(srv.Handler())); err != nil {
		log.Fatalf("listen: %v", err)
	}
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "", "local":
		return store.NewLocal(filepath.Join(cfg.StateDir, "datastore"))
	case "minio":
		return store.NewMinio(ctx, cfg.Store.Minio, filepath.Join(cfg.StateDir, "cache"))
	default:
		log.Fatalf("config: unknown store backend %q", cfg.Store.Backend)
		return nil, nil
	}
}

// saveStateOnSignal persists the selection before shutdown so it can be
// restored on the next run.
func saveStateOnSignal(mgr *catalog.Manager, path string) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err == nil {
		if err := mgr.SaveState(f); err != nil {
			log.Printf("save state: %v", err)
		}
		_ = f.Close()
		_ = os.Rename(tmp, path)
	}
	os.Exit(0)
}

func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "no-referrer")

		// The catalog changes under the viewer; only bundle assets may
		// be cached.
		if strings.HasPrefix(r.URL.Path, "/web/") {
			w.Header().Set("Cache-Control", "public, max-age=3600")
		} else {
			w.Header().Set("Cache-Control", "no-store")
		}

		next.ServeHTTP(w, r)
	})
}
