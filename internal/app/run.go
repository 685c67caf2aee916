package app

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/oklog/ulid/v2"

	"github.com/nuetzliches/beanbridge/internal/audit"
	"github.com/nuetzliches/beanbridge/internal/backend"
	"github.com/nuetzliches/beanbridge/internal/httpapi"
	"github.com/nuetzliches/beanbridge/internal/policy"
	"github.com/nuetzliches/beanbridge/internal/proxy"
)

const auditPruneInterval = 10 * time.Minute

func run() int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "./beanbridge.yaml", "path to config file")
	pidFile := fs.String("pid-file", "", "write process PID to file")
	logLevel := fs.String("log-level", "info", "log level (debug|info|warn|error)")
	dotenvPath := fs.String("dotenv", "", "load environment variables from file (dev only)")
	if err := fs.Parse(os.Args[2:]); err != nil {
		return 2
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	releasePIDFile, err := claimPIDFile(strings.TrimSpace(*pidFile))
	if err != nil {
		logger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	if strings.TrimSpace(*dotenvPath) != "" {
		if err := loadDotenv(strings.TrimSpace(*dotenvPath)); err != nil {
			logger.Error("dotenv_failed", slog.Any("err", err))
			return 1
		}
	}

	data, err := os.ReadFile(*configPath)
	if err != nil {
		logger.Error("read_config_failed", slog.Any("err", err))
		return 1
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		logger.Error("parse_config_failed", slog.Any("err", err))
		return 1
	}
	logger.Info("config_ok", slog.String("listen", cfg.Server.Listen))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// restrictor: allow-all unless a policy file is configured
	holder := policy.NewHolder(policy.AllowAll{})
	if loc := strings.TrimSpace(cfg.Policy.Location); loc != "" {
		if err := loadPolicy(holder, loc); err != nil {
			logger.Error("policy_load_failed", slog.String("path", loc), slog.Any("err", err))
			return 1
		}
		logger.Info("policy_ok", slog.String("path", loc))
		if cfg.Policy.Watch {
			stop, err := watchPolicy(holder, loc, logger)
			if err != nil {
				logger.Error("policy_watch_failed", slog.Any("err", err))
				return 1
			}
			defer stop()
		}
	}

	auditStore, err := buildAuditStore(cfg.Audit)
	if err != nil {
		logger.Error("audit_store_failed", slog.Any("err", err))
		return 1
	}

	proxy.Register()

	agentID := strings.TrimSpace(cfg.Agent.ID)
	if agentID == "" {
		agentID = ulid.Make().String()
	}

	manager, err := backend.NewManager(backend.Config{
		Agent: backend.AgentMeta{
			ID:          agentID,
			Version:     version,
			Description: cfg.Agent.Description,
			Context:     cfg.Server.Context,
		},
		Qualifier: cfg.Qualifier,
		Limits: backend.Limits{
			MaxDepth:          cfg.Limits.MaxDepth,
			MaxCollectionSize: cfg.Limits.MaxCollectionSize,
			MaxObjects:        cfg.Limits.MaxObjects,
		},
		HistoryMaxEntries: cfg.History.MaxEntries,
		HistoryMaxAge:     cfg.History.MaxAge.Std(),
		DebugMaxEntries:   cfg.Debug.MaxEntries,
		Debug:             cfg.Debug.Enabled,
		Dispatchers:       cfg.Dispatchers,
		Detectors:         cfg.Detectors,
		DetectorOptions:   cfg.DetectorOptions,
	}, holder, logger, backend.WithAuditStore(auditStore))
	if err != nil {
		logger.Error("backend_init_failed", slog.Any("err", err))
		return 1
	}
	defer func() {
		if err := manager.Shutdown(); err != nil {
			logger.Error("backend_shutdown_failed", slog.Any("err", err))
		}
	}()

	metrics := newBridgeMetrics(manager)
	manager.SetObserver(metrics.Observer())

	if cfg.Tracing.Enabled {
		shutdownTracing, err := initTracing(ctx, cfg.Tracing, func(err error) {
			logger.Error("tracing_export_error", slog.Any("err", err))
		})
		if err != nil {
			logger.Error("tracing_init_failed", slog.Any("err", err))
		} else {
			defer func() {
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				if err := shutdownTracing(shutdownCtx); err != nil {
					logger.Error("tracing_shutdown_failed", slog.Any("err", err))
				}
			}()
		}
	}

	if cfg.Audit.Retention.Std() > 0 {
		go pruneAuditLoop(ctx, auditStore, cfg.Audit.Retention.Std(), logger)
	}

	bridge := httpapi.NewServer(manager, cfg.Server.Context)
	mux := http.NewServeMux()
	mux.Handle(cfg.Server.Context+"/", bridge)
	mux.Handle(cfg.Server.Context, bridge)

	mainHandler := withAccessLog(logger, mux)
	mainHandler = wrapTracingHandler(cfg.Tracing.Enabled, "beanbridge", mainHandler)

	mainSrv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           mainHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveOnListener(logger, "bridge", mainSrv, cancel)
	logger.Info("bridge_listening", slog.String("addr", cfg.Server.Listen), slog.String("context", cfg.Server.Context))

	var adminSrv *http.Server
	if strings.TrimSpace(cfg.Admin.Listen) != "" {
		adminSrv = &http.Server{
			Addr:              cfg.Admin.Listen,
			Handler:           adminMux(metrics, auditStore),
			ReadHeaderTimeout: 10 * time.Second,
		}
		serveOnListener(logger, "admin", adminSrv, cancel)
		logger.Info("admin_listening", slog.String("addr", cfg.Admin.Listen))
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Info("shutdown_signal", slog.String("signal", s.String()))
	case <-ctx.Done():
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	if err := mainSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server_shutdown_failed", slog.Any("err", err))
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("admin_shutdown_failed", slog.Any("err", err))
		}
	}
	return 0
}

func loadPolicy(holder *policy.Holder, location string) error {
	data, err := os.ReadFile(location)
	if err != nil {
		return err
	}
	p, err := policy.Parse(data)
	if err != nil {
		return err
	}
	holder.Store(p)
	return nil
}

// watchPolicy hot-reloads the policy file. A broken edit keeps the last
// good policy in place and logs the failure.
func watchPolicy(holder *policy.Holder, location string, logger *slog.Logger) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(location)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	target := filepath.Clean(location)

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := loadPolicy(holder, location); err != nil {
					logger.Error("policy_reload_failed", slog.String("path", location), slog.Any("err", err))
					continue
				}
				logger.Info("policy_reloaded", slog.String("path", location))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("policy_watch_error", slog.Any("err", err))
			}
		}
	}()
	return func() { _ = watcher.Close() }, nil
}

func buildAuditStore(cfg AuditConfig) (audit.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		return audit.NewSQLiteStore(cfg.Path)
	case "postgres":
		return audit.NewPostgresStore(cfg.DSN)
	default:
		return audit.NewMemoryStore(audit.WithMaxRows(cfg.MaxRows)), nil
	}
}

func pruneAuditLoop(ctx context.Context, store audit.Store, retention time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(auditPruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.Prune(time.Now().Add(-retention))
			if err != nil {
				logger.Error("audit_prune_failed", slog.Any("err", err))
				continue
			}
			if pruned > 0 {
				logger.Debug("audit_pruned", slog.Int("rows", pruned))
			}
		}
	}
}

func adminMux(metrics *bridgeMetrics, auditStore audit.Store) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/auditz", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := audit.ListRequest{Verb: q.Get("verb")}
		if s := q.Get("status"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, "status must be an integer", http.StatusBadRequest)
				return
			}
			req.Status = n
		}
		if s := q.Get("limit"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil || n < 0 {
				http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
				return
			}
			req.Limit = n
		}
		records, err := auditStore.List(req)
		if err != nil {
			http.Error(w, "audit store unavailable", http.StatusServiceUnavailable)
			return
		}
		out := make([]map[string]any, 0, len(records))
		for _, rec := range records {
			out = append(out, map[string]any{
				"id":          rec.ID,
				"time":        rec.Time.Format(time.RFC3339Nano),
				"remote":      rec.RemoteAddr,
				"verb":        rec.Verb,
				"mbean":       rec.Name,
				"attribute":   rec.Attribute,
				"operation":   rec.Operation,
				"status":      rec.Status,
				"duration_ms": rec.Duration.Milliseconds(),
				"error":       rec.Error,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
	return mux
}
