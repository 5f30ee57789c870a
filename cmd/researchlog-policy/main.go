package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	kitpolicy "github.com/lessucettes/researchlog/pkg/researchlog-kit/policy"

	"github.com/lessucettes/researchlog/internal/config"
	"github.com/lessucettes/researchlog/internal/metrics"
	"github.com/lessucettes/researchlog/internal/policy"
	"github.com/lessucettes/researchlog/internal/purge"
	"github.com/lessucettes/researchlog/internal/store"
)

var version = "dev"

const (
	RequestModerate         = "moderate"
	RequestProject          = "project"
	RequestDirectory        = "directory"
	RequestBan              = "ban"
	RequestUnban            = "unban"
	RequestFormatFriendCode = "format_friend_code"
)

// Request is one line of input from the web backend.
type Request struct {
	ID          string                `json:"id,omitempty"`
	Type        string                `json:"type"`
	Submission  *kitpolicy.Submission `json:"submission,omitempty"`
	Profile     *kitpolicy.Profile    `json:"profile,omitempty"`
	Profiles    []kitpolicy.Profile   `json:"profiles,omitempty"`
	Viewer      kitpolicy.Viewer      `json:"viewer"`
	TargetID    string                `json:"target_id,omitempty"`
	ModeratorID string                `json:"moderator_id,omitempty"`
}

// Response is one line of output. Only the fields relevant to the request
// type are set.
type Response struct {
	policy.PolicyResponse
	Type       string                        `json:"type"`
	Profile    *kitpolicy.ProfileProjection  `json:"profile,omitempty"`
	Profiles   []kitpolicy.ProfileProjection `json:"profiles,omitempty"`
	FriendCode string                        `json:"friend_code,omitempty"`
	Complete   bool                          `json:"complete,omitempty"`
}

// service is everything rebuilt on a config reload.
type service struct {
	pipeline   *policy.Pipeline
	moderator  *policy.Moderator
	visibility *kitpolicy.VisibilityPolicy
}

func (s *service) Close() error {
	err := s.pipeline.Close()
	return errors.Join(err, s.moderator.Close())
}

var (
	currentService *service
	serviceMutex   sync.RWMutex
)

func setService(s *service) *service {
	serviceMutex.Lock()
	defer serviceMutex.Unlock()
	old := currentService
	currentService = s
	return old
}

// withService runs fn with the current service held under the read lock.
// setService cannot swap it out, and so the old service cannot be closed,
// until fn returns.
func withService(fn func(*service)) {
	serviceMutex.RLock()
	defer serviceMutex.RUnlock()
	fn(currentService)
}

// buildService wires every filter for cfg. collector may be nil.
func buildService(cfg *config.Config, db store.Store, collector policy.MetricsCollector) (*service, error) {
	purgeClient := purge.NewClient(cfg.Purge.ExecutablePath, cfg.Purge.ConfigPath, cfg.Purge.Timeout)

	bannedAuthorFilter, err := policy.NewBannedAuthorFilter(db, &cfg.Filters.BannedAuthor)
	if err != nil {
		return nil, fmt.Errorf("failed to create BannedAuthorFilter: %w", err)
	}
	stages := []policy.PipelineStage{{Filter: bannedAuthorFilter}}

	type kitFilterFactory struct {
		name        string
		constructor func() (kitpolicy.Filter, error)
	}

	kitFactories := []kitFilterFactory{
		{"RateLimiterFilter", func() (kitpolicy.Filter, error) { return kitpolicy.NewRateLimiterFilter(&cfg.Filters.RateLimiter) }},
		{"ContentFilter", func() (kitpolicy.Filter, error) { return kitpolicy.NewContentFilter(&cfg.Moderation) }},
		{"TagsFilter", func() (kitpolicy.Filter, error) { return kitpolicy.NewTagsFilter(&cfg.Filters.Tags) }},
		{"SpamFilter", func() (kitpolicy.Filter, error) { return kitpolicy.NewSpamFilter(&cfg.Filters.Spam) }},
		{"LanguageFilter", func() (kitpolicy.Filter, error) {
			// The detector is only built when the filter is on.
			if !cfg.Filters.Language.Enabled {
				return kitpolicy.NewLanguageFilter(&cfg.Filters.Language, nil)
			}
			return kitpolicy.NewLanguageFilter(&cfg.Filters.Language, kitpolicy.GetGlobalDetector())
		}},
	}

	for _, factory := range kitFactories {
		filter, err := factory.constructor()
		if err != nil {
			return nil, fmt.Errorf("failed to create kit filter '%s': %w", factory.name, err)
		}
		stages = append(stages, policy.PipelineStage{Filter: filter})
	}

	autoBanFilter, err := policy.NewAutoBanFilter(db, &cfg.Filters.AutoBan, bannedAuthorFilter)
	if err != nil {
		return nil, fmt.Errorf("failed to create AutoBanFilter: %w", err)
	}
	rejectionHandlers := []policy.RejectionHandler{autoBanFilter}

	return &service{
		pipeline:   policy.NewPipeline(cfg, stages, rejectionHandlers, collector),
		moderator:  policy.NewModerator(cfg.Policy, db, purgeClient, bannedAuthorFilter),
		visibility: kitpolicy.NewVisibilityPolicy(&cfg.Visibility),
	}, nil
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", "./config.toml", "Path to the configuration file.")
	useDefaults := flag.Bool("use-defaults", false, "Run with internal defaults if the config file is missing.")
	validateConfig := flag.Bool("validate", false, "Validate the configuration file and exit.")
	dryRun := flag.Bool("dry-run", false, "Log what would be rejected without actually rejecting it.")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *validateConfig {
		if err := validateConfiguration(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Configuration is INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Configuration is VALID.")
		return
	}
	if err := runApp(*configPath, *useDefaults, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "Application run failed: %v\n", err)
		os.Exit(1)
	}
}

func runApp(configPath string, useDefaults bool, dryRun bool) error {
	cfg, defaultsUsed, err := config.Load(configPath, useDefaults)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.Level.ToSlogLevel()}))
	slog.SetDefault(logger)
	if dryRun {
		slog.Warn("Policy service is running in DRY-RUN mode.")
	}
	slog.Info("Policy service starting up", "version", version, "config_path", configPath, "using_defaults", defaultsUsed)

	db, err := store.NewBadgerStore(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	collector := metrics.NewCollector()
	svc, err := buildService(cfg, db, collector)
	if err != nil {
		return err
	}
	setService(svc)
	defer func() {
		if s := setService(nil); s != nil {
			_ = s.Close()
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-shutdownChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(ctx, cfg.Metrics, collector)
	}

	if !defaultsUsed {
		onReload := func(newCfg *config.Config) {
			slog.Info("Reloading policy service with new configuration...")
			newSvc, err := buildService(newCfg, db, collector)
			if err != nil {
				slog.Error("Failed to build new service on config reload, keeping old one", "error", err)
				return
			}

			if old := setService(newSvc); old != nil {
				go old.Close()
			}
			slog.Info("Policy service reloaded successfully.", "path", configPath)
		}
		var extra []string
		if wl := cfg.WordlistPath(configPath); wl != "" {
			extra = append(extra, wl)
		}
		go config.StartWatcher(ctx, configPath, extra, onReload, 0)
	}

	return processRequests(ctx, os.Stdin, os.Stdout, dryRun)
}

// serveMetrics exposes the collector until ctx is done. The listen address
// is read once at startup; reloads do not move it.
func serveMetrics(ctx context.Context, cfg config.MetricsConfig, collector *metrics.Collector) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, collector.Handler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Serving metrics", "addr", cfg.ListenAddr, "path", cfg.Path)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Metrics server failed", "error", err)
	}
}

func processRequests(ctx context.Context, r io.Reader, w io.Writer, dryRun bool) error {
	linesChan := make(chan []byte)
	errChan := make(chan error, 1)
	encoder := json.NewEncoder(w)

	go func() {
		defer close(errChan)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lineCopy := make([]byte, len(scanner.Bytes()))
			copy(lineCopy, scanner.Bytes())
			select {
			case linesChan <- lineCopy:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errChan <- err
		}
		close(linesChan)
	}()

	slog.Info("Ready to process requests from stdin...")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-linesChan:
			if !ok {
				if err := <-errChan; err != nil {
					return err
				}
				slog.Info("Input stream closed, shutting down.")
				return nil
			}

			if len(line) == 0 {
				continue
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				slog.Warn("Failed to decode request JSON", "error", err, "raw_line_length", len(line))
				continue
			}
			if req.ID == "" {
				req.ID = uuid.NewString()
			}

			var resp Response
			var err error
			withService(func(svc *service) {
				resp, err = handleRequest(ctx, svc, &req, dryRun)
			})
			if err != nil {
				slog.Error("Error processing request", "request_id", req.ID, "type", req.Type, "error", err)
			}

			if err := encoder.Encode(resp); err != nil {
				if errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EPIPE) {
					return nil
				}
				slog.Error("Failed to write response to stdout", "error", err)
			}
		}
	}
}

func reject(req *Request, reason, msg string) Response {
	return Response{
		Type:           req.Type,
		PolicyResponse: policy.PolicyResponse{ID: req.ID, Action: policy.ActionReject, Reason: reason, Msg: msg},
	}
}

func accept(req *Request) Response {
	return Response{
		Type:           req.Type,
		PolicyResponse: policy.PolicyResponse{ID: req.ID, Action: policy.ActionAccept},
	}
}

// handleRequest always returns a response to write. A non-nil error is for
// logging only.
func handleRequest(ctx context.Context, svc *service, req *Request, dryRun bool) (Response, error) {
	if svc == nil {
		return reject(req, "service_unavailable", ""), errors.New("no service configured")
	}

	switch req.Type {
	case RequestModerate, "":
		if req.Type == "" {
			req.Type = RequestModerate
		}
		if req.Submission == nil {
			return reject(req, "missing_submission", ""), nil
		}
		if req.Submission.ID == "" {
			req.Submission.ID = req.ID
		}
		pr, err := svc.pipeline.ProcessSubmission(ctx, req.Submission, dryRun)
		pr.ID = req.ID
		return Response{Type: req.Type, PolicyResponse: pr}, err

	case RequestProject:
		if req.Profile == nil {
			return reject(req, "missing_profile", ""), nil
		}
		resp := accept(req)
		proj := svc.visibility.Project(*req.Profile, req.Viewer)
		resp.Profile = &proj
		return resp, nil

	case RequestDirectory:
		resp := accept(req)
		resp.Profiles = svc.visibility.Directory(req.Profiles, req.Viewer)
		return resp, nil

	case RequestBan, RequestUnban:
		action := svc.moderator.Ban
		if req.Type == RequestUnban {
			action = svc.moderator.Unban
		}
		err := action(ctx, req.ModeratorID, req.TargetID)
		switch {
		case err == nil:
			return accept(req), nil
		case errors.Is(err, policy.ErrNotModerator):
			return reject(req, "not_a_moderator", ""), nil
		case errors.Is(err, policy.ErrInvalidTarget):
			return reject(req, "invalid_target", ""), nil
		default:
			return reject(req, "internal: "+req.Type+" failed", ""), err
		}

	case RequestFormatFriendCode:
		resp := accept(req)
		if req.Submission != nil {
			resp.FriendCode = kitpolicy.FormatFriendCode(req.Submission.Text)
			resp.Complete = kitpolicy.IsCompleteFriendCode(resp.FriendCode)
		}
		return resp, nil
	}

	return reject(req, "unknown_request_type", ""), nil
}

func validateConfiguration(configPath string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(io.Discard, nil)))
	fmt.Printf("Validating configuration file: %s\n", configPath)
	cfg, _, err := config.Load(configPath, false)
	if err != nil {
		return err
	}

	db, err := store.NewBadgerStore(&cfg.DB)
	if err != nil {
		return fmt.Errorf("failed to open database for validation: %w", err)
	}
	defer db.Close()

	svc, err := buildService(cfg, db, nil)
	if err != nil {
		return err
	}
	return svc.Close()
}
