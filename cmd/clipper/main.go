package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/localclipper/clipper/internal/aggregator"
	"github.com/localclipper/clipper/internal/auth"
	"github.com/localclipper/clipper/internal/backend"
	"github.com/localclipper/clipper/internal/composer"
	"github.com/localclipper/clipper/internal/config"
	"github.com/localclipper/clipper/internal/domain"
	"github.com/localclipper/clipper/internal/health"
	"github.com/localclipper/clipper/internal/logger"
	"github.com/localclipper/clipper/internal/metrics"
	"github.com/localclipper/clipper/internal/orchestrator"
	"github.com/localclipper/clipper/internal/progress"
	"github.com/localclipper/clipper/internal/registry"
	"github.com/localclipper/clipper/internal/server"
	"github.com/localclipper/clipper/internal/settings"
	"github.com/localclipper/clipper/internal/storage"
	"github.com/localclipper/clipper/internal/websocket"
)

const version = "0.3.0"

type options struct {
	url       string
	file      string
	track     string
	preset    string
	presets   bool
	poToken   string
	lang      string
	maxClips  int
	clipLen   float64
	aspect    string
	noEmojis  bool
	render    bool
	meta      bool
	outputs   bool
	serve     bool
	ephemeral bool
	set       map[string]bool
}

func parseFlags() *options {
	o := &options{}
	flag.StringVar(&o.url, "url", "", "video link to submit")
	flag.StringVar(&o.file, "file", "", "local video file or s3://bucket/key to upload")
	flag.StringVar(&o.track, "track", "", "resume polling an existing job id")
	flag.StringVar(&o.preset, "preset", "", "apply a server preset by name")
	flag.BoolVar(&o.presets, "presets", false, "list server presets and exit")
	flag.StringVar(&o.poToken, "po-token", "", "download token; an empty value with -po-token= clears the stored one")
	flag.StringVar(&o.lang, "lang", "", "transcription language hint")
	flag.IntVar(&o.maxClips, "max-clips", domain.DefaultMaxClips, "maximum number of highlights")
	flag.Float64Var(&o.clipLen, "clip-len", domain.DefaultClipLen, "target clip length in seconds")
	flag.StringVar(&o.aspect, "aspect", domain.DefaultAspect, "output aspect ratio W:H")
	flag.BoolVar(&o.noEmojis, "no-emojis", false, "disable emojis in captions")
	flag.BoolVar(&o.render, "render", false, "render all highlights once the job is ready")
	flag.BoolVar(&o.meta, "meta", false, "generate titles and hashtags for every highlight")
	flag.BoolVar(&o.outputs, "outputs", false, "print rendered outputs of the displayed job")
	flag.BoolVar(&o.serve, "serve", false, "serve the live view until interrupted")
	flag.BoolVar(&o.ephemeral, "ephemeral", false, "keep settings in memory only")
	flag.Parse()

	o.set = make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { o.set[f.Name] = true })
	return o
}

func main() {
	// .env is optional
	_ = godotenv.Load()

	opts := parseFlags()
	cfg := config.Load()
	logger.SetDefault(logger.New(os.Stderr, logger.ParseLevel(cfg.LogLevel), "clipper"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts); err != nil {
		logger.Error(ctx, "clipper failed", err)
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, opts *options) error {
	log := logger.Default().WithComponent("main")

	client := backend.NewClient(cfg.APIURL, backend.WithTimeout(cfg.RequestTimeout))

	if opts.presets {
		return listPresets(ctx, client)
	}

	base, err := config.LoadDefaults(cfg.DefaultsPath)
	if err != nil {
		return err
	}

	store, redisClient, err := openSettings(cfg, opts.ephemeral)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	seeded, err := settings.Seed(ctx, store, base)
	if err != nil {
		return err
	}

	agg := aggregator.New(seeded)
	syncer := settings.NewSyncer(store)
	agg.OnChange(syncer.OnChange)

	if err := applyFlags(ctx, agg, client, opts); err != nil {
		return err
	}
	if err := syncer.Err(); err != nil {
		log.Warn(ctx, "settings were not saved", err)
	}

	reg := registry.New()
	detachView := newJobsView(os.Stdout).Attach(reg)
	defer detachView()

	m := metrics.Default()

	comp := composer.New(client)
	comp.OnDisplay(func(jobID string, hs []domain.Highlight) {
		fmt.Print(renderHighlights(jobID, hs))
	})

	orchOpts := []orchestrator.Option{
		orchestrator.WithInterval(cfg.PollInterval),
		orchestrator.WithHighlightsHandler(comp),
		orchestrator.WithMetrics(m),
	}

	storageCfg := &storage.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
	}

	var archiver *storage.S3Archiver
	if cfg.ArchiveBucket != "" {
		archiver = storage.NewS3Archiver(storageCfg, cfg.ArchiveBucket)
		orchOpts = append(orchOpts, orchestrator.WithArchiver(archiver))
	}

	orch := orchestrator.New(client, reg, agg, orchOpts...)

	if cfg.ProgressPubSub {
		if redisClient == nil {
			if redisClient, err = newRedisClient(cfg.RedisURL); err != nil {
				return err
			}
			defer redisClient.Close()
		}
		detach := progress.NewPublisher(redisClient, cfg.SettingsOrigin).Attach(reg)
		defer detach()
	}

	var srv *server.Server
	if opts.serve {
		srv, err = startLiveView(ctx, cfg, reg, m, redisClient, archiver, client)
		if err != nil {
			return err
		}
	}

	if err := submit(ctx, orch, storageCfg, opts); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		orch.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := compose(ctx, comp, opts); err != nil {
			log.Warn(ctx, "composer request failed", err)
		}
		if opts.serve {
			<-ctx.Done()
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		log.Warn(shutdownCtx, "poll cycles did not stop in time", err)
	}
	comp.Wait()
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "live view shutdown failed", err)
		}
	}
	return nil
}

func openSettings(cfg *config.Config, ephemeral bool) (settings.Store, *redis.Client, error) {
	if ephemeral {
		return settings.NewMemoryStore(), nil, nil
	}

	switch cfg.SettingsBackend {
	case "memory":
		return settings.NewMemoryStore(), nil, nil
	case "redis":
		store, err := settings.NewRedisStore(cfg.RedisURL, cfg.SettingsOrigin)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Client(), nil
	case "file", "":
		return settings.NewFileStore(cfg.SettingsPath), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown settings backend %q", cfg.SettingsBackend)
	}
}

func newRedisClient(redisURL string) (*redis.Client, error) {
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	return redis.NewClient(redisOpts), nil
}

// applyFlags turns command-line settings into aggregator fragments. Only
// flags given explicitly override the seeded configuration.
func applyFlags(ctx context.Context, agg *aggregator.Aggregator, client *backend.Client, opts *options) error {
	if opts.preset != "" {
		presets, err := client.Presets(ctx)
		if err != nil {
			return err
		}
		found := false
		for _, p := range presets {
			if p.Name == opts.preset {
				if err := agg.ApplyPreset(p); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown preset %q", opts.preset)
		}
	}

	cur := agg.Snapshot()
	var frags []aggregator.Fragment
	if opts.set["lang"] {
		frags = append(frags, aggregator.LangFragment{Lang: opts.lang})
	}
	if opts.set["max-clips"] || opts.set["clip-len"] {
		clips := aggregator.ClipsFragment{MaxClips: cur.MaxClips, ClipLen: cur.ClipLen}
		if opts.set["max-clips"] {
			clips.MaxClips = opts.maxClips
		}
		if opts.set["clip-len"] {
			clips.ClipLen = opts.clipLen
		}
		frags = append(frags, clips)
	}
	if opts.set["aspect"] {
		frags = append(frags, aggregator.AspectFragment{Aspect: opts.aspect})
	}
	if opts.set["no-emojis"] {
		frags = append(frags, aggregator.EmojisFragment{Emojis: !opts.noEmojis})
	}
	if opts.set["po-token"] {
		frags = append(frags, aggregator.TokenFragment{POToken: opts.poToken})
	}

	for _, f := range frags {
		if err := agg.Apply(f); err != nil {
			return err
		}
	}
	return nil
}

func listPresets(ctx context.Context, client *backend.Client) error {
	presets, err := client.Presets(ctx)
	if err != nil {
		return err
	}
	for _, p := range presets {
		fmt.Printf("%-16s max_clips=%d clip_len=%g aspect=%s lang=%q\n",
			p.Name, p.Config.MaxClips, p.Config.ClipLen, p.Config.Aspect, p.Config.Lang)
	}
	return nil
}

func submit(ctx context.Context, orch *orchestrator.Orchestrator, storageCfg *storage.Config, opts *options) error {
	switch {
	case opts.track != "":
		return orch.Track(ctx, opts.track)
	case opts.url != "":
		_, err := orch.Submit(ctx, orchestrator.LinkSource{URL: opts.url})
		return err
	case opts.file != "":
		src := orchestrator.LocalFile(opts.file)
		if storage.IsObjectURL(opts.file) {
			objects, err := storage.NewObjectStore(storageCfg)
			if err != nil {
				return err
			}
			if src, err = objects.FileSource(ctx, opts.file); err != nil {
				return err
			}
		}
		_, err := orch.Submit(ctx, src)
		return err
	case opts.serve:
		return nil
	default:
		return errors.New("nothing to do: pass -url, -file, -track or -serve")
	}
}

// compose runs the follow-up requests for the displayed job
func compose(ctx context.Context, comp *composer.Composer, opts *options) error {
	jobID, hs := comp.Displayed()
	if jobID == "" {
		return nil
	}

	if opts.meta {
		for _, h := range hs {
			res := <-comp.RequestMeta(ctx, h.ID)
			if res.Err != nil {
				fmt.Printf("meta %s: %v\n", h.ID, res.Err)
				continue
			}
			fmt.Printf("meta %s: titles=%v hashtags=%v\n", h.ID, res.Meta.Titles, res.Meta.Hashtags)
		}
	}

	if opts.render {
		ack, err := comp.Render(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("render %s: %s\n", jobID, ack.Result)
	}

	if opts.outputs {
		outputs, err := comp.Outputs(ctx)
		if err != nil {
			return err
		}
		for _, o := range outputs {
			fmt.Println(o)
		}
	}
	return nil
}

func startLiveView(ctx context.Context, cfg *config.Config, reg *registry.Registry, m *metrics.Metrics, redisClient *redis.Client, archiver *storage.S3Archiver, client *backend.Client) (*server.Server, error) {
	log := logger.Default().WithComponent("main")

	authSvc, err := auth.NewService(cfg.ViewSecret, cfg.ViewPassphrase, cfg.ViewTokenTTL)
	if err != nil {
		return nil, err
	}

	hub := websocket.NewHub()
	hub.OnConnectionChange(m.IncWSConnections, m.DecWSConnections)
	go hub.Run(ctx)

	if cfg.ProgressPubSub && redisClient != nil {
		sub, err := progress.Subscribe(ctx, redisClient, cfg.SettingsOrigin)
		if err != nil {
			return nil, err
		}
		go func() {
			<-ctx.Done()
			sub.Close()
		}()
		hub.FollowEvents(sub.Events())
	} else {
		hub.FollowRegistry(reg)
	}

	checkerCfg := &health.CheckerConfig{
		BackendCheck: client.Ping,
		Redis:        redisClient,
		ActiveJobs:   func() int { return int(m.ActiveTasks()) },
		Version:      version,
	}
	srvCfg := server.Config{
		Addr:    cfg.ViewAddr,
		Auth:    authSvc,
		Jobs:    reg,
		Hub:     hub,
		Metrics: m,
	}
	if archiver != nil {
		checkerCfg.StorageCheck = archiver.Ping
		srvCfg.Archive = archiver
	}
	srvCfg.Health = health.NewChecker(checkerCfg)

	if srvCfg.Addr == "" {
		srvCfg.Addr = "127.0.0.1:8088"
	}

	srv := server.New(srvCfg)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error(ctx, "live view stopped", err)
		}
	}()

	if cfg.ViewPassphrase == "" {
		token, err := authSvc.IssueViewToken("local")
		if err != nil {
			return nil, err
		}
		fmt.Printf("live view on http://%s/ws?token=%s\n", srvCfg.Addr, token)
	}
	return srv, nil
}
