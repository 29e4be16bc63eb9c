package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/linnemanlabs-assets/internal/aggregate"
	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/assert"
	"github.com/keithlinneman/linnemanlabs-assets/internal/cache"
	"github.com/keithlinneman/linnemanlabs-assets/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-assets/internal/decode"
	"github.com/keithlinneman/linnemanlabs-assets/internal/health"
	"github.com/keithlinneman/linnemanlabs-assets/internal/jobs"
	"github.com/keithlinneman/linnemanlabs-assets/internal/loader"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-assets/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-assets/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-assets/internal/prof"
	"github.com/keithlinneman/linnemanlabs-assets/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-assets/internal/remap"
	"github.com/keithlinneman/linnemanlabs-assets/internal/transport"
	v "github.com/keithlinneman/linnemanlabs-assets/internal/version"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, commit_date=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			v.App, vi.Version, vi.Commit, vi.CommitDate, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, "ASSETS_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})
	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:             v.App,
		Version:         vi.Version,
		Level:           lvl,
		StacktraceLevel: stackLvl,
		JSONFormat:      conf.LogJSON,
		MaxErrorChain:   conf.MaxErrorChain,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", v.Component)
	ctx = log.WithContext(ctx, L)
	assert.SetLogger(L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"workers", conf.Workers,
		"sweep_interval", conf.SweepInterval,
		"remap_file", conf.RemapFile,
		"remap_ssm_param", conf.RemapSSMParam,
		"mounts", conf.Mounts.String(),
		"preload", len(conf.Preload),
		"file_root", conf.FileRoot,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.App, v.Component, vi)

	// Setup pyroscope profiling
	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.App,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          prof.Tags(v.Component, vi),
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure is true because we are only writing to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.App,
		Component: v.Component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, continuing without tracing")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		L.Error(ctx, err, "failed to load AWS config")
		os.Exit(1)
	}
	s3Client := s3.NewFromConfig(awsCfg)

	// pace http(s) fetches per host so a large preload can't hammer one CDN
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.HostRate, conf.HostBurst),
		ratelimit.WithOnThrottled(func(string) { m.IncFetchThrottled() }),
		ratelimit.WithOnFirstThrottled(func(host string) {
			L.Warn(ctx, "fetch rate limit reached", "host", host)
		}),
	)
	router := transport.NewRouter(transport.RouterOptions{
		Logger:  L,
		Metrics: m,
		File:    transport.FileFetcher{Root: conf.FileRoot, MaxBytes: conf.MaxFetchBytes},
		HTTP: transport.NewHTTPFetcher(transport.HTTPOptions{
			Timeout:  conf.HTTPTimeout,
			MaxBytes: conf.MaxFetchBytes,
			Limiter:  limiter,
		}),
		S3: transport.S3Fetcher{Client: s3Client, MaxBytes: conf.MaxFetchBytes},
	})

	// identifier aliases: file first, then the SSM watcher takes over
	table := remap.New(nil)
	if conf.RemapFile != "" {
		if err := loadRemapFile(conf.RemapFile, table); err != nil {
			L.Error(ctx, err, "failed to load remap file", "path", conf.RemapFile)
			os.Exit(1)
		}
		L.Info(ctx, "loaded remap file", "path", conf.RemapFile, "aliases", table.Len())
	}
	if conf.RemapSSMParam != "" {
		watcher, err := remap.NewWatcher(remap.WatcherOptions{
			Logger:       L,
			Client:       ssm.NewFromConfig(awsCfg),
			Param:        conf.RemapSSMParam,
			Table:        table,
			PollInterval: conf.RemapPollInterval,
			Metrics:      m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create remap watcher")
			os.Exit(1)
		}
		go func() { _ = watcher.Run(ctx) }()
	}

	// startup archive mounts; a digest mismatch is fatal
	archives := archive.NewIndex(nil, m)
	specs, err := conf.MountSpecs()
	if err == nil {
		err = archive.OpenMounts(ctx, archives, specs, func(ctx context.Context, location string) ([]byte, error) {
			return router.Fetch(ctx, location, transport.Hints{})
		})
	}
	if err != nil {
		L.Error(ctx, err, "failed to open archive mounts")
		os.Exit(1)
	}

	// the main executor outlives ctx so shutdown can drain pending commits
	mainCtx, stopMain := context.WithCancel(context.Background())
	defer stopMain()
	mainExec := jobs.NewMain()
	mainDone := make(chan struct{})
	go func() {
		_ = mainExec.Run(mainCtx)
		close(mainDone)
	}()
	runner := jobs.NewRunner(mainExec, jobs.RunnerOptions{Logger: L, Workers: conf.Workers})

	svc, err := loader.New(loader.Options{
		Logger:   L,
		Metrics:  m,
		Runner:   runner,
		Fetcher:  router,
		Remap:    table,
		Archives: archives,
		Decoders: decode.NewRegistry(nil),
	})
	if err != nil {
		L.Error(ctx, err, "failed to create loader")
		os.Exit(1)
	}

	sweeper := cache.NewSweeper(cache.SweeperOptions{
		Logger:   L,
		Cache:    svc.Cache(),
		Main:     mainExec,
		InFlight: svc.Registry().InFlight,
		Interval: conf.SweepInterval,
		Metrics:  m,
	})
	go sweeper.Run(ctx)

	// readiness: gate (preload, drain) and a bounded main backlog
	var gate health.Gate
	readiness := health.All(
		health.Named("gate", gate.Probe()),
		health.Named("main", health.Backlog(mainExec.Pending, conf.MaxMainBacklog)),
	)

	trees, err := preload(ctx, L, &gate, svc, runner, m, conf)
	if err != nil {
		L.Error(ctx, err, "failed to set up aggregate preload")
		os.Exit(1)
	}

	// ops listener: metrics, health checks, asset stats and pprof
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		MetricsMW:    m.Middleware,
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		Stats:        func() any { return svc.Stats() },
		UseRecoverMW: true,
		OnPanic:      m.IncOpsPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	// wait for ctrl+c / sigterm
	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gate.Set("draining")

	// aggregates hand their references back before the loader drains
	mainExec.Post(func() {
		for _, a := range trees {
			a.Release()
		}
	})

	// loads finish and commit on main, then the cache is released
	if err := svc.Shutdown(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "loader shutdown")
	}
	stopMain()
	<-mainDone
	if n := mainExec.Drain(); n > 0 {
		L.Warn(context.Background(), "drained main executor after shutdown", "closures", n)
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

// preload closes gate, loads every configured identifier and aggregate tree
// and reopens the gate once all of them have completed, successfully or not.
func preload(ctx context.Context, L log.Logger, gate *health.Gate, svc *loader.Service, runner *jobs.Runner, m *metrics.LoaderMetrics, conf cfg.App) ([]*aggregate.Asset, error) {
	if len(conf.Preload) == 0 && len(conf.PreloadTrees) == 0 {
		return nil, nil
	}
	gate.Set("preloading")
	started := time.Now()

	// the requests and every callback below run on the main executor
	remaining := len(conf.PreloadTrees)
	if len(conf.Preload) > 0 {
		remaining++
	}
	finish := func() {
		if remaining--; remaining == 0 {
			L.Info(ctx, "preload complete", "duration", time.Since(started))
			gate.Clear()
		}
	}

	trees := make([]*aggregate.Asset, 0, len(conf.PreloadTrees))
	for _, id := range conf.PreloadTrees {
		a, err := aggregate.New(id, aggregate.Options{
			Logger:   L,
			Metrics:  m,
			Runner:   runner,
			Loader:   svc,
			Source:   aggregate.TransportSource{Fetcher: svc.Fetcher()},
			Accepted: conf.AcceptedFormats,
		})
		if err != nil {
			return nil, err
		}
		var once bool
		a.OnLoaded(func(n *aggregate.Asset) {
			if err := n.Err(); err != nil {
				L.Error(ctx, err, "aggregate preload failed", "id", n.ID())
			} else {
				L.Info(ctx, "aggregate preloaded", "id", n.ID(), "main", n.Main().ID, "children", len(n.Children()))
			}
			if !once {
				once = true
				finish()
			}
		})
		trees = append(trees, a)
	}

	svc.Main().Post(func() {
		if len(conf.Preload) > 0 {
			svc.LoadAll(ctx, conf.Preload, loader.Hints{}, func(loaded, failed int) {
				L.Info(ctx, "identifier preload complete", "loaded", loaded, "failed", failed)
				finish()
			})
		}
		for _, a := range trees {
			a.Load(ctx)
		}
	})
	return trees, nil
}

func loadRemapFile(path string, table *remap.Table) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	aliases, err := remap.LoadYAML(f)
	if err != nil {
		return err
	}
	table.Replace(aliases)
	return nil
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
