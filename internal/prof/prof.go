// Package prof pushes continuous profiles to Pyroscope. Decode-heavy
// workloads are the main reason it exists: CPU and alloc profiles labelled
// by version make decoder regressions easy to spot across releases.
package prof

import (
	"context"
	"runtime"
	"sync"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
	"github.com/keithlinneman/linnemanlabs-assets/internal/version"
	"github.com/keithlinneman/linnemanlabs-assets/internal/xerrors"
)

type Options struct {
	Enabled              bool
	AppName              string
	ServerAddress        string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
	// OnActive reports whether the profiler is pushing; called with true
	// after a successful start and false on stop.
	OnActive func(bool)
}

// Tags returns the static labels attached to every profile.
func Tags(component string, vi version.Info) map[string]string {
	return map[string]string{
		"app":       version.App,
		"component": component,
		"version":   vi.Version,
		"commit":    vi.Commit,
		"build_id":  vi.BuildId,
		"source":    "go-agent",
	}
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins pushing profiles. The returned stop func is always non-nil
// and safe to call more than once, including after an error.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)
	active := opts.OnActive
	if active == nil {
		active = func(bool) {}
	}

	if !opts.Enabled {
		L.Info(ctx, "pyroscope disabled")
		return func() {}, nil
	}
	if opts.ServerAddress == "" {
		return func() {}, xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}
	appName := opts.AppName
	if appName == "" {
		appName = version.App
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: appName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            opts.Tags,
		ProfileTypes:    profileTypes,
	})
	if err != nil {
		return func() {}, xerrors.Wrapf(err, "pyroscope start (server=%s)", opts.ServerAddress)
	}
	active(true)
	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", appName,
	)

	var once sync.Once
	return func() {
		once.Do(func() {
			profiler.Stop()
			active(false)
			L.Info(context.Background(), "pyroscope stopped", "server_address", opts.ServerAddress)
		})
	}, nil
}
