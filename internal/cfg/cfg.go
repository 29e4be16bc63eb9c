package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-assets/internal/archive"
	"github.com/keithlinneman/linnemanlabs-assets/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string
	MaxErrorChain   int

	AdminPort       int
	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	Workers        int
	SweepInterval  time.Duration
	MaxMainBacklog int

	RemapFile         string
	RemapSSMParam     string
	RemapPollInterval time.Duration

	Mounts          List
	FileRoot        string
	HTTPTimeout     time.Duration
	MaxFetchBytes   int64
	HostRate        float64
	HostBurst       int
	AcceptedFormats List
	Preload         List
	PreloadTrees    List
}

// List is a repeatable flag. Each Set call appends; comma-separated values
// are split so the same list can come from a single env var.
type List []string

func (l *List) String() string { return strings.Join(*l, ",") }

func (l *List) Set(s string) error {
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			*l = append(*l, v)
		}
	}
	return nil
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or text (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.MaxErrorChain, "max-error-chain", 5, "max error chain depth logged (1..64)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")

	fs.IntVar(&c.Workers, "workers", 8, "concurrent fetch+decode jobs (1..1024)")
	fs.DurationVar(&c.SweepInterval, "sweep-interval", 30*time.Second, "how often unreferenced cache entries are reclaimed")
	fs.IntVar(&c.MaxMainBacklog, "max-main-backlog", 10000, "readiness fails while more completions than this are queued")

	fs.StringVar(&c.RemapFile, "remap-file", "", "YAML alias file applied at startup")
	fs.StringVar(&c.RemapSSMParam, "remap-ssm-param", "", "ssm parameter holding the YAML alias table, polled for changes")
	fs.DurationVar(&c.RemapPollInterval, "remap-poll-interval", 30*time.Second, "poll interval for remap-ssm-param")

	fs.Var(&c.Mounts, "mount", "archive mount prefix=location[@digest] (repeatable)")
	fs.StringVar(&c.FileRoot, "file-root", ".", "directory file:// identifiers are resolved under")
	fs.DurationVar(&c.HTTPTimeout, "http-timeout", 30*time.Second, "timeout for one http(s) fetch")
	fs.Int64Var(&c.MaxFetchBytes, "max-fetch-bytes", 256<<20, "largest payload any transport will read")
	fs.Float64Var(&c.HostRate, "host-rate", 20, "http(s) requests per second per host (0 disables pacing)")
	fs.IntVar(&c.HostBurst, "host-burst", 40, "per-host request burst")
	fs.Var(&c.AcceptedFormats, "accepted-format", "texture format considered for aggregate main selection (repeatable)")
	fs.Var(&c.Preload, "preload", "identifier loaded before readiness passes (repeatable)")
	fs.Var(&c.PreloadTrees, "preload-aggregate", "aggregate description loaded with its whole tree before readiness passes (repeatable)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.MaxErrorChain < 1 || c.MaxErrorChain > 64 {
		errs = append(errs, fmt.Errorf("MAX_ERROR_CHAIN must be 1..64 (got %d)", c.MaxErrorChain))
	}

	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Loader
	if c.Workers < 1 || c.Workers > 1024 {
		errs = append(errs, fmt.Errorf("invalid WORKERS %d (must be 1..1024)", c.Workers))
	}
	if c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("SWEEP_INTERVAL must be positive (got %s)", c.SweepInterval))
	}
	if c.MaxMainBacklog < 1 {
		errs = append(errs, fmt.Errorf("MAX_MAIN_BACKLOG must be positive (got %d)", c.MaxMainBacklog))
	}
	if c.RemapSSMParam != "" && c.RemapPollInterval < time.Second {
		errs = append(errs, fmt.Errorf("REMAP_POLL_INTERVAL must be at least 1s (got %s)", c.RemapPollInterval))
	}

	// Transports
	if c.HTTPTimeout <= 0 {
		errs = append(errs, fmt.Errorf("HTTP_TIMEOUT must be positive (got %s)", c.HTTPTimeout))
	}
	if c.MaxFetchBytes < 1 {
		errs = append(errs, fmt.Errorf("MAX_FETCH_BYTES must be positive (got %d)", c.MaxFetchBytes))
	}
	if c.HostRate < 0 {
		errs = append(errs, fmt.Errorf("HOST_RATE must not be negative (got %g)", c.HostRate))
	}
	if c.HostRate > 0 && c.HostBurst < 1 {
		errs = append(errs, fmt.Errorf("HOST_BURST must be positive when HOST_RATE is set (got %d)", c.HostBurst))
	}
	if fi, err := os.Stat(c.FileRoot); err != nil || !fi.IsDir() {
		errs = append(errs, fmt.Errorf("FILE_ROOT %q is not a directory", c.FileRoot))
	}

	for _, m := range c.Mounts {
		if _, err := archive.ParseMountSpec(m); err != nil {
			errs = append(errs, fmt.Errorf("invalid MOUNT: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MountSpecs parses the configured mounts. Validate has already rejected
// malformed entries, so errors here are unexpected.
func (c App) MountSpecs() ([]archive.MountSpec, error) {
	out := make([]archive.MountSpec, 0, len(c.Mounts))
	for _, m := range c.Mounts {
		spec, err := archive.ParseMountSpec(m)
		if err != nil {
			return nil, err
		}
		out = append(out, spec)
	}
	return out, nil
}
