package cfg

import (
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"testing"
	"time"
)

func wantErrContains(t *testing.T, err error, sub string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error containing %q, got <nil>", sub)
	}
	if !strings.Contains(err.Error(), sub) {
		t.Fatalf("error %q does not contain %q", err.Error(), sub)
	}
}

// newTestConfig registers flags on a fresh FlagSet, parses the given args,
// and returns the resulting App. This isolates each test from flag.CommandLine.
func newTestConfig(t *testing.T, args []string) App {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	return c
}

func TestRegister_Defaults(t *testing.T) {
	c := newTestConfig(t, nil)

	if !c.LogJSON {
		t.Error("LogJSON: want true")
	}
	if c.LogLevel != "info" {
		t.Errorf("LogLevel: want %q, got %q", "info", c.LogLevel)
	}
	if c.AdminPort != 9000 {
		t.Errorf("AdminPort: want 9000, got %d", c.AdminPort)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true")
	}
	if c.EnablePyroscope || c.EnableTracing {
		t.Error("pyroscope and tracing should default off")
	}
	if c.Workers != 8 {
		t.Errorf("Workers: want 8, got %d", c.Workers)
	}
	if c.SweepInterval != 30*time.Second {
		t.Errorf("SweepInterval: want 30s, got %s", c.SweepInterval)
	}
	if c.MaxFetchBytes != 256<<20 {
		t.Errorf("MaxFetchBytes: want %d, got %d", 256<<20, c.MaxFetchBytes)
	}
	if len(c.Mounts) != 0 || len(c.Preload) != 0 || len(c.AcceptedFormats) != 0 {
		t.Errorf("lists should default empty: mounts=%v preload=%v accepted=%v", c.Mounts, c.Preload, c.AcceptedFormats)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestRegister_CLIOverrides(t *testing.T) {
	c := newTestConfig(t, []string{
		"-log-json=false",
		"-log-level=debug",
		"-admin-port=9100",
		"-enable-pprof=false",
		"-workers=3",
		"-sweep-interval=5s",
		"-remap-ssm-param=/assets/remap",
		"-remap-poll-interval=1m",
		"-mount=ui=s3://bucket/ui.tar",
		"-mount=fx=https://cdn.example.com/fx.tar.zst",
		"-preload=file://a.png,file://b.png",
		"-preload=file://c.png",
		"-preload-aggregate=https://cdn.example.com/knight/description.json",
		"-accepted-format=png",
		"-host-rate=2.5",
		"-host-burst=5",
	})

	if c.LogJSON {
		t.Error("LogJSON: want false")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if c.EnablePprof {
		t.Error("EnablePprof: want false")
	}
	if c.Workers != 3 || c.SweepInterval != 5*time.Second {
		t.Errorf("Workers/SweepInterval = %d/%s", c.Workers, c.SweepInterval)
	}
	if c.RemapSSMParam != "/assets/remap" || c.RemapPollInterval != time.Minute {
		t.Errorf("remap = %q/%s", c.RemapSSMParam, c.RemapPollInterval)
	}
	if !slices.Equal(c.Mounts, List{"ui=s3://bucket/ui.tar", "fx=https://cdn.example.com/fx.tar.zst"}) {
		t.Errorf("Mounts = %v", c.Mounts)
	}
	if !slices.Equal(c.Preload, List{"file://a.png", "file://b.png", "file://c.png"}) {
		t.Errorf("Preload = %v", c.Preload)
	}
	if !slices.Equal(c.PreloadTrees, List{"https://cdn.example.com/knight/description.json"}) {
		t.Errorf("PreloadTrees = %v", c.PreloadTrees)
	}
	if !slices.Equal(c.AcceptedFormats, List{"png"}) {
		t.Errorf("AcceptedFormats = %v", c.AcceptedFormats)
	}
	if c.HostRate != 2.5 || c.HostBurst != 5 {
		t.Errorf("HostRate/HostBurst = %g/%d", c.HostRate, c.HostBurst)
	}
	if err := Validate(c); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestFillFromEnv(t *testing.T) {
	pfx := "TESTCFG_"
	t.Setenv(pfx+"LOG_JSON", "false")
	t.Setenv(pfx+"LOG_LEVEL", "debug")
	t.Setenv(pfx+"ADMIN_PORT", "9100")
	t.Setenv(pfx+"ENABLE_TRACING", "true")
	t.Setenv(pfx+"TRACE_SAMPLE", "0.25")
	t.Setenv(pfx+"OTLP_ENDPOINT", "otel:4317")
	t.Setenv(pfx+"WORKERS", "16")
	t.Setenv(pfx+"HTTP_TIMEOUT", "10s")
	t.Setenv(pfx+"MOUNT", "ui=s3://bucket/ui.tar,fx=file://fx.tar")
	t.Setenv(pfx+"PRELOAD", "file://a.png")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}
	FillFromEnv(fs, pfx, nil)

	if c.LogJSON {
		t.Error("LogJSON: want false from env")
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q, got %q", "debug", c.LogLevel)
	}
	if c.AdminPort != 9100 {
		t.Errorf("AdminPort: want 9100, got %d", c.AdminPort)
	}
	if !c.EnableTracing || c.TraceSample != 0.25 || c.OTLPEndpoint != "otel:4317" {
		t.Errorf("tracing = %v/%g/%q", c.EnableTracing, c.TraceSample, c.OTLPEndpoint)
	}
	if c.Workers != 16 {
		t.Errorf("Workers: want 16, got %d", c.Workers)
	}
	if c.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout: want 10s, got %s", c.HTTPTimeout)
	}
	if len(c.Mounts) != 2 || c.Mounts[1] != "fx=file://fx.tar" {
		t.Errorf("Mounts = %v", c.Mounts)
	}
	if len(c.Preload) != 1 {
		t.Errorf("Preload = %v", c.Preload)
	}
}

func TestFillFromEnv_CLITakesPrecedence(t *testing.T) {
	pfx := "TESTCFG2_"
	t.Setenv(pfx+"ADMIN_PORT", "7777")
	t.Setenv(pfx+"LOG_LEVEL", "warn")
	t.Setenv(pfx+"ENABLE_PPROF", "false")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse([]string{"-admin-port=9090", "-log-level=debug", "-enable-pprof=true"}); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var overrideMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		overrideMessages = append(overrideMessages, fmt.Sprintf(format, args...))
	})

	// CLI wins
	if c.AdminPort != 9090 {
		t.Errorf("AdminPort: want 9090 (cli), got %d", c.AdminPort)
	}
	if c.LogLevel != "debug" {
		t.Errorf("LogLevel: want %q (cli), got %q", "debug", c.LogLevel)
	}
	if !c.EnablePprof {
		t.Error("EnablePprof: want true (cli)")
	}

	if len(overrideMessages) != 3 {
		t.Errorf("expected 3 override messages, got %d: %v", len(overrideMessages), overrideMessages)
	}
	for _, msg := range overrideMessages {
		if !strings.Contains(msg, "overrides env") {
			t.Errorf("unexpected override message format: %s", msg)
		}
	}
}

func TestFillFromEnv_InvalidEnvIgnored(t *testing.T) {
	pfx := "TESTCFG3_"
	t.Setenv(pfx+"WORKERS", "not-a-number")

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var c App
	Register(fs, &c)
	if err := fs.Parse(nil); err != nil {
		t.Fatalf("flag parse: %v", err)
	}

	var logMessages []string
	FillFromEnv(fs, pfx, func(format string, args ...any) {
		logMessages = append(logMessages, fmt.Sprintf(format, args...))
	})

	if c.Workers != 8 {
		t.Errorf("Workers: want 8 (default), got %d", c.Workers)
	}
	if len(logMessages) != 1 {
		t.Fatalf("expected 1 log message, got %d: %v", len(logMessages), logMessages)
	}
	if !strings.Contains(logMessages[0], "ignoring invalid env") {
		t.Errorf("unexpected log message: %s", logMessages[0])
	}
}

func TestValidate_OK(t *testing.T) {
	c := newTestConfig(t, []string{
		"-enable-pyroscope=true",
		"-pyro-server=https://pyro:4040",
		"-pyro-tenant=test-tenant",
		"-enable-tracing=true",
		"-otlp-endpoint=otel:4317",
		"-trace-sample=0.2",
		"-mount=ui=s3://bucket/ui.tar@sha256:" + strings.Repeat("a", 64),
		"-file-root=" + t.TempDir(),
	})
	if err := Validate(c); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	specs, err := c.MountSpecs()
	if err != nil {
		t.Fatalf("MountSpecs: %v", err)
	}
	if len(specs) != 1 || specs[0].Location != "s3://bucket/ui.tar" || specs[0].Digest == "" {
		t.Fatalf("specs = %+v", specs)
	}
}

func TestValidate_InvalidCombined(t *testing.T) {
	c := newTestConfig(t, []string{
		"-admin-port=70000",
		"-log-level=nope",
		"-stacktrace-level=alsonope",
		"-max-error-chain=0",
		"-trace-sample=2.0",
		"-enable-pyroscope=true",
		"-pyro-server=not-a-url",
		"-enable-tracing=true",
		"-otlp-endpoint=otel",
		"-workers=0",
		"-sweep-interval=0s",
		"-remap-ssm-param=/p",
		"-remap-poll-interval=10ms",
		"-http-timeout=0s",
		"-max-fetch-bytes=0",
		"-host-rate=-1",
		"-file-root=/definitely/not/here",
		"-mount=nope",
	})

	err := Validate(c)
	if err == nil {
		t.Fatal("Validate() expected errors, got <nil>")
	}

	for _, sub := range []string{
		"invalid ADMIN_PORT",
		"invalid LOG_LEVEL",
		"invalid STACKTRACE_LEVEL",
		"MAX_ERROR_CHAIN",
		"invalid TRACE_SAMPLE",
		"PYRO_SERVER must be a URL",
		"PYRO_TENANT required",
		"OTLP_ENDPOINT must be host:port",
		"invalid WORKERS",
		"SWEEP_INTERVAL",
		"REMAP_POLL_INTERVAL",
		"HTTP_TIMEOUT",
		"MAX_FETCH_BYTES",
		"HOST_RATE",
		"FILE_ROOT",
		"invalid MOUNT",
	} {
		wantErrContains(t, err, sub)
	}
}

func TestList_String(t *testing.T) {
	var l List
	_ = l.Set("a, b")
	_ = l.Set("")
	_ = l.Set("c")
	if got := l.String(); got != "a,b,c" {
		t.Fatalf("String() = %q", got)
	}
}

func TestMain(m *testing.M) {
	os.Exit(m.Run())
}
