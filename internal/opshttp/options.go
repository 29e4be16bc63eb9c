package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-assets/internal/health"
)

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	// Stats backs /debug/assets; nil leaves the route unregistered.
	Stats func() any
	// MetricsMW instruments every ops route.
	MetricsMW    func(http.Handler) http.Handler
	UseRecoverMW bool
	OnPanic      func()
}
