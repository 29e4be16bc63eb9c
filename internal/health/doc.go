// Package health provides the liveness and readiness probes of the asset
// service and the handlers that serve them.
//
// Readiness for assetd is [All] of a [Gate] (closed during preload and
// drain) and a [Backlog] check on the main executor, each wrapped in
// [Named] so a 503 body says which one failed.
package health
