// Package httpmw holds the middleware wrapped around the ops listener:
// request IDs, panic recovery and access logging. Probe and scrape routes
// are kept out of the access log so a busy Prometheus doesn't drown it.
package httpmw
