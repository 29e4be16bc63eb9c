// Package ratelimit paces outbound fetches per remote host, with background
// eviction of idle hosts.
//
// The limiter is in-memory and per process. It keeps one asset server from
// being hammered when a manifest fans out into hundreds of child fetches
// against the same origin.
package ratelimit
