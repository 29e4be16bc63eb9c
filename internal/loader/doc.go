// Package loader is the composition root of the asset loading pipeline.
//
// A Service owns the in-flight registry, the content cache and the archive
// index, and drives every load through two phases: a worker goroutine
// fetches, classifies and decodes the payload, then a commit on the main
// executor mounts any archives it carried, publishes it and fans the
// result out to every interested callback.
//
// Callbacks always run on the main executor, never synchronously from
// Load, and receive nil when the load failed.
package loader
