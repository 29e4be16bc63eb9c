// Package content defines the typed results of a decode and the
// reference-counted handle the cache shares between callers.
//
// [Content] is a closed set of variants: [*Image], [*Skinset],
// [*SkeletalAnimation], [*Model], [*Font], [*NodeGraph] and
// [*ArchiveWrapper]. The marker method is unexported so no other package can
// add a variant; dispatch sites switch over the concrete types.
//
// [Shared] wraps one Content value with an atomic reference count. The cache
// holds one implicit reference per entry; every callback that receives a
// Shared owns one more and must call Release when done with it.
package content
