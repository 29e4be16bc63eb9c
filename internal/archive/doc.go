// Package archive keeps the set of opened archive mounts and answers which
// mount, if any, owns an identifier.
//
// A mount is an archive handle registered under a prefix. The identifier
// "pack/tex/a.png" is owned by the mount "pack" and resolves to its entry
// "tex/a.png". Mounts are opened once and never closed individually; Reset
// drops all of them together.
package archive
