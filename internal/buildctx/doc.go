// Package buildctx reads files from a build context for COPY steps.
//
// A build context is a host directory. Paths listed in its ignore file
// (.kilnignore, falling back to .dockerignore) are invisible to the build,
// exactly as if they did not exist. Sources are resolved relative to the
// context root and may not escape it.
//
// [Context.Collect] turns a COPY source into a sorted list of entries that
// can be both digested and streamed as a tar archive. The digest depends on
// names, modes, link targets, and file contents only, so touching a file
// without changing it does not invalidate the build cache.
package buildctx
