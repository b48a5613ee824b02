// Package remote provides the gateway to the shared remote document store.
//
// The remote unit is a single JSON file (todos.json) plus opaque media
// blobs under photos/. The gateway wraps a narrow Store interface (bound
// to an HTTP object store in production, or to a local folder for the
// preferred-storage toggle) and adds:
//
//   - conditional read caching keyed by the store's last-modified token,
//     shared process-wide across gateway instances
//   - a uniform error taxonomy with per-kind retry and backoff policy
//   - blob upload/download helpers for photo attachments
//
// The cache is guarded by the engine's single-pipeline invariant plus its
// own mutex, and is cleared on logout so no user data leaks across
// sessions on the same host.
package remote
