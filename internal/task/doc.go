// Package task defines the task record model shared by the local mirror
// and the remote document.
//
// Records are flat JSON objects with last-write-wins timestamps. Deletions
// are represented as tombstones (deleted=true) carried inside the document
// so that a delete made on one device propagates to every other device
// instead of being resurrected by a stale copy.
//
// Stored documents are loosely typed by history: older writers omitted
// fields or wrote them with the wrong JSON type. Normalize is the single
// entry point from untyped JSON to typed records; everything downstream
// of it may assume the invariant shape.
package task
