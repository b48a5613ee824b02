// Package resolve implements the smart-sync resolver: a pure, deterministic
// function that reconciles the local mirror with the remote document.
//
// The resolver biases strongly toward silent auto-resolution. Surfacing a
// conflict to a single human user is expensive; the only case handed to the
// user is two edits of the same record's content with no visible temporal
// ordering. Everything else resolves by last-write-wins with tombstones.
//
// The resolver performs no I/O and never fails; it returns the resolved
// document plus a possibly empty conflict list. A caller that ignores the
// conflict list and writes anyway is a defect.
package resolve
