// Package engine coordinates local edits with the remote document.
//
// The engine owns the local mirror of the task document and drives the
// sync pipeline: collect local state, read the remote document, resolve,
// write the result back. A debounce timer batches bursts of edits into
// one write, an offline queue holds saves until connectivity returns,
// and a small status machine tells the UI what is going on.
//
// At most one pipeline runs at a time. Edits made while a pipeline is in
// flight rearm the debounce and are picked up by the next run.
package engine
