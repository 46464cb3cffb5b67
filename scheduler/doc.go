// Package scheduler batches materialization requests for a lazily checked
// out working tree.
//
// Callers request paths; requests that arrive while a batch is running join
// the next iteration of the same drain and wait on one shared Future. Each
// drain resolves placeholders to object ids, issues one bulk fetch for them,
// checks the whole batch out in a single call and marks every batched path as
// checked out, whether or not its checkout succeeded.
package scheduler
