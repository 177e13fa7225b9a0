// Package numbering allocates correspondence numbers (letters and memoranda)
// from a per-tenant pool.
//
// Store persists the pool through a DocumentStore with one merge write per
// category and replicates every change to subscribers. Controller runs the
// transitions: allocating a free number needs nothing, releasing a used one
// needs a step-up password challenge, and clearing a whole category needs an
// explicit confirmation followed by the challenge. Session is a tenant's live
// view; it only moves when the store echoes a write back, so every session,
// the writer included, converges on what the store holds.
package numbering
