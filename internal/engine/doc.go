// Package engine provides the decoupled multi-response execution engine.
// For every request in a batch it checks the downstream model inline, then
// spawns two delivery branches that each call the model again, verify the
// result and send one response on the request's response channel. One
// branch owns closing the channel. An in-flight tracker lets Finalize wait
// for every outstanding branch before the engine is unloaded.
package engine
