// Package backend defines the nested inference interface the engine calls
// into, the request and response types exchanged with downstream models, and
// the registry that maps model names to the backend serving them.
package backend
