// Package pipeline turns the unbounded status event stream of one execution
// into a bounded, rate-limited sequence of chat message edits. The chat API
// enforces an edit-rate ceiling and a message-size ceiling; this package
// exists to impedance-match the stream against those two bounds.
package pipeline
