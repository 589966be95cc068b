// ABOUTME: Matrix chat layer: outbound delivery and the inbound room bridge.
// ABOUTME: Implements the pipeline's Delivery contract on top of mautrix.

// Package chat connects warren to Matrix. Matrix provides the outbound
// Delivery used by the streaming pipeline (messages, in-place edits,
// redactions, image uploads) and Bridge turns incoming room messages into
// dispatched prompts.
package chat
