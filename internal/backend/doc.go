// Package backend is the pluggable Agent Execution Backend seam: it turns a
// prompt plus optional session into a stream of typed execution events. The
// worker loop folds those events into a Response and best-effort status
// files; it never depends on which provider produced them.
package backend
