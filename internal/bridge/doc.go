// Package bridge connects a remote push transport to a local notification
// renderer.
//
// The service owns the dispatch loop: transport events are resolved into
// renderer requests (channel lookup, importance and sound mapping, payload
// encoding), paced, displayed, and handed to the registered handlers. Taps
// reported by the renderer travel the other way and surface as "opened"
// callbacks with the original data payload restored.
//
// # Handlers
//
// Handler registration is generation-tagged: swapping or removing a handler
// invalidates deliveries already in flight, so a handler never fires after
// it has been replaced. Foreground and backlog messages use independently
// registered handlers.
//
// # Channels
//
// Renderers that implement channels.Manager get their channel registry
// reconciled against the configured desired set at startup, on settings
// changes, and optionally on a cron schedule. Renderers without that
// capability skip reconciliation entirely.
package bridge
