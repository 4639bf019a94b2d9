// Package notifications delivers operator alerts via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. Events cover the
// outcomes an operator acts on: finished workflows, terminal failures, and
// failsafe recoveries. Delivery errors are returned to the caller, which logs
// them; they never affect workflow state.
package notifications
