// Package notifications delivers job outcomes via ntfy.
//
// The service is registered as one of the orchestrator's result sinks and
// publishes succeeded, failed and cancelled jobs according to the flags in
// the [notifications] section. It degrades to a no-op when no topic is
// configured.
package notifications
