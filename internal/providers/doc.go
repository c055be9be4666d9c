// Package providers turns the [[providers]] configuration into capability
// implementations and resolves them by name for the stage catalog.
package providers
