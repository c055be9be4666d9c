// Package deps resolves external binaries that command providers invoke.
package deps
