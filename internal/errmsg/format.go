// Package errmsg provides consistent error formatting for user-facing messages.
package errmsg

import "fmt"

// Op represents an operation that can fail.
type Op string

// Operation constants - grouped by domain.
const (
	// File operations
	OpFileLoad  Op = "load file"
	OpFileClose Op = "close file"

	// Decode operations
	OpFrameDecode   Op = "decode frame"
	OpFrameRaw      Op = "read raw frame data"
	OpBatchDecode   Op = "decompress pixel stream"
	OpBackendInit   Op = "initialize decoder backend"
	OpWindowRender  Op = "render frame with window"
	OpFrameRetrieve Op = "retrieve frame"

	// Cache operations
	OpCacheInsert  Op = "cache frame"
	OpCachePreload Op = "preload frames"

	// Playback operations
	OpPlaybackStart Op = "start playback"

	// Initialization
	OpConfigLoad   Op = "load configuration"
	OpMetricsServe Op = "serve metrics"
	OpInitialize   Op = "initialize viewer"
)

// Format creates a user-friendly error message.
func Format(op Op, err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("Failed to %s: %v", op, err)
}

// FormatWith creates an error message with additional context.
func FormatWith(op Op, context string, err error) string {
	if err == nil {
		return ""
	}
	if context == "" {
		return Format(op, err)
	}
	return fmt.Sprintf("Failed to %s '%s': %v", op, context, err)
}
