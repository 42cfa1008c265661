// Package transport provides the subprocess-based stdio transport for
// tool servers.
//
// This package spawns a tool server as a child process and exchanges
// line-delimited JSON-RPC messages over its stdin/stdout. It handles process
// lifecycle management, stderr capture, and best-effort teardown.
package transport
