// Package mcpgate provides a sandboxed tool-server proxy: an authenticated
// local HTTP gateway in front of child processes that speak a tool-invocation
// protocol (MCP) over stdio.
//
// A caller never talks to tool-server processes directly. It registers a
// server under an identifier, and the proxy spawns the process, performs the
// protocol handshake, and keeps the session in an in-memory registry. From
// then on the caller lists tools and invokes them through the HTTP surface,
// and finally disconnects the session, which kills the child process.
//
// # Basic Usage
//
// Construct a registry and mount the gateway on an HTTP server:
//
//	log := slog.Default()
//	registry := mcpgate.NewRegistry(log)
//	defer registry.Close()
//
//	gateway := mcpgate.NewGateway(log, registry,
//	    mcpgate.WithAuthToken(os.Getenv("MCPGATE_AUTH_TOKEN")),
//	)
//
//	http.ListenAndServe("127.0.0.1:8787", gateway)
//
// Register a tool server and call one of its tools:
//
//	POST /servers/register  {"serverId": "fs", "command": "mcp-fs", "args": ["--root", "/tmp"]}
//	POST /servers/fs/call   {"name": "read_file", "arguments": {"path": "notes.txt"}}
//	DELETE /servers/fs
//
// Registration is idempotent: registering an already-connected identifier
// returns its current tool list with alreadyConnected set, and disconnecting
// an unknown identifier reports disconnected: false rather than an error.
//
// # Embedding
//
// The registry can also be driven directly, bypassing HTTP:
//
//	sess, already, err := registry.Create(ctx, "fs", mcpgate.SpawnConfig{Command: "mcp-fs"})
//	if err != nil {
//	    log.Error("connect failed", "error", err)
//	    return
//	}
//	tools, err := sess.Client().ListTools(ctx)
//
// # Error Handling
//
// The proxy never retries on behalf of the caller. Transport and protocol
// failures carry typed errors:
//
//	if procErr, ok := errors.AsType[*mcpgate.ProcessError](err); ok {
//	    log.Error("tool server died", "exit_code", procErr.ExitCode, "stderr", procErr.Stderr)
//	}
//
// Session teardown is deliberately best-effort: close errors are swallowed so
// a misbehaving child process can never prevent a session from being removed.
package mcpgate
