// Package protocol implements the tool-invocation protocol client.
//
// The Client wraps a connected session and exposes exactly two operations:
// listing tools and calling a tool by name. Connected implementations come in
// two shapes -- one with dedicated tool methods, one with only generic
// method/parameter dispatch -- and the Client normalizes both behind the same
// surface. The shape is detected once at construction rather than probed on
// every call.
package protocol
