// Package errs defines error types for the tool-server proxy.
//
// This package provides structured error types that wrap the different
// failure scenarios around spawning and talking to tool-server child
// processes. All error types support error unwrapping and can be checked
// using errors.Is, errors.As, and errors.AsType.
package errs
