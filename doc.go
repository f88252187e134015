// Package toolrpc implements a tool-invocation protocol over
// message-oriented transports. A server exposes a registry of named,
// schema-typed tools; clients discover them and invoke them with correlated
// request/response frames, cooperative cancellation, and typed failure
// outcomes. Handlers run inside a bounded sandbox that enforces timeouts and
// isolates faults from the dispatcher and from each other.
//
// Two transports are included: newline-delimited JSON over an
// io.Reader/io.Writer pair (StdIO) and Server-Sent Events with an HTTP POST
// back-channel (SSEServer/SSEClient).
package toolrpc
