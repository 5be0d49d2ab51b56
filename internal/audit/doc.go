// Package audit implements the asynchronous audit event pipeline: a
// buffered dispatcher feeding a host-supplied sink. Emission never blocks
// the request path when DropIfFull is set; dropped events are counted.
package audit
