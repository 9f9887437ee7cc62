// Package wire is the boundary between typed payloads and WebSocket text
// frames.
//
// Encode and Decode convert a payload to and from its XML wire text using an
// explicit Shape. Every call builds its own encoder or decoder, so nothing is
// shared between calls and both are safe for concurrent use. Decode rejects
// documents whose root element is not the one the shape declares.
//
// Classify and Reporter turn any failure into a single-entry
// domain.ErrorResponse. Failures that already carry a domain.ErrorCode keep
// their code and peer-safe message; everything else is reported under
// domain.CodeWebsocketGeneral. Reporter pushes the response over a Channel
// without waiting for delivery.
//
// Input size limits belong to the transport. The package imposes no timeout
// of its own.
package wire
