// Package stream normalizes the heterogeneous output of agent
// subprocesses into one display and telemetry model.
//
// Two protocol variants feed the same event vocabulary: print mode is a
// unidirectional line-delimited JSON stream, wire mode is a
// bidirectional JSON-RPC-like exchange where the driver also answers
// requests from the agent. Unparseable lines are never dropped; they
// pass through as opaque text.
package stream
