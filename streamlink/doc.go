// Package streamlink provides an in-process, goroutine-safe streaming pipe
// that connects a single producer to a single consumer through a bounded
// circular buffer, without temporary files.
//
// Design goals:
//   - Strict single-producer / single-consumer with FIFO byte ordering
//   - Backpressure by blocking: writers stall on a full buffer, readers on
//     an empty one
//   - Synchronous pass-through to an optional secondary sink, so a
//     downstream stage observes bytes the moment they are buffered
//   - Optional declared-length enforcement to catch short or oversized
//     streams
//   - Deterministic shutdown ordering between independently closing sides
//
// A Link hands out exactly one reader endpoint and one writer endpoint.
// The endpoints are what collaborating pipeline stages hold: a hashing
// stage reads from a LinkReader while an encryption stage feeds the
// matching LinkWriter from another goroutine. Chaining two links with the
// pump package runs a whole pipeline concurrently.
package streamlink
