// Package output turns the raw byte chunks read from supervised processes
// into sink deliveries and newline-delimited line events.
//
// Every process owns a [Demux] holding an ordered chain of [Sink]s per
// stream. The supervisor hands each chunk it reads to the owning process's
// Demux, which delivers it to every sink of that stream. Sinks come in
// three flavors chosen at registration time:
//
//   - [Writer] copies bytes to an already open descriptor or io.Writer
//   - [Path] opens a file on first use and closes it at end of stream
//   - [Lines] re-assembles complete lines and calls a [LineHandler]
//
// A failing or panicking sink is logged and never prevents the other sinks
// from receiving the chunk.
package output
