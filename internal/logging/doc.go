// Package logging provides structured logging for convoy.
//
// It wraps log/slog to emit JSON records carrying persistent context
// attributes (process, host, site, iteration) so that the activity of many
// concurrently supervised commands can be untangled after the fact.
//
// A Logger writes either to stderr or to {dir}/convoy.log through a
// [RotatingWriter] that rotates by size and optionally gzips old files:
//
//	logger, err := logging.NewLogger(logging.Options{Dir: dir, Level: "debug"})
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	plog := logger.WithProcess(id).WithHost("node-1")
//	plog.Warn("process terminated", "exit_code", 1)
//
// Child loggers created through the With* methods share the underlying
// writer and are safe for concurrent use.
package logging
