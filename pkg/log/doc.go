// Package log provides protocol capture for the node sync client.
//
// Protocol capture is separate from operational logging (slog). It records a
// machine-readable trace of every frame, envelope, connection state change and
// store snapshot so that a session can be replayed and inspected offline.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/nodesync/client.nlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Layers
//
//   - Transport: raw websocket frames (FrameEvent), control frames, connection state
//   - Wire: decoded envelopes (MessageEvent)
//   - Store: published snapshots (SnapshotEvent)
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with integer keys, using the
// .nlog extension. "nodesync log view" and "nodesync log stats" read them.
package log
