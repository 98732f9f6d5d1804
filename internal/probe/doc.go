// Package probe implements the serial monitoring engine for daplog.
//
// The engine discovers USB debug probes (CMSIS-DAP), runs one reader
// goroutine per probe for the lifetime of the process, frames the byte
// stream into timestamped lines, persists them through the log store, and
// fans each line out to live subscribers. A pause coordinator lets the
// firmware flasher take exclusive ownership of a device's serial line
// without killing its reader.
//
// # Architecture
//
//	┌───────────────────────────────────────────────────────────────────────┐
//	│                               Manager                                  │
//	│                                                                        │
//	│  ┌──────────────┐   ┌──────────────┐   ┌──────────────────────────┐   │
//	│  │   Scanner    │   │   Registry   │   │   reader (per identity)  │   │
//	│  │(discovery.go)│──▶│(registry.go) │◀──│       (reader.go)        │   │
//	│  │              │   │              │   │                          │   │
//	│  │ • enumerate  │   │ • Port map   │   │ • connect / frame loop   │   │
//	│  │ • DAP filter │   │ • sole owner │   │ • backoff on faults      │   │
//	│  └──────────────┘   └──────────────┘   │ • pause handshake        │   │
//	│                                        └───────────┬──────────────┘   │
//	│  ┌──────────────┐   ┌──────────────┐               │                  │
//	│  │     Hub      │◀──│    Pause     │◀──────────────┤                  │
//	│  │   (hub.go)   │   │ Coordinator  │               ▼                  │
//	│  │              │   │  (pause.go)  │   ┌──────────────────────────┐   │
//	│  │ • bounded    │   │              │   │     logstore.Writer      │   │
//	│  │   channels   │   │ • one-shot   │   │  <root>/<id>/<day>.log   │   │
//	│  │ • drop count │   │   ack/resume │   └──────────────────────────┘   │
//	│  └──────────────┘   └──────────────┘                                  │
//	└───────────────────────────────────────────────────────────────────────┘
//
// # Reader state machine
//
// DISCONNECTED → CONNECTING → CONNECTED → PAUSED → CONNECTING → …
//
// Any open or read fault drops the reader back to DISCONNECTED with a
// classified backoff (2s path missing, 3s serial fault, 5s unclassified)
// and it retries forever; readers only terminate on engine shutdown.
// Connect, disconnect, pause and resume transitions are recorded inline in
// the port's log as announcement lines, so the files double as an audit
// trail.
//
// # Ordering
//
// Within one identity, log write order equals line extraction order equals
// publish order; subscribers never observe a line the day file does not
// contain. Across identities there is no ordering relationship.
//
// # Usage
//
//	mgr, err := probe.NewManager(probe.ManagerConfig{LogRoot: "./logs"})
//	if err != nil {
//	    return err
//	}
//	mgr.SetLogger(log)
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
//
//	sub := mgr.Subscribe("SN42")
//	defer mgr.Unsubscribe(sub)
//	for line := range sub.Lines() {
//	    fmt.Println(line)
//	}
//
// # Thread Safety
//
// Manager, Registry, Hub and PauseCoordinator are safe for concurrent use.
// Their mutexes guard only map state, never I/O; device handles and log
// writers are owned exclusively by one reader goroutine.
package probe
