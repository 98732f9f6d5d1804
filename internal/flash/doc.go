// Package flash drives pyocd to program firmware onto a target MCU through
// a debug probe, coordinating with the serial engine so the probe's reader
// releases the device for the duration of the job.
//
// Flow for one job:
//
//	Flash(ctx, req)
//	   ├── resolve port, serial number, target, frequency, pack
//	   ├── RequestPause(identity)    reader parks and closes the device
//	   ├── pyocd flash <hex> -t <target> -u <serial> -f <freq> [--pack <p>]
//	   └── Resume(identity)          reader reopens and streams again
//
// A failed flash is a normal outcome, not an error: Flash always returns a
// Result and the caller renders Success, Output and Error to the user. The
// pause is best-effort; when the reader does not acknowledge in time the
// job proceeds anyway and pyocd contends for the device on its own.
//
// PackStore manages the directory of CMSIS device packs handed to pyocd
// via --pack for parts its builtin catalogue does not know.
//
// Thread Safety:
//
// Flasher and PackStore are safe for concurrent use. Concurrent jobs on
// the same probe are serialized by the engine's pause handshake; the
// second job fails fast with an "already in progress" Result.
package flash
