// Package gemini runs tasks with the Gemini CLI in headless mode and turns
// its stream-json output into a single TaskOutcome.
//
// A Runner spawns one gemini process per task with
//
//	gemini -p <task> --output-format stream-json [--history-id <id>] --allowed-tools <AllowedTools>
//
// and reads stdout and stderr concurrently. Stdout bytes go through a
// Decoder, which reassembles lines split across reads, and every decoded
// StreamEvent is handed to the Forwarder before it is folded into the
// Accumulator. Stderr chunks are forwarded at error severity and kept for
// the ExitError of a failed run.
//
// The process exit decides the result: exit 0 yields the accumulated answer
// (or the raw stdout when no assistant text was seen), a non-zero exit
// yields *ExitError, and a process that cannot start or is killed by a
// signal yields *SpawnError.
package gemini
