// Command subforge is the CLI entry point: it enqueues media files, runs the
// transcription pipeline over them, and exposes queue, cache, and
// configuration management subcommands.
package main
