// Package core runs producer scripts as isolated child processes and
// resolves the names pipeline definitions use to refer to them.
//
// # Script Runner
//
// A Runner executes one resolved Script and reports either a Result or one
// of the typed errors below. ProcessRunner is the production implementation:
// it starts the configured interpreter with the script path, captures both
// output streams, enforces the optional timeout by killing the whole process
// group, and decodes output that is not valid UTF-8.
//
// # Errors
//
//   - NotFoundError: the script (or a file it needs) does not exist.
//   - ExecutionError: the child exited non-zero.
//   - TimeoutError: the child exceeded its timeout and was killed.
//   - UnexpectedError: anything else (spawn failure, cancellation).
//
// # Resolver
//
// Resolver maps a human-given script name to an absolute path using a fixed
// search order: exact path, candidate directories in order, then a
// recursive search of the project tree that skips noise directories.
package core
