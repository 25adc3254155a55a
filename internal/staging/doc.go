// Package staging moves producer outputs between the staging directories.
//
// Three operations live here:
//
//   - Copier: a copy that tolerates a destination briefly locked by another
//     process (spreadsheet apps, antivirus scanners). It retries transient
//     errors with a fixed delay and falls back to a temp file plus rename.
//   - Normalizer: finds shadow staging directories (a "data/<kind>" created
//     by a script that ran from the wrong working directory) and merges them
//     into the canonical one, keeping the newer file on conflict.
//   - Promoter: copies accepted outputs flat into the final directory, at
//     most once per (source, destination) pair, then wipes the intermediate
//     directory.
//
// Per-file failures are logged and skipped. None of these operations stop
// a run.
package staging
