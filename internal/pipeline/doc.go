// Package pipeline runs the configured phases of producer scripts and heals
// the staging directories between them.
//
// A run is strictly sequential: phases in order, steps in order, one child
// process at a time. After every completed phase the configured staging
// directories are normalized; after the last phase (when it promotes) the
// accepted outputs are copied into the final directory and the intermediate
// directory is wiped.
//
// The run moves through a small state machine:
//
//	INIT -> RUNNING_PHASE_n -> PHASE_n_FAILED            (terminal)
//	                        -> PHASE_n_NORMALIZED -> RUNNING_PHASE_n+1 ...
//	                                              -> PROMOTED (terminal)
//
// There is no whole-phase retry.
package pipeline
