// Package strata is a snapshot-isolated state and incremental
// composition runtime.
//
// Package 'snapshot' keeps versioned state objects, 'slots' records a
// composition as a gap-buffer table of groups, and 'core' recomposes
// the groups that read changed state.  Package 'sio' hosts a program
// behind couplings for stdin, MQTT, and websockets.  Some
// command-line tools are in `cmd`.
package strata
