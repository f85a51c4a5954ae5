// Package task defines the task model and the in-memory registry that is
// the authoritative record of every task in the process. Tasks do not
// survive restarts; terminal outcomes are mirrored to the history store
// by the pipeline.
package task
