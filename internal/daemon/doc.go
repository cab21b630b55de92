// Package daemon hosts the long-running clipflowd process: the provider
// webhook receivers, the bearer-authenticated HTTP API, the local media file
// server, and the periodic reconcile loop. A file lock keeps execution to a
// single instance per machine.
package daemon
