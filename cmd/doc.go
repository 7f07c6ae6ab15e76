// Package cmd implements the command-line interface of ckv. It provides a
// hierarchical command structure for running nodes and talking to them as a
// client.
//
// The package is organized into several subpackages:
//
//   - serve: starts a node (membership, persistence, transport, metrics)
//   - kv: key-value operations (get, set, del, has) and the perf tool
//   - util: shared flag, environment and transport wiring (internal use)
//
// Flags can also be given as CKV_<FLAG> environment variables or in a .env
// file. See ckv -help for a list of all commands.
package cmd
