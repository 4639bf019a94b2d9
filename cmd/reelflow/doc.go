// Command reelflow runs the content-production workflow daemon and the
// operator commands around it.
//
// `reelflow serve` hosts webhook ingress, the operator API, and the failsafe
// and purge loops. The remaining commands open the same SQLite store
// in-process: workflow inspection and submission, manual failsafe scans and
// purges (which still take the cluster lease), dead letter replay, and
// configuration helpers. `reelflow status` asks a running daemon first and
// falls back to the local store.
package main
