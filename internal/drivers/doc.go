// Package drivers adapts the three vendor services behind one contract.
//
// A Driver submits a stage job and can later be asked about it. HTTPDriver
// speaks a small JSON protocol to a vendor gateway; MemoryDriver keeps jobs in
// process for dry runs and tests. Set resolves the driver for a pipeline stage.
package drivers
