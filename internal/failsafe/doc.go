// Package failsafe finds workflows that stopped moving and pushes them forward.
//
// A record is a candidate once its updated_at is older than the threshold for
// its status. The scanner asks the state machine what to do (StageTimedOut)
// and then heals from a stored artifact, polls the vendor, or claims a lost
// submission. Every mutation goes through engine.Apply, so a scan racing a
// webhook or another scan converges on the same record.
package failsafe
