// Package webhooks receives vendor callbacks at POST /webhooks/{vendor}/{brand}.
//
// Each delivery is rate limited per vendor and brand, signature checked,
// normalized by a vendor adapter, deduplicated with a receipt, and applied
// through the engine. Completions first store the artifact URL on its own so
// a crash between the two writes is healed by the failsafe scanner instead of
// losing the result. Deliveries that hit an infrastructure error are kept as
// dead letters for replay and answered with 503 so the vendor retries.
package webhooks
