// Package device maintains the set of devices participating in sync.
//
// Each running instance is a device with a Record: an id, an optional name
// and icon, and a timestamp that serves as its liveness signal. The shared
// store holds one Table of every device's record under a single key. A
// device only ever writes its own record with authority; everything else it
// publishes is a merge of what it last read.
//
// # Components
//
//   - Identity: creates, loads and refreshes this device's own record
//   - Registry: reconciles the shared table against the local cache and
//     reports devices as new, updated or obsolete
//
// # Reconciliation
//
// A pass reads the shared table and the local cache, classifies every
// other device, drops peers whose timestamp is older than the expiry cutoff,
// reinserts the local record and publishes the result to both places.
// Every surviving peer is reported as updated on every pass whether or not
// its fields changed; consumers use this as a periodic refresh signal.
//
// # Thread Safety
//
// Identity and Registry are safe for concurrent use. A Registry runs at most
// one pass at a time; a call arriving while a pass is in flight or settling
// returns without doing anything.
package device
