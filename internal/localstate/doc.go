// Package localstate persists per-device state that is never shared.
//
// Three values live here: this device's own identity record, the device
// table as of the last reconciliation pass, and the message watermark. They
// are stored as opaque JSON blobs keyed by name in the sync_state table.
package localstate
