// Package message implements point-to-point messaging over the shared store.
//
// All devices share one queue: a JSON array of messages under a single key.
// Senders re-read the queue, append and write it back. Each recipient scans
// the whole queue, takes the entries addressed to it, and writes back the
// queue without them. Entries for other recipients are never removed by a
// device that is not their recipient.
//
// A per-device watermark records the newest timestamp delivered. Entries at
// or below it are treated as already delivered, which keeps a message from
// being dispatched twice while the recipient's own prune has not landed yet.
package message
