// Package influxdb provides InfluxDB connectivity for Gray Logic Sync.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, non-blocking batched writes, and health monitoring.
//
// # Purpose
//
// Telemetry is optional. When enabled, the sync service records:
//   - device_presence: one point per new, updated or obsolete classification
//   - device_messages: one point per message sent or delivered
//   - reconcile_passes: one point per completed reconciliation pass
//
// Points are tagged with the local device id so several devices can share
// a bucket.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WritePresence(selfID, peerID, "new")
package influxdb
