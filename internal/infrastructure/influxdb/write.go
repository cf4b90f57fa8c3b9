package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementPresence  = "device_presence"
	MeasurementMessages  = "device_messages"
	MeasurementReconcile = "reconcile_passes"
)

// Message directions for WriteMessage.
const (
	DirectionSent      = "sent"
	DirectionDelivered = "delivered"
)

// WritePresence records one device classification ("new", "updated" or
// "obsolete") observed by the local device.
func (c *Client) WritePresence(selfID, peerID, kind string) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(presencePoint(selfID, peerID, kind, time.Now()))
}

// WriteMessage records a message sent or delivered by the local device.
func (c *Client) WriteMessage(selfID, peerID, direction string, size int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(messagePoint(selfID, peerID, direction, size, time.Now()))
}

// WriteReconcile records the outcome of one reconciliation pass.
func (c *Client) WriteReconcile(selfID string, known, created, updated, obsolete int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(reconcilePoint(selfID, known, created, updated, obsolete, time.Now()))
}

func presencePoint(selfID, peerID, kind string, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementPresence,
		map[string]string{
			"device_id": selfID,
			"peer_id":   peerID,
			"kind":      kind,
		},
		map[string]interface{}{
			"count": 1,
		},
		ts,
	)
}

func messagePoint(selfID, peerID, direction string, size int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementMessages,
		map[string]string{
			"device_id": selfID,
			"peer_id":   peerID,
			"direction": direction,
		},
		map[string]interface{}{
			"count": 1,
			"bytes": size,
		},
		ts,
	)
}

func reconcilePoint(selfID string, known, created, updated, obsolete int, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementReconcile,
		map[string]string{
			"device_id": selfID,
		},
		map[string]interface{}{
			"known":    known,
			"new":      created,
			"updated":  updated,
			"obsolete": obsolete,
		},
		ts,
	)
}
