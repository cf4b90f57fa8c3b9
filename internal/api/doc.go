// Package api provides the HTTP REST API and WebSocket event stream for a
// sync device.
//
// It exposes the local identity, the list of known peers, message sending,
// the sendability check and manual sync triggers to local user interfaces.
// Device and message events from the sync service are relayed to WebSocket
// clients that subscribe to them.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
