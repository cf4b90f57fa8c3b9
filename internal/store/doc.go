// Package store provides the shared key/value medium devices synchronise
// through.
//
// Every device reads and writes the same keys. There is no locking and no
// compare-and-swap; callers re-read before every mutation and accept
// last-writer-wins. Changes are observed per key family: watching "devices"
// reports writes to "devices" and to any "devices.<suffix>" key, which is
// how chunked values stay in one family.
//
// Backends:
//   - Memory: in-process, for tests and single-host setups
//   - MQTTStore: retained topics on an MQTT broker
//   - NATSStore: a JetStream key/value bucket
//
// Chunked wraps any backend and splits large values across several keys.
package store
