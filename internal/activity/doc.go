// Package activity records what the sync subsystem did on this device:
// peers appearing and disappearing, and messages sent and delivered.
//
// Entries live in the local SQLite database only. They are never shared
// with other devices.
package activity
