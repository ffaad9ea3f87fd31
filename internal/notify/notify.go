// Package notify models the FFI notification contract from spec.md §6:
// the supervising UI is driven by a callback, not by reading files.
package notify

import "hash/fnv"

// Type is the notification channel a message is emitted on.
type Type string

const (
	Success       Type = "success"
	Info          Type = "info"
	Warning       Type = "warning"
	Error         Type = "error"
	MonitorWarning Type = "monitor_warning"
)

// ClearMessage is the special message on MonitorWarning that clears any
// previously shown peer-conflict UI.
const ClearMessage = "clear"

// Notification is one message delivered to the host application.
type Notification struct {
	ConfigIDHash uint32
	Type         Type
	Message      string
	TimestampMs  int64
	Filename     string // empty means "no filename"
	Progress     float64 // -1 for none
}

// Callback is the Go-side stand-in for the FFI callback pointer in
// spec.md §6: (config_id_hash, type, message, timestamp_ms, filename,
// progress). The real cgo ABI is out of scope; only this contract is.
type Callback func(Notification)

// ConfigIDHash computes the 32-bit FNV-1a hash of a config_id UUID
// string, per spec.md §6 (offset basis 0xcbf29ce484222325, prime
// 0x100000001b3, truncated to 32 bits).
func ConfigIDHash(configID string) uint32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(configID))
	return uint32(h.Sum64())
}

// NoProgress is the Progress sentinel spec.md §6 uses for "not
// applicable" in a Notification; an empty Filename means no filename.
const NoProgress = -1.0
