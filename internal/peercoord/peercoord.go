// Package peercoord reads, writes, and trims the shared on-server
// presence file used for multi-instance coordination, per spec.md §4.D.
package peercoord

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

// FileName is the presence document's filename. It uses an underscore
// prefix, not a dot, so it appears in standard server listings.
const FileName = "_monitored.json"

// StaleAfter is how old a last_seen entry may be before it's purged.
const StaleAfter = 5 * time.Minute

// Mode is the behavior an instance advertises in the presence file.
type Mode string

const (
	ModeUpload Mode = "upload"
	ModeKeep   Mode = "keep"
	ModeDelete Mode = "delete"
)

// Entry is one instance's presence record, per spec.md §3.
type Entry struct {
	IP          string    `json:"ip"`
	Hostname    string    `json:"hostname"`
	ProfileName string    `json:"profile_name"`
	Mode        Mode      `json:"mode"`
	LastSeen    time.Time `json:"last_seen"`
}

// Document is the top-level shape of _monitored.json.
type Document struct {
	Monitors []Entry `json:"monitors"`
}

// Identity is this instance's own identity for conflict self-exclusion.
type Identity struct {
	Hostname    string
	ProfileName string
}

func (e Entry) sameInstance(id Identity) bool {
	return e.Hostname == id.Hostname && e.ProfileName == id.ProfileName
}

// Uploader is the minimal set of FTP operations the coordinator needs.
// It is satisfied by a per-iteration FTP session wrapper owned by the
// caller (spec.md treats raw FTP primitives as an external collaborator).
type Uploader interface {
	// Retrieve returns the full contents of name in the current remote
	// directory.
	Retrieve(name string) ([]byte, error)
	// StoreFile uploads data as name in the current remote directory.
	StoreFile(name string, data []byte) error
	// Delete removes name from the current remote directory.
	Delete(name string) error
}

// ReadFromListing performs the listing-aware read from spec.md §4.D
// step 1: given a directory listing the caller has already fetched, it
// only issues a retrieval if FileName is present. Parse failures are
// treated as "absent".
func ReadFromListing(u Uploader, listing []string) (*Document, bool) {
	present := false
	for _, name := range listing {
		if name == FileName {
			present = true
			break
		}
	}
	if !present {
		return nil, false
	}
	raw, err := u.Retrieve(FileName)
	if err != nil {
		return nil, false
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return &doc, true
}

// trim drops entries whose LastSeen is older than StaleAfter relative to
// now, or whose timestamp is the zero value (treated as unparseable),
// per spec.md §3 invariant and property P4.
func trim(doc *Document, now time.Time) *Document {
	out := &Document{}
	for _, e := range doc.Monitors {
		if e.LastSeen.IsZero() {
			continue
		}
		if now.Sub(e.LastSeen) > StaleAfter {
			continue
		}
		out.Monitors = append(out.Monitors, e)
	}
	return out
}

// Write performs spec.md §4.D step 2: read the current document (or
// start empty if absent), drop stale/unparseable entries, upsert this
// instance's entry keyed by (hostname, profile_name), and re-upload.
// Failure is non-fatal — the caller logs and emits an "info"
// notification, it never aborts the sync iteration.
func Write(u Uploader, listing []string, id Identity, ip string, mode Mode, now time.Time) error {
	doc, _ := ReadFromListing(u, listing)
	if doc == nil {
		doc = &Document{}
	}
	doc = trim(doc, now)

	replaced := false
	for i := range doc.Monitors {
		if doc.Monitors[i].sameInstance(id) {
			doc.Monitors[i] = Entry{
				IP: ip, Hostname: id.Hostname, ProfileName: id.ProfileName,
				Mode: mode, LastSeen: now,
			}
			replaced = true
			break
		}
	}
	if !replaced {
		doc.Monitors = append(doc.Monitors, Entry{
			IP: ip, Hostname: id.Hostname, ProfileName: id.ProfileName,
			Mode: mode, LastSeen: now,
		})
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("peercoord: marshal: %w", err)
	}
	if err := u.StoreFile(FileName, raw); err != nil {
		return fmt.Errorf("peercoord: upload: %w", err)
	}
	return nil
}

// Cleanup performs spec.md §4.D step 3: drop this instance's own entry
// on graceful shutdown; delete the remote file if the document becomes
// empty, otherwise re-upload the trimmed document. Failure is
// non-fatal.
func Cleanup(u Uploader, listing []string, id Identity) error {
	doc, present := ReadFromListing(u, listing)
	if !present || doc == nil {
		return nil
	}
	out := &Document{}
	for _, e := range doc.Monitors {
		if e.sameInstance(id) {
			continue
		}
		out.Monitors = append(out.Monitors, e)
	}
	if len(out.Monitors) == 0 {
		if err := u.Delete(FileName); err != nil {
			return fmt.Errorf("peercoord: delete: %w", err)
		}
		return nil
	}
	raw, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("peercoord: marshal: %w", err)
	}
	if err := u.StoreFile(FileName, raw); err != nil {
		return fmt.Errorf("peercoord: re-upload after cleanup: %w", err)
	}
	return nil
}

// ConflictLevel is the severity of a peer-mode conflict, per spec.md
// §4.D.
type ConflictLevel string

const (
	ConflictNone     ConflictLevel = "none"
	ConflictInfo     ConflictLevel = "info"
	ConflictWarning  ConflictLevel = "warning"
	ConflictCritical ConflictLevel = "critical"
)

// Conflict describes a detected peer-mode conflict.
type Conflict struct {
	Level   ConflictLevel
	Message string
}

// DetectConflicts implements spec.md §4.D's conflict matrix, excluding
// this instance's own entry (property P3).
func DetectConflicts(doc *Document, id Identity, currentMode Mode, ftpDirectory string) Conflict {
	if doc == nil {
		return Conflict{Level: ConflictNone}
	}

	var others []Entry
	for _, e := range doc.Monitors {
		if !e.sameInstance(id) {
			others = append(others, e)
		}
	}

	var deleteMonitors, keepMonitors []Entry
	for _, e := range others {
		switch Mode(strings.ToLower(string(e.Mode))) {
		case ModeDelete:
			deleteMonitors = append(deleteMonitors, e)
		case ModeKeep:
			keepMonitors = append(keepMonitors, e)
		}
	}

	if len(deleteMonitors) >= 2 {
		return Conflict{
			Level: ConflictCritical,
			Message: fmt.Sprintf(
				"Multiple FTPUploaders detected in FTP directory %q in DELETE mode: unpredictable file deletion",
				ftpDirectory),
		}
	}

	if len(deleteMonitors) > 0 && currentMode == ModeKeep {
		return Conflict{
			Level: ConflictWarning,
			Message: fmt.Sprintf(
				"DELETE-mode peer %s (%s) detected in %q while this instance is KEEP mode",
				deleteMonitors[0].ProfileName, deleteMonitors[0].Hostname, ftpDirectory),
		}
	}

	if currentMode == ModeDelete && len(keepMonitors) > 0 {
		return Conflict{
			Level: ConflictWarning,
			Message: fmt.Sprintf(
				"%d KEEP-mode peer(s) detected in %q while this instance is DELETE mode",
				len(keepMonitors), ftpDirectory),
		}
	}

	if currentMode == ModeKeep && len(keepMonitors) >= 1 {
		return Conflict{
			Level: ConflictInfo,
			Message: fmt.Sprintf(
				"Multiple FTPUploaders in KEEP mode in %q: safe but redundant",
				ftpDirectory),
		}
	}

	return Conflict{Level: ConflictNone}
}

// ResolveIP discovers the outbound interface address using the
// UDP-connect-without-send trick, falling back to parsing interface
// listings, then to "unknown", per spec.md §4.D. Loopback and
// link-local addresses are rejected.
func ResolveIP() string {
	if ip := udpDialIP(); ip != "" {
		return ip
	}
	if ip := interfaceListIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func udpDialIP() string {
	conn, err := net.Dial("udp", "203.0.113.1:80") // TEST-NET-3, no packet sent
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	if isUsableIP(addr.IP) {
		return addr.IP.String()
	}
	return ""
}

func interfaceListIP() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if isUsableIP(ip) {
				return ip.String()
			}
		}
	}
	return ""
}

func isUsableIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return false
	}
	return true
}

// LookupHostname resolves the OS hostname, used as part of this
// instance's identity.
func LookupHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}
