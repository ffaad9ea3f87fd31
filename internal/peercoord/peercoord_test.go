package peercoord

import (
	"fmt"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	files map[string][]byte
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{files: map[string][]byte{}}
}

func (f *fakeUploader) Retrieve(name string) ([]byte, error) {
	data, ok := f.files[name]
	if !ok {
		return nil, fmt.Errorf("not found: %s", name)
	}
	return data, nil
}

func (f *fakeUploader) StoreFile(name string, data []byte) error {
	f.files[name] = data
	return nil
}

func (f *fakeUploader) Delete(name string) error {
	if _, ok := f.files[name]; !ok {
		return fmt.Errorf("not found: %s", name)
	}
	delete(f.files, name)
	return nil
}

func (f *fakeUploader) listing() []string {
	names := make([]string, 0, len(f.files))
	for n := range f.files {
		names = append(names, n)
	}
	return names
}

func TestReadFromListingAbsent(t *testing.T) {
	u := newFakeUploader()
	doc, present := ReadFromListing(u, u.listing())
	require.False(t, present)
	require.Nil(t, doc)
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	u := newFakeUploader()
	id := Identity{Hostname: "host-a", ProfileName: "profile-1"}

	require.NoError(t, Write(u, u.listing(), id, "10.0.0.5", ModeUpload, time.Now()))

	doc, present := ReadFromListing(u, u.listing())
	require.True(t, present)
	require.Len(t, doc.Monitors, 1)
	require.Equal(t, "10.0.0.5", doc.Monitors[0].IP)
}

func TestWriteUpsertsSameInstance(t *testing.T) {
	u := newFakeUploader()
	id := Identity{Hostname: "host-a", ProfileName: "profile-1"}

	require.NoError(t, Write(u, u.listing(), id, "10.0.0.5", ModeUpload, time.Now()))
	require.NoError(t, Write(u, u.listing(), id, "10.0.0.6", ModeKeep, time.Now()))

	doc, _ := ReadFromListing(u, u.listing())
	require.Len(t, doc.Monitors, 1)
	require.Equal(t, "10.0.0.6", doc.Monitors[0].IP)
	require.Equal(t, ModeKeep, doc.Monitors[0].Mode)
}

func TestTrimDropsStaleAndZeroEntries(t *testing.T) {
	now := time.Now()
	doc := &Document{Monitors: []Entry{
		{Hostname: "fresh", LastSeen: now.Add(-1 * time.Minute)},
		{Hostname: "stale", LastSeen: now.Add(-10 * time.Minute)},
		{Hostname: "zero"},
	}}
	out := trim(doc, now)
	require.Len(t, out.Monitors, 1)
	require.Equal(t, "fresh", out.Monitors[0].Hostname)
}

func TestCleanupRemovesSelfAndDeletesWhenEmpty(t *testing.T) {
	u := newFakeUploader()
	id := Identity{Hostname: "host-a", ProfileName: "profile-1"}
	require.NoError(t, Write(u, u.listing(), id, "10.0.0.5", ModeUpload, time.Now()))

	require.NoError(t, Cleanup(u, u.listing(), id))
	_, present := ReadFromListing(u, u.listing())
	require.False(t, present)
}

func TestCleanupKeepsOtherEntries(t *testing.T) {
	u := newFakeUploader()
	self := Identity{Hostname: "host-a", ProfileName: "profile-1"}
	other := Identity{Hostname: "host-b", ProfileName: "profile-2"}
	require.NoError(t, Write(u, u.listing(), self, "10.0.0.5", ModeUpload, time.Now()))
	require.NoError(t, Write(u, u.listing(), other, "10.0.0.6", ModeKeep, time.Now()))

	require.NoError(t, Cleanup(u, u.listing(), self))

	doc, present := ReadFromListing(u, u.listing())
	require.True(t, present)
	require.Len(t, doc.Monitors, 1)
	require.Equal(t, "host-b", doc.Monitors[0].Hostname)
}

func TestDetectConflictsCriticalOnMultipleDeleteModes(t *testing.T) {
	self := Identity{Hostname: "self", ProfileName: "p"}
	doc := &Document{Monitors: []Entry{
		{Hostname: "a", ProfileName: "1", Mode: ModeDelete},
		{Hostname: "b", ProfileName: "2", Mode: ModeDelete},
	}}
	c := DetectConflicts(doc, self, ModeUpload, "/remote")
	require.Equal(t, ConflictCritical, c.Level)
}

func TestDetectConflictsWarningDeleteVsKeep(t *testing.T) {
	self := Identity{Hostname: "self", ProfileName: "p"}
	doc := &Document{Monitors: []Entry{
		{Hostname: "a", ProfileName: "1", Mode: ModeDelete},
	}}
	c := DetectConflicts(doc, self, ModeKeep, "/remote")
	require.Equal(t, ConflictWarning, c.Level)
}

func TestDetectConflictsInfoOnMultipleKeep(t *testing.T) {
	self := Identity{Hostname: "self", ProfileName: "p"}
	doc := &Document{Monitors: []Entry{
		{Hostname: "a", ProfileName: "1", Mode: ModeKeep},
	}}
	c := DetectConflicts(doc, self, ModeKeep, "/remote")
	require.Equal(t, ConflictInfo, c.Level)
}

func TestDetectConflictsExcludesSelf(t *testing.T) {
	self := Identity{Hostname: "self", ProfileName: "p"}
	doc := &Document{Monitors: []Entry{
		{Hostname: "self", ProfileName: "p", Mode: ModeDelete},
	}}
	c := DetectConflicts(doc, self, ModeDelete, "/remote")
	require.Equal(t, ConflictNone, c.Level)
}

func TestDetectConflictsNoneWhenDocNil(t *testing.T) {
	c := DetectConflicts(nil, Identity{}, ModeUpload, "/remote")
	require.Equal(t, ConflictNone, c.Level)
}

func TestResolveIPNeverEmpty(t *testing.T) {
	ip := ResolveIP()
	require.NotEmpty(t, ip)
}

func TestDocumentJSONShape(t *testing.T) {
	doc := Document{Monitors: []Entry{{IP: "1.2.3.4", Hostname: "h", ProfileName: "p", Mode: ModeUpload, LastSeen: time.Unix(0, 0)}}}
	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"monitors"`)
}
