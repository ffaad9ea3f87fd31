package connmgr

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want Class
	}{
		{"530 Too many connections from this IP", ClassServerRejection},
		{"421 Service not available", ClassServerRejection},
		{"Connection refused by host", ClassServerRejection},
		{"read tcp: connection reset by peer", ClassNetwork},
		{"i/o timeout", ClassNetwork},
		{"broken pipe", ClassNetwork},
		{"550 File not found", ClassGeneric},
		{"", ClassGeneric},
	}
	for _, c := range cases {
		assert.Equalf(t, c.want, Classify(c.text), "text=%q", c.text)
	}
}

func TestRecordFailureFastModeCapsAndGrows(t *testing.T) {
	m := NewManager()

	_, d1 := m.RecordFailure("i/o timeout", 1.0)
	_, d2 := m.RecordFailure("i/o timeout", 1.0)

	require.Greater(t, d2, time.Duration(0))
	// Growth should at least not shrink on repeated failures, within jitter bounds.
	assert.GreaterOrEqual(t, d2, d1/2)
	// Fast mode caps at max(sync_interval, 5s).
	assert.LessOrEqual(t, d2, 5*time.Second)
}

func TestRecordFailureServerRejectionSticky(t *testing.T) {
	m := NewManager()
	rejection, _ := m.RecordFailure("too many connections", 10.0)
	assert.True(t, rejection)
	assert.True(t, m.ShouldReduceConnections())

	m.RecordSuccess()
	assert.False(t, m.ShouldReduceConnections())
	assert.Equal(t, 0, m.FailureCount())
}

func TestRecordFailureNormalModeCap(t *testing.T) {
	m := NewManager()
	var last time.Duration
	for i := 0; i < 10; i++ {
		_, d := m.RecordFailure("too many connections", 30.0)
		last = d
	}
	assert.LessOrEqual(t, last, 300*time.Second+1)
}

func TestReducedWorkerCount(t *testing.T) {
	assert.Equal(t, 1, ReducedWorkerCount(1))
	assert.Equal(t, 1, ReducedWorkerCount(4))
	assert.Equal(t, 2, ReducedWorkerCount(8))
	assert.Equal(t, 1, ReducedWorkerCount(0))
}

func TestFailureCountIncrements(t *testing.T) {
	m := NewManager()
	m.RecordFailure("generic error", 10.0)
	m.RecordFailure("generic error", 10.0)
	assert.Equal(t, 2, m.FailureCount())
}

func TestClassifyCaseInsensitive(t *testing.T) {
	assert.Equal(t, ClassServerRejection, Classify(strings.ToUpper("connection refused")))
}
