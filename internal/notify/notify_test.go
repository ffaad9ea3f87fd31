package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfigIDHashIsDeterministic(t *testing.T) {
	id := "d4e1c2b0-0000-4000-8000-000000000000"
	assert.Equal(t, ConfigIDHash(id), ConfigIDHash(id))
}

func TestConfigIDHashDiffersByInput(t *testing.T) {
	assert.NotEqual(t, ConfigIDHash("a"), ConfigIDHash("b"))
}

func TestNoProgressSentinel(t *testing.T) {
	assert.Equal(t, -1.0, NoProgress)
}
