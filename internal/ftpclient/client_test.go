package ftpclient

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsNoSuchFile(t *testing.T) {
	require.True(t, isNoSuchFile(errors.New("550 No such file or directory")))
	require.True(t, isNoSuchFile(errors.New("file not found")))
	require.False(t, isNoSuchFile(errors.New("530 Login incorrect")))
}
