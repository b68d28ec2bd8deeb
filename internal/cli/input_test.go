package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSecret(t *testing.T) {
	saved := readPassword
	defer func() { readPassword = saved }()
	readPassword = func(fd int) ([]byte, error) {
		return []byte("hunter2"), nil
	}

	var out bytes.Buffer
	secret, err := GetSecret(&out)
	require.NoError(t, err)
	assert.Equal(t, []byte("hunter2"), secret)
	assert.Contains(t, out.String(), "Enter owner secret")
}

func TestGetSecret_ReadError(t *testing.T) {
	saved := readPassword
	defer func() { readPassword = saved }()
	boom := errors.New("terminal gone")
	readPassword = func(fd int) ([]byte, error) {
		return nil, boom
	}

	var out bytes.Buffer
	_, err := GetSecret(&out)
	assert.ErrorIs(t, err, boom)
}
