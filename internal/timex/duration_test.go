package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "duration string", input: `"1m30s"`, want: 90 * time.Second},
		{name: "nanoseconds number", input: `2000000000`, want: 2 * time.Second},
		{name: "zero", input: `0`, want: 0},
		{name: "bad string", input: `"not a duration"`, wantErr: true},
		{name: "wrong type", input: `true`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Std())
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestDuration_RoundTrip(t *testing.T) {
	original := Duration(3*time.Minute + 15*time.Second)
	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded Duration
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, original, decoded)
}
