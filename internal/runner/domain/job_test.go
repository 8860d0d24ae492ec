package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaders_Scan(t *testing.T) {
	tests := []struct {
		name    string
		src     any
		want    Headers
		wantErr bool
	}{
		{
			name: "bytes",
			src:  []byte(`{"Authorization":"Bearer x","X-Trace":"1"}`),
			want: Headers{"Authorization": "Bearer x", "X-Trace": "1"},
		},
		{
			name: "string",
			src:  `{"A":"b"}`,
			want: Headers{"A": "b"},
		},
		{
			name: "null column",
			src:  nil,
			want: Headers{},
		},
		{
			name:    "malformed json",
			src:     []byte(`{"A":`),
			wantErr: true,
		},
		{
			name:    "unsupported type",
			src:     42,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var h Headers
			err := h.Scan(tt.src)

			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, h)
		})
	}
}

func TestHeaders_Value(t *testing.T) {
	v, err := Headers{"A": "b"}.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `{"A":"b"}`, string(v.([]byte)))

	v, err = Headers(nil).Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("{}"), v)
}

func TestJob_Location(t *testing.T) {
	assert.Equal(t, "UTC", (&Job{}).Location())
	assert.Equal(t, "Europe/Berlin", (&Job{Timezone: "Europe/Berlin"}).Location())
}

func TestConfigError(t *testing.T) {
	err := NewConfigError(7, ErrInvalidTimezone)

	assert.True(t, errors.Is(err, ErrInvalidTimezone))
	assert.False(t, errors.Is(err, ErrInvalidCronExpression))

	var cfgErr *ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, int64(7), cfgErr.JobID)
	assert.Equal(t, "job 7: invalid timezone", err.Error())
}
