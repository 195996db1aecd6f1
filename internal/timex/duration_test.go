package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    time.Duration
		wantErr bool
	}{
		{name: "string", in: `"3s"`, want: 3 * time.Second},
		{name: "compound string", in: `"1m30s"`, want: 90 * time.Second},
		{name: "nanoseconds", in: `1000000`, want: time.Millisecond},
		{name: "bad string", in: `"soon"`, wantErr: true},
		{name: "bool", in: `true`, wantErr: true},
		{name: "not json", in: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration
			err := json.Unmarshal([]byte(tt.in), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Duration)
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Interval Duration `json:"interval"`
	}{Interval: Duration{2 * time.Minute}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"interval":"2m0s"}`, string(b))
}

func TestDuration_TOML(t *testing.T) {
	var cfg struct {
		LockBackoff Duration `toml:"lock_backoff"`
	}
	require.NoError(t, toml.Unmarshal([]byte(`lock_backoff = "250ms"`), &cfg))
	assert.Equal(t, 250*time.Millisecond, cfg.LockBackoff.Duration)

	out, err := toml.Marshal(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "250ms")

	cfg.LockBackoff = Duration{}
	require.NoError(t, toml.Unmarshal(out, &cfg))
	assert.Equal(t, 250*time.Millisecond, cfg.LockBackoff.Duration)
}
