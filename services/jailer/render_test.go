package jailer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jailer/pkg/operator"
)

func TestFormatTimestamp(t *testing.T) {
	assert.Equal(t, "1970-01-01 00:00:00", FormatTimestamp(0))
	assert.Equal(t, "1970-01-01 00:01:40", FormatTimestamp(100))
	assert.Equal(t, "2023-11-14 22:13:20", FormatTimestamp(1700000000))
}

func TestFormatInmate(t *testing.T) {
	got := FormatInmate(operator.Inmate{ID: 7, Hostname: "h1", LastCheckIn: 0})
	assert.Equal(t, "Inmate { implant_id: 7, hostname: h1, last_check_in: 1970-01-01 00:00:00 }", got)
	assert.Contains(t, got, "implant_id: 7, hostname: h1, last_check_in: 1970-01-01 00:00:00")
}

func TestFormatHeaders(t *testing.T) {
	got := FormatHeaders(operator.PostRequestHeaders{Timestamp: 100, ActionType: "shell", ActionParameters: "whoami"})
	assert.Equal(t, "timestamp: 1970-01-01 00:01:40\nshell: whoami ", got)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "[]", FormatBytes(nil))
	assert.Equal(t, "[1, 2, 3]", FormatBytes([]byte{1, 2, 3}))
	assert.Equal(t, "[255, 254]", FormatBytes([]byte{0xFF, 0xFE}))
}

func TestParseOutputMode(t *testing.T) {
	tests := []struct {
		input   string
		want    OutputMode
		wantErr bool
	}{
		{input: "", want: OutputText},
		{input: "text", want: OutputText},
		{input: "JSON", want: OutputJSON},
		{input: " raw ", want: OutputRaw},
		{input: "yaml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseOutputMode(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
