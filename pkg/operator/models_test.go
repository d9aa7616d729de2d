package operator

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInmateUnmarshal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		want      Inmate
		wantField string
		wantErr   bool
	}{
		{
			name:  "id key",
			input: `{"id":7,"hostname":"h1","last_checkin":0}`,
			want:  Inmate{ID: 7, Hostname: "h1", LastCheckIn: 0},
		},
		{
			name:  "legacy rowid key",
			input: `{"rowid":3,"hostname":"box","last_checkin":1700000000}`,
			want:  Inmate{ID: 3, Hostname: "box", LastCheckIn: 1700000000},
		},
		{
			name:  "unknown fields ignored",
			input: `{"id":1,"hostname":"a","last_checkin":5,"os":"linux"}`,
			want:  Inmate{ID: 1, Hostname: "a", LastCheckIn: 5},
		},
		{
			name:      "missing hostname",
			input:     `{"id":1,"last_checkin":5}`,
			wantField: "hostname",
			wantErr:   true,
		},
		{
			name:      "missing id",
			input:     `{"hostname":"a","last_checkin":5}`,
			wantField: "id",
			wantErr:   true,
		},
		{
			name:    "wrong type",
			input:   `{"id":"seven","hostname":"a","last_checkin":5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Inmate
			err := json.Unmarshal([]byte(tt.input), &got)
			if tt.wantErr {
				var decodeErr *DecodeError
				require.True(t, errors.As(err, &decodeErr), "expected DecodeError, got %v", err)
				assert.Equal(t, tt.wantField, decodeErr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPostRequestUnmarshal(t *testing.T) {
	t.Run("byte array content", func(t *testing.T) {
		var got PostRequest
		err := json.Unmarshal([]byte(`{"timestamp":100,"action_type":"shell","action_parameters":"whoami","content":[111,107]}`), &got)
		require.NoError(t, err)
		assert.Equal(t, PostRequest{Timestamp: 100, ActionType: "shell", ActionParameters: "whoami", Content: Payload("ok")}, got)
	})

	t.Run("base64 content and legacy keys", func(t *testing.T) {
		var got PostRequest
		err := json.Unmarshal([]byte(`{"timestamp":5,"task":"download","task_parameters":"/etc/hosts","content":"AQID"}`), &got)
		require.NoError(t, err)
		assert.Equal(t, ActionType("download"), got.ActionType)
		assert.Equal(t, "/etc/hosts", got.ActionParameters)
		assert.Equal(t, Payload{1, 2, 3}, got.Content)
	})

	t.Run("parameters optional", func(t *testing.T) {
		var got PostRequest
		require.NoError(t, json.Unmarshal([]byte(`{"timestamp":5,"action_type":"ps","content":[]}`), &got))
		assert.Empty(t, got.ActionParameters)
	})

	t.Run("missing content", func(t *testing.T) {
		var got PostRequest
		err := json.Unmarshal([]byte(`{"timestamp":5,"action_type":"ps"}`), &got)
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Equal(t, "content", decodeErr.Field)
	})

	t.Run("content out of byte range", func(t *testing.T) {
		var got PostRequest
		err := json.Unmarshal([]byte(`{"timestamp":5,"action_type":"ps","content":[256]}`), &got)
		var decodeErr *DecodeError
		require.True(t, errors.As(err, &decodeErr))
		assert.Empty(t, decodeErr.Field)
	})
}

func TestPostRequestHeaders(t *testing.T) {
	req := PostRequest{Timestamp: 42, ActionType: "shell", ActionParameters: "id", Content: Payload("x")}
	assert.Equal(t, PostRequestHeaders{Timestamp: 42, ActionType: "shell", ActionParameters: "id"}, req.Headers())
}

func TestCheckInResponseEncoding(t *testing.T) {
	data, err := json.Marshal(CheckInResponse{Task: "shell", TaskParameters: "whoami"})
	require.NoError(t, err)
	assert.Equal(t, `{"task":"shell","task_parameters":"whoami"}`, string(data))
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(&APIError{StatusCode: 404}))
	assert.False(t, IsNotFound(&APIError{StatusCode: 500}))
	assert.False(t, IsNotFound(errors.New("boom")))
}
