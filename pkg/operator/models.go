package operator

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ActionType tags the kind of task an inmate runs. The set of values is owned
// by the controller; the client passes them through verbatim.
type ActionType string

func (a ActionType) String() string {
	return string(a)
}

// Inmate is a registered agent as reported by the controller.
type Inmate struct {
	ID          uint32 `json:"id"`
	Hostname    string `json:"hostname"`
	LastCheckIn int64  `json:"last_checkin"`
}

// UnmarshalJSON accepts both the "id" and the legacy "rowid" key and reports
// missing required keys as a DecodeError.
func (i *Inmate) UnmarshalJSON(data []byte) error {
	var wire struct {
		ID          *uint32 `json:"id"`
		RowID       *uint32 `json:"rowid"`
		Hostname    *string `json:"hostname"`
		LastCheckIn *int64  `json:"last_checkin"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return &DecodeError{Target: "inmate", Err: err}
	}

	id := wire.ID
	if id == nil {
		id = wire.RowID
	}
	switch {
	case id == nil:
		return &DecodeError{Target: "inmate", Field: "id"}
	case wire.Hostname == nil:
		return &DecodeError{Target: "inmate", Field: "hostname"}
	case wire.LastCheckIn == nil:
		return &DecodeError{Target: "inmate", Field: "last_checkin"}
	}

	*i = Inmate{
		ID:          *id,
		Hostname:    *wire.Hostname,
		LastCheckIn: *wire.LastCheckIn,
	}
	return nil
}

// Payload is the raw content of a task result. The controller serializes it
// as an array of byte values; base64 strings are accepted as well.
type Payload []byte

// UnmarshalJSON implements json.Unmarshaler.
func (p *Payload) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("content: %w", err)
		}
		*p = decoded
		return nil
	}

	var values []int
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	out := make([]byte, len(values))
	for idx, v := range values {
		if v < 0 || v > 255 {
			return fmt.Errorf("content[%d]: value %d out of byte range", idx, v)
		}
		out[idx] = byte(v)
	}
	*p = out
	return nil
}

// PostRequest is the stored result of a check-in, as returned by the recent
// task endpoint.
type PostRequest struct {
	Timestamp        int64      `json:"timestamp"`
	ActionType       ActionType `json:"action_type"`
	ActionParameters string     `json:"action_parameters"`
	Content          Payload    `json:"content"`
}

// UnmarshalJSON accepts the legacy "task"/"task_parameters" keys and requires
// timestamp, action type and content.
func (p *PostRequest) UnmarshalJSON(data []byte) error {
	var wire struct {
		Timestamp        *int64      `json:"timestamp"`
		ActionType       *ActionType `json:"action_type"`
		Task             *ActionType `json:"task"`
		ActionParameters *string     `json:"action_parameters"`
		TaskParameters   *string     `json:"task_parameters"`
		Content          *Payload    `json:"content"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return &DecodeError{Target: "post request", Err: err}
	}

	action := wire.ActionType
	if action == nil {
		action = wire.Task
	}
	params := wire.ActionParameters
	if params == nil {
		params = wire.TaskParameters
	}
	switch {
	case wire.Timestamp == nil:
		return &DecodeError{Target: "post request", Field: "timestamp"}
	case action == nil:
		return &DecodeError{Target: "post request", Field: "action_type"}
	case wire.Content == nil:
		return &DecodeError{Target: "post request", Field: "content"}
	}

	*p = PostRequest{
		Timestamp:  *wire.Timestamp,
		ActionType: *action,
		Content:    *wire.Content,
	}
	if params != nil {
		p.ActionParameters = *params
	}
	return nil
}

// Headers returns the metadata portion of the request.
func (p PostRequest) Headers() PostRequestHeaders {
	return PostRequestHeaders{
		Timestamp:        p.Timestamp,
		ActionType:       p.ActionType,
		ActionParameters: p.ActionParameters,
	}
}

// PostRequestHeaders is the metadata of a stored task result.
type PostRequestHeaders struct {
	Timestamp        int64      `json:"timestamp"`
	ActionType       ActionType `json:"action_type"`
	ActionParameters string     `json:"action_parameters"`
}

// CheckInResponse is the task submission payload.
type CheckInResponse struct {
	Task           ActionType `json:"task"`
	TaskParameters string     `json:"task_parameters"`
}

// DecodeError reports a response body that does not match the expected
// schema. Field is set when a required key is missing.
type DecodeError struct {
	Target string
	Field  string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: missing field %q", e.Target, e.Field)
	}
	return fmt.Sprintf("decode %s: %v", e.Target, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// APIError reports a non-2xx response from the controller.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("controller returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("controller returned status %d: %s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is an APIError with status 404.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == 404
}
