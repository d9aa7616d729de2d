package jailer

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jailer/pkg/operator"
)

const (
	naiveTimeLayout  = "2006-01-02 15:04:05"
	utf8FailedNotice = "Failed to convert content to string"
)

// OutputMode selects how responses are rendered.
type OutputMode string

const (
	// OutputText renders typed records in their human-readable form.
	OutputText OutputMode = "text"
	// OutputJSON renders decoded records as indented JSON.
	OutputJSON OutputMode = "json"
	// OutputRaw prints response bodies verbatim.
	OutputRaw OutputMode = "raw"
)

// ParseOutputMode validates an output mode name.
func ParseOutputMode(s string) (OutputMode, error) {
	switch mode := OutputMode(strings.ToLower(strings.TrimSpace(s))); mode {
	case OutputText, OutputJSON, OutputRaw:
		return mode, nil
	case "":
		return OutputText, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want text, json or raw)", s)
	}
}

// DisplayMode selects what get-recent-task does with the task payload.
type DisplayMode string

const (
	// DisplayForget prints only the task header.
	DisplayForget DisplayMode = "f"
	// DisplayString prints the payload as UTF-8 text.
	DisplayString DisplayMode = "s"
	// DisplayBytes prints the payload as a list of byte values.
	DisplayBytes DisplayMode = "b"
	// DisplayOutput writes the payload to the artifacts directory.
	DisplayOutput DisplayMode = "o"
)

// FormatTimestamp renders Unix seconds as a timezone-less UTC date-time.
func FormatTimestamp(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(naiveTimeLayout)
}

// FormatInmate renders an inmate on one line.
func FormatInmate(inmate operator.Inmate) string {
	return fmt.Sprintf("Inmate { implant_id: %d, hostname: %s, last_check_in: %s }",
		inmate.ID, inmate.Hostname, FormatTimestamp(inmate.LastCheckIn))
}

// FormatHeaders renders task result metadata. The trailing space after the
// parameters is part of the format.
func FormatHeaders(h operator.PostRequestHeaders) string {
	return fmt.Sprintf("timestamp: %s\n%s: %s ", FormatTimestamp(h.Timestamp), h.ActionType, h.ActionParameters)
}

// FormatBytes renders a byte slice as a bracketed, comma-separated list of
// decimal values.
func FormatBytes(b []byte) string {
	var sb strings.Builder
	sb.Grow(2 + len(b)*5)
	sb.WriteByte('[')
	for i, v := range b {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(strconv.Itoa(int(v)))
	}
	sb.WriteByte(']')
	return sb.String()
}
