package jailer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"

	"jailer/pkg/operator"
)

const presignTTL = 15 * time.Minute

// ObjectStore is the subset of the S3 client used to mirror artifacts.
type ObjectStore interface {
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, sha256 string) error
	PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error)
}

// ArtifactSink stores task payloads under Dir/{implant}/{action_type}/{timestamp}.
type ArtifactSink struct {
	Dir        string
	Compress   bool
	Recipients []age.Recipient
	Store      ObjectStore
	Bucket     string
	Logger     zerolog.Logger
}

// Write stores content and returns the path of the written file. The
// directory is created if needed; an existing file is replaced.
func (s *ArtifactSink) Write(ctx context.Context, implantID uint32, headers operator.PostRequestHeaders, content []byte) (string, error) {
	if s == nil {
		return "", errors.New("nil artifact sink")
	}
	if err := checkPathSegment(string(headers.ActionType)); err != nil {
		return "", err
	}

	id := strconv.FormatUint(uint64(implantID), 10)
	dir := filepath.Join(s.Dir, id, string(headers.ActionType))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	name := strconv.FormatInt(headers.Timestamp, 10)
	data := content
	if s.Compress {
		compressed, err := compress(data)
		if err != nil {
			return "", err
		}
		data = compressed
		name += ".zst"
	}
	if len(s.Recipients) > 0 {
		encrypted, err := encrypt(data, s.Recipients)
		if err != nil {
			return "", err
		}
		data = encrypted
		name += ".age"
	}

	target := filepath.Join(dir, name)
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}

	if s.Store != nil && s.Bucket != "" {
		s.mirror(ctx, path.Join("artifacts", id, string(headers.ActionType), name), data)
	}

	return target, nil
}

// mirror uploads data to the bucket. The local file is already in place, so
// failures are only logged.
func (s *ArtifactSink) mirror(ctx context.Context, key string, data []byte) {
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	if err := s.Store.PutObject(ctx, s.Bucket, key, bytes.NewReader(data), int64(len(data)), digest); err != nil {
		s.Logger.Warn().Err(err).Str("bucket", s.Bucket).Str("key", key).Msg("upload artifact")
		return
	}

	url, err := s.Store.PresignGet(ctx, s.Bucket, key, presignTTL)
	if err != nil {
		s.Logger.Warn().Err(err).Str("key", key).Msg("presign artifact")
		return
	}
	s.Logger.Info().
		Str("bucket", s.Bucket).
		Str("key", key).
		Str("sha256", digest).
		Str("url", url).
		Msg("artifact mirrored")
}

func checkPathSegment(segment string) error {
	switch {
	case segment == "", segment == ".", segment == "..":
		return fmt.Errorf("action type %q cannot be used as a directory name", segment)
	case strings.ContainsAny(segment, `/\`), strings.ContainsRune(segment, 0):
		return fmt.Errorf("action type %q cannot be used as a directory name", segment)
	}
	return nil
}

func compress(data []byte) ([]byte, error) {
	encoder, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer encoder.Close()
	return encoder.EncodeAll(data, make([]byte, 0, len(data))), nil
}

func encrypt(data []byte, recipients []age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	return buf.Bytes(), nil
}

func parseRecipients(values []string) ([]age.Recipient, error) {
	var recipients []age.Recipient
	for _, raw := range values {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		r, err := age.ParseX25519Recipient(trimmed)
		if err != nil {
			return nil, fmt.Errorf("parse age recipient: %w", err)
		}
		recipients = append(recipients, r)
	}
	return recipients, nil
}
