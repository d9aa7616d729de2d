package jailer

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jailer/pkg/operator"
	"jailer/pkg/operator/operatortest"
)

func TestOpen(t *testing.T) {
	ctrl := operatortest.New()
	ctrl.AddInmate(operator.Inmate{ID: 1, Hostname: "a"})
	ctrl.AddInmate(operator.Inmate{ID: 2, Hostname: "b"})
	srv := ctrl.Start(t)

	cfg := DefaultConfig()
	cfg.APIURL = srv.URL
	cfg.ArtifactsDir = t.TempDir()

	var out bytes.Buffer
	rt, err := Open(context.Background(), cfg, &out, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, rt.Dispatcher.InmateCount(context.Background()))
	assert.Equal(t, "2\n", out.String())
	assert.NoError(t, rt.Close(context.Background()))
	assert.NoError(t, rt.Close(context.Background()))
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Output = "xml"
	_, err := Open(context.Background(), cfg, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestOpenWiresS3Mirror(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArtifactBucket = "loot"
	cfg.S3Endpoint = "http://127.0.0.1:9000"
	cfg.S3AccessKey = "key"
	cfg.S3SecretKey = "secret"
	cfg.S3PathStyle = true

	rt, err := Open(context.Background(), cfg, &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	defer rt.Close(context.Background())

	assert.NotNil(t, rt.Dispatcher.sink.Store)
	assert.Equal(t, "loot", rt.Dispatcher.sink.Bucket)
}

func TestOpenS3PartialCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ArtifactBucket = "loot"
	cfg.S3AccessKey = "key"
	_, err := Open(context.Background(), cfg, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClosePushesMetricsOnce(t *testing.T) {
	var pushes atomic.Int32
	r := chi.NewRouter()
	r.Put("/metrics/job/{job}", func(w http.ResponseWriter, req *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	gateway := httptest.NewServer(r)
	defer gateway.Close()

	cfg := DefaultConfig()
	cfg.PushgatewayURL = gateway.URL

	rt, err := Open(context.Background(), cfg, &bytes.Buffer{}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, rt.Close(context.Background()))
	require.NoError(t, rt.Close(context.Background()))
	assert.Equal(t, int32(1), pushes.Load())
}

func TestOpenNATSUnreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NATSURL = "nats://127.0.0.1:1"
	_, err := Open(context.Background(), cfg, &bytes.Buffer{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestCloseNil(t *testing.T) {
	var rt *Runtime
	assert.NoError(t, rt.Close(context.Background()))
}
