package artifacts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aqiwatch/internal/features"
	"aqiwatch/internal/model"
	"aqiwatch/internal/types"
)

func testArtifact(trainedAt time.Time) *model.Artifact {
	schema := features.Schema{Names: []string{"aqi_lag_1h"}, Lags: []time.Duration{time.Hour}}
	return &model.Artifact{
		FormatVersion:     model.ArtifactFormatVersion,
		Backend:           model.BackendGBT,
		TrainedAt:         trainedAt,
		Schema:            schema,
		SchemaFingerprint: schema.Fingerprint(),
		Horizons: []model.HorizonArtifact{
			{Offset: time.Hour, Label: "1h", Model: json.RawMessage(`{"base":1,"learning_rate":0.1,"num_features":1,"trees":[]}`)},
		},
	}
}

// fakeS3 is an in-memory S3API.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
	puts    []string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string][]byte)} }

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.puts = append(f.puts, *in.Key)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, in *s3.HeadBucketInput, _ ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.HeadBucketOutput{}, nil
}

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	fs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
		"s3":     NewS3Store(newFakeS3(), S3Config{Bucket: "models", Prefix: "aqi/"}),
	}
}

func TestStores_SaveLoadLatest(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			first := testArtifact(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
			id1, err := store.Save(ctx, first, "aqi-forecast")
			require.NoError(t, err)
			assert.Empty(t, first.ID, "Save must not mutate the caller's artifact")

			second := testArtifact(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
			id2, err := store.Save(ctx, second, "aqi-forecast")
			require.NoError(t, err)
			assert.NotEqual(t, id1, id2)

			loaded, err := store.Load(ctx, id1)
			require.NoError(t, err)
			assert.Equal(t, id1, loaded.ID)
			assert.Equal(t, "aqi-forecast", loaded.Name)
			assert.True(t, loaded.TrainedAt.Equal(first.TrainedAt))
			assert.Equal(t, first.SchemaFingerprint, loaded.SchemaFingerprint)

			latest, err := store.Latest(ctx, "aqi-forecast")
			require.NoError(t, err)
			assert.Equal(t, id2, latest.ID)
		})
	}
}

func TestStores_NotFound(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load(ctx, "0190a9a4-8b1c-7000-8000-000000000000")
			assert.True(t, types.IsCode(err, types.ErrCodeNotFoundArtifact), "got %v", err)

			_, err = store.Load(ctx, "../etc/passwd")
			assert.True(t, types.IsCode(err, types.ErrCodeNotFoundArtifact), "got %v", err)

			_, err = store.Latest(ctx, "never-saved")
			assert.True(t, types.IsCode(err, types.ErrCodeNotFoundArtifact), "got %v", err)
		})
	}
}

func TestStores_SaveValidation(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Save(ctx, nil, "x")
			assert.Error(t, err)
			_, err = store.Save(ctx, testArtifact(time.Now()), "")
			assert.True(t, types.IsCode(err, types.ErrCodeValidationMissingField))
		})
	}
}

func TestS3Store_KeysAndPointerOrder(t *testing.T) {
	api := newFakeS3()
	store := NewS3Store(api, S3Config{Bucket: "models", Prefix: "/aqi/"})

	id, err := store.Save(context.Background(), testArtifact(time.Now()), "lahore")
	require.NoError(t, err)

	require.Len(t, api.puts, 2)
	assert.Equal(t, "aqi/artifacts/"+id+".json.zst", api.puts[0])
	assert.Equal(t, "aqi/latest/lahore", api.puts[1])
	assert.Equal(t, id, string(api.objects["aqi/latest/lahore"]))
}

func TestS3Store_BackendFailureIsUnavailable(t *testing.T) {
	api := newFakeS3()
	store := NewS3Store(api, S3Config{Bucket: "models"})
	id, err := store.Save(context.Background(), testArtifact(time.Now()), "lahore")
	require.NoError(t, err)

	api.err = errors.New("connection reset by peer")

	_, err = store.Load(context.Background(), id)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamArtifactStore))
	_, err = store.Latest(context.Background(), "lahore")
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamArtifactStore))
	_, err = store.Save(context.Background(), testArtifact(time.Now()), "lahore")
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamArtifactStore))
	assert.True(t, types.IsCode(store.Ping(context.Background()), types.ErrCodeUpstreamArtifactStore))
}

// slowS3 blocks until the per-call deadline fires.
type slowS3 struct{ *fakeS3 }

func (s *slowS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestS3Store_TimeoutIsUnavailable(t *testing.T) {
	store := NewS3Store(&slowS3{fakeS3: newFakeS3()}, S3Config{Bucket: "models", Timeout: 10 * time.Millisecond})

	_, err := store.Latest(context.Background(), "lahore")
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCodeUpstreamArtifactStore))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestS3Store_CorruptObject(t *testing.T) {
	api := newFakeS3()
	store := NewS3Store(api, S3Config{Bucket: "models"})
	id := "0190a9a4-8b1c-7000-8000-000000000001"
	api.objects["artifacts/"+id+".json.zst"] = []byte("garbage")

	_, err := store.Load(context.Background(), id)
	assert.True(t, types.IsCode(err, types.ErrCodeInternalArtifactCorrupt))
}
