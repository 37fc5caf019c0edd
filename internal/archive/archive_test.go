package archive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/oszuidwest/zwfm-loudwatch/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	puts    map[string][]byte
	deleted []string
	putErr  error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.puts == nil {
		f.puts = make(map[string][]byte)
	}
	f.puts[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(&Config{Bucket: "b"})
	require.ErrorIs(t, err, ErrNotConfigured)

	a, err := New(&Config{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	assert.NotNil(t, a)
}

func TestUploadStoresRecordUnderDatedKey(t *testing.T) {
	api := &fakeS3{}
	a := newArchiver(api, "bucket", "/triggers/")

	ev := types.TriggerEvent{ID: "abc", At: time.Date(2026, 4, 9, 23, 30, 0, 0, time.UTC), Energy: 1.5}
	key, err := a.Upload(context.Background(), Record{Event: ev, Phone: "+31", Result: types.ResultDelivered})
	require.NoError(t, err)
	assert.Equal(t, "triggers/2026/04/09/abc.json", key)

	var stored Record
	require.NoError(t, json.Unmarshal(api.puts[key], &stored))
	assert.Equal(t, 1.5, stored.Event.Energy)
	assert.Equal(t, types.ResultDelivered, stored.Result)
	assert.False(t, stored.ArchivedAt.IsZero())
}

func TestUploadError(t *testing.T) {
	a := newArchiver(&fakeS3{putErr: errors.New("access denied")}, "bucket", "")
	_, err := a.Upload(context.Background(), Record{Event: types.TriggerEvent{ID: "x"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestTestConnectionCleansUp(t *testing.T) {
	api := &fakeS3{}
	a := newArchiver(api, "bucket", "triggers")
	require.NoError(t, a.TestConnection(context.Background()))
	require.Len(t, api.deleted, 1)
	assert.Contains(t, api.puts, api.deleted[0])
}
