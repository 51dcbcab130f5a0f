package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStore_PutAndURL(t *testing.T) {
	dir := t.TempDir()
	st := NewLocal(dir, "http://localhost:8080/files/")
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, "subtitles/t-1/m 1/en.vtt", []byte("WEBVTT\n"), "text/vtt"))
	body, err := os.ReadFile(filepath.Join(dir, "subtitles", "t-1", "m 1", "en.vtt"))
	require.NoError(t, err)
	assert.Equal(t, "WEBVTT\n", string(body))

	u, err := st.URL(ctx, "subtitles/t-1/m 1/en.vtt")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/files/subtitles/t-1/m%201/en.vtt", u)
}

func TestLocalStore_KeysStayInsideRoot(t *testing.T) {
	dir := t.TempDir()
	st := NewLocal(dir, "http://x")
	require.NoError(t, st.Put(context.Background(), "../../etc/passwd", []byte("x"), "text/plain"))
	_, err := os.Stat(filepath.Join(dir, "etc", "passwd"))
	assert.NoError(t, err, "parent references are clamped to the root")

	_, err = sanitizeKey("")
	assert.ErrorIs(t, err, errBadKey)
}

func TestS3Store_PresignedURL(t *testing.T) {
	client := s3.New(s3.Options{
		Region:       "us-east-1",
		BaseEndpoint: aws.String("http://minio.local:9000"),
		UsePathStyle: true,
		Credentials:  aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
			return aws.Credentials{AccessKeyID: "AKIDEXAMPLE", SecretAccessKey: "secret"}, nil
		}),
	})
	st := NewS3(client, "subtitles", 15*time.Minute)

	u, err := st.URL(context.Background(), "subtitles/t-1/m-1/en.vtt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "http://minio.local:9000/subtitles/subtitles/t-1/m-1/en.vtt"), u)
}
