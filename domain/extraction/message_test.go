package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowforge/extractqueue/domain/queue"
)

type fakeImageSource struct {
	data map[string][]byte
	err  error
}

func (f *fakeImageSource) DownloadBytes(_ context.Context, key string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.data[key], nil
}

func TestBuildMessages_InterleavesImageAndOCRParts(t *testing.T) {
	source := &fakeImageSource{data: map[string][]byte{
		"batch/1.png": []byte("page-one"),
		"batch/2.jpg": []byte("page-two"),
	}}
	images := []queue.Image{
		{ID: "img-1", StorageKey: "batch/1.png", OCRText: "hello world"},
		{ID: "img-2", StorageKey: "batch/2.jpg"},
	}

	messages, err := BuildMessages(context.Background(), source, images, "extract now")
	require.NoError(t, err)
	require.Len(t, messages, 1)

	parts := messages[0].Content
	require.Len(t, parts, 4)

	assert.Equal(t, "image_url", parts[0].Type)
	assert.Equal(t, "data:image/png;base64,"+base64.StdEncoding.EncodeToString([]byte("page-one")), parts[0].ImageURL.URL)

	assert.Equal(t, "text", parts[1].Type)
	assert.Contains(t, parts[1].Text, "[OCR reference - page 1]:")
	assert.Contains(t, parts[1].Text, "hello world")

	assert.Equal(t, "image_url", parts[2].Type)
	assert.Equal(t, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString([]byte("page-two")), parts[2].ImageURL.URL)

	assert.Equal(t, "text", parts[3].Type)
	assert.Equal(t, "extract now", parts[3].Text)
}

func TestBuildMessages_SurfacesDownloadErrors(t *testing.T) {
	source := &fakeImageSource{err: errors.New("boom")}
	images := []queue.Image{{ID: "img-1", StorageKey: "batch/1.png"}}

	_, err := BuildMessages(context.Background(), source, images, "prompt")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "img-1")
}

func TestImageFormat(t *testing.T) {
	assert.Equal(t, "jpeg", imageFormat("batch/a.jpg"))
	assert.Equal(t, "jpeg", imageFormat("batch/a.jpeg"))
	assert.Equal(t, "png", imageFormat("batch/a.png"))
	assert.Equal(t, "webp", imageFormat("batch/a.webp"))
	assert.Equal(t, "png", imageFormat("batch/no-extension"))
}
