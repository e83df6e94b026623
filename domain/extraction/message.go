package extraction

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/rowforge/extractqueue/domain/queue"
	"github.com/rowforge/extractqueue/internal/storage"
	"github.com/rowforge/extractqueue/pkg/llm/openai"
)

// ImageSource loads the raw bytes for a stored image, given its storage
// key. Satisfied by *storage.Service; an interface here lets tests supply
// a fake without an S3-compatible backend.
type ImageSource interface {
	DownloadBytes(ctx context.Context, key string) ([]byte, error)
}

var _ ImageSource = (*storage.Service)(nil)

// BuildMessages assembles the §4.5 step 2 chat-completions payload: one
// user message whose content interleaves, for each image in order, a
// base64 data-URL part followed (if OCR text is non-empty) by a
// `[OCR reference - page N]:` text part. The prompt text is appended last.
func BuildMessages(ctx context.Context, source ImageSource, images []queue.Image, prompt string) ([]openai.ChatMessage, error) {
	var parts []openai.ContentPart

	for i, img := range images {
		data, err := source.DownloadBytes(ctx, img.StorageKey)
		if err != nil {
			return nil, fmt.Errorf("load image %s: %w", img.ID, err)
		}
		parts = append(parts, openai.ImageContent(imageFormat(img.StorageKey), base64.StdEncoding.EncodeToString(data)))

		if img.OCRText != "" {
			parts = append(parts, openai.TextContent(fmt.Sprintf("[OCR reference - page %d]:\n%s", i+1, img.OCRText)))
		}
	}

	parts = append(parts, openai.TextContent(prompt))

	return []openai.ChatMessage{
		{Role: "user", Content: parts},
	}, nil
}

// imageFormat derives the image/<format> tag of the data URL from a
// storage key's extension, defaulting to png for extensionless keys (the
// object store is opaque about content type per §1).
func imageFormat(storageKey string) string {
	for i := len(storageKey) - 1; i >= 0 && i > len(storageKey)-6; i-- {
		if storageKey[i] == '.' {
			ext := storageKey[i+1:]
			switch ext {
			case "jpg":
				return "jpeg"
			case "jpeg", "png", "webp", "gif":
				return ext
			}
			break
		}
	}
	return "png"
}
