package storage

import (
	"strings"
	"testing"
)

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "empty string",
			input:    "",
			expected: "unnamed",
		},
		{
			name:     "simple filename",
			input:    "document.pdf",
			expected: "document.pdf",
		},
		{
			name:     "uppercase to lowercase",
			input:    "DOCUMENT.PDF",
			expected: "document.pdf",
		},
		{
			name:     "mixed case",
			input:    "MyDocument.PDF",
			expected: "mydocument.pdf",
		},
		{
			name:     "spaces replaced with underscore",
			input:    "my document.pdf",
			expected: "my_document.pdf",
		},
		{
			name:     "multiple spaces collapsed",
			input:    "my   document.pdf",
			expected: "my_document.pdf",
		},
		{
			name:     "special characters replaced",
			input:    "doc@#$%file.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "leading underscore trimmed",
			input:    "_document.pdf",
			expected: "document.pdf",
		},
		{
			name:     "multiple underscores collapsed",
			input:    "doc___file.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "parentheses replaced",
			input:    "document (1).pdf",
			expected: "document_1_.pdf",
		},
		{
			name:     "dashes preserved",
			input:    "my-document.pdf",
			expected: "my-document.pdf",
		},
		{
			name:     "numbers preserved",
			input:    "file123.pdf",
			expected: "file123.pdf",
		},
		{
			name:     "dots preserved",
			input:    "file.backup.pdf",
			expected: "file.backup.pdf",
		},
		{
			name:     "all special chars becomes unnamed",
			input:    "@#$%^&*()",
			expected: "unnamed",
		},
		{
			name:     "very long filename truncated",
			input:    strings.Repeat("a", 300),
			expected: strings.Repeat("a", 200),
		},
		{
			name:     "newlines replaced",
			input:    "doc\nfile.pdf",
			expected: "doc_file.pdf",
		},
		{
			name:     "tabs replaced",
			input:    "doc\tfile.pdf",
			expected: "doc_file.pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := SanitizeFilename(tt.input)
			if result != tt.expected {
				t.Errorf("SanitizeFilename(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func TestGenerateImageKey(t *testing.T) {
	tests := []struct {
		name     string
		batchID  string
		filename string
	}{
		{name: "normal image", batchID: "batch-123", filename: "page1.png"},
		{name: "image with spaces", batchID: "batch-123", filename: "my page.png"},
		{name: "empty filename", batchID: "batch-123", filename: ""},
		{name: "special characters in filename", batchID: "batch-123", filename: "img@file#2024.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := GenerateImageKey(tt.batchID, tt.filename)

			expectedPrefix := tt.batchID + "/"
			if !strings.HasPrefix(result, expectedPrefix) {
				t.Errorf("GenerateImageKey() prefix = %q, want prefix %q", result, expectedPrefix)
			}

			expectedSanitized := SanitizeFilename(tt.filename)
			if !strings.HasSuffix(result, "-"+expectedSanitized) {
				t.Errorf("GenerateImageKey() should end with -%q, got %q", expectedSanitized, result)
			}

			suffix := strings.TrimPrefix(result, expectedPrefix)
			dashCount := 0
			uuidEnd := -1
			for i, c := range suffix {
				if c == '-' {
					dashCount++
					if dashCount == 5 {
						uuidEnd = i
						break
					}
				}
			}

			if uuidEnd != 36 {
				t.Errorf("GenerateImageKey() UUID length should be 36, found UUID end at %d in %q", uuidEnd, suffix)
			}
		})
	}
}

func TestGenerateImageKey_UniquePerCall(t *testing.T) {
	key1 := GenerateImageKey("batch", "file.png")
	key2 := GenerateImageKey("batch", "file.png")

	if key1 == key2 {
		t.Error("GenerateImageKey() should return unique keys for each call")
	}
}

func TestConfig_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "only endpoint set",
			config: Config{
				Endpoint: "http://localhost:9000",
			},
			expected: false,
		},
		{
			name: "endpoint and access key set",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
			},
			expected: false,
		},
		{
			name: "all required fields set",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "minioadmin",
			},
			expected: true,
		},
		{
			name: "full config with all fields",
			config: Config{
				Endpoint:     "http://localhost:9000",
				AccessKey:    "minioadmin",
				SecretKey:    "minioadmin",
				Region:       "us-east-1",
				BucketImages: "images",
			},
			expected: true,
		},
		{
			name: "missing secret key",
			config: Config{
				Endpoint:  "http://localhost:9000",
				AccessKey: "minioadmin",
				SecretKey: "",
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.Enabled()
			if result != tt.expected {
				t.Errorf("Config.Enabled() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestService_Enabled(t *testing.T) {
	tests := []struct {
		name     string
		service  Service
		expected bool
	}{
		{
			name:     "nil client",
			service:  Service{client: nil},
			expected: false,
		},
		{
			name:     "empty service",
			service:  Service{},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.service.Enabled()
			if result != tt.expected {
				t.Errorf("Service.Enabled() = %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestUploadOptions(t *testing.T) {
	opts := UploadOptions{
		ContentType:        "image/png",
		ContentDisposition: "attachment; filename=\"test.png\"",
		Metadata: map[string]string{
			"batch": "test-batch",
			"user":  "test-user",
		},
	}

	if opts.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", opts.ContentType)
	}
	if opts.ContentDisposition != "attachment; filename=\"test.png\"" {
		t.Errorf("ContentDisposition = %q, want attachment; filename=\"test.png\"", opts.ContentDisposition)
	}
	if len(opts.Metadata) != 2 {
		t.Errorf("Metadata length = %d, want 2", len(opts.Metadata))
	}
}

func TestUploadResult(t *testing.T) {
	result := UploadResult{
		Key:         "batch/uuid-file.png",
		Bucket:      "images",
		ETag:        "abc123",
		Size:        1024,
		ContentType: "image/png",
		StorageURL:  "images/batch/uuid-file.png",
	}

	if result.Key != "batch/uuid-file.png" {
		t.Errorf("Key = %q, want batch/uuid-file.png", result.Key)
	}
	if result.Bucket != "images" {
		t.Errorf("Bucket = %q, want images", result.Bucket)
	}
	if result.ETag != "abc123" {
		t.Errorf("ETag = %q, want abc123", result.ETag)
	}
	if result.Size != 1024 {
		t.Errorf("Size = %d, want 1024", result.Size)
	}
	if result.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", result.ContentType)
	}
}

func TestImageUploadOptions(t *testing.T) {
	opts := ImageUploadOptions{
		BatchID:  "batch-123",
		Filename: "test.png",
		UploadOptions: UploadOptions{
			ContentType: "image/png",
		},
	}

	if opts.BatchID != "batch-123" {
		t.Errorf("BatchID = %q, want batch-123", opts.BatchID)
	}
	if opts.Filename != "test.png" {
		t.Errorf("Filename = %q, want test.png", opts.Filename)
	}
	if opts.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", opts.ContentType)
	}
}
