package provider

import (
	"encoding/base64"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"lmchat/config"
)

// buildContentParts turns a message with images into an optional text part
// followed by one image_url part per image. An image that cannot be read is
// replaced by a visible text placeholder instead of failing the request.
func buildContentParts(text string, images []string) []contentPart {
	parts := make([]contentPart, 0, len(images)+1)
	if text != "" {
		parts = append(parts, contentPart{Type: "text", Text: text})
	}

	for _, ref := range images {
		url, err := imageDataURL(ref)
		if err != nil {
			if config.DebugLog != nil {
				config.DebugLog.Printf("[Provider] Image %q unavailable: %v", ref, err)
			}
			parts = append(parts, contentPart{
				Type: "text",
				Text: fmt.Sprintf("[image unavailable: %s]", filepath.Base(ref)),
			})
			continue
		}
		parts = append(parts, contentPart{Type: "image_url", ImageURL: &imageURL{URL: url}})
	}

	return parts
}

// imageDataURL resolves an image reference to something the server accepts.
// Remote URLs and data URLs pass through; local files are inlined as base64.
func imageDataURL(ref string) (string, error) {
	switch {
	case strings.HasPrefix(ref, "data:"),
		strings.HasPrefix(ref, "http://"),
		strings.HasPrefix(ref, "https://"):
		return ref, nil
	}

	path := config.ExpandPath(strings.TrimPrefix(ref, "file://"))
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("image file %s is empty", path)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" || !strings.HasPrefix(mimeType, "image/") {
		mimeType = http.DetectContentType(data)
	}
	// Drop parameters such as "; charset=utf-8".
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}

	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
