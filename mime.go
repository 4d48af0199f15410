package audiofetch

import (
	"context"
	"mime"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
)

func init() {
	// not every system mime table knows these
	for ext, typ := range map[string]string{
		".mp3":  "audio/mpeg",
		".flac": "audio/flac",
		".ogg":  "audio/ogg",
		".opus": "audio/opus",
		".m4a":  "audio/mp4",
		".aac":  "audio/aac",
		".wav":  "audio/wav",
	} {
		mime.AddExtensionType(ext, typ)
	}
}

// MimeType returns the content type of location using the DefaultManager.
func MimeType(ctx context.Context, location string) (string, error) {
	return DefaultManager.MimeType(ctx, location)
}

// MimeType returns the media type of location without opening it for
// playback. Local files are guessed from their extension, falling back to
// their content. URLs are probed with a two byte range request and the
// Content-Type of the response is returned.
func (dlm *Manager) MimeType(ctx context.Context, location string) (string, error) {
	if !remoteURL(location) {
		return localMimeType(location)
	}

	resp, _, err := dlm.rangeRequest(ctx, location, Range{Start: 0, Length: 2})
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return "", &HeaderError{Header: "Content-Type"}
	}
	return mediaType(ct), nil
}

func localMimeType(path string) (string, error) {
	if typ := mime.TypeByExtension(filepath.Ext(path)); typ != "" {
		return mediaType(typ), nil
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", err
	}
	return mediaType(m.String()), nil
}

// mediaType strips parameters such as charset.
func mediaType(v string) string {
	if mt, _, err := mime.ParseMediaType(v); err == nil {
		return mt
	}
	return v
}
