package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"
)

// MaxAudioBytes bounds both direct uploads and URL fetches.
const MaxAudioBytes = 25 * 1024 * 1024

var allowedUploadTypes = map[string]bool{
	"audio/mpeg":  true,
	"audio/wav":   true,
	"audio/mp4":   true,
	"audio/webm":  true,
	"audio/x-m4a": true,
	"audio/mp3":   true,
	"audio/ogg":   true,
	"audio/flac":  true,
}

// AllowedUploadType reports whether a multipart upload's declared type is accepted.
func AllowedUploadType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	return allowedUploadTypes[ct]
}

// RemoteAudio is audio downloaded from a user-supplied URL.
type RemoteAudio struct {
	Data        []byte
	ContentType string
	FileName    string
}

// AudioFetcher downloads remote audio for URL submissions.
type AudioFetcher struct {
	client   *http.Client
	maxBytes int64
}

func NewAudioFetcher(client *http.Client) *AudioFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &AudioFetcher{client: client, maxBytes: MaxAudioBytes}
}

func (f *AudioFetcher) Fetch(ctx context.Context, rawURL string) (*RemoteAudio, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: invalid URL format", ErrInvalidInput)
	}
	if parsed.Scheme != "https" {
		return nil, fmt.Errorf("%w: URL must use HTTPS", ErrInvalidInput)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL format", ErrInvalidInput)
	}
	req.Header.Set("User-Agent", "ContractEar/1.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: could not fetch audio from URL, download it and upload directly", ErrInvalidInput)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: could not access the audio file, download it and upload directly", ErrInvalidInput)
	}

	ct := resp.Header.Get("Content-Type")
	if !remoteAudioType(ct) {
		return nil, fmt.Errorf("%w: URL does not point to an audio file", ErrInvalidInput)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: could not read audio from URL", ErrInvalidInput)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: file too large, maximum size is 25MB", ErrInvalidInput)
	}

	return &RemoteAudio{
		Data:        data,
		ContentType: ct,
		FileName:    "url_audio." + urlExtension(parsed),
	}, nil
}

func remoteAudioType(ct string) bool {
	ct = strings.ToLower(ct)
	return strings.Contains(ct, "audio/") ||
		strings.Contains(ct, "video/") ||
		strings.Contains(ct, "application/octet-stream")
}

func urlExtension(u *url.URL) string {
	ext := strings.TrimPrefix(path.Ext(u.Path), ".")
	if len(ext) > 5 {
		ext = ext[:5]
	}
	if ext == "" {
		return "mp3"
	}
	return ext
}
