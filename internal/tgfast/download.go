package tgfast

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/valyala/fasthttp"
)

var (
	ErrAttachmentTooLarge = errors.New("attachment exceeds size limit")
	ErrDownloadFailed     = errors.New("attachment download failed")
)

// ImageData is a downloaded attachment ready for provider encoding.
type ImageData struct {
	Bytes    []byte
	MimeType string
}

// DownloadPhoto resolves a photo file id to bytes, enforcing maxBytes.
// MIME comes from the response header, then content sniffing, then the
// file extension.
func (c *Client) DownloadPhoto(ctx context.Context, fileID string, maxBytes int) (*ImageData, error) {
	f, err := c.GetFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if f.FilePath == "" {
		return nil, ErrDownloadFailed
	}
	if maxBytes > 0 && f.FileSize > int64(maxBytes) {
		return nil, ErrAttachmentTooLarge
	}
	url := fmt.Sprintf("%s/file/bot%s/%s", c.apiBase, c.token, f.FilePath)
	return c.fetchImage(ctx, url, f.FilePath, maxBytes)
}

// FetchImageURL downloads a bare image URL found in question text.
func (c *Client) FetchImageURL(ctx context.Context, url string, maxBytes int) (*ImageData, error) {
	return c.fetchImage(ctx, url, url, maxBytes)
}

func (c *Client) fetchImage(ctx context.Context, url, name string, maxBytes int) (*ImageData, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(url)

	if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDownloadFailed, err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("%w: status=%d", ErrDownloadFailed, resp.StatusCode())
	}

	body := resp.Body()
	if maxBytes > 0 && len(body) > maxBytes {
		return nil, ErrAttachmentTooLarge
	}
	data := make([]byte, len(body))
	copy(data, body)

	mime := strings.TrimSpace(string(resp.Header.ContentType()))
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	if mime == "" || mime == "application/octet-stream" {
		mime = mimetype.Detect(data).String()
	}
	if !strings.HasPrefix(mime, "image/") {
		if byExt := mimeFromExtension(name); byExt != "" {
			mime = byExt
		}
	}
	return &ImageData{Bytes: data, MimeType: mime}, nil
}

func mimeFromExtension(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

// LooksLikeImageURL reports whether a token is a plain http(s) image link.
func LooksLikeImageURL(token string) bool {
	t := strings.ToLower(strings.TrimSpace(token))
	if !strings.HasPrefix(t, "http://") && !strings.HasPrefix(t, "https://") {
		return false
	}
	t = strings.TrimRight(t, ".,;:!?")
	for _, ext := range []string{".jpg", ".jpeg", ".png", ".gif", ".webp"} {
		if strings.HasSuffix(t, ext) {
			return true
		}
	}
	return false
}
