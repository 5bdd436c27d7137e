package pipeline

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
)

// Upload sends a file as a multipart POST through the authenticated
// pipeline. The multipart content type is passed through untouched; the
// body is never re-serialized as JSON.
func (c *Client) Upload(ctx context.Context, endpoint, fieldName, filename string, r io.Reader) Result {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return Result{Status: http.StatusInternalServerError, Message: "building upload: " + err.Error()}
	}
	if _, err := io.Copy(part, r); err != nil {
		return Result{Status: http.StatusInternalServerError, Message: "reading upload: " + err.Error()}
	}
	if err := w.Close(); err != nil {
		return Result{Status: http.StatusInternalServerError, Message: "finalizing upload: " + err.Error()}
	}

	headers := map[string]string{"Content-Type": w.FormDataContentType()}
	return c.Do(ctx, http.MethodPost, endpoint, buf.Bytes(), headers)
}
