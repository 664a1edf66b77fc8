package client

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

// multipartUpload relays parts through the server, which holds the
// backend session named by sessionURL.
type multipartUpload struct {
	b          *Backend
	mu         sync.Mutex
	key        string
	sessionURL string
	nextPart   int
}

func (b *Backend) NewMultipartUpload(ctx context.Context, key string) (storage.MultipartUpload, error) {
	body, err := b.call(ctx, http.MethodGet, "files/multipart", url.Values{"path": {key}}, nil, key)
	if err != nil {
		return nil, err
	}

	sessionURL := gjson.GetBytes(body, "session_url").String()
	if sessionURL == "" {
		return nil, malformed("files/multipart", key)
	}

	return &multipartUpload{
		b:          b,
		key:        key,
		sessionURL: sessionURL,
		nextPart:   1,
	}, nil
}

func (u *multipartUpload) Token() string {
	return u.sessionURL
}

func (u *multipartUpload) query() url.Values {
	return url.Values{
		"path":        {u.key},
		"session_url": {u.sessionURL},
	}
}

func (u *multipartUpload) UploadPart(ctx context.Context, partNumber int, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if partNumber != u.nextPart {
		return fmt.Errorf("expected part %d, got %d: %w", u.nextPart, partNumber, errs.ErrSession)
	}

	query := u.query()
	query.Set("part_number", strconv.Itoa(partNumber))

	req, err := u.b.newRequest(ctx, http.MethodPut, "files/multipart", query, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	if err := u.b.discard(req, u.key); err != nil {
		return err
	}

	u.nextPart++
	return nil
}

func (u *multipartUpload) Complete(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.b.call(ctx, http.MethodPost, "files/multipart/complete", nil, map[string]any{
		"path":        u.key,
		"session_url": u.sessionURL,
		"parts":       u.nextPart - 1,
	}, u.key)
	return err
}

func (u *multipartUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	_, err := u.b.call(ctx, http.MethodDelete, "files/multipart", u.query(), nil, u.key)
	return err
}
