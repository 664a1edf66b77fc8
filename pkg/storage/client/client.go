package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mwantia/opsreg/pkg/errs"
	"github.com/mwantia/opsreg/pkg/storage"
)

func init() {
	storage.Register(storage.ClientType, New)
}

const defaultTimeout = 30 * time.Second

var defaultLimits = storage.PartLimits{
	MinPartSize: 5 * 1024 * 1024,
	MaxPartSize: 5 * 1024 * 1024 * 1024,
	MaxParts:    10000,
}

// Backend forwards every storage operation to the files API of a registry
// server, which owns the actual object store.
type Backend struct {
	http      *http.Client
	baseURL   string
	token     string
	prodToken string

	remote storage.StorageType
	bucket string
	limits storage.PartLimits
}

// New reads the following options from settings:
//
//	api_url (required), token, prod_token, timeout
//
// The server's storage settings are fetched before New returns.
func New(ctx context.Context, settings storage.Settings) (storage.Backend, error) {
	baseURL := settings.Option("api_url")
	if baseURL == "" {
		return nil, fmt.Errorf("client storage requires the api_url option: %w", errs.ErrConfiguration)
	}
	if u, err := url.Parse(baseURL); err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid api_url '%s': %w", baseURL, errs.ErrConfiguration)
	}

	timeout := defaultTimeout
	if raw := settings.Option("timeout"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid timeout '%s': %w", raw, errs.ErrConfiguration)
		}
		timeout = d
	}

	// Only waiting for response headers is bounded; bodies may be large.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout

	b := NewWithClient(&http.Client{Transport: transport}, baseURL)
	b.token = settings.Option("token")
	b.prodToken = settings.Option("prod_token")

	if err := b.loadSettings(ctx); err != nil {
		return nil, err
	}
	return b, nil
}

func NewWithClient(client *http.Client, baseURL string) *Backend {
	return &Backend{
		http:    client,
		baseURL: strings.TrimRight(baseURL, "/"),
		limits:  defaultLimits,
	}
}

// loadSettings asks the server which store it fronts. The bucket is used to
// strip fully qualified paths and the limits to validate upload sessions.
func (b *Backend) loadSettings(ctx context.Context) error {
	body, err := b.call(ctx, http.MethodGet, "storage/settings", nil, nil, "")
	if err != nil {
		return fmt.Errorf("failed to read server storage settings: %w", err)
	}

	result := gjson.ParseBytes(body)
	if raw := result.Get("storage_type").String(); raw != "" {
		remote, err := storage.ParseStorageType(raw)
		if err != nil {
			return err
		}
		b.remote = remote
	}
	if uri := result.Get("storage_uri").String(); uri != "" {
		b.bucket = storage.Settings{URI: uri, Type: b.remote}.Bucket()
	}

	if v := result.Get("min_part_size"); v.Exists() {
		b.limits.MinPartSize = v.Int()
	}
	if v := result.Get("max_part_size"); v.Exists() {
		b.limits.MaxPartSize = v.Int()
	}
	if v := result.Get("max_parts"); v.Exists() {
		b.limits.MaxParts = int(v.Int())
	}
	return nil
}

func (b *Backend) Type() storage.StorageType {
	return storage.ClientType
}

// Remote is the storage type reported by the server.
func (b *Backend) Remote() storage.StorageType {
	return b.remote
}

func (b *Backend) Bucket() string {
	return b.bucket
}

func (b *Backend) Close() error {
	b.http.CloseIdleConnections()
	return nil
}

func (b *Backend) PartLimits() storage.PartLimits {
	return b.limits
}

func (b *Backend) Find(ctx context.Context, prefix string) ([]string, error) {
	body, err := b.call(ctx, http.MethodGet, "files/list", url.Values{"path": {prefix}}, nil, prefix)
	if err != nil {
		return nil, err
	}

	files := gjson.GetBytes(body, "files")
	if !files.IsArray() {
		return nil, malformed("files/list", prefix)
	}

	keys := []string{}
	for _, file := range files.Array() {
		key := file.String()
		if storage.IsDirMarker(key) || !storage.MatchesPrefix(key, prefix) {
			continue
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func (b *Backend) FindInfo(ctx context.Context, prefix string) ([]storage.FileInfo, error) {
	body, err := b.call(ctx, http.MethodGet, "files/list/info", url.Values{"path": {prefix}}, nil, prefix)
	if err != nil {
		return nil, err
	}

	files := gjson.GetBytes(body, "files")
	if !files.IsArray() {
		return nil, malformed("files/list/info", prefix)
	}

	infos := []storage.FileInfo{}
	for _, file := range files.Array() {
		name := file.Get("name").String()
		if name == "" || storage.IsDirMarker(name) || !storage.MatchesPrefix(name, prefix) {
			continue
		}

		info := storage.FileInfo{
			Name:       name,
			Size:       file.Get("size").Int(),
			ObjectType: file.Get("object_type").String(),
			Created:    file.Get("created").String(),
			Suffix:     file.Get("suffix").String(),
		}
		if info.ObjectType == "" {
			info.ObjectType = "file"
		}
		if info.Suffix == "" {
			info.Suffix = storage.Suffix(name)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// GetObject streams the object into a temporary file next to localPath and
// renames it into place once the download is complete.
func (b *Backend) GetObject(ctx context.Context, localPath, key string) error {
	req, err := b.newRequest(ctx, http.MethodGet, "files", url.Values{"path": {key}}, nil)
	if err != nil {
		return err
	}
	resp, err := b.send(req, key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := os.CreateTemp(filepath.Dir(localPath), ".opsreg-download-*")
	if err != nil {
		return fmt.Errorf("failed to create '%s': %v: %w", localPath, err, errs.ErrTransientIO)
	}
	tmp := out.Name()

	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return wrapError(err, key)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return wrapError(err, key)
	}
	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move download to '%s': %v: %w", localPath, err, errs.ErrTransientIO)
	}
	return nil
}

func (b *Backend) PutObject(ctx context.Context, localPath, key string) error {
	file, err := os.Open(localPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("local path '%s' does not exist: %w", localPath, errs.ErrNotFound)
		}
		return fmt.Errorf("failed to open '%s': %v: %w", localPath, err, errs.ErrTransientIO)
	}
	defer file.Close()

	stat, err := file.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat '%s': %v: %w", localPath, err, errs.ErrTransientIO)
	}

	req, err := b.newRequest(ctx, http.MethodPut, "files", url.Values{"path": {key}}, file)
	if err != nil {
		return err
	}
	req.ContentLength = stat.Size()
	req.Header.Set("Content-Type", "application/octet-stream")

	return b.discard(req, key)
}

func (b *Backend) CopyObject(ctx context.Context, src, dest string) error {
	_, err := b.call(ctx, http.MethodPost, "files/copy", nil, map[string]string{
		"src":  src,
		"dest": dest,
	}, src)
	return err
}

func (b *Backend) DeleteObject(ctx context.Context, key string) error {
	body, err := b.call(ctx, http.MethodDelete, "files/delete", url.Values{
		"path":      {key},
		"recursive": {"false"},
	}, nil, key)
	if err != nil {
		return err
	}

	if deleted := gjson.GetBytes(body, "deleted"); deleted.Exists() && !deleted.Bool() {
		return fmt.Errorf("'%s' does not exist: %w", key, errs.ErrNotFound)
	}
	return nil
}

func (b *Backend) PresignedURL(ctx context.Context, key string, expiration time.Duration) (string, error) {
	body, err := b.call(ctx, http.MethodGet, "files/presigned", url.Values{
		"path":       {key},
		"expiration": {strconv.FormatInt(int64(expiration/time.Second), 10)},
	}, nil, key)
	if err != nil {
		return "", err
	}

	signed := gjson.GetBytes(body, "url").String()
	if signed == "" {
		return "", malformed("files/presigned", key)
	}
	return signed, nil
}

func (b *Backend) newRequest(ctx context.Context, method, route string, query url.Values, body io.Reader) (*http.Request, error) {
	target := b.baseURL + "/" + route
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request for '%s': %v: %w", route, err, errs.ErrConfiguration)
	}

	req.Header.Set("Accept", "application/json")
	if b.token != "" {
		req.Header.Set("Authorization", "Bearer "+b.token)
	}
	if b.prodToken != "" {
		req.Header.Set("X-Prod-Token", b.prodToken)
	}
	return req, nil
}

// send performs req and turns non-2xx responses into error kinds. The
// caller closes the body of a successful response.
func (b *Backend) send(req *http.Request, key string) (*http.Response, error) {
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, wrapError(err, key)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, statusError(resp, key)
	}
	return resp, nil
}

func (b *Backend) discard(req *http.Request, key string) error {
	resp, err := b.send(req, key)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	_, err = io.Copy(io.Discard, resp.Body)
	return wrapError(err, key)
}

// call sends an optional JSON payload to route and returns the response
// body.
func (b *Backend) call(ctx context.Context, method, route string, query url.Values, payload any, key string) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request for '%s': %w", route, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := b.newRequest(ctx, method, route, query, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.send(req, key)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wrapError(err, key)
	}
	return data, nil
}

func statusError(resp *http.Response, key string) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	msg := gjson.GetBytes(data, "error").String()
	if msg == "" {
		msg = gjson.GetBytes(data, "detail").String()
	}
	if msg == "" {
		msg = resp.Status
	}

	switch code := resp.StatusCode; {
	case code == http.StatusNotFound:
		return fmt.Errorf("'%s' does not exist: %s: %w", key, msg, errs.ErrNotFound)
	case code == http.StatusConflict:
		return fmt.Errorf("conflict on '%s': %s: %w", key, msg, errs.ErrConflict)
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return fmt.Errorf("access to '%s' denied: %s: %w", key, msg, errs.ErrConfiguration)
	case code == http.StatusNotImplemented:
		return fmt.Errorf("server cannot serve '%s': %s: %w", key, msg, errs.ErrUnsupported)
	case code == http.StatusTooManyRequests, code >= 500:
		return fmt.Errorf("server failed on '%s': %s: %w", key, msg, errs.ErrTransientIO)
	default:
		return fmt.Errorf("server rejected '%s': %s: %w", key, msg, errs.ErrInvalidArgument)
	}
}

func malformed(route, key string) error {
	return fmt.Errorf("malformed %s response for '%s': %w", route, key, errs.ErrTransientIO)
}

func wrapError(err error, key string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return fmt.Errorf("request for '%s' failed: %v: %w", key, err, errs.ErrTransientIO)
	}
}
