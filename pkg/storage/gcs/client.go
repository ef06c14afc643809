// Package gcs stores application documents in a Google Cloud Storage bucket.
package gcs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/angelmondragon/visamarket-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/visamarket-backend/pkg/errors"
	"github.com/angelmondragon/visamarket-backend/pkg/logger"
	pkgstorage "github.com/angelmondragon/visamarket-backend/pkg/storage"
)

const (
	refScheme          = "gs://"
	pingTimeout        = 5 * time.Second
	defaultMaxUploadMB = 10
	defaultURLExpiry   = 15 * time.Minute
	defaultContentType = "application/octet-stream"
)

var (
	objectUnsafeRe = regexp.MustCompile(`[^a-z0-9_-]+`)
	objectExtRe    = regexp.MustCompile(`^(\.[a-z0-9]+)?$`)
)

// objects is the slice of the GCS API the store needs.
type objects interface {
	Write(ctx context.Context, bucket, name, contentType string, metadata map[string]string, content []byte) error
	Read(ctx context.Context, bucket, name string) ([]byte, error)
	BucketExists(ctx context.Context, bucket string) error
	SignedURL(bucket, name string, expiry time.Duration) (string, error)
}

// Client implements storage.DocumentStore on one bucket. Every object lives under the
// configured prefix; references outside it are refused.
type Client struct {
	objects   objects
	closer    io.Closer
	bucket    string
	prefix    string
	maxBytes  int
	urlExpiry time.Duration
	logg      *logger.Logger
}

var _ pkgstorage.DocumentStore = (*Client)(nil)

// NewClient dials GCS with the credentials file when one is configured and checks the
// bucket is reachable.
func NewClient(ctx context.Context, cfg config.GCSConfig, gcp config.GCPConfig, logg *logger.Logger) (*Client, error) {
	if cfg.BucketName == "" {
		return nil, errors.New("gcs bucket name is required")
	}
	var opts []option.ClientOption
	if gcp.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(gcp.CredentialsFile))
	}
	raw, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	client := newClient(gcsObjects{client: raw}, raw, cfg, logg)
	if err := client.Ping(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("gcs health check failed: %w", err)
	}
	client.logg.Info(ctx, "gcs document store initialized")
	return client, nil
}

func newClient(objs objects, closer io.Closer, cfg config.GCSConfig, logg *logger.Logger) *Client {
	if logg == nil {
		logg = logger.Nop()
	}
	maxMB := cfg.MaxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	expiry := cfg.DownloadURLExpiry
	if expiry <= 0 {
		expiry = defaultURLExpiry
	}
	return &Client{
		objects:   objs,
		closer:    closer,
		bucket:    cfg.BucketName,
		prefix:    strings.Trim(cfg.ObjectPrefix, "/"),
		maxBytes:  maxMB * 1024 * 1024,
		urlExpiry: expiry,
		logg:      logg,
	}
}

// Store writes content and returns its gs:// reference.
func (c *Client) Store(ctx context.Context, content []byte, meta pkgstorage.DocumentMeta) (string, error) {
	if len(content) == 0 {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "document is empty")
	}
	if len(content) > c.maxBytes {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "document exceeds the upload limit").
			WithDetails(map[string]any{"field": meta.Field, "maxBytes": c.maxBytes})
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = http.DetectContentType(content)
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	name := c.objectName(meta, content)
	metadata := map[string]string{
		"owner_id":  meta.OwnerID.String(),
		"module_id": meta.ModuleID.String(),
		"field":     meta.Field,
		"filename":  meta.Filename,
	}
	if err := c.objects.Write(ctx, c.bucket, name, contentType, metadata, content); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upload document")
	}
	ref := refScheme + c.bucket + "/" + name
	c.logg.Debug(c.logg.WithFields(ctx, map[string]any{"ref": ref, "bytes": len(content)}), "document stored")
	return ref, nil
}

// Retrieve reads a document previously returned by Store.
func (c *Client) Retrieve(ctx context.Context, ref string) ([]byte, error) {
	name, err := c.parseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := c.objects.Read(ctx, c.bucket, name)
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "document not found")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "download document")
	}
	return data, nil
}

// DownloadURL returns a short-lived signed URL for ref.
func (c *Client) DownloadURL(ref string) (string, error) {
	name, err := c.parseRef(ref)
	if err != nil {
		return "", err
	}
	u, err := c.objects.SignedURL(c.bucket, name, c.urlExpiry)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sign document url")
	}
	return u, nil
}

// Ping checks the bucket.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.objects.BucketExists(ctx, c.bucket)
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// objectName is derived from the owner, module, field and content, so the same
// upload always lands on the same object.
func (c *Client) objectName(meta pkgstorage.DocumentMeta, content []byte) string {
	ext := strings.ToLower(filepath.Ext(meta.Filename))
	if len(ext) > 10 || !objectExtRe.MatchString(ext) {
		ext = ""
	}
	sum := sha256.Sum256(content)
	field := objectUnsafeRe.ReplaceAllString(strings.ToLower(meta.Field), "_")
	return path.Join(c.prefix, meta.OwnerID.String(), meta.ModuleID.String(), field, hex.EncodeToString(sum[:])+ext)
}

func (c *Client) parseRef(ref string) (string, error) {
	invalid := pkgerrors.New(pkgerrors.CodeValidation, "invalid document reference")
	rest, ok := strings.CutPrefix(ref, refScheme)
	if !ok {
		return "", invalid
	}
	bucket, name, ok := strings.Cut(rest, "/")
	if !ok || bucket != c.bucket || name == "" {
		return "", invalid
	}
	if path.Clean(name) != name || (c.prefix != "" && !strings.HasPrefix(name, c.prefix+"/")) {
		return "", invalid
	}
	return name, nil
}

type gcsObjects struct {
	client *storage.Client
}

func (g gcsObjects) Write(ctx context.Context, bucket, name, contentType string, metadata map[string]string, content []byte) error {
	w := g.client.Bucket(bucket).Object(name).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = metadata
	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g gcsObjects) Read(ctx context.Context, bucket, name string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = r.Close() }()
	return io.ReadAll(r)
}

func (g gcsObjects) BucketExists(ctx context.Context, bucket string) error {
	_, err := g.client.Bucket(bucket).Attrs(ctx)
	return err
}

func (g gcsObjects) SignedURL(bucket, name string, expiry time.Duration) (string, error) {
	return g.client.Bucket(bucket).SignedURL(name, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
	})
}
