package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"grape-notebook/server/internal/config"
)

// Uploader 保存文件并返回可公开访问的地址。
type Uploader interface {
	Upload(ctx context.Context, path, contentType string, data []byte) (string, error)
}

// New 按配置选择实现。
func New(cfg config.BlobConfig, log *logrus.Logger) (Uploader, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStore(cfg.LocalDir, cfg.PublicBaseURL), nil
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey, cfg.SupabaseBucket, log), nil
	default:
		return nil, fmt.Errorf("unsupported blob driver: %s", cfg.Driver)
	}
}

// LocalStore 把文件写到本地目录，用于开发环境。
type LocalStore struct {
	dir     string
	baseURL string
}

func NewLocalStore(dir, baseURL string) *LocalStore {
	if baseURL == "" {
		baseURL = "/files"
	}
	return &LocalStore{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Upload 写入 dir/path，已存在时覆盖。
func (s *LocalStore) Upload(_ context.Context, path, _ string, data []byte) (string, error) {
	clean := filepath.Clean("/" + path)
	full := filepath.Join(s.dir, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return s.baseURL + filepath.ToSlash(clean), nil
}

// SupabaseStore 通过 Supabase Storage REST 接口上传。
type SupabaseStore struct {
	projectURL string
	key        string
	bucket     string
	httpClient *http.Client
	log        *logrus.Logger
}

func NewSupabaseStore(projectURL, key, bucket string, log *logrus.Logger) *SupabaseStore {
	return &SupabaseStore{
		projectURL: strings.TrimRight(projectURL, "/"),
		key:        key,
		bucket:     bucket,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        log,
	}
}

// Upload 以 PUT 写入对象并返回 public 地址。
func (s *SupabaseStore) Upload(ctx context.Context, path, contentType string, data []byte) (string, error) {
	if s.projectURL == "" || s.key == "" {
		return "", fmt.Errorf("supabase project url or key is not set")
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", s.projectURL, s.bucket, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("upload failed status %d: %s", resp.StatusCode, string(body))
	}

	if s.log != nil {
		s.log.WithFields(logrus.Fields{"bucket": s.bucket, "path": path, "bytes": len(data)}).Debug("uploaded blob")
	}
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.projectURL, s.bucket, escapePath(path)), nil
}

func escapePath(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
