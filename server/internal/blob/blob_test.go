package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, h/2, color.RGBA{R: 255, A: 255})
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// TestPreparePhotoDownscales 验证大图等比缩小到 1200 以内并编码为 JPEG。
// 场景：2400x1200 的 PNG，期望 1200x600 的 JPEG。
func TestPreparePhotoDownscales(t *testing.T) {
	out, err := PreparePhoto(pngBytes(t, 2400, 1200))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if format != "jpeg" {
		t.Fatalf("expected jpeg, got %s", format)
	}
	if cfg.Width != 1200 || cfg.Height != 600 {
		t.Fatalf("expected 1200x600, got %dx%d", cfg.Width, cfg.Height)
	}
}

// TestPreparePhotoKeepsSmallImages 验证小图不放大。
func TestPreparePhotoKeepsSmallImages(t *testing.T) {
	out, err := PreparePhoto(pngBytes(t, 300, 200))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if cfg.Width != 300 || cfg.Height != 200 {
		t.Fatalf("expected 300x200, got %dx%d", cfg.Width, cfg.Height)
	}
}

// TestPreparePhotoRejectsGarbage 验证无法解码的数据报错。
func TestPreparePhotoRejectsGarbage(t *testing.T) {
	if _, err := PreparePhoto([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

// TestLocalStoreUpload 验证本地存储写文件并返回地址。
func TestLocalStoreUpload(t *testing.T) {
	dir := t.TempDir()
	s := NewLocalStore(dir, "http://localhost/files/")
	path := PhotoPath("u1", "2024-05-01", 1714521600000)

	url, err := s.Upload(context.Background(), path, PhotoContentType, []byte("jpeg"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if url != "http://localhost/files/students/u1/lessons/2024-05-01_1714521600000_photo.jpg" {
		t.Fatalf("unexpected url: %s", url)
	}
	data, err := os.ReadFile(filepath.Join(dir, path))
	if err != nil || string(data) != "jpeg" {
		t.Fatalf("file not written: %v", err)
	}
}

// TestSupabaseStoreUpload 验证 Supabase 上传请求与 public 地址。
func TestSupabaseStoreUpload(t *testing.T) {
	var gotPath, gotAuth, gotType string
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	s := NewSupabaseStore(ts.URL, "service-key", "image", nil)
	url, err := s.Upload(context.Background(), "students/u1/lessons/a.jpg", PhotoContentType, []byte("abc"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if gotPath != "/storage/v1/object/image/students/u1/lessons/a.jpg" {
		t.Fatalf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer service-key" || gotType != PhotoContentType || string(gotBody) != "abc" {
		t.Fatalf("unexpected request: %s %s %s", gotAuth, gotType, gotBody)
	}
	if !strings.HasSuffix(url, "/storage/v1/object/public/image/students/u1/lessons/a.jpg") {
		t.Fatalf("unexpected public url: %s", url)
	}
}

// TestSupabaseStoreError 验证失败状态码透传为错误。
func TestSupabaseStoreError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("denied"))
	}))
	defer ts.Close()

	s := NewSupabaseStore(ts.URL, "k", "image", nil)
	if _, err := s.Upload(context.Background(), "x.jpg", PhotoContentType, nil); err == nil {
		t.Fatalf("expected error")
	}
}
