package blob

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	PhotoMaxSide     = 1200
	PhotoJPEGQuality = 80
	PhotoContentType = "image/jpeg"
)

// PhotoPath students/{uid}/lessons/{date}_{ts}_photo.jpg
func PhotoPath(studentID, date string, ts int64) string {
	return fmt.Sprintf("students/%s/lessons/%s_%d_photo.jpg", studentID, date, ts)
}

// PreparePhoto 解码照片，按 EXIF 方向摆正，等比缩放到 1200x1200 以内并重新编码为 JPEG。
func PreparePhoto(data []byte) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode photo: %w", err)
	}

	img = downscaleIfNeeded(img, PhotoMaxSide, PhotoMaxSide)

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, imaging.JPEG, imaging.JPEGQuality(PhotoJPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode photo: %w", err)
	}
	return buf.Bytes(), nil
}

// downscaleIfNeeded 保持宽高比缩小，不放大。
func downscaleIfNeeded(src image.Image, maxW, maxH int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxW && h <= maxH {
		return src
	}
	scale := math.Min(float64(maxW)/float64(w), float64(maxH)/float64(h))
	nw := int(math.Round(float64(w) * scale))
	nh := int(math.Round(float64(h) * scale))
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}
