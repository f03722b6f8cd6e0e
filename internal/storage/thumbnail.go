package storage

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"

	"golang.org/x/image/draw"
)

// ThumbnailMaxSide bounds the longest side of derived thumbnails.
const ThumbnailMaxSide = 320

// Thumbnail scales the encoded image down so its longest side is at most
// ThumbnailMaxSide and re-encodes it as JPEG. Images already small enough are
// re-encoded without scaling.
func Thumbnail(data []byte) ([]byte, int, int, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("storage: decode image: %w", err)
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	tw, th := thumbnailSize(w, h)

	out := src
	if tw != w || th != h {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
		out = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: 80}); err != nil {
		return nil, 0, 0, fmt.Errorf("storage: encode thumbnail: %w", err)
	}
	return buf.Bytes(), tw, th, nil
}

func thumbnailSize(w, h int) (int, int) {
	if w <= ThumbnailMaxSide && h <= ThumbnailMaxSide {
		return w, h
	}
	if w >= h {
		return ThumbnailMaxSide, max(1, h*ThumbnailMaxSide/w)
	}
	return max(1, w*ThumbnailMaxSide/h), ThumbnailMaxSide
}
