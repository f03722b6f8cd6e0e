package storage

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestThumbnailScalesDownLandscape(t *testing.T) {
	data := encodePNG(t, 1280, 720)
	thumb, w, h, err := Thumbnail(data)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if w != ThumbnailMaxSide {
		t.Fatalf("width = %d, want %d", w, ThumbnailMaxSide)
	}
	if h != 180 {
		t.Fatalf("height = %d, want 180", h)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(thumb))
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if cfg.Width != w || cfg.Height != h {
		t.Fatalf("encoded size = %dx%d, want %dx%d", cfg.Width, cfg.Height, w, h)
	}
}

func TestThumbnailKeepsSmallImages(t *testing.T) {
	data := encodePNG(t, 100, 50)
	_, w, h, err := Thumbnail(data)
	if err != nil {
		t.Fatalf("thumbnail: %v", err)
	}
	if w != 100 || h != 50 {
		t.Fatalf("size = %dx%d, want 100x50", w, h)
	}
}

func TestThumbnailRejectsGarbage(t *testing.T) {
	if _, _, _, err := Thumbnail([]byte("not an image")); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestFileStoreWriteAndRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()
	key, err := store.Write(ctx, "generated/jobs/j1/out.png", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	data, err := store.Read(ctx, key)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(data, []byte{1, 2, 3}) {
		t.Fatalf("data = %v", data)
	}
	if !store.Exists(ctx, key) {
		t.Fatalf("exists = false")
	}
	if store.Exists(ctx, "generated/jobs/j1/missing.png") {
		t.Fatalf("exists = true for missing key")
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	if _, err := store.Write(context.Background(), "../escape.bin", []byte{1}); err == nil {
		t.Fatalf("expected traversal rejection")
	}
}
