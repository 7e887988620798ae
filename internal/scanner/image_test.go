package scanner

import (
	"bytes"
	"errors"
	"image"
	"testing"

	ftypes "github.com/h2non/filetype/types"
)

func TestPrepare_WhenSmallPNG_ShouldPassThroughUntouched(t *testing.T) {
	data := testPNG(t, 20, 10)

	p, err := Prepare(data, 100)

	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !bytes.Equal(p.Data, data) {
		t.Error("expected original bytes")
	}
	if p.MIME != "image/png" || p.Ext != "png" || p.Width != 20 || p.Height != 10 {
		t.Errorf("got %+v", p)
	}
}

func TestPrepare_WhenLongestEdgeTooLarge_ShouldFitInsideLimit(t *testing.T) {
	// Given: a 300x150 image and a 120px limit
	data := testPNG(t, 300, 150)

	// When
	p, err := Prepare(data, 120)

	// Then: aspect ratio is kept and the result decodes
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if p.Width != 120 || p.Height != 60 {
		t.Errorf("size: got %dx%d", p.Width, p.Height)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Data))
	if err != nil || cfg.Width != 120 {
		t.Errorf("decoded: %+v err=%v", cfg, err)
	}
}

func TestPrepare_WhenMaxEdgeZero_ShouldNeverResize(t *testing.T) {
	data := testPNG(t, 300, 150)

	p, err := Prepare(data, 0)

	if err != nil || !bytes.Equal(p.Data, data) {
		t.Errorf("expected untouched data, err=%v", err)
	}
}

func TestPrepare_WhenPDF_ShouldReturnErrNotImage(t *testing.T) {
	_, err := Prepare([]byte("%PDF-1.4\n%âãÏÓ\n1 0 obj"), 0)

	if !errors.Is(err, ErrNotImage) {
		t.Fatalf("expected ErrNotImage, got %v", err)
	}
}

func TestPrepare_WhenMatcherFails_ShouldReturnError(t *testing.T) {
	orig := filetypeMatchFunc
	defer func() { filetypeMatchFunc = orig }()
	filetypeMatchFunc = func([]byte) (ftypes.Type, error) { return ftypes.Type{}, errors.New("boom") }

	_, err := Prepare(testPNG(t, 2, 2), 0)

	if err == nil || errors.Is(err, ErrNotImage) {
		t.Fatalf("expected sniff error, got %v", err)
	}
}
