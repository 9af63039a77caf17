package pdfdoc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"testing"

	"github.com/jhgiraldo/packaging-backend/internal/common"
)

// fakePdftoppm writes n PNG pages at the output prefix, mimicking pdftoppm's
// zero-padded numbering.
type fakePdftoppm struct {
	pages int
	fail  bool
	argv  []string
}

func (f *fakePdftoppm) Run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.argv = append([]string{name}, args...)
	if f.fail {
		return nil, []byte("Syntax Error: document stream is damaged"), errors.New("exit status 1")
	}
	prefix := args[len(args)-1]
	for i := 1; i <= f.pages; i++ {
		img := image.NewGray(image.Rect(0, 0, 20+i, 30+i))
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, nil, err
		}
		path := fmt.Sprintf("%s-%02d.png", prefix, i)
		if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

func testRenderer(cfg RenderConfig, runner Runner) *Renderer {
	r := NewRenderer(cfg, nil)
	r.runner = runner
	return r
}

func TestRender(t *testing.T) {
	fake := &fakePdftoppm{pages: 3}
	r := testRenderer(RenderConfig{DPI: 150}, fake)

	rasters, err := r.Render(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(rasters) != 3 {
		t.Fatalf("got %d rasters, want 3", len(rasters))
	}
	for i, ras := range rasters {
		if ras.PageIndex != i {
			t.Errorf("raster %d has PageIndex %d", i, ras.PageIndex)
		}
		if ras.Width != 20+i+1 || ras.Height != 30+i+1 {
			t.Errorf("raster %d dims %dx%d, want %dx%d", i, ras.Width, ras.Height, 20+i+1, 30+i+1)
		}
		if len(ras.PNG) == 0 {
			t.Errorf("raster %d has empty PNG", i)
		}
	}

	// The configured DPI must reach the command line.
	if fake.argv[0] != "pdftoppm" {
		t.Errorf("command = %q", fake.argv[0])
	}
	found := false
	for i, a := range fake.argv {
		if a == "-r" && i+1 < len(fake.argv) && fake.argv[i+1] == "150" {
			found = true
		}
	}
	if !found {
		t.Errorf("argv %v missing -r 150", fake.argv)
	}
}

func TestRenderMaxPages(t *testing.T) {
	r := testRenderer(RenderConfig{MaxPages: 2}, &fakePdftoppm{pages: 5})
	rasters, err := r.Render(context.Background(), []byte("%PDF"))
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if len(rasters) != 2 {
		t.Errorf("got %d rasters, want 2", len(rasters))
	}
}

func TestRenderCommandFailure(t *testing.T) {
	r := testRenderer(RenderConfig{}, &fakePdftoppm{fail: true})
	_, err := r.Render(context.Background(), []byte("junk"))
	if !errors.Is(err, common.ErrDocumentParse) {
		t.Fatalf("err = %v, want ErrDocumentParse", err)
	}
}

func TestRenderNoPages(t *testing.T) {
	r := testRenderer(RenderConfig{}, &fakePdftoppm{pages: 0})
	_, err := r.Render(context.Background(), []byte("%PDF"))
	if !errors.Is(err, common.ErrDocumentParse) {
		t.Fatalf("err = %v, want ErrDocumentParse", err)
	}
}

func TestRenderCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := testRenderer(RenderConfig{}, &fakePdftoppm{fail: true})
	_, err := r.Render(ctx, []byte("%PDF"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
