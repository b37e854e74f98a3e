package media

import (
	"bytes"
	"testing"

	"golang.org/x/image/draw"
)

func checkerBGR(w, h int) RawFrame {
	data := make([]byte, w*h*3)
	for i := 0; i < w*h; i++ {
		data[i*3] = byte(i * 7)
		data[i*3+1] = byte(i * 13)
		data[i*3+2] = byte(i * 29)
	}
	return RawFrame{Width: w, Height: h, Format: FormatBGR24, Data: data}
}

func TestToPublishFormat_IsDeterministic(t *testing.T) {
	t.Parallel()

	raw := checkerBGR(64, 36)
	tr := Transformer{Scaler: draw.ApproxBiLinear}

	a, err := tr.ToPublishFormat(raw, 128, 72, FormatARGB)
	if err != nil {
		t.Fatalf("first transform: %v", err)
	}
	b, err := tr.ToPublishFormat(raw, 128, 72, FormatARGB)
	if err != nil {
		t.Fatalf("second transform: %v", err)
	}
	if !bytes.Equal(a.Data, b.Data) {
		t.Fatal("repeated transforms produced different bytes")
	}
	if a.Width != b.Width || a.Height != b.Height || a.Format != b.Format {
		t.Fatalf("metadata mismatch: %+v vs %+v", a, b)
	}
}

func TestToPublishFormat_DoesNotMutateInput(t *testing.T) {
	t.Parallel()

	raw := checkerBGR(8, 8)
	orig := append([]byte(nil), raw.Data...)
	if _, err := (Transformer{}).ToPublishFormat(raw, 4, 4, FormatARGB); err != nil {
		t.Fatalf("transform: %v", err)
	}
	if !bytes.Equal(raw.Data, orig) {
		t.Fatal("input buffer was modified")
	}
}

func TestToPublishFormat_BGRToARGBSameSize(t *testing.T) {
	t.Parallel()

	raw := RawFrame{Width: 2, Height: 1, Format: FormatBGR24, Data: []byte{10, 20, 30, 40, 50, 60}}
	out, err := (Transformer{}).ToPublishFormat(raw, 2, 1, FormatARGB)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	want := []byte{255, 30, 20, 10, 255, 60, 50, 40}
	if !bytes.Equal(out.Data, want) {
		t.Fatalf("data=%v, want %v", out.Data, want)
	}
}

func TestToPublishFormat_RescalesToExactSize(t *testing.T) {
	t.Parallel()

	raw := checkerBGR(1920, 1080)
	out, err := (Transformer{Scaler: draw.NearestNeighbor}).ToPublishFormat(raw, 1280, 720, FormatARGB)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	if out.Width != 1280 || out.Height != 720 {
		t.Fatalf("size=%dx%d, want 1280x720", out.Width, out.Height)
	}
	if len(out.Data) != 1280*720*4 {
		t.Fatalf("len=%d, want %d", len(out.Data), 1280*720*4)
	}
	for i := 0; i < len(out.Data); i += 4 {
		if out.Data[i] != 0xff {
			t.Fatalf("alpha at pixel %d = %d, want 255", i/4, out.Data[i])
		}
	}
}

func TestToPublishFormat_NearestUpscaleReplicatesPixels(t *testing.T) {
	t.Parallel()

	raw := RawFrame{Width: 1, Height: 1, Format: FormatRGB24, Data: []byte{1, 2, 3}}
	out, err := (Transformer{Scaler: draw.NearestNeighbor}).ToPublishFormat(raw, 2, 2, FormatRGB24)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	want := []byte{1, 2, 3, 1, 2, 3, 1, 2, 3, 1, 2, 3}
	if !bytes.Equal(out.Data, want) {
		t.Fatalf("data=%v, want %v", out.Data, want)
	}
}

func TestToPublishFormat_PreservesSourceAlpha(t *testing.T) {
	t.Parallel()

	raw := RawFrame{Width: 1, Height: 1, Format: FormatBGRA, Data: []byte{1, 2, 3, 128}}
	out, err := (Transformer{}).ToPublishFormat(raw, 1, 1, FormatARGB)
	if err != nil {
		t.Fatalf("transform: %v", err)
	}
	want := []byte{128, 3, 2, 1}
	if !bytes.Equal(out.Data, want) {
		t.Fatalf("data=%v, want %v", out.Data, want)
	}
}

func TestToPublishFormat_RejectsBadInput(t *testing.T) {
	t.Parallel()

	tr := Transformer{}
	if _, err := tr.ToPublishFormat(RawFrame{Width: 2, Height: 2, Format: FormatBGR24, Data: make([]byte, 5)}, 2, 2, FormatARGB); err == nil {
		t.Fatal("expected short buffer error")
	}
	if _, err := tr.ToPublishFormat(checkerBGR(2, 2), 0, 2, FormatARGB); err == nil {
		t.Fatal("expected destination size error")
	}
	if _, err := tr.ToPublishFormat(checkerBGR(2, 2), 2, 2, PixelFormat("yuv")); err == nil {
		t.Fatal("expected format error")
	}
}

func TestParsePixelFormat(t *testing.T) {
	t.Parallel()

	f, err := ParsePixelFormat(" ARGB ")
	if err != nil || f != FormatARGB {
		t.Fatalf("format=%q err=%v", f, err)
	}
	if _, err := ParsePixelFormat("nv12"); err == nil {
		t.Fatal("expected error for nv12")
	}
}

func TestParseScaler(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"", "nearest", "bilinear", "approx_bilinear", "catmull_rom"} {
		if _, err := ParseScaler(name); err != nil {
			t.Fatalf("ParseScaler(%q): %v", name, err)
		}
	}
	if _, err := ParseScaler("lanczos"); err == nil {
		t.Fatal("expected error for lanczos")
	}
}
