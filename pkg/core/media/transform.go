package media

import (
	"fmt"
	"image"
	"strings"

	"golang.org/x/image/draw"
)

// ParseScaler maps a configuration name to an interpolator.
func ParseScaler(name string) (draw.Interpolator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "approx_bilinear":
		return draw.ApproxBiLinear, nil
	case "nearest":
		return draw.NearestNeighbor, nil
	case "bilinear":
		return draw.BiLinear, nil
	case "catmull_rom":
		return draw.CatmullRom, nil
	default:
		return nil, fmt.Errorf("unsupported scaler %q", name)
	}
}

// Transformer converts decoded frames to the publish wire format.
//
// ToPublishFormat is a pure function of its arguments: it allocates fresh
// buffers on every call and keeps no state, so the playback loop calls it
// without locking.
type Transformer struct {
	// Scaler is the interpolator used when the sizes differ. Nil means
	// draw.ApproxBiLinear.
	Scaler draw.Interpolator
}

// ToPublishFormat rescales raw to exactly width x height and repacks it in
// format's channel order. An opaque alpha plane is synthesized when the
// destination carries alpha and the source does not.
func (t Transformer) ToPublishFormat(raw RawFrame, width, height int, format PixelFormat) (PublishFrame, error) {
	if err := raw.Validate(); err != nil {
		return PublishFrame{}, err
	}
	if width <= 0 || height <= 0 {
		return PublishFrame{}, fmt.Errorf("transform: invalid destination size %dx%d", width, height)
	}
	outBPP := format.BytesPerPixel()
	if outBPP == 0 {
		return PublishFrame{}, fmt.Errorf("transform: unsupported destination format %q", format)
	}

	opaque := !raw.Format.HasAlpha()
	src := newRGBABuffer(raw.Width, raw.Height, opaque)
	unpack(src.pix, raw)

	scaled := src
	if raw.Width != width || raw.Height != height {
		scaler := t.Scaler
		if scaler == nil {
			scaler = draw.ApproxBiLinear
		}
		scaled = newRGBABuffer(width, height, opaque)
		scaler.Scale(scaled.img, scaled.img.Bounds(), src.img, src.img.Bounds(), draw.Src, nil)
	}

	out := make([]byte, width*height*outBPP)
	pack(out, scaled.pix, scaled.stride, width, height, format, opaque)

	return PublishFrame{
		Width:  width,
		Height: height,
		Format: format,
		Data:   out,
	}, nil
}

// rgbaBuffer is an intermediate image whose Pix is laid out R,G,B,A.
// Opaque sources use *image.RGBA so x/image/draw takes its fast paths.
type rgbaBuffer struct {
	img    draw.Image
	pix    []uint8
	stride int
}

func newRGBABuffer(w, h int, opaque bool) rgbaBuffer {
	r := image.Rect(0, 0, w, h)
	if opaque {
		m := image.NewRGBA(r)
		return rgbaBuffer{img: m, pix: m.Pix, stride: m.Stride}
	}
	m := image.NewNRGBA(r)
	return rgbaBuffer{img: m, pix: m.Pix, stride: m.Stride}
}

func unpack(dst []uint8, raw RawFrame) {
	n := raw.Width * raw.Height
	s := raw.Data
	switch raw.Format {
	case FormatBGR24:
		for i := 0; i < n; i++ {
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = s[i*3+2], s[i*3+1], s[i*3], 0xff
		}
	case FormatRGB24:
		for i := 0; i < n; i++ {
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = s[i*3], s[i*3+1], s[i*3+2], 0xff
		}
	case FormatRGBA:
		copy(dst, s[:n*4])
	case FormatBGRA:
		for i := 0; i < n; i++ {
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = s[i*4+2], s[i*4+1], s[i*4], s[i*4+3]
		}
	case FormatARGB:
		for i := 0; i < n; i++ {
			dst[i*4], dst[i*4+1], dst[i*4+2], dst[i*4+3] = s[i*4+1], s[i*4+2], s[i*4+3], s[i*4]
		}
	}
}

func pack(out []byte, pix []uint8, stride, w, h int, format PixelFormat, opaque bool) {
	bpp := format.BytesPerPixel()
	for y := 0; y < h; y++ {
		row := pix[y*stride : y*stride+w*4]
		o := out[y*w*bpp : (y+1)*w*bpp]
		for x := 0; x < w; x++ {
			r, g, b, a := row[x*4], row[x*4+1], row[x*4+2], row[x*4+3]
			if opaque {
				a = 0xff
			}
			switch format {
			case FormatARGB:
				o[x*4], o[x*4+1], o[x*4+2], o[x*4+3] = a, r, g, b
			case FormatRGBA:
				o[x*4], o[x*4+1], o[x*4+2], o[x*4+3] = r, g, b, a
			case FormatBGRA:
				o[x*4], o[x*4+1], o[x*4+2], o[x*4+3] = b, g, r, a
			case FormatRGB24:
				o[x*3], o[x*3+1], o[x*3+2] = r, g, b
			case FormatBGR24:
				o[x*3], o[x*3+1], o[x*3+2] = b, g, r
			}
		}
	}
}
