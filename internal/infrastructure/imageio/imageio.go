// Package imageio переводит сжатые изображения (JPEG, PNG, ...) в сообщения и обратно.
package imageio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	"github.com/disintegration/imaging"

	"detect-features/internal/domain/entity"
)

// DefaultJPEGQuality качество JPEG по умолчанию.
const DefaultJPEGQuality = 90

// Decode декодирует сжатое изображение в сообщение bgr8 с учётом EXIF-ориентации.
func Decode(data []byte, header entity.Header) (*entity.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", entity.ErrConversion, err)
	}
	return FromImage(img, header), nil
}

// FromImage переводит image.Image в сообщение bgr8.
func FromImage(img image.Image, header entity.Header) *entity.Image {
	nrgba := imaging.Clone(img)
	w, h := nrgba.Rect.Dx(), nrgba.Rect.Dy()

	pixels := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := nrgba.Pix[y*nrgba.Stride : y*nrgba.Stride+w*4]
		dst := pixels[y*w*3 : (y+1)*w*3]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+2]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+0]
		}
	}

	return entity.NewBGR8(header, w, h, pixels)
}

// ToNRGBA переводит сообщение в image.NRGBA.
func ToNRGBA(msg *entity.Image) (*image.NRGBA, error) {
	packed, err := msg.Packed()
	if err != nil {
		return nil, err
	}

	w, h := int(msg.Width), int(msg.Height)
	out := image.NewNRGBA(image.Rect(0, 0, w, h))
	encoding := entity.CanonicalEncoding(msg.Encoding)

	for i := 0; i < w*h; i++ {
		var r, g, b, a byte = 0, 0, 0, 255
		switch encoding {
		case entity.EncodingMono8:
			r, g, b = packed[i], packed[i], packed[i]
		case entity.EncodingMono16:
			v := byte(binary.LittleEndian.Uint16(packed[i*2:]) >> 8)
			r, g, b = v, v, v
		case entity.EncodingBGR8:
			b, g, r = packed[i*3], packed[i*3+1], packed[i*3+2]
		case entity.EncodingRGB8:
			r, g, b = packed[i*3], packed[i*3+1], packed[i*3+2]
		case entity.EncodingBGRA8:
			b, g, r, a = packed[i*4], packed[i*4+1], packed[i*4+2], packed[i*4+3]
		case entity.EncodingRGBA8:
			r, g, b, a = packed[i*4], packed[i*4+1], packed[i*4+2], packed[i*4+3]
		}
		out.Pix[i*4+0] = r
		out.Pix[i*4+1] = g
		out.Pix[i*4+2] = b
		out.Pix[i*4+3] = a
	}

	return out, nil
}

// EncodeJPEG сжимает сообщение в JPEG.
func EncodeJPEG(w io.Writer, msg *entity.Image, quality int) error {
	img, err := ToNRGBA(msg)
	if err != nil {
		return err
	}
	if quality <= 0 {
		quality = DefaultJPEGQuality
	}
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
}

// JPEG возвращает сжатое изображение в виде байт.
func JPEG(msg *entity.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeJPEG(&buf, msg, DefaultJPEGQuality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
