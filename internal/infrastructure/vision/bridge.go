//go:build gocv
// +build gocv

package vision

import (
	"fmt"
	"runtime"

	"gocv.io/x/gocv"

	"detect-features/internal/domain/entity"
)

// ImageToMat превращает сообщение в gocv.Mat в формате BGR (8UC3).
// Вызывающий отвечает за Close.
func ImageToMat(img *entity.Image) (gocv.Mat, error) {
	packed, err := img.Packed()
	if err != nil {
		return gocv.NewMat(), err
	}

	rows, cols := int(img.Height), int(img.Width)
	encoding := entity.CanonicalEncoding(img.Encoding)

	var matType gocv.MatType
	switch encoding {
	case entity.EncodingMono8:
		matType = gocv.MatTypeCV8UC1
	case entity.EncodingMono16:
		matType = gocv.MatTypeCV16UC1
	case entity.EncodingBGR8, entity.EncodingRGB8:
		matType = gocv.MatTypeCV8UC3
	case entity.EncodingBGRA8, entity.EncodingRGBA8:
		matType = gocv.MatTypeCV8UC4
	default:
		return gocv.NewMat(), fmt.Errorf("%w: unsupported encoding %q", entity.ErrConversion, img.Encoding)
	}

	shared, err := gocv.NewMatFromBytes(rows, cols, matType, packed)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", entity.ErrConversion, err)
	}
	// NewMatFromBytes не копирует буфер, матрица должна владеть своими данными.
	src := shared.Clone()
	shared.Close()
	runtime.KeepAlive(packed)

	if src.Empty() {
		src.Close()
		return gocv.NewMat(), fmt.Errorf("%w: empty matrix", entity.ErrConversion)
	}

	if encoding == entity.EncodingBGR8 {
		return src, nil
	}
	defer src.Close()

	// 16-битный кадр сначала сжимаем до 8 бит.
	if encoding == entity.EncodingMono16 {
		scaled := gocv.NewMat()
		defer scaled.Close()
		src.ConvertToWithParams(&scaled, gocv.MatTypeCV8U, 1.0/256.0, 0)
		bgr := gocv.NewMat()
		gocv.CvtColor(scaled, &bgr, gocv.ColorGrayToBGR)
		return bgr, nil
	}

	codes := map[string]gocv.ColorConversionCode{
		entity.EncodingMono8: gocv.ColorGrayToBGR,
		entity.EncodingRGB8:  gocv.ColorRGBToBGR,
		entity.EncodingBGRA8: gocv.ColorBGRAToBGR,
		entity.EncodingRGBA8: gocv.ColorRGBAToBGR,
	}

	bgr := gocv.NewMat()
	gocv.CvtColor(src, &bgr, codes[encoding])
	if bgr.Empty() {
		bgr.Close()
		return gocv.NewMat(), fmt.Errorf("%w: color conversion from %s", entity.ErrConversion, encoding)
	}

	return bgr, nil
}

// MatToImage превращает BGR-матрицу в сообщение bgr8 с заданным заголовком.
func MatToImage(mat gocv.Mat, header entity.Header) (*entity.Image, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("%w: empty matrix", entity.ErrConversion)
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("%w: expected 8UC3 matrix, got %v", entity.ErrConversion, mat.Type())
	}

	data := mat.ToBytes()
	return entity.NewBGR8(header, mat.Cols(), mat.Rows(), data), nil
}
