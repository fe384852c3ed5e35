package entity

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Кодировки пикселей, которые понимает узел.
const (
	EncodingMono8  = "mono8"
	EncodingMono16 = "mono16"
	EncodingBGR8   = "bgr8"
	EncodingRGB8   = "rgb8"
	EncodingBGRA8  = "bgra8"
	EncodingRGBA8  = "rgba8"
)

type pixelFormat struct {
	channels int
	depth    int // байт на канал
}

var pixelFormats = map[string]pixelFormat{
	EncodingMono8:  {channels: 1, depth: 1},
	EncodingMono16: {channels: 1, depth: 2},
	EncodingBGR8:   {channels: 3, depth: 1},
	EncodingRGB8:   {channels: 3, depth: 1},
	EncodingBGRA8:  {channels: 4, depth: 1},
	EncodingRGBA8:  {channels: 4, depth: 1},
}

// Синонимы в стиле OpenCV-типов.
var encodingAliases = map[string]string{
	"8UC1":  EncodingMono8,
	"8UC3":  EncodingBGR8,
	"8UC4":  EncodingBGRA8,
	"16UC1": EncodingMono16,
}

// Header метаданные кадра, которые проходят через узел без изменений
type Header struct {
	Seq     uint32    // порядковый номер кадра у источника
	Stamp   time.Time // время захвата
	FrameID string    // система координат / источник кадра
}

// Image сообщение с изображением в сыром виде
type Image struct {
	Header      Header
	Height      uint32 // число строк
	Width       uint32 // число столбцов
	Encoding    string // кодировка пикселей
	IsBigEndian bool   // порядок байт для 16-битных кодировок
	Step        uint32 // длина строки в байтах (может включать выравнивание)
	Data        []byte
}

// CanonicalEncoding приводит синонимы к основному имени кодировки.
func CanonicalEncoding(encoding string) string {
	if canonical, ok := encodingAliases[encoding]; ok {
		return canonical
	}
	return encoding
}

// Channels возвращает число каналов для кодировки изображения (0 для неизвестной).
func (img *Image) Channels() int {
	return pixelFormats[CanonicalEncoding(img.Encoding)].channels
}

// PixelSize возвращает размер пикселя в байтах (0 для неизвестной кодировки).
func (img *Image) PixelSize() int {
	f := pixelFormats[CanonicalEncoding(img.Encoding)]
	return f.channels * f.depth
}

// Validate проверяет, что буфер можно интерпретировать как изображение.
func (img *Image) Validate() error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrConversion)
	}
	if _, ok := pixelFormats[CanonicalEncoding(img.Encoding)]; !ok {
		return fmt.Errorf("%w: unsupported encoding %q", ErrConversion, img.Encoding)
	}
	if img.Width == 0 || img.Height == 0 {
		return fmt.Errorf("%w: empty image (%dx%d)", ErrConversion, img.Width, img.Height)
	}

	rowSize := uint64(img.Width) * uint64(img.PixelSize())
	if uint64(img.Step) < rowSize {
		return fmt.Errorf("%w: step %d is shorter than row size %d", ErrConversion, img.Step, rowSize)
	}
	if need := uint64(img.Step) * uint64(img.Height); uint64(len(img.Data)) < need {
		return fmt.Errorf("%w: data size %d, expected at least %d", ErrConversion, len(img.Data), need)
	}

	return nil
}

// Packed возвращает пиксели без выравнивания строк, 16-битные значения в little-endian.
func (img *Image) Packed() ([]byte, error) {
	if err := img.Validate(); err != nil {
		return nil, err
	}

	rowSize := int(img.Width) * img.PixelSize()
	step := int(img.Step)
	out := make([]byte, rowSize*int(img.Height))
	for y := 0; y < int(img.Height); y++ {
		copy(out[y*rowSize:(y+1)*rowSize], img.Data[y*step:y*step+rowSize])
	}

	if img.IsBigEndian && pixelFormats[CanonicalEncoding(img.Encoding)].depth == 2 {
		for i := 0; i+1 < len(out); i += 2 {
			binary.LittleEndian.PutUint16(out[i:], binary.BigEndian.Uint16(out[i:]))
		}
	}

	return out, nil
}

// Clone возвращает глубокую копию сообщения.
func (img *Image) Clone() *Image {
	clone := *img
	clone.Data = append([]byte(nil), img.Data...)
	return &clone
}

// NewBGR8 создаёт сообщение bgr8 из плотно упакованных пикселей.
func NewBGR8(header Header, width, height int, pixels []byte) *Image {
	return &Image{
		Header:   header,
		Height:   uint32(height),
		Width:    uint32(width),
		Encoding: EncodingBGR8,
		Step:     uint32(width * 3),
		Data:     pixels,
	}
}
