// Package wire кодирует сообщения с изображениями в формат protobuf,
// повторяющий раскладку полей sensor_msgs/Image.
package wire

import (
	"errors"
	"fmt"
	"math"
	"time"

	"google.golang.org/protobuf/encoding/protowire"

	"detect-features/internal/domain/entity"
)

// Номера полей Image.
const (
	fieldHeader      protowire.Number = 1
	fieldHeight      protowire.Number = 2
	fieldWidth       protowire.Number = 3
	fieldEncoding    protowire.Number = 4
	fieldIsBigEndian protowire.Number = 5
	fieldStep        protowire.Number = 6
	fieldData        protowire.Number = 7
)

// Номера полей Header.
const (
	fieldStampSec     protowire.Number = 1
	fieldStampNanosec protowire.Number = 2
	fieldFrameID      protowire.Number = 3
	fieldSeq          protowire.Number = 4
)

// ErrMalformed сообщение не разбирается как Image.
var ErrMalformed = errors.New("malformed image message")

// Marshal кодирует сообщение.
func Marshal(img *entity.Image) []byte {
	var header []byte
	if !img.Header.Stamp.IsZero() {
		header = protowire.AppendTag(header, fieldStampSec, protowire.VarintType)
		header = protowire.AppendVarint(header, uint64(img.Header.Stamp.Unix()))
		header = protowire.AppendTag(header, fieldStampNanosec, protowire.VarintType)
		header = protowire.AppendVarint(header, uint64(img.Header.Stamp.Nanosecond()))
	}
	if img.Header.FrameID != "" {
		header = protowire.AppendTag(header, fieldFrameID, protowire.BytesType)
		header = protowire.AppendString(header, img.Header.FrameID)
	}
	if img.Header.Seq != 0 {
		header = protowire.AppendTag(header, fieldSeq, protowire.VarintType)
		header = protowire.AppendVarint(header, uint64(img.Header.Seq))
	}

	b := make([]byte, 0, len(img.Data)+len(header)+64)
	b = protowire.AppendTag(b, fieldHeader, protowire.BytesType)
	b = protowire.AppendBytes(b, header)
	b = protowire.AppendTag(b, fieldHeight, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(img.Height))
	b = protowire.AppendTag(b, fieldWidth, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(img.Width))
	b = protowire.AppendTag(b, fieldEncoding, protowire.BytesType)
	b = protowire.AppendString(b, img.Encoding)
	if img.IsBigEndian {
		b = protowire.AppendTag(b, fieldIsBigEndian, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}
	b = protowire.AppendTag(b, fieldStep, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(img.Step))
	b = protowire.AppendTag(b, fieldData, protowire.BytesType)
	b = protowire.AppendBytes(b, img.Data)

	return b
}

// Unmarshal разбирает сообщение. Неизвестные поля пропускаются.
func Unmarshal(b []byte) (*entity.Image, error) {
	img := &entity.Image{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldHeader && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			header, err := unmarshalHeader(v)
			if err != nil {
				return nil, err
			}
			img.Header = header
			b = b[n:]

		case num == fieldEncoding && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			img.Encoding = v
			b = b[n:]

		case num == fieldData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			img.Data = append([]byte(nil), v...)
			b = b[n:]

		case typ == protowire.VarintType && (num == fieldHeight || num == fieldWidth || num == fieldStep || num == fieldIsBigEndian):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			if num != fieldIsBigEndian && v > math.MaxUint32 {
				return nil, fmt.Errorf("%w: field %d value %d overflows uint32", ErrMalformed, num, v)
			}
			switch num {
			case fieldHeight:
				img.Height = uint32(v)
			case fieldWidth:
				img.Width = uint32(v)
			case fieldStep:
				img.Step = uint32(v)
			case fieldIsBigEndian:
				img.IsBigEndian = protowire.DecodeBool(v)
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return img, nil
}

func unmarshalHeader(b []byte) (entity.Header, error) {
	var (
		header  entity.Header
		sec     int64
		nanosec int64
		stamped bool
	)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return header, malformed(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == fieldFrameID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return header, malformed(protowire.ParseError(n))
			}
			header.FrameID = v
			b = b[n:]

		case typ == protowire.VarintType && (num == fieldStampSec || num == fieldStampNanosec || num == fieldSeq):
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return header, malformed(protowire.ParseError(n))
			}
			switch num {
			case fieldStampSec:
				sec, stamped = int64(v), true
			case fieldStampNanosec:
				nanosec, stamped = int64(v), true
			case fieldSeq:
				if v > math.MaxUint32 {
					return header, fmt.Errorf("%w: seq %d overflows uint32", ErrMalformed, v)
				}
				header.Seq = uint32(v)
			}
			b = b[n:]

		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return header, malformed(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if stamped {
		header.Stamp = time.Unix(sec, nanosec)
	}

	return header, nil
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
