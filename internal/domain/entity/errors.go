package entity

import "errors"

var (
	// ErrUnknownDetector неизвестное имя детектора в конфигурации
	ErrUnknownDetector = errors.New("unknown detector type")

	// ErrConversion сообщение нельзя превратить в изображение
	ErrConversion = errors.New("image conversion failed")
)
