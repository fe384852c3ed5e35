package entity

import "fmt"

// DetectorType вид детектора особых точек
type DetectorType string

const (
	DetectorORB   DetectorType = "ORB"
	DetectorSIFT  DetectorType = "SIFT"
	DetectorBRISK DetectorType = "BRISK"
	DetectorAKAZE DetectorType = "AKAZE"
	DetectorMSER  DetectorType = "MSER"
	DetectorFAST  DetectorType = "FAST"
	DetectorAgast DetectorType = "Agast"
	DetectorGFTT  DetectorType = "GFTT"
	DetectorBlob  DetectorType = "SimpleBlobDetector"
)

// DefaultDetector используется, если параметр не задан.
const DefaultDetector = DetectorORB

var detectorNames = map[string]DetectorType{
	"ORB":                  DetectorORB,
	"SIFT":                 DetectorSIFT,
	"BRISK":                DetectorBRISK,
	"AKAZE":                DetectorAKAZE,
	"MSER":                 DetectorMSER,
	"FAST":                 DetectorFAST,
	"Agast":                DetectorAgast,
	"AgastFeatureDetector": DetectorAgast,
	"GFTT":                 DetectorGFTT,
	"GFTTDetector":         DetectorGFTT,
	"SimpleBlobDetector":   DetectorBlob,
	"blob":                 DetectorBlob,
}

// DetectorTypes возвращает все поддерживаемые детекторы.
func DetectorTypes() []DetectorType {
	return []DetectorType{
		DetectorORB, DetectorSIFT, DetectorBRISK, DetectorAKAZE,
		DetectorMSER, DetectorFAST, DetectorAgast, DetectorGFTT, DetectorBlob,
	}
}

// ParseDetectorType сопоставляет имя из конфигурации с детектором.
// Сравнение чувствительно к регистру.
func ParseDetectorType(name string) (DetectorType, error) {
	if t, ok := detectorNames[name]; ok {
		return t, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownDetector, name)
}

func (t DetectorType) String() string {
	return string(t)
}
