package entity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseDetectorType(t *testing.T) {
	tests := []struct {
		name string
		want DetectorType
	}{
		{"ORB", DetectorORB},
		{"SIFT", DetectorSIFT},
		{"BRISK", DetectorBRISK},
		{"AKAZE", DetectorAKAZE},
		{"MSER", DetectorMSER},
		{"FAST", DetectorFAST},
		{"Agast", DetectorAgast},
		{"AgastFeatureDetector", DetectorAgast},
		{"GFTT", DetectorGFTT},
		{"GFTTDetector", DetectorGFTT},
		{"SimpleBlobDetector", DetectorBlob},
		{"blob", DetectorBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDetectorType(tt.name)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestParseDetectorType_Unknown(t *testing.T) {
	for _, name := range []string{"", "orb", "SURF", "Harris"} {
		_, err := ParseDetectorType(name)
		require.ErrorIs(t, err, ErrUnknownDetector, name)
	}
}

func TestDetectorTypes_AllParse(t *testing.T) {
	for _, dt := range DetectorTypes() {
		got, err := ParseDetectorType(dt.String())
		require.NoError(t, err)
		require.Equal(t, dt, got)
	}
}
