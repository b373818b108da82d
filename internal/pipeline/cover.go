package pipeline

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	// Register the raster formats accepted for cover uploads.
	_ "image/gif"
	_ "image/jpeg"
)

// NormalizeCover decodes an uploaded raster image and re-encodes it as the
// canonical PNG served to clients. Undecodable input is ErrInvalidCover.
func NormalizeCover(data []byte) ([]byte, error) {
	decoded, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCover, err)
	}

	var encoded bytes.Buffer
	if err := png.Encode(&encoded, decoded); err != nil {
		return nil, err
	}
	return encoded.Bytes(), nil
}
