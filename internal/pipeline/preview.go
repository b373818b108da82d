package pipeline

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

const (
	previewSeconds = 15
	previewBitrate = "192k"
)

// PreviewEncoder derives the short preview clip served in listings.
type PreviewEncoder interface {
	Encode(ctx context.Context, audio []byte) ([]byte, error)
}

// FFmpegEncoder shells out to ffmpeg to cut and re-encode the first
// seconds of the uploaded audio at a fixed bitrate.
type FFmpegEncoder struct {
	// Binary is the ffmpeg executable, "ffmpeg" by default.
	Binary string
}

// NewFFmpegEncoder returns an encoder using the given ffmpeg binary.
func NewFFmpegEncoder(binary string) *FFmpegEncoder {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpegEncoder{Binary: binary}
}

// Encode writes the audio to a temp file, runs ffmpeg against it and reads
// the clipped result back. Temp files are always removed.
func (e *FFmpegEncoder) Encode(ctx context.Context, audio []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "chartfall-preview-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	source := filepath.Join(dir, "source-"+uuid.NewString()+".mp3")
	target := filepath.Join(dir, "preview-"+uuid.NewString()+".mp3")
	if err := os.WriteFile(source, audio, 0o600); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.Binary,
		"-i", source,
		"-t", fmt.Sprintf("%d", previewSeconds),
		"-acodec", "libmp3lame",
		"-b:a", previewBitrate,
		"-y",
		target,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg preview encode failed: %w (%s)", err, truncate(string(output), 512))
	}

	clip, err := os.ReadFile(target)
	if err != nil {
		return nil, err
	}
	return clip, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
