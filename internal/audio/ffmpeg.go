package audio

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// EncodeMP3 transcodes a WAV byte stream to MP3 using ffmpeg over pipes.
func EncodeMP3(ctx context.Context, wav []byte, bitrate string) ([]byte, error) {
	if strings.TrimSpace(bitrate) == "" {
		bitrate = "192k"
	}
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "mp3", "-b:a", bitrate,
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(wav)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg mp3 encode failed: %s", msg)
	}
	return stdout.Bytes(), nil
}

// ConvertToWAV24kMono rewrites src as 24kHz mono PCM WAV at dst.
// Voice-clone references are stored in this one shape so the engine never
// has to resample at synthesis time.
func ConvertToWAV24kMono(ctx context.Context, src, dst string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-y",
		"-i", src,
		"-ac", "1", "-ar", "24000",
		dst,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("ffmpeg convert failed: %s", msg)
	}
	return nil
}
