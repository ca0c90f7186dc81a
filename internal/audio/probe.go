package audio

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// Info describes a decoded WAV header.
type Info struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	Duration      time.Duration
}

// ProbeWAV parses the RIFF/WAVE header of r and returns its stream info.
// Only the fmt and data chunks are inspected; payload bytes are skipped.
func ProbeWAV(r io.Reader) (Info, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Info{}, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Info{}, fmt.Errorf("not a RIFF/WAVE stream")
	}

	var info Info
	haveFmt := false
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return Info{}, fmt.Errorf("read chunk header: %w", err)
		}
		id := string(chunk[0:4])
		size := binary.LittleEndian.Uint32(chunk[4:8])

		switch id {
		case "fmt ":
			if size < 16 {
				return Info{}, fmt.Errorf("fmt chunk too small (%d bytes)", size)
			}
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Info{}, fmt.Errorf("read fmt chunk: %w", err)
			}
			info.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(body[14:16]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return Info{}, fmt.Errorf("data chunk before fmt chunk")
			}
			if info.SampleRate <= 0 || info.Channels <= 0 || info.BitsPerSample <= 0 {
				return Info{}, fmt.Errorf("invalid fmt chunk (rate=%d channels=%d bits=%d)",
					info.SampleRate, info.Channels, info.BitsPerSample)
			}
			bytesPerSec := info.SampleRate * info.Channels * info.BitsPerSample / 8
			info.Duration = time.Duration(float64(size) / float64(bytesPerSec) * float64(time.Second))
			return info, nil
		default:
			// Skip unknown chunks (LIST, fact, ...). Chunks are word-aligned.
			skip := int64(size)
			if size%2 == 1 {
				skip++
			}
			if _, err := io.CopyN(io.Discard, r, skip); err != nil {
				return Info{}, fmt.Errorf("skip %s chunk: %w", id, err)
			}
		}
	}
	return Info{}, fmt.Errorf("no data chunk found")
}
