package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

const (
	ContentTypeWAV  = "audio/wav"
	ContentTypeMP3  = "audio/mpeg"
	ContentTypeData = "application/octet-stream"
)

// Handle references synthesized audio held by the audio cache.
type Handle struct {
	ID          string        `json:"id"`
	ContentType string        `json:"content_type"`
	Size        int           `json:"size"`
	Duration    time.Duration `json:"duration"`
}

// Extension returns the file extension clients expect for the content type.
func (h Handle) Extension() string {
	switch h.ContentType {
	case ContentTypeWAV:
		return ".wav"
	case ContentTypeMP3:
		return ".mp3"
	default:
		return ""
	}
}

var ErrUnknownFormat = errors.New("audio: unknown format")

// DetectContentType sniffs WAV and MP3 payloads.
func DetectContentType(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContentTypeWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContentTypeMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return ContentTypeMP3
	default:
		return ContentTypeData
	}
}

// Duration measures how long data plays. The content type is sniffed when empty.
func Duration(data []byte, contentType string) (time.Duration, error) {
	if contentType == "" || contentType == ContentTypeData {
		contentType = DetectContentType(data)
	}
	switch contentType {
	case ContentTypeWAV:
		return wavDuration(data)
	case ContentTypeMP3:
		return mp3Duration(data)
	default:
		return 0, ErrUnknownFormat
	}
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode mp3: %w", err)
	}
	rate := dec.SampleRate()
	length := dec.Length()
	if rate <= 0 || length <= 0 {
		return 0, fmt.Errorf("decode mp3: empty stream")
	}
	// go-mp3 always decodes to 16-bit stereo.
	frames := length / 4
	return time.Duration(frames) * time.Second / time.Duration(rate), nil
}

func wavDuration(data []byte) (time.Duration, error) {
	if len(data) < 12 {
		return 0, ErrUnknownFormat
	}
	var byteRate uint32
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		switch id {
		case "fmt ":
			if body+16 > len(data) {
				return 0, fmt.Errorf("wav: truncated fmt chunk")
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, fmt.Errorf("wav: data before fmt")
			}
			n := int64(size)
			if avail := int64(len(data) - body); n > avail || size == 0xFFFFFFFF {
				n = avail
			}
			return time.Duration(n) * time.Second / time.Duration(byteRate), nil
		}
		pos = body + int(size) + int(size&1)
	}
	return 0, fmt.Errorf("wav: no data chunk")
}

// PCMFormat describes raw interleaved little-endian PCM.
type PCMFormat struct {
	Rate     int
	Width    int // bytes per sample
	Channels int
}

// EncodeWAV wraps raw PCM in a canonical 44-byte RIFF header.
func EncodeWAV(pcm []byte, f PCMFormat) []byte {
	if f.Rate <= 0 {
		f.Rate = 22050
	}
	if f.Width <= 0 {
		f.Width = 2
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	blockAlign := f.Width * f.Channels
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.Rate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(f.Rate*blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(blockAlign))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(f.Width*8))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

// Silence returns a WAV of the given length containing only zero samples.
func Silence(d time.Duration, f PCMFormat) []byte {
	if f.Rate <= 0 {
		f.Rate = 22050
	}
	if f.Width <= 0 {
		f.Width = 2
	}
	if f.Channels <= 0 {
		f.Channels = 1
	}
	frames := int(d * time.Duration(f.Rate) / time.Second)
	return EncodeWAV(make([]byte, frames*f.Width*f.Channels), f)
}
