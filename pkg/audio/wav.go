package audio

import (
	"encoding/binary"
	"errors"
)

// ErrNotWAV is returned by DecodeWAV for data without a RIFF/WAVE PCM header.
var ErrNotWAV = errors.New("audio: not a 16-bit PCM WAV file")

const wavHeaderSize = 44

// EncodeWAV wraps raw 16-bit PCM in a canonical RIFF/WAV container.
func EncodeWAV(pcm []byte, f Format) []byte {
	const bps = 16
	byteRate := f.SampleRate * f.Channels * bps / 8
	blockAlign := f.Channels * bps / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bps)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)

	return buf
}

// DecodeWAV parses a WAV file produced by EncodeWAV (or any 16-bit PCM WAV
// with chunks in canonical order) and returns its samples and format.
// Unknown chunks between "fmt " and "data" are skipped.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, ErrNotWAV
	}

	var (
		f       Format
		haveFmt bool
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 || binary.LittleEndian.Uint16(data[body:body+2]) != 1 ||
				binary.LittleEndian.Uint16(data[body+14:body+16]) != 16 {
				return nil, Format{}, ErrNotWAV
			}
			f.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			f.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, Format{}, ErrNotWAV
			}
			return data[body : body+size], f, nil
		}
		// Chunks are padded to an even size.
		off = body + size + size%2
	}
	return nil, Format{}, ErrNotWAV
}
