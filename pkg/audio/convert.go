// Package audio holds the small amount of PCM plumbing Fish Tank needs: format
// conversion of synthesised judge voices, WAV framing for clients, and channel
// helpers for streaming TTS output.
//
// All PCM in this package is 16-bit signed little-endian.
package audio

import "fmt"

// Format describes the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	if f.Channels == 2 {
		ch = "stereo"
	} else if f.Channels > 2 {
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// Convert converts pcm from src to dst. Only mono and stereo are supported;
// other channel layouts are returned with the rate converted but channels
// untouched. An odd trailing byte is dropped.
//
// Conversion order: downmix first, then resample, then upmix, so that
// resampling always runs on the smaller stream.
func Convert(pcm []byte, src, dst Format) []byte {
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	if src == dst {
		return pcm
	}

	channels := src.Channels
	if channels == 2 && dst.Channels == 1 {
		pcm = StereoToMono(pcm)
		channels = 1
	}

	if src.SampleRate != dst.SampleRate {
		if channels == 1 {
			pcm = ResampleMono16(pcm, src.SampleRate, dst.SampleRate)
		} else {
			pcm = ResampleStereo16(pcm, src.SampleRate, dst.SampleRate)
		}
	}

	if channels == 1 && dst.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	return pcm
}

// MonoToStereo duplicates each int16 mono sample into a stereo L+R pair.
func MonoToStereo(pcm []byte) []byte {
	out := make([]byte, (len(pcm)/2)*4)
	for i := 0; i+1 < len(pcm); i += 2 {
		lo, hi := pcm[i], pcm[i+1]
		j := i * 2
		out[j] = lo
		out[j+1] = hi
		out[j+2] = lo
		out[j+3] = hi
	}
	return out
}

// StereoToMono averages L+R per stereo frame (4 bytes) to produce mono output.
// Uses int32 arithmetic to prevent overflow and clamps to int16 range.
func StereoToMono(pcm []byte) []byte {
	frames := len(pcm) / 4
	out := make([]byte, frames*2)
	for i := range frames {
		l := int32(int16(pcm[i*4]) | int16(pcm[i*4+1])<<8)
		r := int32(int16(pcm[i*4+2]) | int16(pcm[i*4+3])<<8)
		avg := clamp16((l + r) / 2)
		out[i*2] = byte(avg)
		out[i*2+1] = byte(avg >> 8)
	}
	return out
}

// ResampleMono16 resamples 16-bit mono PCM from srcRate to dstRate using linear
// interpolation. If srcRate == dstRate, the input is returned unchanged.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, srcRate, dstRate, 1)
}

// ResampleStereo16 resamples 16-bit interleaved stereo PCM from srcRate to
// dstRate using linear interpolation on each channel.
func ResampleStereo16(pcm []byte, srcRate, dstRate int) []byte {
	return resample(pcm, srcRate, dstRate, 2)
}

func resample(pcm []byte, srcRate, dstRate, channels int) []byte {
	frameBytes := 2 * channels
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < frameBytes {
		return pcm
	}
	srcFrames := len(pcm) / frameBytes
	dstFrames := int(int64(srcFrames) * int64(dstRate) / int64(srcRate))
	if dstFrames == 0 {
		return nil
	}

	out := make([]byte, dstFrames*frameBytes)
	ratio := float64(srcRate) / float64(dstRate)

	for i := range dstFrames {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)
		next := srcIdx + 1
		if next >= srcFrames {
			next = srcIdx
		}
		for ch := range channels {
			s0 := sampleAt(pcm, srcIdx*channels+ch)
			s1 := sampleAt(pcm, next*channels+ch)
			v := int16(float64(s0)*(1-frac) + float64(s1)*frac)
			o := (i*channels + ch) * 2
			out[o] = byte(v)
			out[o+1] = byte(v >> 8)
		}
	}
	return out
}

func sampleAt(pcm []byte, idx int) int16 {
	return int16(pcm[idx*2]) | int16(pcm[idx*2+1])<<8
}

func clamp16(v int32) int32 {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}
