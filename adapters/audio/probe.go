package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

// ErrUnknownFormat is returned when the duration of a payload cannot be
// determined
var ErrUnknownFormat = errors.New("audio: unknown format")

// ProbeDuration returns the playing time of a WAV or MPEG layer III payload
func ProbeDuration(data []byte) (time.Duration, error) {
	if len(data) >= 12 && bytes.Equal(data[0:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return wavDuration(data)
	}
	return mp3Duration(data)
}

// wavDuration walks the RIFF chunks for the fmt byte rate and the data size
func wavDuration(data []byte) (time.Duration, error) {
	var byteRate uint32
	offset := 12
	for offset+8 <= len(data) {
		id := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + 8

		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, ErrUnknownFormat
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, ErrUnknownFormat
			}
			// Recorders interrupted mid-stream leave a placeholder size
			if size < 0 || body+size > len(data) {
				size = len(data) - body
			}
			return time.Duration(float64(size) / float64(byteRate) * float64(time.Second)), nil
		}

		// Chunks are word aligned
		offset = body + size + size%2
	}
	return 0, ErrUnknownFormat
}

var (
	mpeg1Layer3Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Layer3Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	sampleRates         = map[int][3]int{
		3: {44100, 48000, 32000}, // MPEG 1
		2: {22050, 24000, 16000}, // MPEG 2
		0: {11025, 12000, 8000},  // MPEG 2.5
	}
)

// mp3Frame is a decoded MPEG audio frame header
type mp3Frame struct {
	length     int
	samples    int
	sampleRate int
}

// parseMP3Frame decodes the four byte header at the start of b
func parseMP3Frame(b []byte) (mp3Frame, bool) {
	if len(b) < 4 || b[0] != 0xFF || b[1]&0xE0 != 0xE0 {
		return mp3Frame{}, false
	}

	version := int(b[1]>>3) & 0x03
	layer := int(b[1]>>1) & 0x03
	bitrateIdx := int(b[2] >> 4)
	rateIdx := int(b[2]>>2) & 0x03
	padding := int(b[2]>>1) & 0x01

	rates, ok := sampleRates[version]
	if !ok || layer != 1 || rateIdx == 3 {
		return mp3Frame{}, false
	}

	sampleRate := rates[rateIdx]
	if version == 3 {
		bitrate := mpeg1Layer3Bitrates[bitrateIdx] * 1000
		if bitrate == 0 {
			return mp3Frame{}, false
		}
		return mp3Frame{length: 144*bitrate/sampleRate + padding, samples: 1152, sampleRate: sampleRate}, true
	}

	bitrate := mpeg2Layer3Bitrates[bitrateIdx] * 1000
	if bitrate == 0 {
		return mp3Frame{}, false
	}
	return mp3Frame{length: 72*bitrate/sampleRate + padding, samples: 576, sampleRate: sampleRate}, true
}

// mp3Duration skips an ID3v2 tag and sums the duration of consecutive frames
func mp3Duration(data []byte) (time.Duration, error) {
	offset := 0
	if len(data) >= 10 && bytes.Equal(data[0:3], []byte("ID3")) {
		size := int(data[6])<<21 | int(data[7])<<14 | int(data[8])<<7 | int(data[9])
		offset = 10 + size
		if data[5]&0x10 != 0 {
			offset += 10
		}
	}

	// Resynchronize on the first frame header
	for offset+4 <= len(data) {
		if _, ok := parseMP3Frame(data[offset:]); ok {
			break
		}
		offset++
	}

	var total time.Duration
	frames := 0
	for offset+4 <= len(data) {
		frame, ok := parseMP3Frame(data[offset:])
		if !ok || frame.length <= 0 {
			break
		}
		total += time.Duration(frame.samples) * time.Second / time.Duration(frame.sampleRate)
		frames++
		offset += frame.length
	}

	if frames == 0 {
		return 0, ErrUnknownFormat
	}
	return total, nil
}
