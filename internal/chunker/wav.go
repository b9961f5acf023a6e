package chunker

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Canonical PCM WAV layout constants.
const (
	riffHeaderLen  = 12
	chunkHeaderLen = 8
	fmtChunkMinLen = 16

	pcmFormatCode = 1

	bitsPerByte = 8
)

// Static WAV parsing errors.
var (
	ErrNotWAV          = errors.New("data is not a RIFF/WAVE stream")
	ErrMissingFmtChunk = errors.New("missing fmt chunk")
	ErrMissingData     = errors.New("missing data chunk")
)

// wavFormat describes the PCM layout of a WAV stream.
type wavFormat struct {
	SampleRate  int
	Channels    int
	SampleWidth int // bytes per sample
}

// parseWAV extracts the PCM format and raw frame data from a WAV byte
// stream. Only the fmt and data chunks are examined; other chunks are
// skipped.
func parseWAV(data []byte) (wavFormat, []byte, error) {
	var format wavFormat

	if len(data) < riffHeaderLen ||
		string(data[0:4]) != "RIFF" ||
		string(data[8:12]) != "WAVE" {
		return format, nil, ErrNotWAV
	}

	var (
		frames   []byte
		haveFmt  bool
		haveData bool
	)

	offset := riffHeaderLen
	for offset+chunkHeaderLen <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		body := offset + chunkHeaderLen

		if body+chunkSize > len(data) {
			chunkSize = len(data) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkSize < fmtChunkMinLen {
				return format, nil, ErrMissingFmtChunk
			}

			format.Channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bitsPerSample := int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			format.SampleWidth = bitsPerSample / bitsPerByte
			haveFmt = true
		case "data":
			frames = data[body : body+chunkSize]
			haveData = true
		}

		// Chunks are word-aligned.
		offset = body + chunkSize
		if chunkSize%2 == 1 {
			offset++
		}
	}

	if !haveFmt {
		return format, nil, ErrMissingFmtChunk
	}

	if !haveData {
		return format, nil, ErrMissingData
	}

	return format, frames, nil
}

// encodeWAV wraps raw PCM frame data with a canonical 44-byte WAV header.
func encodeWAV(format wavFormat, frames []byte) []byte {
	byteRate := format.SampleRate * format.Channels * format.SampleWidth
	blockAlign := format.Channels * format.SampleWidth

	buf := make([]byte, 0, 44+len(frames))
	buf = append(buf, "RIFF"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(36+len(frames)))
	buf = append(buf, "WAVE"...)
	buf = append(buf, "fmt "...)
	buf = binary.LittleEndian.AppendUint32(buf, fmtChunkMinLen)
	buf = binary.LittleEndian.AppendUint16(buf, pcmFormatCode)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(format.Channels))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(format.SampleRate))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(byteRate))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(blockAlign))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(format.SampleWidth*bitsPerByte))
	buf = append(buf, "data"...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(frames)))
	buf = append(buf, frames...)

	return buf
}

// Duration computes the playback length in seconds of a PCM WAV stream.
// Malformed input yields zero and an error, never a panic.
func Duration(data []byte) (float64, error) {
	format, frames, err := parseWAV(data)
	if err != nil {
		return 0, fmt.Errorf("failed to parse WAV: %w", err)
	}

	bytesPerSecond := format.SampleRate * format.Channels * format.SampleWidth
	if bytesPerSecond == 0 {
		return 0, ErrMissingFmtChunk
	}

	return float64(len(frames)) / float64(bytesPerSecond), nil
}
