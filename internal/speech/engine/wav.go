package engine

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WrapPCM prefixes 16-bit little-endian PCM with a WAV header.
func WrapPCM(pcm []byte, sampleRate, channels int) ([]byte, error) {
	if channels <= 0 {
		channels = 1
	}
	var buf bytes.Buffer
	buf.Grow(44 + len(pcm))
	if err := writeWAVHeader(&buf, len(pcm), sampleRate, channels); err != nil {
		return nil, err
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}

// writeWAVHeader writes a 44-byte WAV header for 16-bit PCM.
func writeWAVHeader(w io.Writer, dataSize, sampleRate, channels int) error {
	const bitsPerSample = 16
	blockAlign := channels * bitsPerSample / 8
	totalSize := 36 + dataSize

	// RIFF header
	if _, err := w.Write([]byte("RIFF")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(totalSize)); err != nil {
		return err
	}
	if _, err := w.Write([]byte("WAVE")); err != nil {
		return err
	}

	// fmt sub-chunk
	if _, err := w.Write([]byte("fmt ")); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil { // sub-chunk size
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(1)); err != nil { // PCM format
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(channels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate*blockAlign)); err != nil { // byte rate
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(blockAlign)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data sub-chunk
	if _, err := w.Write([]byte("data")); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, uint32(dataSize))
}
