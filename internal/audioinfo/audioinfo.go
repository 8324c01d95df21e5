// Package audioinfo probes audio files for stream properties and derives
// the HR/SQ/HQ/PQ quality tier from them.
package audioinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.senan.xyz/taglib"
)

// Quality is a coarse audio tier.
type Quality string

// Quality tiers, best first. ERR marks files that could not be read.
const (
	QualityHR  Quality = "HR"
	QualitySQ  Quality = "SQ"
	QualityHQ  Quality = "HQ"
	QualityPQ  Quality = "PQ"
	QualityERR Quality = "ERR"
)

// Audio file extensions the library manages.
var Extensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".m4a":  true,
	".wav":  true,
}

// PreferredExtensions lists Extensions best quality first, the order in
// which copies of one track are looked up on disk.
var PreferredExtensions = []string{".flac", ".wav", ".m4a", ".mp3"}

// IsAudio reports whether path has a managed audio extension.
func IsAudio(path string) bool {
	return Extensions[strings.ToLower(filepath.Ext(path))]
}

var losslessFormats = map[string]bool{
	"flac": true,
	"wav":  true,
	"alac": true,
	"ape":  true,
	"aiff": true,
}

// alacMinBitrate separates ALAC from AAC inside an m4a container. AAC
// never comes close to this rate in practice.
const alacMinBitrate = 500

// Info is what Probe learns about a file.
type Info struct {
	Format     string        `json:"format"`
	SampleRate int           `json:"sample_rate"`
	BitDepth   int           `json:"bit_depth,omitempty"`
	Bitrate    int           `json:"bitrate"` // kbps
	Duration   time.Duration `json:"duration"`
	Size       int64         `json:"size"`
}

// Classify maps stream properties onto a quality tier.
func Classify(info Info) Quality {
	if info.SampleRate > 48000 || info.BitDepth > 16 {
		return QualityHR
	}
	if losslessFormats[info.Format] {
		return QualitySQ
	}
	if info.Bitrate >= 250 {
		return QualityHQ
	}
	return QualityPQ
}

// Probe reads the stream properties of the file at path.
func Probe(path string) (Info, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("stat audio file: %w", err)
	}
	props, err := taglib.ReadProperties(path)
	if err != nil {
		return Info{}, fmt.Errorf("reading audio properties: %w", err)
	}

	info := Info{
		Format:     strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		SampleRate: int(props.SampleRate),
		Bitrate:    int(props.Bitrate),
		Duration:   props.Length,
		Size:       fi.Size(),
	}
	switch info.Format {
	case "flac":
		if si, err := readFLACFile(path); err == nil {
			info.BitDepth = si.BitsPerSample
			if info.SampleRate == 0 {
				info.SampleRate = si.SampleRate
			}
		}
	case "m4a":
		if info.Bitrate >= alacMinBitrate {
			info.Format = "alac"
		}
	}
	return info, nil
}

// ProbeQuality probes path and classifies it, returning QualityERR when
// the file cannot be read.
func ProbeQuality(path string) (Info, Quality) {
	info, err := Probe(path)
	if err != nil {
		return info, QualityERR
	}
	return info, Classify(info)
}

// StreamInfo is the decoded FLAC STREAMINFO block.
type StreamInfo struct {
	SampleRate    int
	Channels      int
	BitsPerSample int
	TotalSamples  int64
}

// ErrNotFLAC is returned when the stream does not start with a FLAC
// signature, optionally preceded by an ID3v2 tag.
var ErrNotFLAC = errors.New("not a flac stream")

func readFLACFile(path string) (StreamInfo, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the library walk
	if err != nil {
		return StreamInfo{}, err
	}
	defer f.Close() //nolint:errcheck
	return ReadStreamInfo(f)
}

// ReadStreamInfo decodes the STREAMINFO block at the start of a FLAC
// stream. taglib does not expose bit depth, which the HR test needs.
func ReadStreamInfo(r io.Reader) (StreamInfo, error) {
	var head [4]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return StreamInfo{}, err
	}
	if bytes.Equal(head[:3], []byte("ID3")) {
		if err := skipID3(r); err != nil {
			return StreamInfo{}, err
		}
		if _, err := io.ReadFull(r, head[:]); err != nil {
			return StreamInfo{}, err
		}
	}
	if string(head[:]) != "fLaC" {
		return StreamInfo{}, ErrNotFLAC
	}

	var block [4]byte
	if _, err := io.ReadFull(r, block[:]); err != nil {
		return StreamInfo{}, err
	}
	if block[0]&0x7f != 0 {
		return StreamInfo{}, fmt.Errorf("first metadata block is type %d, not STREAMINFO", block[0]&0x7f)
	}
	var si [34]byte
	if _, err := io.ReadFull(r, si[:]); err != nil {
		return StreamInfo{}, err
	}

	// Bytes 10..17 pack sample rate (20 bits), channels-1 (3 bits),
	// bits-per-sample-1 (5 bits) and total samples (36 bits).
	packed := binary.BigEndian.Uint64(si[10:18])
	return StreamInfo{
		SampleRate:    int(packed >> 44),
		Channels:      int((packed>>41)&0x7) + 1,
		BitsPerSample: int((packed>>36)&0x1f) + 1,
		TotalSamples:  int64(packed & 0xfffffffff),
	}, nil
}

// skipID3 discards an ID3v2 tag whose first four bytes were already read.
func skipID3(r io.Reader) error {
	var rest [6]byte
	if _, err := io.ReadFull(r, rest[:]); err != nil {
		return err
	}
	// rest[1] holds the flags and rest[2:6] the syncsafe tag size.
	size := int64(rest[2])<<21 | int64(rest[3])<<14 | int64(rest[4])<<7 | int64(rest[5])
	if rest[1]&0x10 != 0 {
		size += 10 // footer
	}
	_, err := io.CopyN(io.Discard, r, size)
	return err
}
