package audioinfo

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want Quality
	}{
		{"24-bit flac", Info{Format: "flac", SampleRate: 44100, BitDepth: 24, Bitrate: 2100}, QualityHR},
		{"96k wav", Info{Format: "wav", SampleRate: 96000, BitDepth: 16}, QualityHR},
		{"cd flac", Info{Format: "flac", SampleRate: 44100, BitDepth: 16, Bitrate: 900}, QualitySQ},
		{"48k 16-bit flac", Info{Format: "flac", SampleRate: 48000, BitDepth: 16}, QualitySQ},
		{"alac", Info{Format: "alac", SampleRate: 44100, Bitrate: 800}, QualitySQ},
		{"320 mp3", Info{Format: "mp3", SampleRate: 44100, Bitrate: 320}, QualityHQ},
		{"256 aac", Info{Format: "m4a", SampleRate: 44100, Bitrate: 256}, QualityHQ},
		{"128 mp3", Info{Format: "mp3", SampleRate: 44100, Bitrate: 128}, QualityPQ},
		{"empty", Info{}, QualityPQ},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.info); got != tt.want {
				t.Errorf("Classify(%+v) = %q, want %q", tt.info, got, tt.want)
			}
		})
	}
}

func TestIsAudio(t *testing.T) {
	for path, want := range map[string]bool{
		"a/周杰伦 - 稻香.flac": true,
		"x.MP3":            true,
		"cover.jpg":        false,
		"notes.lrc":        false,
		"noext":            false,
	} {
		if got := IsAudio(path); got != want {
			t.Errorf("IsAudio(%q) = %v, want %v", path, got, want)
		}
	}
}

func flacHeader(sampleRate, channels, bps int, samples int64) []byte {
	var buf bytes.Buffer
	buf.WriteString("fLaC")
	buf.Write([]byte{0x80, 0, 0, 34}) // last block, STREAMINFO, length 34
	si := make([]byte, 34)
	packed := uint64(sampleRate)<<44 | uint64(channels-1)<<41 | uint64(bps-1)<<36 | uint64(samples)
	binary.BigEndian.PutUint64(si[10:18], packed)
	buf.Write(si)
	return buf.Bytes()
}

func TestReadStreamInfo(t *testing.T) {
	si, err := ReadStreamInfo(bytes.NewReader(flacHeader(96000, 2, 24, 4800000)))
	if err != nil {
		t.Fatalf("ReadStreamInfo: %v", err)
	}
	want := StreamInfo{SampleRate: 96000, Channels: 2, BitsPerSample: 24, TotalSamples: 4800000}
	if si != want {
		t.Errorf("StreamInfo = %+v, want %+v", si, want)
	}
}

func TestReadStreamInfo_SkipsID3(t *testing.T) {
	var buf bytes.Buffer
	// ID3v2.3 header with a 20-byte body.
	buf.Write([]byte{'I', 'D', '3', 3, 0, 0, 0, 0, 0, 20})
	buf.Write(make([]byte, 20))
	buf.Write(flacHeader(44100, 2, 16, 100))

	si, err := ReadStreamInfo(&buf)
	if err != nil {
		t.Fatalf("ReadStreamInfo: %v", err)
	}
	if si.BitsPerSample != 16 || si.SampleRate != 44100 {
		t.Errorf("StreamInfo = %+v", si)
	}
}

func TestReadStreamInfo_NotFLAC(t *testing.T) {
	_, err := ReadStreamInfo(bytes.NewReader([]byte("RIFF....WAVEfmt ")))
	if !errors.Is(err, ErrNotFLAC) {
		t.Errorf("err = %v, want ErrNotFLAC", err)
	}
}

func TestProbeQuality_Missing(t *testing.T) {
	if _, q := ProbeQuality("/nonexistent/file.flac"); q != QualityERR {
		t.Errorf("quality = %q, want %q", q, QualityERR)
	}
}
