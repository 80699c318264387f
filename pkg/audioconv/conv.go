// Package audioconv decodes audio files into 16 kHz mono float32 PCM and
// converts between the sample formats used by the recognisers.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

// TargetRate is the sample rate every decoder resamples to.
const TargetRate = 16000

const opusRate = 48000

type Options struct {
	// MaxSamples truncates the decoded audio; 0 keeps everything.
	MaxSamples int
}

// raw is decoded audio before normalisation: interleaved samples in
// [-1, 1] at the source rate.
type raw struct {
	samples  []float32
	rate     int
	channels int
}

type decoder func(io.ReadSeeker) (raw, error)

var byExtension = map[string]decoder{
	".wav":  decodeWAV,
	".mp3":  decodeMP3,
	".ogg":  decodeOgg,
	".oga":  decodeOgg,
	".opus": decodeOpus,
}

var byMagic = map[string]decoder{
	"RIFF":    decodeWAV,
	"OggS":    decodeOgg,
	"ID3\x03": decodeMP3,
	"ID3\x04": decodeMP3,
}

// DecodeFile decodes wav, mp3 and ogg (vorbis or opus) files. Unknown
// extensions are sniffed by their magic bytes.
func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ext := strings.ToLower(filepath.Ext(path))

	dec, ok := byExtension[ext]
	if !ok {
		magic, _ := bufio.NewReader(f).Peek(4)
		if dec, ok = byMagic[string(magic)]; !ok {
			return nil, fmt.Errorf("unsupported format %q (supported: wav, mp3, ogg vorbis/opus)", ext)
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
	}

	r, err := dec(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}

	return r.normalise(opt), nil
}

// normalise downmixes to mono, resamples to TargetRate and applies
// MaxSamples.
func (r raw) normalise(opt Options) []float32 {
	x := downmixInterleaved(r.samples, r.channels)
	x = resampleLinear(x, r.rate, TargetRate)

	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

// decodeOgg tries vorbis first and falls back to opus.
func decodeOgg(rs io.ReadSeeker) (raw, error) {
	r, verr := decodeVorbis(rs)
	if verr == nil {
		return r, nil
	}

	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return raw{}, err
	}

	r, oerr := decodeOpus(rs)
	if oerr != nil {
		return raw{}, fmt.Errorf("ogg: not vorbis (%v) nor opus (%w)", verr, oerr)
	}

	return r, nil
}

func decodeWAV(rs io.ReadSeeker) (raw, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return raw{}, errors.New("invalid wav")
	}

	pb, err := dec.FullPCMBuffer()
	if err != nil {
		return raw{}, err
	}
	if pb == nil || len(pb.Data) == 0 {
		return raw{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}

	r := raw{samples: scaleInts(pb.Data, depth), rate: 44100, channels: 1}
	if pb.Format != nil {
		r.channels = max(pb.Format.NumChannels, 1)
		if pb.Format.SampleRate > 0 {
			r.rate = pb.Format.SampleRate
		}
	}

	return r, nil
}

func decodeMP3(rs io.ReadSeeker) (raw, error) {
	dec, err := mp3.NewDecoder(rs)
	if err != nil {
		return raw{}, err
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, dec); err != nil {
		return raw{}, err
	}

	ints := make([]int16, buf.Len()/2)
	if err := binary.Read(&buf, binary.LittleEndian, ints); err != nil {
		return raw{}, err
	}

	rate := dec.SampleRate()
	if rate <= 0 {
		rate = 44100
	}

	// go-mp3 always produces interleaved stereo.
	return raw{samples: Int16ToFloat32(ints), rate: rate, channels: 2}, nil
}

func decodeVorbis(rs io.ReadSeeker) (raw, error) {
	pcm, format, err := oggvorbis.ReadAll(rs)
	if err != nil {
		return raw{}, err
	}
	if format == nil || format.Channels <= 0 || format.SampleRate <= 0 {
		return raw{}, errors.New("invalid vorbis stream")
	}

	return raw{samples: pcm, rate: format.SampleRate, channels: format.Channels}, nil
}

func decodeOpus(rs io.ReadSeeker) (raw, error) {
	dec, err := popus.NewDecoder(rs)
	if err != nil {
		return raw{}, err
	}
	defer dec.Destroy()

	ch := max(dec.ChannelCount(), 1)

	// Half a second per read.
	buf := make([]int16, opusRate*ch/2)

	r := raw{rate: opusRate, channels: ch}
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			r.samples = append(r.samples, Int16ToFloat32(buf[:n*ch])...)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return raw{}, err
		}
	}

	if len(r.samples) == 0 {
		return raw{}, errors.New("empty opus stream")
	}

	return r, nil
}

// scaleInts maps signed integer samples of the given bit depth into [-1, 1].
func scaleInts(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(clamp(float64(v)*scale, -1, 1))
	}
	return out
}

func downmixInterleaved(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}

	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float64
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += float64(v)
		}
		out[i] = float32(sum / float64(channels))
	}
	return out
}

// Resample converts between sample rates with linear interpolation.
func Resample(in []float32, inSR, outSR int) []float32 {
	return resampleLinear(in, inSR, outSR)
}

func resampleLinear(in []float32, inSR, outSR int) []float32 {
	if inSR == outSR || len(in) == 0 {
		return in
	}

	step := float64(inSR) / float64(outSR)
	out := make([]float32, int(math.Ceil(float64(len(in))/step)))
	last := len(in) - 1

	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j] + (in[j+1]-in[j])*frac
	}
	return out
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}
