package sound

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// playerPollInterval is how often the loop goroutine checks for playback end.
const playerPollInterval = 10 * time.Millisecond

// otoContext is the process-wide audio device handle.
// The audio backend allows only one context per process.
var (
	otoContext     *oto.Context
	otoContextOnce sync.Once
	otoContextErr  error
)

// Nop is a silent player for installations without audio output.
// Params: none.
// Returns: no-op playback.
type Nop struct{}

// Play ignores the request.
// Params: ctx.
// Returns: nil.
func (Nop) Play(context.Context) error { return nil }

// Stop ignores the request.
// Params: none.
// Returns: none.
func (Nop) Stop() {}

// wavFormat describes the decoded sample layout of one WAV file.
type wavFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// WAVPlayer loops one preloaded WAV clip until stopped.
// Params: clip path from config.
// Returns: start/stop playback control.
type WAVPlayer struct {
	format wavFormat
	pcm    []byte
	logger *slog.Logger

	mu      sync.Mutex
	stop    chan struct{}
	playing bool
}

// NewWAVPlayer loads and validates the alarm clip.
// Params: WAV file path and logger.
// Returns: ready player or load/parse error.
func NewWAVPlayer(path string, logger *slog.Logger) (*WAVPlayer, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read clip %q: %w", path, err)
	}
	format, pcm, err := parseWAV(payload)
	if err != nil {
		return nil, fmt.Errorf("parse clip %q: %w", path, err)
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("clip %q: unsupported bit depth %d, want 16", path, format.BitDepth)
	}
	return &WAVPlayer{format: format, pcm: pcm, logger: logger}, nil
}

// Play starts looping the clip until Stop is called.
// Starting while already playing is a no-op.
// Params: ctx bounds device initialization.
// Returns: audio device error.
func (p *WAVPlayer) Play(ctx context.Context) error {
	device, err := sharedContext(ctx, p.format)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing {
		return nil
	}
	p.stop = make(chan struct{})
	p.playing = true
	go p.loop(device, p.stop)
	return nil
}

// Stop ends the current loop.
// Params: none.
// Returns: none.
func (p *WAVPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.playing {
		return
	}
	close(p.stop)
	p.playing = false
}

// loop replays the clip until the stop channel closes.
// Params: audio device and this run's stop channel.
// Returns: none.
func (p *WAVPlayer) loop(device *oto.Context, stop chan struct{}) {
	for {
		player := device.NewPlayer(bytes.NewReader(p.pcm))
		player.Play()

		for player.IsPlaying() {
			select {
			case <-stop:
				player.Pause()
				_ = player.Close()
				return
			case <-time.After(playerPollInterval):
			}
		}

		if err := player.Close(); err != nil {
			p.logger.Warn("audio player close failed", "error", err)
		}

		select {
		case <-stop:
			return
		default:
		}
	}
}

// sharedContext initializes the process audio context on first use.
// Params: ctx bounds the device-ready wait, format selects the layout.
// Returns: device context or initialization error.
func sharedContext(ctx context.Context, format wavFormat) (*oto.Context, error) {
	otoContextOnce.Do(func() {
		device, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       oto.FormatSignedInt16LE,
		})
		if err != nil {
			otoContextErr = fmt.Errorf("open audio device: %w", err)
			return
		}
		select {
		case <-ready:
			otoContext = device
		case <-ctx.Done():
			otoContextErr = fmt.Errorf("audio device not ready: %w", ctx.Err())
		}
	})
	if otoContextErr != nil {
		return nil, otoContextErr
	}
	return otoContext, nil
}

// parseWAV extracts the format chunk and raw PCM payload from a RIFF WAV file.
// Params: full file contents.
// Returns: format, PCM bytes, or structure error.
func parseWAV(data []byte) (wavFormat, []byte, error) {
	reader := bytes.NewReader(data)

	header := make([]byte, 12)
	if _, err := io.ReadFull(reader, header); err != nil {
		return wavFormat{}, nil, fmt.Errorf("read header: %w", err)
	}
	if string(header[0:4]) != "RIFF" || string(header[8:12]) != "WAVE" {
		return wavFormat{}, nil, errors.New("not a RIFF/WAVE file")
	}

	var format wavFormat
	sawFormat := false

	for {
		chunkHeader := make([]byte, 8)
		if _, err := io.ReadFull(reader, chunkHeader); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return wavFormat{}, nil, fmt.Errorf("read chunk header: %w", err)
		}
		chunkID := string(chunkHeader[0:4])
		chunkSize := binary.LittleEndian.Uint32(chunkHeader[4:8])

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 {
				return wavFormat{}, nil, fmt.Errorf("fmt chunk too short: %d bytes", chunkSize)
			}
			chunk := make([]byte, chunkSize)
			if _, err := io.ReadFull(reader, chunk); err != nil {
				return wavFormat{}, nil, fmt.Errorf("read fmt chunk: %w", err)
			}
			format.Channels = int(binary.LittleEndian.Uint16(chunk[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			format.BitDepth = int(binary.LittleEndian.Uint16(chunk[14:16]))
			sawFormat = true
			if chunkSize%2 == 1 {
				if _, err := reader.Seek(1, io.SeekCurrent); err != nil {
					return wavFormat{}, nil, fmt.Errorf("skip fmt pad byte: %w", err)
				}
			}
		case "data":
			if !sawFormat {
				return wavFormat{}, nil, errors.New("data chunk before fmt chunk")
			}
			pcm := make([]byte, chunkSize)
			if _, err := io.ReadFull(reader, pcm); err != nil {
				return wavFormat{}, nil, fmt.Errorf("read data chunk: %w", err)
			}
			return format, pcm, nil
		default:
			// Chunks are word-aligned: an odd size carries a pad byte.
			if _, err := reader.Seek(int64(chunkSize)+int64(chunkSize%2), io.SeekCurrent); err != nil {
				return wavFormat{}, nil, fmt.Errorf("skip %q chunk: %w", chunkID, err)
			}
		}
	}
	return wavFormat{}, nil, errors.New("no data chunk found")
}
