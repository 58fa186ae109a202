package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

// pcmStream reads s16le interleaved stereo PCM and splits it into frames
type pcmStream struct {
	r        io.ReadCloser
	strategy string
	cleanup  func()

	buf       []byte
	drained   bool
	closeOnce sync.Once
	closeErr  error
}

// NewPCMStream wraps a raw s16le 48kHz stereo reader as a StreamHandle.
// cleanup, if set, runs once on Close after r is closed.
func NewPCMStream(r io.ReadCloser, strategy string, cleanup func()) StreamHandle {
	return &pcmStream{
		r:        r,
		strategy: strategy,
		cleanup:  cleanup,
		buf:      make([]byte, FrameSamples*2),
	}
}

func (s *pcmStream) ReadFrame() ([]int16, error) {
	if s.drained {
		return nil, io.EOF
	}

	n, err := io.ReadFull(s.r, s.buf)
	switch {
	case err == nil:
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Zero-pad the trailing partial frame, the next read reports EOF
		clear(s.buf[n:])
		s.drained = true
	case errors.Is(err, io.EOF):
		s.drained = true
		return nil, io.EOF
	default:
		return nil, fmt.Errorf("read pcm: %w", err)
	}

	frame := make([]int16, FrameSamples)
	for i := range frame {
		frame[i] = int16(binary.LittleEndian.Uint16(s.buf[i*2 : i*2+2]))
	}
	return frame, nil
}

func (s *pcmStream) Strategy() string {
	return s.strategy
}

func (s *pcmStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.r.Close()
		if s.cleanup != nil {
			s.cleanup()
		}
	})
	return s.closeErr
}

// ffmpegBinary is the decoder executable, overridable in tests
var ffmpegBinary = "ffmpeg"

// decodeArgs builds the ffmpeg arguments that turn input into raw PCM on stdout
func decodeArgs(input string, reconnect bool) []string {
	args := make([]string, 0, 20)
	if reconnect {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "5",
		)
	}
	return append(args,
		"-i", input,
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(SampleRate),
		"-ac", strconv.Itoa(Channels),
		"-loglevel", "warning",
		"pipe:1",
	)
}

// startDecoder launches ffmpeg reading from stdin (src != nil) or from input
// and returns a PCM StreamHandle. The process is killed on Close.
func startDecoder(strategy string, src io.ReadCloser, input string) (StreamHandle, error) {
	reconnect := src == nil
	if src != nil {
		input = "pipe:0"
	}

	// #nosec G204 - input is a resolved media URL or stdin, never a shell string
	cmd := exec.Command(ffmpegBinary, decodeArgs(input, reconnect)...)
	if src != nil {
		cmd.Stdin = src
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		if src != nil {
			_ = src.Close()
		}
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		if src != nil {
			_ = src.Close()
		}
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	logger := logrus.WithFields(logrus.Fields{
		"component": "transport",
		"strategy":  strategy,
		"pid":       cmd.Process.Pid,
	})
	logger.Debug("Decoder started")

	cleanup := func() {
		if src != nil {
			_ = src.Close()
		}
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		_ = cmd.Wait()
		logger.Debug("Decoder stopped")
	}

	return NewPCMStream(stdout, strategy, cleanup), nil
}
