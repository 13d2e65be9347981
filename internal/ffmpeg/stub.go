package ffmpeg

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// StubRenderer is a test double that records render calls and materialises
// output files without invoking ffmpeg.
type StubRenderer struct {
	logger *slog.Logger

	mu       sync.Mutex
	Calls    [][]string
	FailNext bool
	ProbeRes ProbeResult
}

func NewStubRenderer(logger *slog.Logger) *StubRenderer {
	return &StubRenderer{
		logger:   logger,
		ProbeRes: ProbeResult{Duration: 10, Width: 1280, Height: 720, Codec: "h264", HasAudio: true, AudioCodec: "aac"},
	}
}

func (s *StubRenderer) Render(ctx context.Context, outPath string, args ...string) RunResult {
	s.mu.Lock()
	s.Calls = append(s.Calls, append([]string{}, args...))
	fail := s.FailNext
	s.FailNext = false
	s.mu.Unlock()

	if s.logger != nil {
		s.logger.Info("render stub: render requested", "output", outPath)
	}

	if fail {
		return RunResult{ExitCode: 1, OutputPath: outPath, StderrTail: "stub render failure"}
	}

	if outPath != "" {
		if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
			return RunResult{ExitCode: -1, StderrTail: err.Error()}
		}
		if err := os.WriteFile(outPath, []byte("stub artifact"), 0644); err != nil {
			return RunResult{ExitCode: -1, StderrTail: err.Error()}
		}
	}
	return RunResult{ExitCode: 0, OutputPath: outPath}
}

func (s *StubRenderer) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	if s.logger != nil {
		s.logger.Info("render stub: probe requested", "path", path)
	}
	res := s.ProbeRes
	return &res, nil
}

// CallCount returns the number of render invocations seen so far.
func (s *StubRenderer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
