package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clipbench/clipbench-agent/internal/captions"
	"github.com/clipbench/clipbench-agent/internal/ffmpeg"
	"github.com/clipbench/clipbench-agent/internal/history"
	"github.com/clipbench/clipbench-agent/internal/logging"
	"github.com/clipbench/clipbench-agent/internal/render"
)

var (
	// ErrUnsupportedFile reports a source file whose extension matches no
	// known session kind.
	ErrUnsupportedFile = errors.New("unsupported file type")

	// ErrWrongKind reports an operation that does not apply to the
	// session's media kind.
	ErrWrongKind = errors.New("operation does not apply to this media kind")

	// ErrNoTranscriber reports a caption request when no transcriber
	// binary was found at startup.
	ErrNoTranscriber = errors.New("transcription is not available")

	// ErrNoSpeech reports a transcription that produced no usable segments.
	ErrNoSpeech = errors.New("no speech detected")
)

// Speed factor bounds accepted by the speed operation.
const (
	MinSpeedFactor = 0.25
	MaxSpeedFactor = 4.0
)

// Service owns editing sessions: it creates working copies, submits render
// operations to the single-flight runner, and applies completed artifacts to
// the per-session undo history.
type Service struct {
	repo         Repository
	renderer     ffmpeg.Renderer
	transcriber  captions.Transcriber
	runner       *render.Runner
	logger       *slog.Logger
	scratchDir   string
	historyLimit int

	mu     sync.Mutex
	stacks map[string]*history.ArtifactStack
}

// NewService wires a session service. transcriber may be nil, in which case
// caption requests are refused.
func NewService(repo Repository, renderer ffmpeg.Renderer, transcriber captions.Transcriber,
	runner *render.Runner, logger *slog.Logger, scratchDir string, historyLimit int) *Service {
	return &Service{
		repo:         repo,
		renderer:     renderer,
		transcriber:  transcriber,
		runner:       runner,
		logger:       logging.WithComponent(logger, "session"),
		scratchDir:   scratchDir,
		historyLimit: historyLimit,
		stacks:       make(map[string]*history.ArtifactStack),
	}
}

// Open creates a session for sourcePath: a working copy under the scratch
// dir becomes the first history entry. The source file itself is never
// written to afterward. kind may be empty; it is then inferred from the
// extension.
func (s *Service) Open(ctx context.Context, sourcePath, kind string) (*Session, error) {
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("resolve source path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", abs)
	}

	inferred := KindForPath(abs)
	if inferred == "" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, filepath.Ext(abs))
	}
	if kind == "" {
		kind = inferred
	}
	if kind != inferred {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongKind, filepath.Base(abs), inferred)
	}

	id := uuid.NewString()
	workDir := filepath.Join(s.scratchDir, id)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}

	working := filepath.Join(workDir, fmt.Sprintf("working_%d%s", time.Now().UnixNano(), filepath.Ext(abs)))
	if err := copyFile(abs, working); err != nil {
		os.RemoveAll(workDir)
		return nil, fmt.Errorf("create working copy: %w", err)
	}

	sess := &Session{
		ID:          id,
		Kind:        kind,
		SourcePath:  abs,
		WorkDir:     workDir,
		CurrentPath: working,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		os.RemoveAll(workDir)
		return nil, err
	}

	stack := history.NewArtifactStack(s.historyLimit)
	stack.Push(working)
	s.mu.Lock()
	s.stacks[id] = stack
	s.mu.Unlock()

	s.logger.Info("session opened", "session_id", id, "kind", kind, "source", filepath.Base(abs))
	return sess, nil
}

// Get returns a session by id.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	return s.repo.GetSession(ctx, id)
}

// List returns all sessions, newest first.
func (s *Service) List(ctx context.Context) ([]*Session, error) {
	return s.repo.ListSessions(ctx)
}

// Operations returns the most recent operations for a session.
func (s *Service) Operations(ctx context.Context, sessionID string, limit int) ([]*Operation, error) {
	if _, err := s.repo.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListOperations(ctx, sessionID, limit)
}

// AllOperations returns the most recent operations across all sessions.
func (s *Service) AllOperations(ctx context.Context, limit int) ([]*Operation, error) {
	return s.repo.ListOperations(ctx, "", limit)
}

// Operation returns one operation by id.
func (s *Service) Operation(ctx context.Context, id string) (*Operation, error) {
	return s.repo.GetOperation(ctx, id)
}

// Close removes a session and its work dir. Refused while a render runs.
func (s *Service) Close(ctx context.Context, id string) error {
	if s.runner.Busy() {
		return render.ErrBusy
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSession(ctx, id); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.stacks, id)
	s.mu.Unlock()
	if err := os.RemoveAll(sess.WorkDir); err != nil {
		s.logger.Warn("failed to remove work dir", "session_id", id, "error", err)
	}
	s.logger.Info("session closed", "session_id", id)
	return nil
}

// Trim submits a trim render. A stream copy is attempted first; when the
// keyframe cut fails the worker falls back to a re-encode.
func (s *Service) Trim(ctx context.Context, id string, start, end float64) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, KindVideo)
	if err != nil {
		return nil, err
	}
	if start < 0 || end <= start {
		return nil, fmt.Errorf("invalid trim range %g-%g", start, end)
	}

	out := s.artifactPath(sess, OpTrim)
	detail := fmt.Sprintf("%gs-%gs", start, end)
	return s.submit(ctx, sess, OpTrim, detail, func(jctx context.Context) (string, error) {
		res := s.renderer.Render(jctx, out, ffmpeg.TrimCopyArgs(cur, start, end)...)
		if !res.IsSuccess() {
			s.logger.Warn("stream copy trim failed, re-encoding", "session_id", sess.ID)
			res = s.renderer.Render(jctx, out, ffmpeg.TrimEncodeArgs(cur, start, end)...)
		}
		return out, renderError(res)
	})
}

// Speed submits a playback-speed render. Audio pitch is preserved via a
// resampling chain; silent inputs still succeed because the audio chain is
// ignored by the renderer when no audio stream exists.
func (s *Service) Speed(ctx context.Context, id string, factor float64) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, KindVideo)
	if err != nil {
		return nil, err
	}
	if factor < MinSpeedFactor || factor > MaxSpeedFactor {
		return nil, fmt.Errorf("speed factor %g out of range %g-%g", factor, MinSpeedFactor, MaxSpeedFactor)
	}

	out := s.artifactPath(sess, OpSpeed)
	return s.submit(ctx, sess, OpSpeed, fmt.Sprintf("%gx", factor), func(jctx context.Context) (string, error) {
		res := s.renderer.Render(jctx, out, ffmpeg.SpeedArgs(cur, factor)...)
		return out, renderError(res)
	})
}

// Rotate submits a 90°-step rotation for video, or a flip-free transpose
// for images via the same filter.
func (s *Service) Rotate(ctx context.Context, id string, transpose int) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if transpose < 0 || transpose > 3 {
		return nil, fmt.Errorf("invalid transpose value %d", transpose)
	}

	out := s.artifactPath(sess, OpRotate)
	return s.submit(ctx, sess, OpRotate, fmt.Sprintf("transpose=%d", transpose), func(jctx context.Context) (string, error) {
		var args []string
		if sess.Kind == KindVideo {
			args = ffmpeg.RotateArgs(cur, transpose)
		} else {
			args = ffmpeg.FilterArgs(cur, fmt.Sprintf("transpose=%d", transpose))
		}
		res := s.renderer.Render(jctx, out, args...)
		return out, renderError(res)
	})
}

// Crop cuts a width x height window at (x, y) from the frame. It applies
// to both media kinds; video output is re-encoded.
func (s *Service) Crop(ctx context.Context, id string, width, height, x, y int) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid crop size %dx%d", width, height)
	}
	if x < 0 || y < 0 {
		return nil, fmt.Errorf("invalid crop origin %d,%d", x, y)
	}

	out := s.artifactPath(sess, OpCrop)
	detail := fmt.Sprintf("%dx%d+%d+%d", width, height, x, y)
	return s.submit(ctx, sess, OpCrop, detail, func(jctx context.Context) (string, error) {
		args := ffmpeg.FilterArgs(cur, ffmpeg.CropFilter(width, height, x, y))
		if sess.Kind == KindVideo {
			args = append(args, ffmpeg.VideoEncodeArgs()...)
		}
		res := s.renderer.Render(jctx, out, args...)
		return out, renderError(res)
	})
}

// AddText submits a drawtext overlay render.
func (s *Service) AddText(ctx context.Context, id string, opts ffmpeg.DrawtextOptions) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if opts.Text == "" {
		return nil, errors.New("overlay text is empty")
	}

	out := s.artifactPath(sess, OpText)
	return s.submit(ctx, sess, OpText, truncateDetail(opts.Text), func(jctx context.Context) (string, error) {
		args := ffmpeg.FilterArgs(cur, opts.DrawtextFilter())
		if sess.Kind == KindVideo {
			args = append(args, ffmpeg.VideoEncodeArgs()...)
		}
		res := s.renderer.Render(jctx, out, args...)
		return out, renderError(res)
	})
}

// RemoveAudio strips all audio streams with a stream copy.
func (s *Service) RemoveAudio(ctx context.Context, id string) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, KindVideo)
	if err != nil {
		return nil, err
	}

	out := s.artifactPath(sess, OpRemoveAudio)
	return s.submit(ctx, sess, OpRemoveAudio, "", func(jctx context.Context) (string, error) {
		res := s.renderer.Render(jctx, out, ffmpeg.RemoveAudioArgs(cur)...)
		return out, renderError(res)
	})
}

// ApplyFilter submits a single-chain video filter render. It backs the
// image adjustments (grayscale, sepia, blur, and friends) and accepts any
// chain the caller assembles.
func (s *Service) ApplyFilter(ctx context.Context, id, name, chain string) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, "")
	if err != nil {
		return nil, err
	}
	if chain == "" {
		return nil, errors.New("empty filter chain")
	}

	out := s.artifactPath(sess, OpFilter)
	return s.submit(ctx, sess, OpFilter, name, func(jctx context.Context) (string, error) {
		args := ffmpeg.FilterArgs(cur, chain)
		if sess.Kind == KindVideo {
			args = append(args, ffmpeg.VideoEncodeArgs()...)
		}
		res := s.renderer.Render(jctx, out, args...)
		return out, renderError(res)
	})
}

// BurnCaptions extracts audio, transcribes it, and burns the generated
// subtitles into the video. All three steps run on the worker goroutine.
func (s *Service) BurnCaptions(ctx context.Context, id string) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, KindVideo)
	if err != nil {
		return nil, err
	}
	if s.transcriber == nil {
		return nil, ErrNoTranscriber
	}

	out := s.artifactPath(sess, OpCaptions)
	return s.submit(ctx, sess, OpCaptions, "", func(jctx context.Context) (string, error) {
		wav := filepath.Join(sess.WorkDir, fmt.Sprintf("audio_%d.wav", time.Now().UnixNano()))
		defer os.Remove(wav)
		if res := s.renderer.Render(jctx, wav, ffmpeg.ExtractWAVArgs(cur)...); !res.IsSuccess() {
			return out, fmt.Errorf("extract audio: %w", renderError(res))
		}

		segments, err := s.transcriber.Transcribe(jctx, wav)
		if err != nil {
			return out, fmt.Errorf("transcribe: %w", err)
		}
		if len(segments) == 0 {
			return out, ErrNoSpeech
		}

		srt := filepath.Join(sess.WorkDir, fmt.Sprintf("captions_%d.srt", time.Now().UnixNano()))
		if err := captions.WriteSRTFile(srt, segments); err != nil {
			return out, err
		}

		vf := ffmpeg.SubtitlesFilter(srt, ffmpeg.DefaultSubtitleStyle)
		args := append(ffmpeg.FilterArgs(cur, vf), ffmpeg.VideoEncodeArgs()...)
		res := s.renderer.Render(jctx, out, args...)
		return out, renderError(res)
	})
}

// Export re-encodes the current artifact to destPath. The session history is
// not touched; export is a terminal copy, not an edit.
func (s *Service) Export(ctx context.Context, id, destPath string) (*Operation, error) {
	sess, cur, err := s.prepare(ctx, id, "")
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return nil, fmt.Errorf("resolve destination: %w", err)
	}
	if info, err := os.Stat(filepath.Dir(abs)); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("destination directory does not exist: %s", filepath.Dir(abs))
	}

	detail := filepath.Base(abs)
	return s.submitNoHistory(ctx, sess, OpExport, detail, func(jctx context.Context) (string, error) {
		if sess.Kind == KindImage {
			return abs, copyFile(cur, abs)
		}
		res := s.renderer.Render(jctx, abs, ffmpeg.ExportArgs(cur)...)
		return abs, renderError(res)
	})
}

// SaveAs copies the current artifact byte for byte to destPath. It is
// synchronous; no re-encode happens.
func (s *Service) SaveAs(ctx context.Context, id, destPath string) (string, error) {
	if s.runner.Busy() {
		return "", render.ErrBusy
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(destPath)
	if err != nil {
		return "", fmt.Errorf("resolve destination: %w", err)
	}
	if err := copyFile(sess.CurrentPath, abs); err != nil {
		return "", fmt.Errorf("save as: %w", err)
	}
	s.logger.Info("session saved", "session_id", id, "dest", filepath.Base(abs))
	return abs, nil
}

// Undo steps the session back one artifact. history.ErrNothingToUndo comes
// back when the working copy is the only entry; callers treat it as a no-op
// message, not a failure.
func (s *Service) Undo(ctx context.Context, id string) (*Session, error) {
	return s.step(ctx, id, func(st *history.ArtifactStack) (string, error) { return st.Undo() })
}

// Redo restores the most recently undone artifact.
func (s *Service) Redo(ctx context.Context, id string) (*Session, error) {
	return s.step(ctx, id, func(st *history.ArtifactStack) (string, error) { return st.Redo() })
}

func (s *Service) step(ctx context.Context, id string, fn func(*history.ArtifactStack) (string, error)) (*Session, error) {
	if s.runner.Busy() {
		return nil, render.ErrBusy
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stack := s.stackLocked(sess)
	path, err := fn(stack)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateSessionCurrentPath(ctx, id, path); err != nil {
		return nil, err
	}
	sess.CurrentPath = path
	return sess, nil
}

// Reset discards all edits by cutting a fresh working copy from the source
// file. Every tracked artifact, on both the undo and redo side, is deleted
// from disk. The oldest history entry cannot serve as the pristine state:
// once the bounded stack has evicted the original working copy, the bottom
// entry is already an edited artifact.
func (s *Service) Reset(ctx context.Context, id string) (*Session, error) {
	if s.runner.Busy() {
		return nil, render.ErrBusy
	}
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	working := filepath.Join(sess.WorkDir, fmt.Sprintf("working_%d%s", time.Now().UnixNano(), filepath.Ext(sess.SourcePath)))
	if err := copyFile(sess.SourcePath, working); err != nil {
		return nil, fmt.Errorf("recreate working copy: %w", err)
	}

	s.mu.Lock()
	stack := s.stackLocked(sess)
	for _, p := range stack.Drain() {
		if p != working {
			os.Remove(p)
		}
	}
	stack.Push(working)
	s.mu.Unlock()

	if err := s.repo.UpdateSessionCurrentPath(ctx, id, working); err != nil {
		return nil, err
	}
	sess.CurrentPath = working
	s.logger.Info("session reset", "session_id", id)
	return sess, nil
}

// CanUndo and CanRedo report history availability for the UI.
func (s *Service) CanUndo(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stacks[id]; ok {
		return st.CanUndo()
	}
	return false
}

func (s *Service) CanRedo(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stacks[id]; ok {
		return st.CanRedo()
	}
	return false
}

// Probe returns stream metadata for the session's current artifact.
func (s *Service) Probe(ctx context.Context, id string) (*ffmpeg.ProbeResult, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renderer.Probe(ctx, sess.CurrentPath)
}

// prepare loads the session, enforces the kind restriction, and captures
// the current artifact path for the render closure.
func (s *Service) prepare(ctx context.Context, id, requireKind string) (*Session, string, error) {
	sess, err := s.repo.GetSession(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if requireKind != "" && sess.Kind != requireKind {
		return nil, "", fmt.Errorf("%w: session is %s", ErrWrongKind, sess.Kind)
	}

	s.mu.Lock()
	cur := s.stackLocked(sess).Current()
	s.mu.Unlock()
	return sess, cur, nil
}

// stackLocked returns the session's artifact stack, rehydrating one around
// the persisted current path after a restart. s.mu must be held.
func (s *Service) stackLocked(sess *Session) *history.ArtifactStack {
	if st, ok := s.stacks[sess.ID]; ok {
		return st
	}
	st := history.NewArtifactStack(s.historyLimit)
	st.Push(sess.CurrentPath)
	s.stacks[sess.ID] = st
	return st
}

func (s *Service) submit(ctx context.Context, sess *Session, kind, detail string, run func(context.Context) (string, error)) (*Operation, error) {
	return s.submitJob(ctx, sess, kind, detail, run, true)
}

func (s *Service) submitNoHistory(ctx context.Context, sess *Session, kind, detail string, run func(context.Context) (string, error)) (*Operation, error) {
	return s.submitJob(ctx, sess, kind, detail, run, false)
}

func (s *Service) submitJob(ctx context.Context, sess *Session, kind, detail string, run func(context.Context) (string, error), pushHistory bool) (*Operation, error) {
	if s.runner.Busy() {
		return nil, render.ErrBusy
	}

	now := time.Now().UTC()
	op := &Operation{
		ID:        uuid.NewString(),
		SessionID: sess.ID,
		Kind:      kind,
		Status:    StatusPending,
		Detail:    detail,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateOperation(ctx, op); err != nil {
		return nil, err
	}

	job := render.Job{
		OpID:      op.ID,
		SessionID: sess.ID,
		Kind:      kind,
		Run: func(jctx context.Context) (string, error) {
			if err := s.repo.UpdateOperationStatus(jctx, op.ID, StatusRunning, ""); err != nil {
				s.logger.Warn("failed to mark operation running", "op_id", op.ID, "error", err)
			}
			return run(jctx)
		},
		OnDone: func(res render.Result) {
			s.applyResult(sess.ID, res, pushHistory)
		},
	}
	if err := s.runner.TrySubmit(context.WithoutCancel(ctx), job); err != nil {
		// Lost the race against a concurrent submit.
		_ = s.repo.UpdateOperationStatus(ctx, op.ID, StatusFailed, err.Error())
		return nil, err
	}
	op.Status = StatusRunning
	return op, nil
}

// applyResult runs on the worker goroutine after every render, before the
// runner accepts another job.
func (s *Service) applyResult(sessionID string, res render.Result, pushHistory bool) {
	ctx := context.Background()
	if res.Err != nil {
		if res.OutPath != "" {
			os.Remove(res.OutPath)
		}
		if err := s.repo.UpdateOperationStatus(ctx, res.OpID, StatusFailed, res.Err.Error()); err != nil {
			s.logger.Error("failed to record operation failure", "op_id", res.OpID, "error", err)
		}
		return
	}

	if pushHistory {
		s.mu.Lock()
		if st, ok := s.stacks[sessionID]; ok {
			st.Push(res.OutPath)
		}
		s.mu.Unlock()
		if err := s.repo.UpdateSessionCurrentPath(ctx, sessionID, res.OutPath); err != nil {
			s.logger.Error("failed to update current path", "session_id", sessionID, "error", err)
		}
	}
	if err := s.repo.UpdateOperationStatus(ctx, res.OpID, StatusCompleted, ""); err != nil {
		s.logger.Error("failed to record operation success", "op_id", res.OpID, "error", err)
	}
}

func (s *Service) artifactPath(sess *Session, kind string) string {
	ext := filepath.Ext(sess.CurrentPath)
	return filepath.Join(sess.WorkDir, fmt.Sprintf("%s_%d%s", kind, time.Now().UnixNano(), ext))
}

func renderError(res ffmpeg.RunResult) error {
	if res.IsSuccess() {
		return nil
	}
	if res.StderrTail != "" {
		return fmt.Errorf("renderer exited with code %d: %s", res.ExitCode, res.StderrTail)
	}
	return fmt.Errorf("renderer exited with code %d", res.ExitCode)
}

func truncateDetail(s string) string {
	if len(s) > 64 {
		return s[:64]
	}
	return s
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
