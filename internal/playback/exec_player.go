package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

const filePlaceholder = "{file}"

type execPlayer struct {
	cmd       []string
	extension string
	tempDir   string
	log       *slog.Logger
}

// NewExecPlayer plays audio by running command once per sentence. The audio
// is written to a temporary file whose path replaces {file} in the command,
// or is appended when the placeholder is absent. The file lives exactly as
// long as the stream.
func NewExecPlayer(command, extension string, log *slog.Logger) (Player, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse playback command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("playback command empty")
	}
	if !strings.HasPrefix(extension, ".") && extension != "" {
		extension = "." + extension
	}
	return &execPlayer{
		cmd:       args,
		extension: extension,
		log:       log.With(slog.String("component", "exec-player")),
	}, nil
}

func (p *execPlayer) Open(ctx context.Context, handleID string, audio []byte, onEvent func(Event)) (Stream, error) {
	file, err := os.CreateTemp(p.tempDir, "loqa-reader-*"+p.extension)
	if err != nil {
		return nil, fmt.Errorf("create audio file: %w", err)
	}
	if _, err := file.Write(audio); err != nil {
		file.Close()
		os.Remove(file.Name())
		return nil, fmt.Errorf("write audio file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(file.Name())
		return nil, fmt.Errorf("close audio file: %w", err)
	}

	return &execStream{
		ctx:     ctx,
		args:    p.argsFor(file.Name()),
		path:    file.Name(),
		onEvent: onEvent,
		log:     p.log.With(slog.String("handle_id", handleID)),
	}, nil
}

func (p *execPlayer) argsFor(path string) []string {
	args := make([]string, 0, len(p.cmd)+1)
	replaced := false
	for _, arg := range p.cmd {
		if strings.Contains(arg, filePlaceholder) {
			arg = strings.ReplaceAll(arg, filePlaceholder, path)
			replaced = true
		}
		args = append(args, arg)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}

type execStream struct {
	ctx     context.Context
	args    []string
	path    string
	onEvent func(Event)
	log     *slog.Logger

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
	done   chan struct{}
}

func (s *execStream) Play() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream released")
	}
	if s.cmd != nil {
		return nil
	}

	cmd := exec.CommandContext(s.ctx, s.args[0], s.args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start playback command: %w", err)
	}
	s.cmd = cmd
	s.done = make(chan struct{})
	go s.wait(cmd, s.done)
	return nil
}

func (s *execStream) wait(cmd *exec.Cmd, done chan struct{}) {
	err := cmd.Wait()
	close(done)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	if err != nil {
		s.onEvent(Event{Kind: EventError, Err: fmt.Errorf("playback command: %w", err)})
		return
	}
	s.onEvent(Event{Kind: EventEnded})
}

func (s *execStream) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cmd == nil {
		return nil
	}
	return pauseProcess(s.cmd.Process)
}

func (s *execStream) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cmd == nil {
		return nil
	}
	return resumeProcess(s.cmd.Process)
}

func (s *execStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cmd, done := s.cmd, s.done
	s.mu.Unlock()

	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			s.log.Debug("failed to kill playback command", slog.String("error", err.Error()))
		}
		<-done
	}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove audio file: %w", err)
	}
	return nil
}
