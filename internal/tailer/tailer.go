// Package tailer follows a growing log file and yields complete lines.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/therealutkarshpriyadarshi/tflog/internal/checkpoint"
	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

// DefaultPollInterval is the fallback read cadence when no event arrives
const DefaultPollInterval = 250 * time.Millisecond

// Config tunes a Tailer
type Config struct {
	FromStart    bool          // read existing content instead of starting at the end
	PollInterval time.Duration // fallback read cadence
	BufferSize   int           // capacity of the lines channel
}

// Line is one complete line and the file instance it came from. Reset is
// set on the first line after a rotation or truncation.
type Line struct {
	Text  string
	Inode uint64
	Reset bool
}

// Tailer follows one file across appends, truncation and rotation. It
// watches the parent directory so a replaced file is picked up.
type Tailer struct {
	path    string
	cfg     Config
	logger  *logging.Logger
	watcher *fsnotify.Watcher
	lines   chan Line

	file    *os.File
	reader  *bufio.Reader
	inode   uint64
	offset  int64
	pending strings.Builder
	reset   bool
}

// New creates a tailer for path
func New(path string, cfg Config, logger *logging.Logger) (*Tailer, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if logger == nil {
		logger = logging.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	return &Tailer{
		path:    abs,
		cfg:     cfg,
		logger:  logger.WithComponent("tailer").WithField("path", abs),
		watcher: watcher,
		lines:   make(chan Line, cfg.BufferSize),
	}, nil
}

// Lines delivers complete lines without their terminator. The channel is
// closed when Run returns.
func (t *Tailer) Lines() <-chan Line {
	return t.lines
}

// Run follows the file until ctx is cancelled. A trailing partial line is
// flushed on exit.
func (t *Tailer) Run(ctx context.Context) error {
	defer close(t.lines)
	defer t.watcher.Close()
	defer t.closeFile()

	if err := t.open(!t.cfg.FromStart); err != nil {
		return err
	}
	if err := t.watcher.Add(filepath.Dir(t.path)); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}

	ticker := time.NewTicker(t.cfg.PollInterval)
	defer ticker.Stop()

	if err := t.drain(ctx); err != nil {
		return t.finish(ctx, err)
	}

	for {
		select {
		case <-ctx.Done():
			return t.finish(ctx, nil)

		case ev, ok := <-t.watcher.Events:
			if !ok {
				return t.finish(ctx, nil)
			}
			if filepath.Clean(ev.Name) != t.path {
				continue
			}
			t.handleEvent(ev)
			if err := t.drain(ctx); err != nil {
				return t.finish(ctx, err)
			}

		case err, ok := <-t.watcher.Errors:
			if !ok {
				return t.finish(ctx, nil)
			}
			t.logger.Error().Err(err).Msg("File watcher error")

		case <-ticker.C:
			t.checkReplaced()
			if err := t.drain(ctx); err != nil {
				return t.finish(ctx, err)
			}
		}
	}
}

func (t *Tailer) finish(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if t.pending.Len() > 0 {
		// ctx is already done, so hand off without blocking forever
		select {
		case t.lines <- t.line(t.pending.String()):
		default:
			t.logger.Warn().Msg("Dropped trailing partial line")
		}
		t.pending.Reset()
	}
	return err
}

func (t *Tailer) handleEvent(ev fsnotify.Event) {
	switch {
	case ev.Has(fsnotify.Create):
		t.logger.Info().Msg("File created, reading from start")
		t.reopen()
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		t.logger.Info().Msg("File rotated away, waiting for replacement")
		t.closeFile()
	}
}

// checkReplaced catches rotation or truncation that produced no event
func (t *Tailer) checkReplaced() {
	fi, err := os.Stat(t.path)
	if err != nil {
		return
	}
	if t.file == nil || checkpoint.FileID(fi) != t.inode {
		t.reopen()
		return
	}
	if fi.Size() < t.offset {
		t.logger.Info().Int64("size", fi.Size()).Int64("offset", t.offset).Msg("File truncated, reading from start")
		if _, err := t.file.Seek(0, io.SeekStart); err == nil {
			t.reader.Reset(t.file)
			t.offset = 0
			t.pending.Reset()
			t.reset = true
		}
	}
}

func (t *Tailer) reopen() {
	t.closeFile()
	if err := t.open(false); err != nil {
		t.logger.Debug().Err(err).Msg("Replacement not readable yet")
		return
	}
	t.reset = true
}

func (t *Tailer) open(atEnd bool) error {
	f, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to stat file: %w", err)
	}

	var offset int64
	if atEnd {
		if offset, err = f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return fmt.Errorf("failed to seek file: %w", err)
		}
	}

	t.file = f
	t.reader = bufio.NewReader(f)
	t.inode = checkpoint.FileID(fi)
	t.offset = offset
	t.pending.Reset()
	return nil
}

func (t *Tailer) closeFile() {
	if t.file != nil {
		t.file.Close()
		t.file = nil
	}
}

func (t *Tailer) line(text string) Line {
	l := Line{Text: strings.TrimSuffix(text, "\r"), Inode: t.inode, Reset: t.reset}
	t.reset = false
	return l
}

// drain reads every complete line currently available
func (t *Tailer) drain(ctx context.Context) error {
	if t.file == nil {
		return nil
	}
	for {
		chunk, err := t.reader.ReadString('\n')
		t.offset += int64(len(chunk))

		if strings.HasSuffix(chunk, "\n") {
			t.pending.WriteString(strings.TrimSuffix(chunk, "\n"))
			l := t.line(t.pending.String())
			t.pending.Reset()
			select {
			case t.lines <- l:
			case <-ctx.Done():
				return ctx.Err()
			}
		} else {
			t.pending.WriteString(chunk)
		}

		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	}
}
