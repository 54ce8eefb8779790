// Package checkpoint remembers how far watch mode got in each followed file
// so a restarted watch does not emit the same records twice.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/therealutkarshpriyadarshi/tflog/internal/logging"
)

const fileName = "positions.json"

// Position is the last line emitted from a file. Inode identifies the file
// instance so a rotated file starts over.
type Position struct {
	Path      string    `json:"path"`
	Line      int       `json:"line"`
	Inode     uint64    `json:"inode"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Manager keeps positions in memory and persists them periodically
type Manager struct {
	mu        sync.RWMutex
	dir       string
	positions map[string]Position
	dirty     bool
	interval  time.Duration
	logger    *logging.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  sync.Once
}

// NewManager creates the checkpoint directory and loads existing positions
func NewManager(dir string, interval time.Duration, logger *logging.Logger) (*Manager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Nop()
	}

	m := &Manager{
		dir:       dir,
		positions: make(map[string]Position),
		interval:  interval,
		logger:    logger.WithComponent("checkpoint"),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Start saves dirty positions every interval until Stop
func (m *Manager) Start() {
	go m.saveLoop()
}

// Stop ends the save loop and writes a final snapshot
func (m *Manager) Stop() error {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	select {
	case <-m.doneCh:
	case <-time.After(m.interval):
	}
	return m.Save()
}

// Update records the last emitted line for path
func (m *Manager) Update(path string, line int, inode uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[path] = Position{Path: path, Line: line, Inode: inode, UpdatedAt: time.Now().UTC()}
	m.dirty = true
}

// Get returns the stored position for path
func (m *Manager) Get(path string) (Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[path]
	return pos, ok
}

// ResumeLine returns the line to resume after, or 0 when the stored
// position belongs to a different file instance.
func (m *Manager) ResumeLine(path string, inode uint64) int {
	pos, ok := m.Get(path)
	if !ok || pos.Inode != inode {
		return 0
	}
	return pos.Line
}

func (m *Manager) load() error {
	data, err := os.ReadFile(filepath.Join(m.dir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read checkpoint file: %w", err)
	}

	var positions map[string]Position
	if err := json.Unmarshal(data, &positions); err != nil {
		return fmt.Errorf("failed to unmarshal checkpoint data: %w", err)
	}
	if positions != nil {
		m.positions = positions
	}
	return nil
}

// Save writes all positions atomically
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.positions, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint data: %w", err)
	}

	path := filepath.Join(m.dir, fileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to rename checkpoint file: %w", err)
	}
	m.dirty = false
	return nil
}

func (m *Manager) saveLoop() {
	defer close(m.doneCh)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.mu.RLock()
			dirty := m.dirty
			m.mu.RUnlock()
			if !dirty {
				continue
			}
			if err := m.Save(); err != nil {
				m.logger.Error().Err(err).Msg("Failed to save checkpoint")
			}
		case <-m.stopCh:
			return
		}
	}
}

// FileID returns the inode of path, or 0 where the platform has none
func FileID(fi os.FileInfo) uint64 {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
