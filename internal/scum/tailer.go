package scum

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"time"
)

const pollEvery = 100 * time.Millisecond

// LogTailer streams new lines from the SCUM server log. The game writes
// with a log rotator that copies and truncates in place, so a shrinking
// file means rotation, not corruption.
type LogTailer struct {
	path     string
	file     *os.File
	position int64
	Lines    chan string
	Errors   chan error
	done     chan struct{}
}

// NewLogTailer creates a tailer for the given log path
func NewLogTailer(path string) *LogTailer {
	return &LogTailer{
		path:   path,
		Lines:  make(chan string, 100),
		Errors: make(chan error, 10),
		done:   make(chan struct{}),
	}
}

// Start opens the log and begins streaming lines appended after this call
func (t *LogTailer) Start() error {
	file, err := os.Open(t.path)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	t.file = file

	pos, err := t.file.Seek(0, io.SeekEnd)
	if err != nil {
		t.file.Close()
		return fmt.Errorf("seeking to end: %w", err)
	}
	t.position = pos

	go t.tailLoop()
	return nil
}

// Stop stops the tailer
func (t *LogTailer) Stop() {
	close(t.done)
	if t.file != nil {
		t.file.Close()
	}
}

func (t *LogTailer) tailLoop() {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			if err := t.readNewContent(); err != nil {
				select {
				case t.Errors <- err:
				default:
				}
			}
		}
	}
}

func (t *LogTailer) readNewContent() error {
	stat, err := t.file.Stat()
	if err != nil {
		return fmt.Errorf("stat file: %w", err)
	}

	// copytruncate rotation: size dropped below our position
	if stat.Size() < t.position {
		t.position = 0
	}

	if stat.Size() == t.position {
		return nil
	}

	// Re-read from the last committed position so a partial line seen on
	// the previous poll is delivered whole once its newline lands.
	if _, err := t.file.Seek(t.position, io.SeekStart); err != nil {
		return fmt.Errorf("seeking to position %d: %w", t.position, err)
	}
	reader := bufio.NewReader(t.file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			// Partial line, wait for the rest
			break
		}
		if err != nil {
			return fmt.Errorf("reading line: %w", err)
		}

		t.position += int64(len(line))

		if len(line) > 0 && line[len(line)-1] == '\n' {
			line = line[:len(line)-1]
		}
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if line != "" {
			select {
			case t.Lines <- line:
			default:
				// Channel full, drop line
			}
		}
	}

	return nil
}
