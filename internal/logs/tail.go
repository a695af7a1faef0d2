package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	defaultPoll  = 250 * time.Millisecond
	maxLineBytes = 1024 * 1024
)

// Options controls Tail.
type Options struct {
	// Lines is the number of trailing lines emitted first.
	Lines  int
	Follow bool
	// Poll defaults to 250ms.
	Poll time.Duration
	// Match drops lines that do not contain it.
	Match string
}

// Tail emits the last lines of path and, when following, every complete line
// appended afterwards until ctx is done. A missing file is treated as empty.
func Tail(ctx context.Context, path string, opts Options, emit func(string)) error {
	if opts.Match != "" {
		inner := emit
		emit = func(line string) {
			if strings.Contains(line, opts.Match) {
				inner(line)
			}
		}
	}

	lines, offset, err := Last(path, opts.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		emit(line)
	}
	if !opts.Follow {
		return nil
	}
	poll := opts.Poll
	if poll <= 0 {
		poll = defaultPoll
	}
	return follow(ctx, path, offset, poll, emit)
}

// Last returns up to n trailing lines of path and the offset just past them.
func Last(path string, n int) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	ring := make([]string, max(n, 0))
	count, next := 0, 0
	offset, err := scanLines(file, 0, func(line string) {
		if n <= 0 {
			return
		}
		ring[next] = line
		next = (next + 1) % n
		count = min(count+1, n)
	})
	if err != nil {
		return nil, 0, err
	}

	lines := make([]string, 0, count)
	start := (next - count + n) % max(n, 1)
	for i := 0; i < count; i++ {
		lines = append(lines, ring[(start+i)%n])
	}
	return lines, offset, nil
}

// ReadFrom returns the complete lines that start at offset and the offset
// after the last of them. A trailing partial line is left for the next read.
func ReadFrom(path string, offset int64) ([]string, int64, error) {
	file, err := open(path)
	if err != nil || file == nil {
		return nil, 0, err
	}
	defer file.Close()

	var lines []string
	next, err := scanLines(file, offset, func(line string) {
		lines = append(lines, line)
	})
	return lines, next, err
}

func follow(ctx context.Context, path string, offset int64, poll time.Duration, emit func(string)) error {
	current, _ := os.Stat(path)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				current, offset = nil, 0
				continue
			}
			return fmt.Errorf("stat log file: %w", err)
		}
		if current == nil || !os.SameFile(current, info) || info.Size() < offset {
			offset = 0
		}
		current = info

		lines, next, err := ReadFrom(path, offset)
		if err != nil {
			return err
		}
		offset = next
		for _, line := range lines {
			emit(line)
		}
	}
}

func open(path string) (*os.File, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, fmt.Errorf("log path %q is a directory", path)
	}
	return file, nil
}

// scanLines feeds every newline-terminated line after offset to fn and
// returns the offset following the last complete line.
func scanLines(file *os.File, offset int64, fn func(string)) (int64, error) {
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset, fmt.Errorf("seek log file: %w", err)
	}
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return offset, nil
			}
			return offset, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if len(line) > maxLineBytes {
			line = line[:maxLineBytes]
		}
		fn(line)
	}
}
