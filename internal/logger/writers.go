package logger

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SafeCSVWriter appends CSV records from many goroutines and flushes them
// to disk on an interval.
type SafeCSVWriter struct {
	mu       sync.Mutex
	writer   *csv.Writer
	file     *os.File
	ticker   *time.Ticker
	done     chan struct{}
	closed   bool
	logger   *zap.Logger
	filePath string

	// Stats
	writtenRecords uint64
	flushCount     uint64
}

// NewSafeCSVWriter opens filePath for appending. header is written only when
// the file is empty and is not counted as a record.
func NewSafeCSVWriter(filePath string, header []string, flushInterval time.Duration, logger *zap.Logger) (*SafeCSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	scw := &SafeCSVWriter{
		writer:   csv.NewWriter(file),
		file:     file,
		ticker:   time.NewTicker(flushInterval),
		done:     make(chan struct{}),
		logger:   logger,
		filePath: filePath,
	}

	if stat.Size() == 0 && len(header) > 0 {
		scw.writer.Write(header)
		scw.writer.Flush()
		if err := scw.writer.Error(); err != nil {
			scw.ticker.Stop()
			file.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}

	go scw.periodicFlush()

	return scw, nil
}

// Path returns the file being written.
func (scw *SafeCSVWriter) Path() string {
	return scw.filePath
}

// WriteRecord writes a CSV record in a thread-safe manner
func (scw *SafeCSVWriter) WriteRecord(record []string) error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return fmt.Errorf("write to closed CSV writer %s", scw.filePath)
	}
	if err := scw.writer.Write(record); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}

	scw.writtenRecords++
	return nil
}

// Flush forces a write of any buffered data
func (scw *SafeCSVWriter) Flush() error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return nil
	}
	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		return fmt.Errorf("CSV writer error: %w", err)
	}

	if err := scw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync file: %w", err)
	}

	scw.flushCount++
	return nil
}

func (scw *SafeCSVWriter) periodicFlush() {
	for {
		select {
		case <-scw.ticker.C:
			if err := scw.Flush(); err != nil {
				scw.logger.Error("Periodic CSV flush failed",
					zap.String("file", scw.filePath),
					zap.Error(err))
			}
		case <-scw.done:
			return
		}
	}
}

// Close flushes pending records and closes the file. Calling it twice is a no-op.
func (scw *SafeCSVWriter) Close() error {
	scw.mu.Lock()
	defer scw.mu.Unlock()

	if scw.closed {
		return nil
	}
	scw.closed = true
	close(scw.done)
	scw.ticker.Stop()

	scw.writer.Flush()
	if err := scw.writer.Error(); err != nil {
		scw.file.Close()
		return fmt.Errorf("CSV writer error on close: %w", err)
	}

	if err := scw.file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}

	scw.logger.Info("Safe CSV writer closed",
		zap.String("file", scw.filePath),
		zap.Uint64("writtenRecords", scw.writtenRecords),
		zap.Uint64("flushCount", scw.flushCount))

	return nil
}

// GetStats returns CSV writer statistics
func (scw *SafeCSVWriter) GetStats() (records, flushes uint64) {
	scw.mu.Lock()
	defer scw.mu.Unlock()
	return scw.writtenRecords, scw.flushCount
}
