package events

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/domainscout/engine/internal/common/config"
)

const (
	DefaultMaxSize    = 100 // MB
	DefaultMaxAge     = 30  // days
	DefaultMaxBackups = 10  // files
	defaultTemplate   = "{timestamp}\t{domain}\t{outcome}\t{cache_status}\t{precheck_class}\t{final_url}\t{domain_count}\t{redirect_hops}\t{duration}"
)

// FileEmitter writes events to a log file with rotation support.
type FileEmitter struct {
	writer    *lumberjack.Logger
	formatter *TemplateFormatter
	logger    *zap.Logger
}

// NewFileEmitter creates a new file-based event emitter.
// Returns error if the template is invalid or directory creation fails.
func NewFileEmitter(cfg config.EventFileConfig, logger *zap.Logger) (*FileEmitter, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}

	template := cfg.Template
	if template == "" {
		template = defaultTemplate
	}

	formatter, err := NewTemplateFormatter(template)
	if err != nil {
		return nil, fmt.Errorf("invalid template for event log %s: %w", cfg.Path, err)
	}

	maxSize := cfg.Rotation.MaxSize
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}

	maxAge := cfg.Rotation.MaxAge
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}

	maxBackups := cfg.Rotation.MaxBackups
	if maxBackups == 0 {
		maxBackups = DefaultMaxBackups
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    maxSize,
		MaxAge:     maxAge,
		MaxBackups: maxBackups,
		Compress:   cfg.Rotation.Compress,
	}

	return &FileEmitter{
		writer:    writer,
		formatter: formatter,
		logger:    logger,
	}, nil
}

// Emit formats the event and writes it to the log file.
// Fire-and-forget: errors are logged but not returned.
func (f *FileEmitter) Emit(event *ScanEvent) {
	line := f.formatter.Format(event)
	_, err := f.writer.Write([]byte(line + "\n"))
	if err != nil {
		f.logger.Warn("failed to write event to log file",
			zap.Error(err),
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close closes the underlying file handle.
func (f *FileEmitter) Close() error {
	return f.writer.Close()
}
