package audit

import (
	"fmt"
	"time"
)

// Logger logs audit events
type Logger interface {
	// Log writes an event. Missing IDs and timestamps are filled in.
	Log(event *Event) error

	// Close closes the logger and its writer
	Close() error
}

// Config for audit logger
type Config struct {
	// Enabled enables audit logging
	Enabled bool

	// Output type: stdout, file
	Type string

	// For file output
	FilePath       string
	FileMaxSize    int // MB
	FileMaxAge     int // Days
	FileMaxBackups int
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		Type:           "stdout",
		FileMaxSize:    100,
		FileMaxAge:     30,
		FileMaxBackups: 10,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Type == "" {
		return fmt.Errorf("audit type is required")
	}

	if c.Type != "stdout" && c.Type != "file" {
		return fmt.Errorf("invalid audit type: %s (must be stdout or file)", c.Type)
	}

	if c.Type == "file" && c.FilePath == "" {
		return fmt.Errorf("file path is required for file output")
	}

	return nil
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (Logger, error) {
	if cfg == nil {
		cfg = &Config{}
		*cfg = DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if !cfg.Enabled {
		return NewNoopLogger(), nil
	}

	var writer Writer
	var err error

	switch cfg.Type {
	case "stdout":
		writer = NewStdoutWriter()
	case "file":
		writer, err = NewFileWriter(cfg.FilePath, cfg.FileMaxSize, cfg.FileMaxAge, cfg.FileMaxBackups)
		if err != nil {
			return nil, fmt.Errorf("create file writer: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported audit type: %s", cfg.Type)
	}

	return NewWriterLogger(writer), nil
}

// writerLogger writes every event synchronously to a Writer
type writerLogger struct {
	writer Writer
}

// NewWriterLogger creates a logger that writes events to w
func NewWriterLogger(w Writer) Logger {
	return &writerLogger{writer: w}
}

func (l *writerLogger) Log(event *Event) error {
	if event == nil {
		return nil
	}
	if event.EventID == "" {
		event.EventID = generateEventID()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if err := l.writer.Write(event); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func (l *writerLogger) Close() error {
	return l.writer.Close()
}

// noopLogger is used when audit logging is disabled
type noopLogger struct{}

// NewNoopLogger returns a logger that drops every event
func NewNoopLogger() Logger {
	return &noopLogger{}
}

func (n *noopLogger) Log(event *Event) error { return nil }
func (n *noopLogger) Close() error           { return nil }
