package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEventID(t *testing.T) {
	id1 := generateEventID()
	id2 := generateEventID()

	assert.NotEqual(t, id1, id2)
	assert.True(t, strings.HasPrefix(id1, "evt-"))
	assert.Len(t, id1, len("evt-")+26)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid stdout config", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("disabled config skips validation", func(t *testing.T) {
		cfg := Config{Enabled: false, Type: "kafka"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid type", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "syslog"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid audit type")
	})

	t.Run("file without path", func(t *testing.T) {
		cfg := Config{Enabled: true, Type: "file"}
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "file path is required")
	})
}

func TestNewLogger_Disabled(t *testing.T) {
	l, err := NewLogger(&Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, l.Log(NewEvent(EventTypeLogin)))
	assert.NoError(t, l.Close())
}

func TestFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "session.log")
	l, err := NewLogger(&Config{
		Enabled:        true,
		Type:           "file",
		FilePath:       path,
		FileMaxSize:    1,
		FileMaxAge:     1,
		FileMaxBackups: 1,
	})
	require.NoError(t, err)

	require.NoError(t, l.Log(&Event{
		EventType:   EventTypeLogin,
		PrincipalID: "u-1",
		Role:        "ceo",
	}))
	require.NoError(t, l.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 3)
	assert.Equal(t, EventTypeSystemStartup, events[0].EventType)
	assert.Equal(t, EventTypeLogin, events[1].EventType)
	assert.Equal(t, "u-1", events[1].PrincipalID)
	assert.NotEmpty(t, events[1].EventID, "missing IDs are filled in")
	assert.False(t, events[1].Timestamp.IsZero())
	assert.Equal(t, EventTypeSystemShutdown, events[2].EventType)
}

type failingWriter struct{}

func (failingWriter) Write(event interface{}) error { return errors.New("disk full") }
func (failingWriter) Close() error                  { return nil }

func TestWriterLogger_PropagatesWriteErrors(t *testing.T) {
	l := NewWriterLogger(failingWriter{})
	err := l.Log(NewEvent(EventTypeLogout))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NoError(t, l.Log(nil))
}
