package retrieval

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueryLogger_ConcurrentWritesStayLineDelimited(t *testing.T) {
	var buf bytes.Buffer
	logger := NewQueryLogger(&buf)

	const workers, perWorker = 20, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				logger.Log(QueryLogEntry{Kind: KindContext, Query: "q", Duration: time.Millisecond})
			}
		}()
	}
	wg.Wait()

	lines := 0
	sc := bufio.NewScanner(&buf)
	for sc.Scan() {
		var entry QueryLogEntry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &entry), "line %d", lines)
		assert.Equal(t, int64(1), entry.LatencyMs)
		assert.False(t, entry.Timestamp.IsZero())
		lines++
	}
	assert.Equal(t, workers*perWorker, lines)
}

func TestNewFileQueryLogger_Appends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "query.log")

	for i := 0; i < 2; i++ {
		l, err := NewFileQueryLogger(path)
		require.NoError(t, err)
		l.Log(QueryLogEntry{Kind: KindTimestamps, Query: "intro", Error: "embed query: quota"})
		require.NoError(t, l.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := bytes.Split(bytes.TrimSpace(data), []byte("\n"))
	require.Len(t, lines, 2)
	assert.Contains(t, string(lines[1]), `"error":"embed query: quota"`)
	assert.NotContains(t, string(lines[1]), `"document_id"`)
}
