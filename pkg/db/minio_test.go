package db

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"infra-monitor/pkg/models"
)

func TestEncodeLogsWritesGzipJSONLines(t *testing.T) {
	at := time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)
	logs := []models.Log{
		{ID: 1, SystemID: 3, Level: models.LevelError, Message: "Connection pool exhausted", Timestamp: at},
		{ID: 2, SystemID: 3, Level: models.LevelInfo, Message: "Backup completed", Timestamp: at.Add(time.Minute), IsResolved: true},
	}

	var buf bytes.Buffer
	if err := EncodeLogs(&buf, logs); err != nil {
		t.Fatalf("EncodeLogs: %v", err)
	}

	zr, err := gzip.NewReader(&buf)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	scanner := bufio.NewScanner(zr)
	var got []models.Log
	for scanner.Scan() {
		var entry models.Log
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			t.Fatalf("line %q: %v", scanner.Text(), err)
		}
		got = append(got, entry)
	}
	if len(got) != 2 {
		t.Fatalf("lines = %d, want 2", len(got))
	}
	if got[0].Message != "Connection pool exhausted" || !got[1].IsResolved {
		t.Fatalf("decoded = %+v", got)
	}
}

func TestArchiveObjectName(t *testing.T) {
	day := time.Date(2024, 1, 5, 23, 0, 0, 0, time.UTC)
	name := ArchiveObjectName(42, day, time.Unix(0, 99))
	if name != "system-logs/42/2024/01/05/99.json.gz" {
		t.Fatalf("name = %q", name)
	}
	if !strings.HasSuffix(name, ".json.gz") {
		t.Fatalf("name %q missing suffix", name)
	}
}
