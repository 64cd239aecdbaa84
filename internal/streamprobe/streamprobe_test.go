package streamprobe

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JE668/get-m3u/internal/playlist"
)

// fakeTool writes an executable shell script standing in for the
// media-inspection tool.
func fakeTool(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ffprobe")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestProbeAll_decodable(t *testing.T) {
	tool := fakeTool(t, `echo '{"streams":[{"width":1920,"height":1080}]}'`)
	p := &Prober{FFProbePath: tool, Timeout: 5 * time.Second, Concurrency: 2}
	entries := []playlist.Entry{{Name: "CCTV1", URL: "http://120.1.2.3:8080/rtp/239.1.1.1:1234"}}
	results := p.ProbeAll(context.Background(), entries)
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	r := results[0]
	if !r.Keep || r.Resolution != "1920x1080" {
		t.Errorf("result = %+v", r)
	}
	if !strings.HasPrefix(r.Diag, "OK CCTV1") {
		t.Errorf("Diag = %q", r.Diag)
	}
}

func TestProbeAll_toolFailureExcludedButLogged(t *testing.T) {
	tool := fakeTool(t, "exit 1")
	p := &Prober{FFProbePath: tool, Timeout: 5 * time.Second}
	entries := []playlist.Entry{{Name: "CCTV1", URL: "http://120.1.2.3:8080/rtp/x"}}
	results := p.ProbeAll(context.Background(), entries)
	if len(results) != 1 {
		t.Fatalf("results = %d", len(results))
	}
	if results[0].Keep {
		t.Error("tool failure must not be kept")
	}
	if !strings.HasPrefix(results[0].Diag, "FAIL CCTV1") {
		t.Errorf("Diag = %q", results[0].Diag)
	}
	if got := Kept(results); len(got) != 0 {
		t.Errorf("Kept = %v", got)
	}
	// Still present in the probe log.
	var sb strings.Builder
	if err := WriteLog(&sb, results); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), "FAIL CCTV1") {
		t.Errorf("log missing failed entry:\n%s", sb.String())
	}
}

func TestProbeAll_noVideoStream(t *testing.T) {
	tool := fakeTool(t, `echo '{"streams":[]}'`)
	p := &Prober{FFProbePath: tool, Timeout: 5 * time.Second}
	results := p.ProbeAll(context.Background(), []playlist.Entry{{Name: "X", URL: "http://1.1.1.1:1/rtp/y"}})
	if results[0].Keep {
		t.Error("empty streams must not be kept")
	}
}

func TestProbeAll_badToolOutput(t *testing.T) {
	tool := fakeTool(t, `echo 'not json'`)
	p := &Prober{FFProbePath: tool, Timeout: 5 * time.Second}
	results := p.ProbeAll(context.Background(), []playlist.Entry{{Name: "X", URL: "http://1.1.1.1:1/rtp/y"}})
	if results[0].Keep {
		t.Error("unparseable output must not be kept")
	}
}

func TestProbeAll_missingTool(t *testing.T) {
	p := &Prober{FFProbePath: filepath.Join(t.TempDir(), "absent"), Timeout: time.Second}
	results := p.ProbeAll(context.Background(), []playlist.Entry{{Name: "X", URL: "http://1.1.1.1:1/rtp/y"}})
	if results[0].Keep {
		t.Error("missing tool must not be kept")
	}
}

func TestKept_sorted(t *testing.T) {
	results := []Result{
		{Keep: true, Name: "Z", URL: "http://1.1.1.1:1/rtp/z"},
		{Keep: false, Name: "M", URL: "http://1.1.1.1:1/rtp/m"},
		{Keep: true, Name: "A", URL: "http://1.1.1.1:1/rtp/a"},
	}
	got := Kept(results)
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "Z" {
		t.Errorf("Kept = %v", got)
	}
}

func TestWriteLog_headerAndSortedLines(t *testing.T) {
	results := []Result{
		{Diag: "OK B | 1280x720"},
		{Diag: "FAIL A | no decodable video stream"},
	}
	var sb strings.Builder
	if err := WriteLog(&sb, results); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("lines = %d:\n%s", len(lines), out)
	}
	if !strings.HasPrefix(lines[0], "probe report | ") {
		t.Errorf("header = %q", lines[0])
	}
	if lines[2] != "FAIL A | no decodable video stream" || lines[3] != "OK B | 1280x720" {
		t.Errorf("body not sorted: %v", lines[2:])
	}
}

func TestHostOf(t *testing.T) {
	if got := hostOf("http://120.1.2.3:8080/rtp/239.1.1.1:1234"); got != "120.1.2.3" {
		t.Errorf("hostOf = %q", got)
	}
}

func TestProbeAll_loggerNameStableAcrossCalls(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	tool := fakeTool(t, `echo '{"streams":[{"width":1280,"height":720}]}'`)
	p := &Prober{FFProbePath: tool, Timeout: 5 * time.Second, Log: zap.New(core).Sugar()}
	entries := []playlist.Entry{{Name: "CCTV1", URL: "http://120.1.2.3:8080/udp/239.1.1.1:1234"}}

	p.ProbeAll(context.Background(), entries)
	p.ProbeAll(context.Background(), entries)

	if logs.Len() == 0 {
		t.Fatal("no log entries recorded")
	}
	for _, e := range logs.All() {
		if e.LoggerName != "streamprobe" {
			t.Errorf("logger name = %q, want streamprobe", e.LoggerName)
		}
	}
}
