package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func writeFakeYTDLP(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/usr/bin/env bash\nset -euo pipefail\n"+script), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}
	return path
}

func TestExecRunner_StreamsLinesSplitOnCarriageReturn(t *testing.T) {
	bin := writeFakeYTDLP(t, `printf '[download]  10.0%% of 1.00MiB\r[download]  55.5%% of 1.00MiB\n'
echo "WARNING: slow" >&2
`)
	var mu sync.Mutex
	var lines []string
	_, err := ExecRunner{Binary: bin}.Run(context.Background(), Invocation{
		OnLine: func(stream OutputStream, line string) {
			mu.Lock()
			lines = append(lines, string(stream)+":"+line)
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("run fake yt-dlp: %v", err)
	}
	joined := strings.Join(lines, "|")
	for _, want := range []string{"stdout:[download]  10.0% of 1.00MiB", "stdout:[download]  55.5% of 1.00MiB", "stderr:WARNING: slow"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %s", want, joined)
		}
	}
}

func TestExecRunner_CapturesJSONAndPassesArgs(t *testing.T) {
	bin := writeFakeYTDLP(t, `printf '{"id":"%s"}' "$2"
`)
	res, err := ExecRunner{Binary: bin}.Run(context.Background(), Invocation{
		Args:          []string{"-J", "abc123def45"},
		CaptureStdout: true,
	})
	if err != nil {
		t.Fatalf("run fake yt-dlp: %v", err)
	}
	info, err := ParseInfo(res.Stdout)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if info.ID != "abc123def45" {
		t.Fatalf("expected id from argv, got %q", info.ID)
	}
}

func TestExecRunner_FailureCarriesStderr(t *testing.T) {
	bin := writeFakeYTDLP(t, `echo "ERROR: [youtube] x: Private video" >&2
exit 1
`)
	_, err := ExecRunner{Binary: bin}.Run(context.Background(), Invocation{CaptureStdout: true})
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if !strings.Contains(cmdErr.Stderr, "Private video") {
		t.Fatalf("expected stderr tail, got %q", cmdErr.Stderr)
	}
	if !IsPermanentMessage(err.Error()) {
		t.Fatalf("expected failure to classify as permanent: %v", err)
	}
}

func TestDependencyStatus_MissingBinary(t *testing.T) {
	report := DependencyStatus(filepath.Join(t.TempDir(), "no-such-yt-dlp"))
	if report.YTDLPFound {
		t.Fatalf("expected missing binary to be reported")
	}
	if err := CheckDependencies(filepath.Join(t.TempDir(), "no-such-yt-dlp")); err == nil {
		t.Fatalf("expected dependency check to fail")
	}
}
