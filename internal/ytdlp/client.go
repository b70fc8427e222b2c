package ytdlp

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

type OutputStream string

const (
	StreamStdout OutputStream = "stdout"
	StreamStderr OutputStream = "stderr"
)

// Invocation is one yt-dlp process run.
type Invocation struct {
	Args []string
	// CaptureStdout buffers stdout whole instead of splitting it into lines;
	// used for -J output, which is a single large JSON document.
	CaptureStdout bool
	OnLine        func(stream OutputStream, line string)
}

type Result struct {
	Stdout []byte
}

// Runner executes yt-dlp. The gateway owns the only Runner in the process.
type Runner interface {
	Run(ctx context.Context, inv Invocation) (Result, error)
}

type RunnerFunc func(ctx context.Context, inv Invocation) (Result, error)

func (f RunnerFunc) Run(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// CommandError carries the tail of the process output for classification.
type CommandError struct {
	Err    error
	Stderr string
	Stdout string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("yt-dlp failed: %v\n%s\n%s", e.Err, e.Stderr, e.Stdout)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExecRunner runs the yt-dlp binary. Process output never reaches the
// service's own stdout/stderr; every line is re-emitted through Logger.
type ExecRunner struct {
	Binary string
	Logger *slog.Logger
}

func (r ExecRunner) binary() string {
	if strings.TrimSpace(r.Binary) == "" {
		return "yt-dlp"
	}
	return r.Binary
}

func (r ExecRunner) Run(ctx context.Context, inv Invocation) (Result, error) {
	cmd := exec.CommandContext(ctx, r.binary(), inv.Args...)

	var captured bytes.Buffer
	var stdoutPipe io.ReadCloser
	var err error
	if inv.CaptureStdout {
		cmd.Stdout = &captured
	} else {
		stdoutPipe, err = cmd.StdoutPipe()
		if err != nil {
			return Result{}, fmt.Errorf("setup stdout pipe: %w", err)
		}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("setup stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start yt-dlp: %w", err)
	}

	var outBuf strings.Builder
	var errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup

	read := func(stream OutputStream, rd io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(rd)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()
			mu.Lock()
			appendLimited(&outBuf, &errBuf, stream, line)
			mu.Unlock()
			r.emit(stream, line)
			if inv.OnLine != nil {
				inv.OnLine(stream, line)
			}
		}
	}

	wg.Add(1)
	go read(StreamStderr, stderrPipe)
	if stdoutPipe != nil {
		wg.Add(1)
		go read(StreamStdout, stdoutPipe)
	}
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{}, fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		mu.Lock()
		defer mu.Unlock()
		return Result{}, &CommandError{
			Err:    err,
			Stderr: strings.TrimSpace(errBuf.String()),
			Stdout: strings.TrimSpace(outBuf.String()),
		}
	}
	return Result{Stdout: captured.Bytes()}, nil
}

func (r ExecRunner) emit(stream OutputStream, line string) {
	if r.Logger == nil {
		return
	}
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if strings.HasPrefix(trimmed, "ERROR:") {
		r.Logger.Warn("yt-dlp", "stream", string(stream), "line", trimmed)
		return
	}
	r.Logger.Debug("yt-dlp", "stream", string(stream), "line", trimmed)
}

type DependencyReport struct {
	YTDLPFound  bool   `json:"yt_dlp_found"`
	YTDLPPath   string `json:"yt_dlp_path,omitempty"`
	FFmpegFound bool   `json:"ffmpeg_found"`
	FFmpegPath  string `json:"ffmpeg_path,omitempty"`
}

func DependencyStatus(binary string) DependencyReport {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	report := DependencyReport{}
	if path, err := exec.LookPath(binary); err == nil {
		report.YTDLPFound = true
		report.YTDLPPath = path
	}
	if path, err := exec.LookPath("ffmpeg"); err == nil {
		report.FFmpegFound = true
		report.FFmpegPath = path
	}
	return report
}

func CheckDependencies(binary string) error {
	report := DependencyStatus(binary)
	if !report.YTDLPFound {
		return errors.New("missing dependency: yt-dlp is not installed or not on PATH")
	}
	if !report.FFmpegFound {
		return errors.New("missing dependency: ffmpeg is required for merging formats and was not found on PATH")
	}
	return nil
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// appendLimited keeps the head of each stream for error reports.
func appendLimited(outBuf, errBuf *strings.Builder, stream OutputStream, line string) {
	const maxKeep = 8192
	b := outBuf
	if stream == StreamStderr {
		b = errBuf
	}
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}

func resolveCookiesPath(path string) (string, error) {
	p := strings.TrimSpace(path)
	if p == "" {
		return "", nil
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", fmt.Errorf("resolve cookies path %s: %w", p, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("cookies file %s: %w", abs, err)
	}
	return abs, nil
}
