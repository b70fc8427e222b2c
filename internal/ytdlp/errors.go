package ytdlp

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

type ErrorKind string

const (
	KindTransient ErrorKind = "transient"
	KindPermanent ErrorKind = "permanent"
)

var (
	ErrTransient = errors.New("transient extraction error")
	ErrPermanent = errors.New("permanent extraction error")
)

type ExtractionError struct {
	Kind     ErrorKind
	Op       string
	URL      string
	Attempts int
	Err      error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("%s %s: %s failure after %d attempt(s): %v", e.Op, e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

func (e *ExtractionError) Is(target error) bool {
	switch target {
	case ErrPermanent:
		return e.Kind == KindPermanent
	case ErrTransient:
		return e.Kind == KindTransient
	}
	return false
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

// permanentPatterns are lowercased fragments of upstream messages that no
// amount of retrying can fix.
var permanentPatterns = []string{
	"account has been terminated",
	"account associated with this video has been terminated",
	"channel has been terminated",
	"has been suspended",
	"video has been removed",
	"has been removed by the uploader",
	"video has been deleted",
	"video unavailable",
	"private video",
	"video is private",
	"not available in your country",
	"geo restricted",
	"geo-restricted",
	"geo restriction",
	"sign in to confirm your age",
	"age-restricted",
	"age restricted",
	"playlist does not exist",
	"channel does not exist",
	"http error 404",
	"404: not found",
	"copyright",
	"unsupported url",
	"is not a valid url",
}

func IsPermanentMessage(msg string) bool {
	l := strings.ToLower(msg)
	for _, p := range permanentPatterns {
		if strings.Contains(l, p) {
			return true
		}
	}
	return false
}

var reBlocked = regexp.MustCompile(`\b(403|429)\b`)

// IsBlockedMessage reports active blocking by the upstream (403/429).
func IsBlockedMessage(msg string) bool {
	return reBlocked.MatchString(msg)
}

// upstreamMessage is the text a failure is classified on. For a failed
// process that is the ERROR: lines of stderr (all of stderr when there are
// none); stdout carries titles and progress figures and is never inspected.
func upstreamMessage(err error) string {
	var cmdErr *CommandError
	if !errors.As(err, &cmdErr) {
		return err.Error()
	}
	var lines []string
	for _, line := range strings.Split(cmdErr.Stderr, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "ERROR:") {
			lines = append(lines, line)
		}
	}
	if len(lines) > 0 {
		return strings.Join(lines, "\n")
	}
	if msg := strings.TrimSpace(cmdErr.Stderr); msg != "" {
		return msg
	}
	if cmdErr.Err != nil {
		return cmdErr.Err.Error()
	}
	return ""
}
