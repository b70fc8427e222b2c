package archive

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	reChannelDir       = regexp.MustCompile(`^(UC[a-zA-Z0-9_-]{22}|@[a-zA-Z0-9._-]+)_(.+)$`)
	reLegacyChannelDir = regexp.MustCompile(`^([^_]{10,})_(.+)$`)
	reVideoDir         = regexp.MustCompile(`^([a-zA-Z0-9_-]{11})_(.+)$`)
)

type DirIdentity struct {
	ExternalID string
	Name       string
}

// ParseChannelDirName recovers a channel id and display name from a
// channel directory name.
func ParseChannelDirName(name string) (DirIdentity, error) {
	if m := reChannelDir.FindStringSubmatch(name); m != nil {
		return DirIdentity{ExternalID: m[1], Name: unsanitize(m[2])}, nil
	}
	if m := reLegacyChannelDir.FindStringSubmatch(name); m != nil {
		return DirIdentity{ExternalID: m[1], Name: unsanitize(m[2])}, nil
	}
	return DirIdentity{}, fmt.Errorf("channel directory %q does not match <id>_<name>", name)
}

func ParseVideoDirName(name string) (DirIdentity, error) {
	m := reVideoDir.FindStringSubmatch(name)
	if m == nil {
		return DirIdentity{}, fmt.Errorf("video directory %q does not match <11-char id>_<title>", name)
	}
	return DirIdentity{ExternalID: m[1], Name: unsanitize(m[2])}, nil
}

func unsanitize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}
