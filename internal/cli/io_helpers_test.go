package cli

import (
	"bytes"
	"testing"
)

func TestFormatBytesIEC(t *testing.T) {
	cases := map[int64]string{
		-5:              "0 B",
		0:               "0 B",
		512:             "512 B",
		1024:            "1.0 KiB",
		1536:            "1.5 KiB",
		5 * 1024 * 1024: "5.0 MiB",
		3 << 30:         "3.0 GiB",
		1<<40 + 1<<39:   "1.5 TiB",
	}
	for in, want := range cases {
		if got := formatBytesIEC(in); got != want {
			t.Fatalf("formatBytesIEC(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestWriteJSONIndents(t *testing.T) {
	var buf bytes.Buffer
	if err := writeJSON(&buf, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	if got := buf.String(); got != "{\n  \"a\": 1\n}\n" {
		t.Fatalf("unexpected JSON: %q", got)
	}
}
