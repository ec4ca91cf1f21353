package notify

import (
	"bytes"
	"strings"
	"testing"

	"github.com/andresmejia3/facelens/internal/logging"
)

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	NewConsole(&buf).Notify("No faces detected")

	out := buf.String()
	if !strings.Contains(out, "No faces detected") {
		t.Errorf("Expected message in output, got %q", out)
	}
	if strings.Count(out, "-----") < 2 {
		t.Errorf("Expected a bordered box, got %q", out)
	}
}

func TestMultiAndFunc(t *testing.T) {
	var got []string
	record := Func(func(m string) { got = append(got, m) })

	var buf bytes.Buffer
	log, err := logging.New(logging.Options{Level: "warn", NoColor: true, Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	Multi{record, nil, Log{Logger: log}, record}.Notify("camera unavailable")

	if len(got) != 2 || got[0] != "camera unavailable" {
		t.Errorf("Expected message delivered twice, got %v", got)
	}
	if !strings.Contains(buf.String(), "camera unavailable") {
		t.Errorf("Expected message in log output, got %q", buf.String())
	}
}
