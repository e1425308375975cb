package templatefmt

import (
	"testing"
	"time"
)

func TestFormatDuration(t *testing.T) {
	t.Parallel()

	cases := map[string]any{
		"30.0s": 30 * time.Second,
		"5.0m":  int64(300),
		"1.5h":  90 * time.Minute,
		"0.0s":  "nope",
	}
	for want, input := range cases {
		if got := FormatDuration(input); got != want {
			t.Fatalf("FormatDuration(%v)=%q, want %q", input, got, want)
		}
	}
}

func TestRenderMessageTemplate(t *testing.T) {
	t.Parallel()

	tmpl, err := ParseMessageTemplate("msg", `{{ upper .Severity }} {{ .DeviceID }}: {{ join .Args "," }} window={{ fmtDuration .Window }}`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	data := struct {
		Severity string
		DeviceID string
		Args     []string
		Window   int64
	}{Severity: "critical", DeviceID: "Server-Rack3-Unit2", Args: []string{"CPU1", "105"}, Window: 300}

	got, err := Render(tmpl, data)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if want := "CRITICAL Server-Rack3-Unit2: CPU1,105 window=5.0m"; got != want {
		t.Fatalf("unexpected render %q, want %q", got, want)
	}
}

func TestParseMessageTemplateRejectsBrokenSyntax(t *testing.T) {
	t.Parallel()

	if _, err := ParseMessageTemplate("msg", "{{ .DeviceID "); err == nil {
		t.Fatalf("expected parse error")
	}
}
