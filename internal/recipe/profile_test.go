package recipe

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestSynthesizePython(t *testing.T) {
	r, err := Synthesize(Python("3.11"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := `FROM python:3.11-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
EXPOSE 5001/tcp
CMD ["python","app.py"]
`
	if got := Render(r); got != want {
		t.Fatalf("Render =\n%s\nwant\n%s", got, want)
	}
}

func TestSynthesizeManifestBeforeSource(t *testing.T) {
	r, err := Synthesize(Python(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	manifest, install, source := -1, -1, -1
	for i, s := range r.Steps {
		switch {
		case s.Kind == KindCopy && s.Args[0] == "requirements.txt":
			manifest = i
		case s.Kind == KindRun:
			install = i
		case s.Kind == KindCopy && s.Args[0] == ".":
			source = i
		}
	}
	if !(manifest < install && install < source) || manifest < 0 {
		t.Fatalf("order manifest=%d install=%d source=%d", manifest, install, source)
	}
}

func TestRenderRoundTrip(t *testing.T) {
	orig, err := Synthesize(Python("3.12"))
	if err != nil {
		t.Fatal(err)
	}
	orig.Steps = append(orig.Steps,
		Step{Kind: KindEnv, Pairs: []Pair{{"MODE", "two words"}, {"EMPTY", ""}}},
		Step{Kind: KindCopy, Args: []string{"my file.txt", "/opt/"}},
	)

	parsed, err := Parse(strings.NewReader(Render(orig)))
	if err != nil {
		t.Fatalf("rendered recipe does not parse: %v", err)
	}
	for i := range parsed.Steps {
		parsed.Steps[i].Line = 0
	}
	parsed.FromLine = 0

	if !reflect.DeepEqual(parsed, orig) {
		t.Fatalf("round trip mismatch\n got: %+v\nwant: %+v", parsed, orig)
	}
}

func TestProfileValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"empty base", func(p *Profile) { p.Base = "" }},
		{"relative workdir", func(p *Profile) { p.Workdir = "app" }},
		{"empty manifest", func(p *Profile) { p.Manifest = "" }},
		{"absolute manifest", func(p *Profile) { p.Manifest = "/etc/requirements.txt" }},
		{"escaping manifest", func(p *Profile) { p.Manifest = "../requirements.txt" }},
		{"empty install", func(p *Profile) { p.Install = " " }},
		{"empty entrypoint", func(p *Profile) { p.Entrypoint = nil }},
		{"bad port", func(p *Profile) { p.Port = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Python("3.12")
			tt.mutate(&p)
			if _, err := Synthesize(p); err == nil {
				t.Fatal("expected error, got nil")
			} else if !errors.Is(err, ErrInvalidRecipe) && !errors.Is(err, ErrInvalidPort) {
				t.Fatalf("err = %v", err)
			}
		})
	}
}
