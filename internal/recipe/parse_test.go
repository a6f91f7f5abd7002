package recipe

import (
	"errors"
	"reflect"
	"slices"
	"strings"
	"testing"
)

const pythonService = `# service image
FROM python:3.12-slim
WORKDIR /app
COPY requirements.txt .
RUN pip install --no-cache-dir -r requirements.txt
COPY . .
ENV FLASK_ENV=production GREETING="hello world"
LABEL org.opencontainers.image.title=rating
EXPOSE 5001
CMD ["python", "app.py"]
`

func TestParse(t *testing.T) {
	r, err := Parse(strings.NewReader(pythonService))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if r.From != "python:3.12-slim" {
		t.Fatalf("From = %q", r.From)
	}
	if r.FromLine != 2 {
		t.Fatalf("FromLine = %d, want 2", r.FromLine)
	}

	kinds := make([]Kind, len(r.Steps))
	for i, s := range r.Steps {
		kinds[i] = s.Kind
	}
	want := []Kind{KindWorkdir, KindCopy, KindRun, KindCopy, KindEnv, KindLabel, KindExpose, KindCmd}
	if !reflect.DeepEqual(kinds, want) {
		t.Fatalf("kinds = %v, want %v", kinds, want)
	}

	run := r.Steps[2]
	if run.Exec || len(run.Args) != 1 || run.Args[0] != "pip install --no-cache-dir -r requirements.txt" {
		t.Errorf("run = %+v", run)
	}
	if run.Line != 5 {
		t.Errorf("run line = %d, want 5", run.Line)
	}

	env := r.Steps[4].Pairs
	wantEnv := []Pair{{"FLASK_ENV", "production"}, {"GREETING", "hello world"}}
	if !reflect.DeepEqual(env, wantEnv) {
		t.Errorf("env = %v, want %v", env, wantEnv)
	}

	cmd := r.Steps[7]
	if !cmd.Exec || !reflect.DeepEqual(cmd.Args, []string{"python", "app.py"}) {
		t.Errorf("cmd = %+v", cmd)
	}

	if got := r.ExposedPorts(); !reflect.DeepEqual(got, []string{"5001/tcp"}) {
		t.Errorf("ExposedPorts = %v", got)
	}
}

func TestParseLegacyEnv(t *testing.T) {
	r, err := Parse(strings.NewReader("FROM alpine:3.20\nENV PATH_EXTRA /opt/bin\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []Pair{{"PATH_EXTRA", "/opt/bin"}}
	if !reflect.DeepEqual(r.Steps[0].Pairs, want) {
		t.Fatalf("pairs = %v, want %v", r.Steps[0].Pairs, want)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"comment only", "# nothing\n"},
		{"no from", "WORKDIR /app\n"},
		{"second from", "FROM alpine:3.20\nFROM alpine:3.19\n"},
		{"stage name", "FROM alpine:3.20 AS build\n"},
		{"scratch", "FROM scratch\n"},
		{"unsupported", "FROM alpine:3.20\nADD x.tar /\n"},
		{"arg", "FROM alpine:3.20\nARG VERSION\n"},
		{"copy from stage", "FROM alpine:3.20\nCOPY --from=build /a /b\n"},
		{"copy one arg", "FROM alpine:3.20\nCOPY only\n"},
		{"workdir two args", "FROM alpine:3.20\nWORKDIR /a /b\n"},
		{"expose range", "FROM alpine:3.20\nEXPOSE 70000\n"},
		{"expose proto", "FROM alpine:3.20\nEXPOSE 80/icmp\n"},
		{"heredoc", "FROM alpine:3.20\nRUN <<EOF\necho hi\nEOF\n"},
		{"env variable reference", "FROM python:3.12-slim\nENV PATH=/opt/venv/bin:$PATH\n"},
		{"env braced reference", "FROM python:3.12-slim\nENV HOME=${APP_HOME}\n"},
		{"label variable reference", "FROM alpine:3.20\nLABEL version=$VERSION\n"},
		{"workdir variable reference", "FROM alpine:3.20\nWORKDIR $HOME/app\n"},
		{"copy variable reference", "FROM alpine:3.20\nCOPY $SRC /app/\n"},
		{"expose variable reference", "FROM alpine:3.20\nEXPOSE $PORT\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input))
			if !errors.Is(err, ErrInvalidRecipe) {
				t.Fatalf("err = %v, want ErrInvalidRecipe", err)
			}
		})
	}
}

func TestParseLiteralDollar(t *testing.T) {
	r, err := Parse(strings.NewReader(`FROM python:3.12-slim
WORKDIR "/srv/my app"
ENV PRICE=\$5 GREETING='cost: $5'
RUN echo $PRICE
`))
	if err != nil {
		t.Fatal(err)
	}

	if got := r.Steps[0].Args[0]; got != "/srv/my app" {
		t.Errorf("workdir = %q", got)
	}
	want := []Pair{{Key: "PRICE", Value: "$5"}, {Key: "GREETING", Value: "cost: $5"}}
	if got := r.Steps[1].Pairs; !slices.Equal(got, want) {
		t.Errorf("pairs = %+v, want %+v", got, want)
	}
	if got := r.Steps[2].Args[0]; got != "echo $PRICE" {
		t.Errorf("run = %q, shell-form commands keep their references", got)
	}
}

func TestParseErrorReportsLine(t *testing.T) {
	_, err := Parse(strings.NewReader("FROM alpine:3.20\nWORKDIR /app\nADD x.tar /\n"))
	if err == nil || !strings.Contains(err.Error(), "line 3") {
		t.Fatalf("err = %v, want line 3", err)
	}
}

func TestParsePort(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "5001", want: "5001/tcp"},
		{input: "53/udp", want: "53/udp"},
		{input: "80/TCP", want: "80/tcp"},
		{input: "9/sctp", want: "9/sctp"},
		{input: "0", wantErr: true},
		{input: "65536", wantErr: true},
		{input: "http", wantErr: true},
		{input: "80/icmp", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParsePort(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPort) {
					t.Fatalf("err = %v, want ErrInvalidPort", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParsePort(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestStepArgv(t *testing.T) {
	shell := Step{Kind: KindCmd, Args: []string{"python app.py"}}
	if got := shell.Argv("/bin/sh"); !reflect.DeepEqual(got, []string{"/bin/sh", "-c", "python app.py"}) {
		t.Fatalf("shell argv = %v", got)
	}

	exec := Step{Kind: KindCmd, Args: []string{"python", "app.py"}, Exec: true}
	if got := exec.Argv("/bin/sh"); !reflect.DeepEqual(got, []string{"python", "app.py"}) {
		t.Fatalf("exec argv = %v", got)
	}
}
