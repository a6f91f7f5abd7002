package protocol

// Payload of [CmdBuild].
type BuildRequest struct {
	Recipe    string   `json:"recipe"`              // Containerfile text.
	Tag       string   `json:"tag"`                 // Final image name.
	Root      string   `json:"root"`                // Absolute build context directory.
	Output    string   `json:"output,omitempty"`    // Absolute archive output directory.
	Platforms []string `json:"platforms,omitempty"` // Target platforms. Empty uses the daemon default.
	NoCache   bool     `json:"no_cache,omitempty"`  // Execute every step.
	Strict    bool     `json:"strict,omitempty"`    // Fail on lint findings.
}

// Final image of one platform.
type ImageInfo struct {
	Name   string `json:"name"`
	Digest string `json:"digest"`
}

// Outcome of one build step.
type StepInfo struct {
	Platform    string `json:"platform"`
	Index       int    `json:"index"`
	Instruction string `json:"instruction"`
	Text        string `json:"text"`
	Cached      bool   `json:"cached,omitempty"`
}

// Payload of a successful [CmdBuild] response.
type BuildResult struct {
	Output       string      `json:"output,omitempty"`
	Images       []ImageInfo `json:"images"`
	Steps        []StepInfo  `json:"steps"`
	CacheHits    int         `json:"cache_hits"`
	ExposedPorts []string    `json:"exposed_ports,omitempty"`
	Entrypoint   []string    `json:"entrypoint,omitempty"`
	Duration     string      `json:"duration"`
}

// Payload of [CmdRun].
type RunRequest struct {
	Image    string `json:"image"`              // Image to run.
	Platform string `json:"platform,omitempty"` // Platform variant. Empty uses the daemon default.
}

// Payload of a successful [CmdRun] response.
type RunResult struct {
	ExitCode int `json:"exit_code"`
}

// Payload of [CmdImageDestroy].
type ImageRequest struct {
	Name string `json:"name"`
}

// Payload of a successful [CmdCachePrune] response.
type PruneResult struct {
	Removed int `json:"removed"`
}

// Payload of a successful [CmdStatus] response.
type StatusResult struct {
	Running   bool   `json:"running"`
	Version   string `json:"version"`
	Pid       int    `json:"pid"`
	Uptime    string `json:"uptime"`
	Builds    int    `json:"builds"`
	Runs      int    `json:"runs"`
	Namespace string `json:"namespace"`
	Platform  string `json:"platform"`
}

// Stream names carried by [OutputEvent].
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Payload of [CmdOutput].
type OutputEvent struct {
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

// Payload of [CmdError].
type ErrorResult struct {
	Message  string `json:"message"`
	ExitCode int    `json:"exit_code,omitempty"` // Set when a run failed to start its entrypoint.
}
