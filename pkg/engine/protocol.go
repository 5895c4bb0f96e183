package engine

import (
	"encoding/json"
	"net/http"
)

// Methods understood by Serve.
const (
	MethodPing    = "ping"
	MethodResolve = "resolve"
)

// Request is one line sent to the engine.
type Request struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is one line sent back. Exactly one of Result and Error is set.
type Response struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

// RPCError carries a failure message across the process boundary.
type RPCError struct {
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// Exclusion prunes group:artifact (either may be "*") from the closure.
type Exclusion struct {
	Group    string `json:"group"`
	Artifact string `json:"artifact"`
}

// ResolveParams asks for the transitive closure of one coordinate.
type ResolveParams struct {
	Group        string      `json:"group"`
	Artifact     string      `json:"artifact"`
	Version      string      `json:"version"`
	Classifier   string      `json:"classifier,omitempty"`
	Repositories []string    `json:"repositories"`
	Exclusions   []Exclusion `json:"exclusions,omitempty"`
	// Fetch carries the host's repository access settings. Nil keeps the
	// engine's own.
	Fetch *FetchSettings `json:"fetch,omitempty"`
}

// FetchSettings mirrors the host's retry, timeout, rate limit and
// credentials so POMs are fetched the way the host fetches jars.
type FetchSettings struct {
	Attempts   int     `json:"attempts,omitempty"`
	DelayMs    int64   `json:"delayMs,omitempty"`
	MaxDelayMs int64   `json:"maxDelayMs,omitempty"`
	TimeoutMs  int64   `json:"timeoutMs,omitempty"`
	RateLimit  float64 `json:"rateLimit,omitempty"`
	Burst      int     `json:"burst,omitempty"`
	// Headers are request headers keyed by repository URL prefix; the
	// longest matching prefix applies.
	Headers map[string]http.Header `json:"headers,omitempty"`
}

// Artifact is one member of a closure.
type Artifact struct {
	Group      string `json:"group"`
	Artifact   string `json:"artifact"`
	Version    string `json:"version"`
	Classifier string `json:"classifier,omitempty"`
	// Repository is where the artifact's POM was found, or "" if the POM
	// could not be fetched.
	Repository string `json:"repository,omitempty"`
	// Parent is the coordinate that pulled this artifact in.
	Parent string `json:"parent"`
	Depth  int    `json:"depth"`
}

// ResolveResult lists the closure, root excluded, in breadth-first order.
type ResolveResult struct {
	Artifacts []Artifact `json:"artifacts"`
}

// PingResult identifies the engine build.
type PingResult struct {
	Version string `json:"version"`
}
