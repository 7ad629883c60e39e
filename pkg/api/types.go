// Package api defines the JSON types exchanged between the server and its
// clients.
package api

// SubmitJobRequest is the body of POST /jobs.
type SubmitJobRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// SubmitJobResponse carries the id allocated to a submitted job.
type SubmitJobResponse struct {
	ID uint64 `json:"id"`
}

// JobSummary is one entry in the GET /jobs listing.
type JobSummary struct {
	ID      uint64   `json:"id"`
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
}

// JobStatusResponse is the body of GET /jobs/{id}/status. ExitCode is only
// meaningful when State is "completed", Message only when it is "error".
type JobStatusResponse struct {
	State    string `json:"state"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message,omitempty"`
}

// JobOutputResponse is the body of GET /jobs/{id}/output: snapshots of the
// output captured so far.
type JobOutputResponse struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// ErrorResponse is the body of any non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
