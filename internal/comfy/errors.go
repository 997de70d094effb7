package comfy

import "fmt"

// SubmissionError reports a rejected or unreadable POST /prompt.
type SubmissionError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("comfy submit: status %d: %v", e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("comfy submit: status %d: %s", e.StatusCode, e.Body)
	case e.Err != nil:
		return "comfy submit: " + e.Err.Error()
	default:
		return "comfy submit failed"
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// StreamError reports a failure while consuming a job's event stream: the
// connection could not be opened or dropped, the engine reported an
// execution error, or an output could not be fetched.
type StreamError struct {
	Op  string
	Err error
}

func (e *StreamError) Error() string {
	return "comfy stream " + e.Op + ": " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// SchemaError reports a failed object_info fetch. Callers fall back to
// classifying fields from literal values only.
type SchemaError struct {
	NodeType string
	Err      error
}

func (e *SchemaError) Error() string {
	if e.NodeType == "" {
		return "comfy object_info: " + e.Err.Error()
	}
	return "comfy object_info " + e.NodeType + ": " + e.Err.Error()
}

func (e *SchemaError) Unwrap() error { return e.Err }
