package cron

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	gocron "github.com/robfig/cron/v3"
)

// Task is one entry in the workload file: a cron expression paired with
// an HTTP request description. Tasks are immutable once loaded.
type Task struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Cron    string            `json:"cron"`
	Headers map[string]string `json:"headers,omitempty"`
	Data    json.RawMessage   `json:"data,omitempty"`
}

// SupportedMethods is the closed set of HTTP verbs a task may use,
// per spec §3.
var SupportedMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"OPTIONS": true,
	"TRACE":   true,
	"PUT":     true,
	"DELETE":  true,
	"POST":    true,
	"PATCH":   true,
}

// cronParser accepts both the classic 5-field expression and the 6-field
// form with a leading seconds field (spec §3: "5- or 6-field").
var cronParser = gocron.NewParser(
	gocron.SecondOptional | gocron.Minute | gocron.Hour | gocron.Dom | gocron.Month | gocron.Dow,
)

// Normalize upper-cases Method in place, matching spec §3's
// case-insensitive method matching.
func (t *Task) Normalize() {
	t.Method = strings.ToUpper(t.Method)
}

// Validate checks that Method is one of the eight supported verbs, URL is
// an absolute URL, and Cron parses. An unsupported method is reported as
// an *UnsupportedMethodError — the dispatcher treats that case as a
// warning-and-skip, never fatal, so it is distinguished from a malformed
// URL or cron expression which indicate a broken workload file.
func (t *Task) Validate() error {
	if !SupportedMethods[t.Method] {
		return &UnsupportedMethodError{Method: t.Method}
	}
	if _, err := url.ParseRequestURI(t.URL); err != nil {
		return fmt.Errorf("invalid url %q: %w", t.URL, err)
	}
	if _, err := cronParser.Parse(t.Cron); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", t.Cron, err)
	}
	return nil
}

// UsesBody reports whether this task's method sends Data as a JSON body.
func (t *Task) UsesBody() bool {
	switch t.Method {
	case "PUT", "POST", "PATCH":
		return true
	default:
		return false
	}
}

// UnsupportedMethodError is returned by Validate when a task names a verb
// outside SupportedMethods. Not fatal: the caller logs a warning and
// skips the task, all other tasks still get scheduled (spec §7 category 1).
type UnsupportedMethodError struct {
	Method string
}

func (e *UnsupportedMethodError) Error() string {
	return fmt.Sprintf("method %q not supported", e.Method)
}

// LoadWorkloadError distinguishes "file missing" from "file malformed",
// mirroring the two distinct fatal log lines the original implementation
// emits (spec §8 scenario 4: "doesn't exist" vs "not a JSON file").
type LoadWorkloadError struct {
	Path    string
	Missing bool
	Err     error
}

func (e *LoadWorkloadError) Error() string {
	if e.Missing {
		return fmt.Sprintf("%s doesn't exist or env variable WORKLOAD_FILE not set", e.Path)
	}
	return fmt.Sprintf("%s is not a JSON file: %v", e.Path, e.Err)
}

func (e *LoadWorkloadError) Unwrap() error { return e.Err }

// LoadWorkload reads and parses the workload file at path. It is the
// caller's job to treat any returned error as fatal, before any
// coordinator interaction begins (spec §4.4, §8 scenario 4).
func LoadWorkload(path string) ([]Task, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &LoadWorkloadError{Path: path, Missing: true, Err: err}
		}
		return nil, &LoadWorkloadError{Path: path, Err: err}
	}

	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, &LoadWorkloadError{Path: path, Err: err}
	}

	for i := range tasks {
		tasks[i].Normalize()
	}
	return tasks, nil
}
