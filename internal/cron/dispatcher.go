// Package cron turns a loaded workload into timed HTTP invocations. The
// Dispatcher only runs while its owner (main, gated on the Leadership
// Manager's leader flag) has called Start; Stop tears it down so that
// triggers installed during one leadership epoch never fire in a later
// one (spec §4.4, Design Note "Leader-gated dispatcher lifecycle").
package cron

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	gocron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/belykhk/cdcron-go/internal/metrics"
)

// requestBuilder issues one HTTP call for a task firing. It is the
// "typed request-builder" Design Note "Dynamic task dispatch on method"
// calls for — a closed sum type over the eight supported verbs.
type requestBuilder func(ctx context.Context, client *http.Client, task Task) (*http.Response, error)

var methodTable = map[string]requestBuilder{
	"GET":     buildAndDo,
	"HEAD":    buildAndDo,
	"OPTIONS": buildAndDo,
	"TRACE":   buildAndDo,
	"PUT":     buildAndDo,
	"DELETE":  buildAndDo,
	"POST":    buildAndDo,
	"PATCH":   buildAndDo,
}

func buildAndDo(ctx context.Context, client *http.Client, task Task) (*http.Response, error) {
	var body io.Reader
	if task.UsesBody() && len(task.Data) > 0 {
		body = bytes.NewReader(task.Data)
	}

	req, err := http.NewRequestWithContext(ctx, task.Method, task.URL, body)
	if err != nil {
		return nil, err
	}
	if task.UsesBody() {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range task.Headers {
		req.Header.Set(k, v)
	}

	return client.Do(req)
}

// Dispatcher schedules and fires HTTP requests for a fixed set of tasks.
type Dispatcher struct {
	tasks      []Task
	httpClient *http.Client
	logger     *zap.Logger

	cron *gocron.Cron
}

// New builds a Dispatcher for tasks. Call Start to begin scheduling.
func New(tasks []Task, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		tasks:      tasks,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Start installs a cron trigger per valid task and begins firing them. It
// is non-blocking: scheduling runs in the internal *gocron.Cron's own
// goroutines. Unsupported methods are logged and skipped; they never
// prevent other tasks from being scheduled (spec §4.4, §7 category 1).
//
// Start must be called fresh on every follower→leader transition — a
// Dispatcher is single-use per leadership epoch (Design Note,
// "Leader-gated dispatcher lifecycle").
func (d *Dispatcher) Start(ctx context.Context) error {
	d.logger.Info("current timezone", zap.String("zone", time.Now().Format("MST (-0700)")))

	c := gocron.New(gocron.WithParser(cronParser), gocron.WithChain(gocron.Recover(cronLoggerAdapter{d.logger})))

	for _, task := range d.tasks {
		task := task
		if err := task.Validate(); err != nil {
			if unsupported, ok := asUnsupportedMethod(err); ok {
				d.logger.Warn("method not supported for task",
					zap.String("method", unsupported.Method),
					zap.String("url", task.URL),
				)
				continue
			}
			d.logger.Warn("skipping invalid task", zap.String("url", task.URL), zap.Error(err))
			continue
		}

		builder := methodTable[task.Method]
		entryID, err := c.AddFunc(task.Cron, func() {
			d.fire(ctx, builder, task)
		})
		if err != nil {
			d.logger.Warn("failed to schedule task", zap.String("url", task.URL), zap.Error(err))
			continue
		}
		_ = entryID

		d.logger.Info("scheduled task",
			zap.String("method", task.Method),
			zap.String("url", task.URL),
			zap.String("cron", task.Cron),
		)
	}

	c.Start()
	d.cron = c
	d.logger.Info("scheduler started")
	return nil
}

// Stop halts the scheduler. No new runs are admitted after Stop returns;
// jobs already in flight are allowed to complete, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) {
	if d.cron == nil {
		return
	}
	stopCtx := d.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		d.logger.Warn("timed out waiting for in-flight jobs to finish")
	}
	d.logger.Info("scheduler stopped")
	d.cron = nil
}

func (d *Dispatcher) fire(ctx context.Context, builder requestBuilder, task Task) {
	start := time.Now()
	resp, err := builder(ctx, d.httpClient, task)
	metrics.JobDuration.WithLabelValues(task.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.JobRunsTotal.WithLabelValues(task.Method, "transport_error").Inc()
		d.logger.Warn("job request failed",
			zap.String("method", task.Method),
			zap.String("url", task.URL),
			zap.Error(err),
		)
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		respBody = []byte(fmt.Sprintf("<failed to read response body: %v>", err))
	}

	fields := []zap.Field{
		zap.String("method", task.Method),
		zap.String("url", task.URL),
		zap.Int("status_code", resp.StatusCode),
		zap.ByteString("response", respBody),
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 600 {
		metrics.JobRunsTotal.WithLabelValues(task.Method, "error_status").Inc()
		d.logger.Warn("job returned error status", fields...)
	} else {
		metrics.JobRunsTotal.WithLabelValues(task.Method, "ok").Inc()
		d.logger.Info("job completed", fields...)
	}
}

func asUnsupportedMethod(err error) (*UnsupportedMethodError, bool) {
	unsupported, ok := err.(*UnsupportedMethodError)
	return unsupported, ok
}

// cronLoggerAdapter satisfies gocron.Logger so a panicking job is logged
// through zap instead of the library's default stderr logger.
type cronLoggerAdapter struct {
	logger *zap.Logger
}

func (a cronLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (a cronLoggerAdapter) Error(err error, msg string, keysAndValues ...interface{}) {
	a.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
