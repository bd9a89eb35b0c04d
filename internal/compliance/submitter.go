// Package compliance submits one decision-audit record per executed entry to
// the exchange's log endpoint and appends every record to a local JSONL file.
// Remote failures never affect trading; the local file is the durable record.
package compliance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"weex-trading-bot/config"
	"weex-trading-bot/internal/logging"
	"weex-trading-bot/internal/metrics"
	"weex-trading-bot/internal/weex"
)

// Sender is the upload half of the exchange client.
type Sender interface {
	UploadAILog(ctx context.Context, entry weex.AILogEntry) error
}

// Archiver mirrors records into durable storage alongside the JSONL file.
// Optional; implemented by the database layer when Postgres is configured.
type Archiver interface {
	ArchiveAuditRecord(ctx context.Context, recordedAt time.Time, entry weex.AILogEntry, submitted bool, submitError string) error
}

// localRecord is one line of the JSONL audit file.
type localRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	Entry     weex.AILogEntry `json:"entry"`
	Submitted bool            `json:"submitted"`
	Error     string          `json:"error,omitempty"`
}

type Submitter struct {
	mu       sync.Mutex
	config   config.ComplianceConfig
	sender   Sender
	archiver Archiver
	logger   *logging.Logger
}

func NewSubmitter(cfg config.ComplianceConfig, sender Sender) *Submitter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.MaxExplanation <= 0 {
		cfg.MaxExplanation = 1000
	}
	return &Submitter{
		config: cfg,
		sender: sender,
		logger: logging.Default().WithComponent("compliance"),
	}
}

// SetArchiver attaches the optional database mirror. Call before trading starts.
func (s *Submitter) SetArchiver(a Archiver) {
	s.archiver = a
}

// SubmitEntryDecision records one entry decision. The remote submission is
// retried with bounded exponential backoff; success or not, the record lands
// in the local file.
func (s *Submitter) SubmitEntryDecision(ctx context.Context, symbol string, direction weex.Direction, confidence float64, explanation string) {
	if len(explanation) > s.config.MaxExplanation {
		explanation = explanation[:s.config.MaxExplanation]
	}
	entry := weex.AILogEntry{
		Stage:       "entry_decision",
		Model:       s.config.ModelName,
		Input:       fmt.Sprintf(`{"symbol":%q,"direction":%q,"confidence":%.2f}`, symbol, direction, confidence),
		Output:      "ENTER_" + string(direction),
		Explanation: explanation,
	}

	var submitErr error
	if s.config.Enabled && s.sender != nil {
		submitErr = s.submitWithRetry(ctx, entry)
	}

	if submitErr != nil {
		metrics.ComplianceSubmissions.WithLabelValues("failed").Inc()
		s.logger.Warn("Audit submission failed, local record kept", "symbol", symbol, "error", submitErr)
	} else if s.config.Enabled {
		metrics.ComplianceSubmissions.WithLabelValues("ok").Inc()
	}

	rec := localRecord{
		Timestamp: time.Now().UTC(),
		Entry:     entry,
		Submitted: submitErr == nil && s.config.Enabled,
		Error:     errString(submitErr),
	}
	s.appendLocal(rec)
	if s.archiver != nil {
		s.archiver.ArchiveAuditRecord(ctx, rec.Timestamp, rec.Entry, rec.Submitted, rec.Error)
	}
}

func (s *Submitter) submitWithRetry(ctx context.Context, entry weex.AILogEntry) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 15 * time.Second

	return backoff.Retry(func() error {
		return s.sender.UploadAILog(ctx, entry)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.config.MaxRetries)), ctx))
}

func (s *Submitter) appendLocal(rec localRecord) {
	if s.config.LocalLogFile == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.config.LocalLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		s.logger.Error("Cannot open local audit file", "path", s.config.LocalLogFile, "error", err)
		return
	}
	defer f.Close()

	line, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("Cannot marshal audit record", "error", err)
		return
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		s.logger.Error("Cannot append audit record", "path", s.config.LocalLogFile, "error", err)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
