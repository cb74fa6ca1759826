package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"

	"BiasSentinel/internal/model"
)

// Sink receives every published report.
type Sink interface {
	Publish(ctx context.Context, rep *model.AnalysisReport) error
}

// LogSink writes the digest to a logger.
type LogSink struct {
	Logger *log.Logger
}

// NewLogSink creates a sink on l, or on the standard logger when l is nil.
func NewLogSink(l *log.Logger) *LogSink {
	if l == nil {
		l = log.Default()
	}
	return &LogSink{Logger: l}
}

func (s *LogSink) Publish(_ context.Context, rep *model.AnalysisReport) error {
	s.Logger.Printf("[INFO] analysis report\n%s", FormatDigest(rep))
	return nil
}

// JSONSink writes each report as one JSON line.
type JSONSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONSink(w io.Writer) *JSONSink {
	return &JSONSink{enc: json.NewEncoder(w)}
}

func (s *JSONSink) Publish(ctx context.Context, rep *model.AnalysisReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rep); err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return nil
}
