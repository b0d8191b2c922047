package logsink

import (
	"context"
	"errors"
	"fmt"

	logging "cloud.google.com/go/logging/apiv2"
	"cloud.google.com/go/logging/apiv2/loggingpb"
	"github.com/google/uuid"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/genproto/googleapis/api/monitoredres"
)

// DefaultLogName is the log device batches are written to.
const DefaultLogName = "playerlogs"

// EntriesWriter is the part of the Cloud Logging client the sink needs.
type EntriesWriter interface {
	WriteLogEntries(ctx context.Context, req *loggingpb.WriteLogEntriesRequest, opts ...gax.CallOption) (*loggingpb.WriteLogEntriesResponse, error)
	Close() error
}

// CloudLoggingSinkConfig holds configuration for the Cloud Logging sink.
type CloudLoggingSinkConfig struct {
	ProjectID       string
	LogName         string
	CredentialsFile string // Optional
}

// CloudLoggingSink writes device log batches to Cloud Logging.
type CloudLoggingSink struct {
	writer  EntriesWriter
	logName string
	logger  zerolog.Logger
}

// NewCloudLoggingSink dials Cloud Logging and returns a sink for one log.
func NewCloudLoggingSink(ctx context.Context, cfg *CloudLoggingSinkConfig, logger zerolog.Logger) (*CloudLoggingSink, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("cloud logging sink: ProjectID is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Cloud Logging")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Cloud Logging")
	}

	client, err := logging.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("logging.NewClient: %w", err)
	}
	return NewCloudLoggingSinkWithWriter(client, cfg.ProjectID, cfg.LogName, logger), nil
}

// NewCloudLoggingSinkWithWriter builds a sink around an existing writer.
func NewCloudLoggingSinkWithWriter(writer EntriesWriter, projectID, logName string, logger zerolog.Logger) *CloudLoggingSink {
	if logName == "" {
		logName = DefaultLogName
	}
	fullName := fmt.Sprintf("projects/%s/logs/%s", projectID, logName)
	logger.Info().Str("log_name", fullName).Msg("CloudLoggingSink initialized successfully")
	return &CloudLoggingSink{
		writer:  writer,
		logName: fullName,
		logger:  logger.With().Str("component", "CloudLoggingSink").Logger(),
	}
}

// LogName is the full resource name entries are written to.
func (s *CloudLoggingSink) LogName() string {
	return s.logName
}

// Write submits one entry per line as a single request. Every entry shares
// the global resource and the given labels.
func (s *CloudLoggingSink) Write(ctx context.Context, lines []string, labels map[string]string) error {
	if len(lines) == 0 {
		return nil
	}

	entries := make([]*loggingpb.LogEntry, len(lines))
	for i, line := range lines {
		entries[i] = &loggingpb.LogEntry{
			InsertId: uuid.NewString(),
			Payload:  &loggingpb.LogEntry_TextPayload{TextPayload: line},
		}
	}

	req := &loggingpb.WriteLogEntriesRequest{
		LogName:  s.logName,
		Resource: &monitoredres.MonitoredResource{Type: "global"},
		Labels:   labels,
		Entries:  entries,
	}
	if _, err := s.writer.WriteLogEntries(ctx, req); err != nil {
		s.logger.Error().Err(err).Int("entry_count", len(entries)).Msg("Failed to write log entries")
		return fmt.Errorf("WriteLogEntries: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *CloudLoggingSink) Close() error {
	return s.writer.Close()
}
