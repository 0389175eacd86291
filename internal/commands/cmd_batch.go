package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
	"github.com/hay-kot/pgchat/pkg/randid"
)

const (
	// StatusSent indicates the server acknowledged the message.
	StatusSent = "sent"
	// StatusFailed indicates the message was rejected or timed out.
	StatusFailed = "failed"
	// StatusSkipped indicates the message was not attempted due to failure threshold.
	StatusSkipped = "skipped"

	// maxFailures is the number of failures before stopping batch processing.
	maxFailures = 3
)

// BatchInput is the JSON input schema for batch sending.
type BatchInput struct {
	Messages []BatchMessage `json:"messages"`
}

// Validate checks the batch input for errors using criterio.
func (b BatchInput) Validate() error {
	if len(b.Messages) == 0 {
		return criterio.NewFieldErrors("messages", fmt.Errorf("array is empty"))
	}

	var errs criterio.FieldErrorsBuilder
	for i, msg := range b.Messages {
		field := fmt.Sprintf("messages[%d]", i)

		req, err := msg.request()
		if err != nil {
			errs = errs.Append(field+".type", err)
			continue
		}

		var fieldErrs criterio.FieldErrors
		if err := req.Validate(); errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				errs = errs.Append(field+"."+fe.Field, fe.Err)
			}
		}
	}

	return errs.ToError()
}

// BatchMessage defines a single message to send.
type BatchMessage struct {
	RoomID   int64  `json:"room_id"`
	Content  string `json:"content"`
	Type     string `json:"type,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	Duration int    `json:"duration,omitempty"`
}

func (m BatchMessage) request() (sendpipe.Request, error) {
	msgType, err := chat.ParseMessageType(m.Type)
	if err != nil {
		return sendpipe.Request{}, err
	}
	// The correlation id is fixed up front so the settle waiter is
	// registered before the send.
	return sendpipe.Request{
		RoomID:        chat.RoomID(m.RoomID),
		Content:       m.Content,
		Type:          msgType,
		MediaURL:      m.MediaURL,
		Duration:      m.Duration,
		CorrelationID: uuid.NewString(),
	}, nil
}

// BatchResult is the output for a single send attempt.
type BatchResult struct {
	Index         int    `json:"index"`
	RoomID        int64  `json:"room_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
	MessageID     int64  `json:"message_id,omitempty"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// BatchOutput is the JSON output schema.
type BatchOutput struct {
	BatchID string        `json:"batch_id"`
	LogFile string        `json:"log_file"`
	Results []BatchResult `json:"results"`
}

// BatchErrorOutput is the JSON output for fatal errors.
type BatchErrorOutput struct {
	Error string `json:"error"`
}

type BatchCmd struct {
	flags   *Flags
	file    string
	timeout string
}

func NewBatchCmd(flags *Flags) *BatchCmd {
	return &BatchCmd{flags: flags}
}

func (cmd *BatchCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "batch",
		Usage: "Send multiple messages from JSON input",
		UsageText: `pgchat batch [options]

Read from stdin:
  echo '{"messages":[{"room_id":4,"content":"Water is off until 3pm"}]}' | pgchat batch

Read from file:
  pgchat batch -f announcements.json`,
		Description: `Sends messages described in a JSON file over one connection.

Messages are sent in order and each one waits for the server's answer before
the next is sent. Processing stops after 3 failures. Messages not attempted
are marked as skipped.

Input JSON schema:
  {
    "messages": [
      {
        "room_id": 4,
        "content": "message text",
        "type": "text",
        "media_url": "optional media reference",
        "duration": 0
      }
    ]
  }

Fields:
  room_id   - Required. Room to send to.
  content   - Required for text messages.
  type      - Optional. text (default), image, voice, or file.
  media_url - Required for image, voice, and file messages.
  duration  - Optional. Voice message length in seconds.

Output is JSON with a batch ID, log file path, and results for each message.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "file",
				Aliases:     []string{"f"},
				Usage:       "path to JSON file (reads from stdin if not provided)",
				Destination: &cmd.file,
			},
			&cli.StringFlag{
				Name:        "timeout",
				Usage:       "how long to wait for each message to be acknowledged",
				Value:       "15s",
				Destination: &cmd.timeout,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *BatchCmd) run(ctx context.Context, c *cli.Command) error {
	batchID := randid.Generate(6)

	logger, logFile, err := cmd.setupLogger(batchID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "batch %s: failed to setup logger: %v\n", batchID, err)
		return cmd.writeError(fmt.Errorf("setup logger: %w", err))
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to close log file: %v\n", err)
		}
	}()

	logger.Info().Str("batch_id", batchID).Msg("starting batch processing")

	timeout, err := time.ParseDuration(cmd.timeout)
	if err != nil || timeout <= 0 {
		return cmd.writeError(fmt.Errorf("invalid timeout %q", cmd.timeout))
	}

	input, err := cmd.readInput()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read input")
		return cmd.writeError(fmt.Errorf("read input: %w", err))
	}

	if err := input.Validate(); err != nil {
		logger.Error().Err(err).Msg("input validation failed")
		return cmd.writeError(fmt.Errorf("invalid input: %w", err))
	}

	s, err := cmd.flags.openSession(ctx)
	if err != nil {
		return cmd.writeError(err)
	}
	defer s.close(context.WithoutCancel(ctx))

	waiters := newSettleWaiters()
	s.client.OnRoom(0, waiters.observe)

	for _, m := range input.Messages {
		if err := s.client.Join(chat.RoomID(m.RoomID)); err != nil {
			return cmd.writeError(fmt.Errorf("join room %d: %w", m.RoomID, err))
		}
	}
	if err := s.client.Connect(ctx); err != nil {
		logger.Error().Err(err).Msg("connect failed")
		return cmd.writeError(fmt.Errorf("connect: %w", err))
	}

	output := BatchOutput{
		BatchID: batchID,
		LogFile: filepath.Join(cmd.flags.Config.LogsDir(), fmt.Sprintf("batch-%s.log", batchID)),
		Results: make([]BatchResult, 0, len(input.Messages)),
	}

	failures := 0
	for i, m := range input.Messages {
		if failures >= maxFailures {
			logger.Warn().Int("index", i).Msg("skipping messages due to failure threshold")
			for j := i; j < len(input.Messages); j++ {
				output.Results = append(output.Results, BatchResult{
					Index:  j,
					RoomID: input.Messages[j].RoomID,
					Status: StatusSkipped,
				})
			}
			break
		}

		logger.Info().Int64("room", m.RoomID).Int("index", i).Msg("sending message")

		result := cmd.sendOne(ctx, s, waiters, i, m, timeout)
		output.Results = append(output.Results, result)

		if result.Status == StatusFailed {
			failures++
			logger.Error().Int("index", i).Str("error", result.Error).Msg("send failed")
		} else {
			logger.Info().Int("index", i).Int64("message_id", result.MessageID).Msg("message sent")
		}
	}

	logger.Info().
		Int("total", len(input.Messages)).
		Int("sent", countByStatus(output.Results, StatusSent)).
		Int("failed", countByStatus(output.Results, StatusFailed)).
		Int("skipped", countByStatus(output.Results, StatusSkipped)).
		Msg("batch processing complete")

	return cmd.writeOutput(output)
}

func (cmd *BatchCmd) sendOne(ctx context.Context, s *session, waiters *settleWaiters, index int, m BatchMessage, timeout time.Duration) BatchResult {
	result := BatchResult{Index: index, RoomID: m.RoomID}

	req, err := m.request()
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}
	result.CorrelationID = req.CorrelationID

	done := waiters.add(req.CorrelationID)
	defer waiters.remove(req.CorrelationID)

	if _, err := s.client.Send(req); err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-done:
		if msg.State == chat.StateFailed {
			result.Status = StatusFailed
			result.Error = msg.Error
			return result
		}
		result.Status = StatusSent
		result.MessageID = int64(msg.ID)
	case <-timer.C:
		result.Status = StatusFailed
		result.Error = fmt.Sprintf("no acknowledgment within %s", timeout)
	case <-ctx.Done():
		result.Status = StatusFailed
		result.Error = ctx.Err().Error()
	}
	return result
}

// settleWaiters hands settled messages from the room observer to the
// goroutine waiting on their correlation id.
type settleWaiters struct {
	mu      sync.Mutex
	waiting map[string]chan chat.Message
}

func newSettleWaiters() *settleWaiters {
	return &settleWaiters{waiting: make(map[string]chan chat.Message)}
}

func (w *settleWaiters) add(correlationID string) <-chan chat.Message {
	ch := make(chan chat.Message, 1)
	w.mu.Lock()
	w.waiting[correlationID] = ch
	w.mu.Unlock()
	return ch
}

func (w *settleWaiters) remove(correlationID string) {
	w.mu.Lock()
	delete(w.waiting, correlationID)
	w.mu.Unlock()
}

func (w *settleWaiters) observe(snap roomstate.Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for corr, ch := range w.waiting {
		if m, ok := settled(snap, corr); ok {
			select {
			case ch <- m:
			default:
			}
		}
	}
}

func (cmd *BatchCmd) setupLogger(batchID string) (zerolog.Logger, *os.File, error) {
	logsDir := cmd.flags.Config.LogsDir()
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("create logs dir: %w", err)
	}

	logPath := filepath.Join(logsDir, fmt.Sprintf("batch-%s.log", batchID))
	file, err := os.Create(logPath)
	if err != nil {
		return zerolog.Logger{}, nil, fmt.Errorf("create log file: %w", err)
	}

	logger := zerolog.New(file).With().Timestamp().Logger()
	return logger, file, nil
}

func (cmd *BatchCmd) readInput() (BatchInput, error) {
	var reader io.Reader

	if cmd.file != "" {
		f, err := os.Open(cmd.file)
		if err != nil {
			return BatchInput{}, fmt.Errorf("open file: %w", err)
		}
		defer func() { _ = f.Close() }()
		reader = f
	} else {
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return BatchInput{}, fmt.Errorf("no input provided (stdin is a terminal); use -f flag or pipe JSON input")
		}
		reader = os.Stdin
	}

	var input BatchInput
	if err := json.NewDecoder(reader).Decode(&input); err != nil {
		return BatchInput{}, fmt.Errorf("decode JSON: %w", err)
	}

	return input, nil
}

func (cmd *BatchCmd) writeOutput(output BatchOutput) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to write JSON output: %v\n", err)
		fmt.Fprintf(os.Stderr, "batch_id: %s\n", output.BatchID)
		fmt.Fprintf(os.Stderr, "log_file: %s\n", output.LogFile)
		fmt.Fprintf(os.Stderr, "results: %d sent, %d failed, %d skipped\n",
			countByStatus(output.Results, StatusSent),
			countByStatus(output.Results, StatusFailed),
			countByStatus(output.Results, StatusSkipped))
		return err
	}
	return nil
}

func (cmd *BatchCmd) writeError(err error) error {
	output := BatchErrorOutput{Error: err.Error()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(output); encErr != nil {
		fmt.Fprintf(os.Stderr, "error: %s (failed to write JSON: %v)\n", err, encErr)
	}
	return err
}

func countByStatus(results []BatchResult, status string) int {
	count := 0
	for _, r := range results {
		if r.Status == status {
			count++
		}
	}
	return count
}
