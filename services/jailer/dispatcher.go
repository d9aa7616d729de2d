package jailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"jailer/pkg/bus"
	"jailer/pkg/metrics"
	"jailer/pkg/operator"
)

const tracerName = "jailer"

// Operation names, used for metrics and spans.
const (
	OpListInmates   = "list-inmates"
	OpInmateCount   = "get-inmate-count"
	OpGetInmate     = "get-inmate"
	OpGetRecentTask = "get-recent-task"
	OpAddTask       = "add-task"
)

// Publisher publishes audit events.
type Publisher interface {
	Publish(ctx context.Context, subj string, v any) error
}

// Options configures a Dispatcher.
type Options struct {
	Client  *operator.Client
	Out     io.Writer
	Output  OutputMode
	Sink    *ArtifactSink
	Events  Publisher
	Metrics *metrics.Recorder
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Dispatcher runs one operator command per call: a single controller
// exchange followed by rendering. Output is written only when the command
// succeeds.
type Dispatcher struct {
	client  *operator.Client
	out     io.Writer
	output  OutputMode
	sink    *ArtifactSink
	events  Publisher
	metrics *metrics.Recorder
	logger  zerolog.Logger
	now     func() time.Time
}

// NewDispatcher validates opts and returns a Dispatcher.
func NewDispatcher(opts Options) (*Dispatcher, error) {
	if opts.Client == nil {
		return nil, errors.New("operator client is required")
	}
	if opts.Out == nil {
		return nil, errors.New("output writer is required")
	}
	output, err := ParseOutputMode(string(opts.Output))
	if err != nil {
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		sink = &ArtifactSink{Dir: defaultArtifactsDir, Logger: opts.Logger}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Dispatcher{
		client:  opts.Client,
		out:     opts.Out,
		output:  output,
		sink:    sink,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     now,
	}, nil
}

// ListInmates prints every inmate known to the controller.
func (d *Dispatcher) ListInmates(ctx context.Context) error {
	return d.run(ctx, OpListInmates, func(ctx context.Context, w *bytes.Buffer) error {
		if d.output == OutputRaw {
			return d.printRaw(ctx, w, operator.InmatesPath())
		}

		inmates, err := d.client.ListInmates(ctx)
		if err != nil {
			return fmt.Errorf("list inmates: %w", err)
		}
		if d.output == OutputJSON {
			if inmates == nil {
				inmates = []operator.Inmate{}
			}
			return writeJSON(w, inmates)
		}
		for _, inmate := range inmates {
			fmt.Fprintln(w, FormatInmate(inmate))
		}
		return nil
	})
}

// InmateCount prints the number of inmates known to the controller.
func (d *Dispatcher) InmateCount(ctx context.Context) error {
	return d.run(ctx, OpInmateCount, func(ctx context.Context, w *bytes.Buffer) error {
		inmates, err := d.client.ListInmates(ctx)
		if err != nil {
			return fmt.Errorf("count inmates: %w", err)
		}
		fmt.Fprintln(w, len(inmates))
		return nil
	})
}

// GetInmate prints a single inmate.
func (d *Dispatcher) GetInmate(ctx context.Context, id uint32) error {
	return d.run(ctx, OpGetInmate, func(ctx context.Context, w *bytes.Buffer) error {
		if d.output == OutputRaw {
			return d.printRaw(ctx, w, operator.InmatePath(id))
		}

		inmate, err := d.client.GetInmate(ctx, id)
		if err != nil {
			if operator.IsNotFound(err) {
				return fmt.Errorf("inmate %d not found: %w", id, err)
			}
			return fmt.Errorf("get inmate %d: %w", id, err)
		}
		if d.output == OutputJSON {
			return writeJSON(w, inmate)
		}
		fmt.Fprintln(w, FormatInmate(inmate))
		return nil
	})
}

// GetRecentTask prints the latest task result of an inmate and handles its
// payload according to mode. Unrecognised modes print only the header.
func (d *Dispatcher) GetRecentTask(ctx context.Context, id uint32, mode DisplayMode) error {
	return d.run(ctx, OpGetRecentTask, func(ctx context.Context, w *bytes.Buffer) error {
		if d.output == OutputRaw {
			return d.printRaw(ctx, w, operator.RecentTaskPath(id))
		}

		result, err := d.client.GetRecentTask(ctx, id)
		if err != nil {
			return fmt.Errorf("get recent task of inmate %d: %w", id, err)
		}
		headers := result.Headers()

		if d.output == OutputJSON {
			if err := writeJSON(w, result); err != nil {
				return err
			}
			if mode == DisplayOutput {
				return d.writeArtifact(ctx, w, id, headers, result.Content)
			}
			return nil
		}

		fmt.Fprintln(w, FormatHeaders(headers))

		switch mode {
		case DisplayForget:
		case DisplayString:
			if utf8.Valid(result.Content) {
				fmt.Fprintln(w, string(result.Content))
			} else {
				fmt.Fprintln(w, utf8FailedNotice)
			}
		case DisplayBytes:
			fmt.Fprintln(w, FormatBytes(result.Content))
		case DisplayOutput:
			return d.writeArtifact(ctx, w, id, headers, result.Content)
		default:
			d.logger.Debug().Str("mode", string(mode)).Msg("unrecognised display mode, payload not shown")
		}
		return nil
	})
}

// AddTask queues a task and prints the controller's reply verbatim, whether
// it reports success or failure.
func (d *Dispatcher) AddTask(ctx context.Context, id uint32, taskType, taskParams string) error {
	return d.run(ctx, OpAddTask, func(ctx context.Context, w *bytes.Buffer) error {
		task := operator.CheckInResponse{
			Task:           operator.ActionType(taskType),
			TaskParameters: taskParams,
		}
		resp, err := d.client.AddTask(ctx, id, task)
		if err != nil {
			return fmt.Errorf("add task to inmate %d: %w", id, err)
		}
		if !resp.OK() {
			d.logger.Warn().Int("status", resp.StatusCode).Uint32("implant_id", id).Msg("controller rejected task")
		}
		fmt.Fprintln(w, string(resp.Body))

		d.publishTask(ctx, id, task, resp.StatusCode)
		return nil
	})
}

func (d *Dispatcher) publishTask(ctx context.Context, id uint32, task operator.CheckInResponse, status int) {
	if d.events == nil {
		return
	}
	event := bus.TaskSubmitted{
		ID:             uuid.NewString(),
		ImplantID:      id,
		Task:           string(task.Task),
		TaskParameters: task.TaskParameters,
		StatusCode:     status,
		SubmittedAt:    d.now().UTC(),
	}
	if err := d.events.Publish(ctx, bus.TaskSubmittedSubject, event); err != nil {
		d.logger.Warn().Err(err).Msg("publish task audit event")
	}
}

func (d *Dispatcher) writeArtifact(ctx context.Context, w *bytes.Buffer, id uint32, headers operator.PostRequestHeaders, content []byte) error {
	target, err := d.sink.Write(ctx, id, headers, content)
	if err != nil {
		return fmt.Errorf("write output for inmate %d: %w", id, err)
	}
	fmt.Fprintf(w, "Output written to %s\n", target)
	return nil
}

func (d *Dispatcher) printRaw(ctx context.Context, w *bytes.Buffer, path string) error {
	resp, err := d.client.Fetch(ctx, path)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, string(resp.Body))
	return nil
}

func (d *Dispatcher) run(ctx context.Context, op string, fn func(context.Context, *bytes.Buffer) error) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "jailer."+op)
	defer span.End()
	span.SetAttributes(
		attribute.String("jailer.operation", op),
		attribute.String("jailer.output", string(d.output)),
	)

	start := d.now()
	var buf bytes.Buffer
	err := fn(ctx, &buf)
	d.metrics.Observe(op, d.now().Sub(start), err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if _, err := d.out.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
