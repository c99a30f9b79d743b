package synthesis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/loqa-reader/internal/settings"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultEndpoint = "https://api.openai.com/v1/audio/speech"

const instrumentationName = "github.com/loqalabs/loqa-reader/internal/synthesis"

type speechRequest struct {
	Model        string `json:"model"`
	Input        string `json:"input"`
	Voice        string `json:"voice"`
	Instructions string `json:"instructions,omitempty"`
}

type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Client calls an OpenAI-compatible /v1/audio/speech endpoint.
type Client struct {
	endpoint string
	http     *http.Client
	log      *slog.Logger
	tracer   trace.Tracer
	latency  metric.Float64Histogram
}

// NewClient builds a client for endpoint. A zero timeout leaves the request
// bounded only by the caller's context.
func NewClient(endpoint string, timeout time.Duration, log *slog.Logger) *Client {
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	logger := log.With(slog.String("component", "synthesis"))

	latency, err := otel.Meter(instrumentationName).Float64Histogram(
		"reader.synthesis.duration",
		metric.WithDescription("Latency of synthesis API calls"),
		metric.WithUnit("s"),
	)
	if err != nil {
		logger.Warn("failed to create synthesis histogram", slog.String("error", err.Error()))
	}

	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		log:      logger,
		tracer:   otel.Tracer(instrumentationName),
		latency:  latency,
	}
}

// Synthesize requests audio for text with the voice, model and instructions
// in snap. It makes exactly one HTTP call and never retries.
func (c *Client) Synthesize(ctx context.Context, text string, snap settings.Snapshot) ([]byte, error) {
	payload := speechRequest{
		Model:        snap.Model,
		Input:        text,
		Voice:        snap.Voice,
		Instructions: strings.TrimSpace(snap.Instructions),
	}
	if payload.Model == "" {
		payload.Model = settings.DefaultModel
	}
	if payload.Voice == "" {
		payload.Voice = settings.DefaultVoice
	}

	ctx, span := c.tracer.Start(ctx, "synthesis.speech",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("tts.model", payload.Model),
			attribute.String("tts.voice", payload.Voice),
			attribute.Int("tts.input_length", len(text)),
		),
	)
	defer span.End()

	start := time.Now()
	audio, status, err := c.do(ctx, snap.APIKey, payload)
	if c.latency != nil {
		c.latency.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
			attribute.String("tts.model", payload.Model),
			attribute.Int("http.status_code", status),
		))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.log.Warn("synthesis failed", slog.Int("status", status), slog.String("error", err.Error()))
		return nil, err
	}
	span.SetAttributes(attribute.Int("tts.audio_bytes", len(audio)))
	c.log.Debug("synthesis completed",
		slog.Int("bytes", len(audio)),
		slog.Duration("elapsed", time.Since(start)))
	return audio, nil
}

func (c *Client) do(ctx context.Context, apiKey string, payload speechRequest) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal speech request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("build speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("speech request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp.StatusCode, newAPIError(resp, data)
	}
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read speech response: %w", err)
	}
	if len(data) == 0 {
		return nil, resp.StatusCode, ErrEmptyAudio
	}
	return data, resp.StatusCode, nil
}

func newAPIError(resp *http.Response, body []byte) *Error {
	apiErr := &Error{
		StatusCode: resp.StatusCode,
		StatusText: strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode))),
	}
	if apiErr.StatusText == "" {
		apiErr.StatusText = http.StatusText(resp.StatusCode)
	}
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Message = unknownErrorMessage
	}
	return apiErr
}
