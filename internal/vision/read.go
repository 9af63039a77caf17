package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jhgiraldo/packaging-backend/internal/common"
)

const analyzePath = "/vision/v3.2/read/analyze"

// Terminal and transient operation states reported by the read service.
const (
	readStatusNotStarted = "notStarted"
	readStatusRunning    = "running"
	readStatusSucceeded  = "succeeded"
)

// ReadClientConfig configures the text-recognition service client.
type ReadClientConfig struct {
	Endpoint     string        // service base URL, e.g. https://myvision.cognitiveservices.azure.com
	Key          string        // subscription key
	PollInterval time.Duration // default 300ms
	ReadTimeout  time.Duration // upper bound for one full recognize call; 0 = caller ctx only
}

// ReadClient talks to the asynchronous read endpoint of the recognition
// service: one submission returns an operation URL which is then polled until
// a terminal state.
type ReadClient struct {
	cfg    ReadClientConfig
	client *http.Client
	logger *slog.Logger
}

func NewReadClient(cfg ReadClientConfig, client *http.Client, logger *slog.Logger) *ReadClient {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 300 * time.Millisecond
	}
	return &ReadClient{cfg: cfg, client: client, logger: logger}
}

type readResultResponse struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		ReadResults []struct {
			Lines []struct {
				Text string `json:"text"`
			} `json:"lines"`
		} `json:"readResults"`
	} `json:"analyzeResult"`
}

// Recognize submits an image and returns the recognized lines in reading
// order. Transport faults, missing credentials and non-success terminal
// states all return an empty result with a common.ErrRecognition-kinded
// error; callers record it as failed-rule evidence, never as a run fault.
// The poll loop is bounded by the caller's context plus ReadTimeout.
func (c *ReadClient) Recognize(ctx context.Context, imageBytes []byte) ([]string, error) {
	if c.cfg.Endpoint == "" || c.cfg.Key == "" {
		return nil, common.NewAppError("VISION_CREDENTIALS", "recognition service credentials not configured", common.ErrRecognition)
	}
	if c.cfg.ReadTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.ReadTimeout)
		defer cancel()
	}

	reqID := uuid.New().String()
	start := time.Now()

	opURL, err := c.submit(ctx, reqID, imageBytes)
	if err != nil {
		return nil, err
	}

	for {
		res, err := c.fetchResult(ctx, reqID, opURL)
		if err != nil {
			return nil, err
		}
		if res.Status != readStatusNotStarted && res.Status != readStatusRunning {
			if res.Status != readStatusSucceeded {
				c.logger.Warn("vision.read.terminal_failure", "req_id", reqID, "status", res.Status)
				return nil, common.NewAppError("VISION_STATUS",
					fmt.Sprintf("recognition finished with status %q", res.Status), common.ErrRecognition)
			}
			var lines []string
			for _, block := range res.AnalyzeResult.ReadResults {
				for _, line := range block.Lines {
					lines = append(lines, line.Text)
				}
			}
			c.logger.Info("vision.read.ok",
				"req_id", reqID,
				"lines", len(lines),
				"elapsed_ms", time.Since(start).Milliseconds(),
			)
			return lines, nil
		}

		select {
		case <-ctx.Done():
			c.logger.Warn("vision.read.canceled", "req_id", reqID, "error", ctx.Err())
			return nil, common.NewAppError("VISION_CANCELED", "recognition canceled while polling", common.ErrRecognition)
		case <-time.After(c.cfg.PollInterval):
		}
	}
}

func (c *ReadClient) submit(ctx context.Context, reqID string, imageBytes []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint+analyzePath, bytes.NewReader(imageBytes))
	if err != nil {
		return "", common.NewAppError("VISION_REQUEST", "build submit request", common.ErrRecognition)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)

	c.logger.Info("vision.read.submit", "req_id", reqID, "bytes", len(imageBytes))

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("vision.read.submit_error", "req_id", reqID, "error", err)
		return "", common.NewAppError("VISION_TRANSPORT", "submit image", common.ErrRecognition)
	}
	defer drainClose(resp.Body, c.logger, reqID)

	if resp.StatusCode/100 != 2 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<10))
		c.logger.Error("vision.read.submit_rejected", "req_id", reqID, "status", resp.StatusCode, "body", string(body))
		return "", common.NewAppError("VISION_SUBMIT",
			fmt.Sprintf("submit rejected with status %d", resp.StatusCode), common.ErrRecognition)
	}
	opURL := resp.Header.Get("Operation-Location")
	if opURL == "" {
		return "", common.NewAppError("VISION_SUBMIT", "submit response missing Operation-Location", common.ErrRecognition)
	}
	return opURL, nil
}

func (c *ReadClient) fetchResult(ctx context.Context, reqID, opURL string) (*readResultResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, opURL, nil)
	if err != nil {
		return nil, common.NewAppError("VISION_REQUEST", "build poll request", common.ErrRecognition)
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", c.cfg.Key)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("vision.read.poll_error", "req_id", reqID, "error", err)
		return nil, common.NewAppError("VISION_TRANSPORT", "poll operation", common.ErrRecognition)
	}
	defer drainClose(resp.Body, c.logger, reqID)

	if resp.StatusCode/100 != 2 {
		return nil, common.NewAppError("VISION_POLL",
			fmt.Sprintf("poll rejected with status %d", resp.StatusCode), common.ErrRecognition)
	}
	var res readResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, common.NewAppError("VISION_POLL", "decode poll response", common.ErrRecognition)
	}
	c.logger.Debug("vision.read.poll", "req_id", reqID, "status", res.Status)
	return &res, nil
}

func drainClose(body io.ReadCloser, logger *slog.Logger, reqID string) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 1<<20))
	if err := body.Close(); err != nil {
		logger.Warn("vision.read.body_close_error", "req_id", reqID, "error", err)
	}
}
