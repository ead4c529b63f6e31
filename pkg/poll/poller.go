// Package poll is the pull-based fallback for live progress: when the event
// channel exhausts its reconnect budget, the caller degrades to polling a
// status-snapshot endpoint until the task reaches a terminal state.
package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"planview/pkg/model"
)

// DefaultInterval is the fixed polling cadence.
const DefaultInterval = 2 * time.Second

// DefaultRequestTimeout bounds a single snapshot request. Short on purpose:
// a slow poll is worth less than the next one.
const DefaultRequestTimeout = 5 * time.Second

// StatusSnapshot is the pull-based equivalent of the channel's
// current-status-snapshot event.
type StatusSnapshot struct {
	TaskID     string            `json:"task_id"`
	Step       string            `json:"step"`
	EditSource string            `json:"edit_source,omitempty"`
	TaskStatus model.TaskStatus  `json:"task_status"`
	Items      map[string]string `json:"items,omitempty"`
}

// ItemStatuses returns the snapshot's item map with statuses normalized.
func (s StatusSnapshot) ItemStatuses() map[string]model.Status {
	out := make(map[string]model.Status, len(s.Items))
	for id, raw := range s.Items {
		out[id] = model.Status(raw).Normalize()
	}
	return out
}

// Poller fetches status snapshots for one task at a fixed interval.
type Poller struct {
	baseURL  string
	taskID   string
	interval time.Duration
	client   *http.Client
	log      *zap.Logger
}

// New creates a poller against baseURL (the API root; the snapshot path is
// derived from the task id). interval <= 0 takes DefaultInterval.
func New(baseURL, taskID string, interval time.Duration, logger *zap.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		baseURL:  baseURL,
		taskID:   taskID,
		interval: interval,
		client:   &http.Client{Timeout: DefaultRequestTimeout},
		log:      logger.With(zap.String("task_id", taskID)),
	}
}

// Fetch performs a single snapshot request.
func (p *Poller) Fetch(ctx context.Context) (StatusSnapshot, error) {
	var snap StatusSnapshot

	u, err := url.JoinPath(p.baseURL, "tasks", p.taskID, "status")
	if err != nil {
		return snap, fmt.Errorf("build status url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return snap, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return snap, fmt.Errorf("fetch status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("status endpoint returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}

// Run polls until the context is cancelled or a terminal task status is
// observed. Every successful snapshot is handed to onSnapshot; individual
// request failures are logged and the next tick proceeds, so displayed
// progress is never interrupted by one bad poll.
func (p *Poller) Run(ctx context.Context, onSnapshot func(StatusSnapshot)) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		snap, err := p.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.log.Warn("poll failed", zap.Error(err))
		} else {
			onSnapshot(snap)
			if snap.TaskStatus.IsTerminal() {
				p.log.Debug("terminal status observed, polling stopped",
					zap.String("status", string(snap.TaskStatus)))
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
