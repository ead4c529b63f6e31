package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"planview/pkg/config"
	"planview/pkg/export"
	"planview/pkg/history"
	"planview/pkg/layout"
	"planview/pkg/loader"
	"planview/pkg/model"
	"planview/pkg/phase"
	"planview/pkg/poll"
	"planview/pkg/progress"
	"planview/pkg/stream"
	"planview/pkg/ui"
	"planview/pkg/version"
	"planview/pkg/watcher"
)

func main() {
	snapshot := flag.String("snapshot", "", "Path to a local plan snapshot (JSON)")
	apiURL := flag.String("url", "", "API base URL (overrides config)")
	wsURL := flag.String("ws", "", "Websocket endpoint (overrides config)")
	task := flag.String("task", "", "Task id to view")
	cfgPath := flag.String("config", "", "Config file path (default .planview.yml)")
	exportPath := flag.String("export", "", "Render the plan to this file (.svg or .png) and exit")
	both := flag.Bool("both", false, "With -export, write the SVG and PNG side by side")
	title := flag.String("title", "", "Title drawn on exported images")
	live := flag.Bool("live", false, "Attach to the event stream and show live progress")
	watch := flag.Bool("watch", false, "Reload when the local snapshot file changes")
	runs := flag.Bool("runs", false, "List previously observed task runs and exit")
	logPath := flag.String("log", "", "Write debug logs to this file")
	showVersion := flag.Bool("version", false, "Show version")
	help := flag.Bool("help", false, "Show help")
	flag.Parse()

	if *help {
		fmt.Println("Usage: pv [options]")
		fmt.Println("\nA viewer for learning-plan generation: tree layout, live progress, exports.")
		flag.PrintDefaults()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println("pv " + version.Version)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fatal(err)
	}
	if *apiURL != "" {
		cfg.APIBase = *apiURL
	}
	if *wsURL != "" {
		cfg.StreamURL = *wsURL
	}

	logger := buildLogger(*logPath)
	defer logger.Sync()

	if *runs {
		if err := listRuns(cfg.HistoryPath); err != nil {
			fatal(err)
		}
		return
	}

	snap, err := loadSnapshot(*snapshot, cfg.APIBase, *task)
	if err != nil {
		fatal(err)
	}
	stages, err := snap.BuildTree()
	if err != nil {
		fatal(fmt.Errorf("build plan tree: %w", err))
	}
	if len(stages) == 0 {
		fmt.Println("Plan snapshot contains no stages.")
		os.Exit(0)
	}

	if *exportPath != "" {
		if err := runExport(stages, *exportPath, *title, *both, cfg.ShowStart); err != nil {
			fatal(err)
		}
		fmt.Println("wrote", *exportPath)
		return
	}

	var machine *phase.Machine
	if phases, branches := snap.Pipeline(); len(phases) > 0 {
		machine = phase.New(phases, branches)
	}
	tracker := progress.NewTracker(nil)
	defer tracker.Close()
	tracker.ApplyToTree(stages)

	m := ui.NewModel(stages, tracker, machine, *live)
	p := tea.NewProgram(m, tea.WithAltScreen())

	if *watch && *snapshot != "" {
		w, err := watcher.NewSnapshotWatcher(*snapshot, logger)
		if err != nil {
			fatal(err)
		}
		defer w.Close()
		w.Start(func() {
			fresh, err := loader.Load(*snapshot)
			if err != nil {
				p.Send(ui.NoticeMsg("reload failed: " + err.Error()))
				return
			}
			freshStages, err := fresh.BuildTree()
			if err != nil {
				p.Send(ui.NoticeMsg("reload failed: " + err.Error()))
				return
			}
			copyExpansion(stages, freshStages)
			stages = freshStages
			p.Send(ui.TreeMsg{Stages: freshStages})
			p.Send(ui.NoticeMsg("snapshot reloaded"))
		})
	}

	if *live {
		if *task == "" {
			fatal(errors.New("-live requires -task"))
		}
		stop, err := attachStream(p, tracker, cfg, *task, logger)
		if err != nil {
			fatal(err)
		}
		defer stop()
	}

	if _, err := p.Run(); err != nil {
		fatal(fmt.Errorf("run viewer: %w", err))
	}
}

// loadSnapshot reads the plan from a local file or fetches it from the API.
func loadSnapshot(path, apiBase, task string) (*loader.Snapshot, error) {
	if path != "" {
		return loader.Load(path)
	}
	if task == "" {
		return nil, errors.New("either -snapshot or -task is required")
	}
	return loader.Fetch(strings.TrimSuffix(apiBase, "/") + "/tasks/" + task + "/plan")
}

func runExport(stages []*model.Node, path, title string, both, showStart bool) error {
	res := layout.Compute(stages, layout.Options{ShowStart: showStart})
	if both {
		return export.SaveBoth(context.Background(), res, path, title)
	}
	return export.SaveSnapshot(res, export.Options{Path: path, Title: title})
}

// attachStream wires the websocket channel into the tracker, the history
// store, and the running program. On reconnect exhaustion it degrades to
// HTTP polling at the configured interval.
func attachStream(p *tea.Program, tracker *progress.Tracker, cfg config.Config, task string, logger *zap.Logger) (func(), error) {
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return nil, fmt.Errorf("open history store: %w", err)
	}

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	startPolling := func() {
		p.Send(ui.ConnStateMsg(stream.StateClosed))
		p.Send(ui.NoticeMsg("stream lost, polling every " + cfg.PollInterval.String()))
		poller := poll.New(cfg.APIBase, task, cfg.PollInterval, logger)
		go poller.Run(pollCtx, func(snap poll.StatusSnapshot) {
			tracker.ApplySnapshot(stream.Snapshot{
				Items:      snap.ItemStatuses(),
				TaskStatus: snap.TaskStatus,
				Step:       snap.Step,
				EditSource: snap.EditSource,
			})
			p.Send(ui.RefreshMsg{})
		})
	}

	cb := tracker.Callbacks()
	inner := cb
	cb.OnOpen = func() {
		p.Send(ui.ConnStateMsg(stream.StateOpen))
	}
	cb.OnSnapshot = func(s stream.Snapshot) {
		inner.OnSnapshot(s)
		p.Send(ui.RefreshMsg{})
	}
	cb.OnPhase = func(step, editSource, message string) {
		inner.OnPhase(step, editSource, message)
		p.Send(ui.RefreshMsg{})
	}
	cb.OnItem = func(id string, status model.Status, errMsg string) {
		inner.OnItem(id, status, errMsg)
		p.Send(ui.RefreshMsg{})
	}
	cb.OnTask = func(status model.TaskStatus) {
		inner.OnTask(status)
		p.Send(ui.RefreshMsg{})
	}
	cb.OnReview = func(r stream.ReviewRequest) {
		p.Send(ui.ReviewMsg(&r))
	}
	cb.OnClosing = func(msg string) {
		p.Send(ui.NoticeMsg("server closing: " + msg))
	}
	cb.OnError = func(err error) {
		if errors.Is(err, stream.ErrReconnectExhausted) {
			startPolling()
			return
		}
		p.Send(ui.NoticeMsg(err.Error()))
	}
	cb.OnEvent = func(ev stream.Event) {
		if err := store.Append(task, ev); err != nil {
			logger.Warn("history append failed", zap.Error(err))
		}
	}

	ch := stream.New(cfg.StreamURL, task, cb, stream.Options{Logger: logger})
	p.Send(ui.ConnStateMsg(stream.StateConnecting))
	go func() {
		if err := ch.Connect(context.Background(), true); err != nil {
			logger.Warn("initial connect failed", zap.Error(err))
			startPolling()
		}
	}()

	return func() {
		cancelPoll()
		ch.Disconnect()
		store.Close()
	}, nil
}

// listRuns prints the tasks recorded in the history store, most recent first.
func listRuns(historyPath string) error {
	store, err := history.Open(historyPath)
	if err != nil {
		return fmt.Errorf("open history store: %w", err)
	}
	defer store.Close()

	tasks, err := store.Tasks()
	if err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No recorded runs.")
		return nil
	}
	for _, run := range tasks {
		fmt.Printf("%s  %4d events  last %s\n",
			run.TaskID, run.EventCount, run.LastEvent.Local().Format("2006-01-02 15:04:05"))
	}
	return nil
}

// copyExpansion carries the user's expand/collapse state across a reload.
func copyExpansion(old, fresh []*model.Node) {
	expanded := make(map[string]bool)
	for _, s := range old {
		s.Walk(func(n *model.Node) bool {
			if n.Kind.IsComposite() {
				expanded[n.ID] = n.Expanded
			}
			return true
		})
	}
	for _, s := range fresh {
		s.Walk(func(n *model.Node) bool {
			if e, ok := expanded[n.ID]; ok {
				n.Expanded = e
			}
			return true
		})
	}
}

func buildLogger(path string) *zap.Logger {
	if path == "" {
		return zap.NewNop()
	}
	cfg := zap.NewDevelopmentConfig()
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
