package cli

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/me/threadsched/internal/runner"
	"github.com/me/threadsched/internal/store"
	"github.com/me/threadsched/internal/workload"
	"github.com/me/threadsched/pkg/model"
)

// backend is where runs are executed and looked up: the local database or a
// schedsim server.
type backend interface {
	Run(ctx context.Context, sc *workload.Scenario, text []byte) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, *model.Pagination, error)
	GetRun(ctx context.Context, id string) (*model.Run, error)
	Events(ctx context.Context, id string, kind model.EventKind) ([]model.Event, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}

// openBackend returns the backend selected by the global flags.
func openBackend(ctx context.Context) (backend, error) {
	if flagServer != "" {
		return &remoteBackend{client: NewClient(flagServer, logger)}, nil
	}
	return openLocal(ctx, flagDB)
}

// --- local database ---

type localBackend struct {
	store *store.SQLiteStore
}

func openLocal(ctx context.Context, path string) (*localBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return &localBackend{store: st}, nil
}

func (b *localBackend) Run(ctx context.Context, sc *workload.Scenario, text []byte) (*model.Run, error) {
	run := runner.NewRun(sc, string(text))
	if err := b.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := runner.Execute(ctx, b.store, run, 0, logger); err != nil {
		return nil, err
	}
	return run, nil
}

func (b *localBackend) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, *model.Pagination, error) {
	opts.Normalize()
	if errs := opts.Validate(); len(errs) > 0 {
		return nil, nil, model.NewValidationError("invalid list options", errs...)
	}
	runs, total, err := b.store.ListRuns(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	opts.Clamp()
	return runs, model.NewPagination(total, opts), nil
}

func (b *localBackend) GetRun(ctx context.Context, id string) (*model.Run, error) {
	run, err := b.store.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, model.NewNotFoundError("run", id)
	}
	return run, nil
}

func (b *localBackend) Events(ctx context.Context, id string, kind model.EventKind) ([]model.Event, error) {
	if _, err := b.GetRun(ctx, id); err != nil {
		return nil, err
	}
	return b.store.ListEvents(ctx, id, kind)
}

func (b *localBackend) DeleteRun(ctx context.Context, id string) error {
	run, err := b.GetRun(ctx, id)
	if err != nil {
		return err
	}
	if run.State == model.RunStateRunning {
		return &model.APIError{Code: model.ErrConflict, Message: "run " + id + " is still running"}
	}
	return b.store.DeleteRun(ctx, id)
}

func (b *localBackend) Close() error { return b.store.Close() }

// --- remote server ---

type remoteBackend struct {
	client *Client
}

func (b *remoteBackend) Run(ctx context.Context, _ *workload.Scenario, text []byte) (*model.Run, error) {
	resp, err := b.client.PostYAML(ctx, "/api/v1/runs?wait=true", text)
	if err != nil {
		return nil, fmt.Errorf("submit run: %w", err)
	}
	var run model.Run
	if err := resp.decodeData(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (b *remoteBackend) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, *model.Pagination, error) {
	q := url.Values{}
	if opts.State != "" {
		q.Set("state", opts.State)
	}
	if opts.Policy != "" {
		q.Set("policy", opts.Policy)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/runs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := b.client.Get(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("list runs: %w", err)
	}
	var runs []*model.Run
	if err := resp.decodeData(&runs); err != nil {
		return nil, nil, err
	}
	return runs, resp.Pagination, nil
}

func (b *remoteBackend) GetRun(ctx context.Context, id string) (*model.Run, error) {
	resp, err := b.client.Get(ctx, "/api/v1/runs/"+url.PathEscape(id))
	if err != nil {
		return nil, err
	}
	var run model.Run
	if err := resp.decodeData(&run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (b *remoteBackend) Events(ctx context.Context, id string, kind model.EventKind) ([]model.Event, error) {
	path := "/api/v1/runs/" + url.PathEscape(id) + "/events"
	if kind != "" {
		path += "?kind=" + url.QueryEscape(string(kind))
	}
	resp, err := b.client.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var events []model.Event
	if err := resp.decodeData(&events); err != nil {
		return nil, err
	}
	return events, nil
}

func (b *remoteBackend) DeleteRun(ctx context.Context, id string) error {
	_, err := b.client.Delete(ctx, "/api/v1/runs/"+url.PathEscape(id))
	return err
}

func (b *remoteBackend) Close() error { return nil }
