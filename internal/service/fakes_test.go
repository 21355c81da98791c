package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/model"
)

// fakeJobRepo is an in-memory JobRepository honoring the monotonic state
// machine.
type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[string]*model.Job

	markInProgressErr error
	finalizeErr       error
	// startGate, when set, parks MarkInProgress until the channel closes so
	// tests can order the flow against concurrent work.
	startGate chan struct{}
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[string]*model.Job)}
}

func (f *fakeJobRepo) Create(_ context.Context, req *model.CreateJobRequest) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.jobs[req.ID]; ok {
		return existing, nil
	}
	job := &model.Job{
		ID:          req.ID,
		CustomerID:  req.CustomerID,
		Status:      model.JobStatusPending,
		PackageSize: req.PackageSize,
		Priority:    req.Priority,
		Source:      req.Source,
		CreatedAt:   time.Now(),
	}
	f.jobs[req.ID] = job
	return job, nil
}

func (f *fakeJobRepo) GetByID(_ context.Context, id string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, data.ErrJobNotFound
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobRepo) MarkInProgress(_ context.Context, id string) (bool, error) {
	if f.markInProgressErr != nil {
		return false, f.markInProgressErr
	}
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, data.ErrJobNotFound
	}
	if job.Status != model.JobStatusPending {
		return false, nil
	}
	job.Status = model.JobStatusInProgress
	now := time.Now()
	job.StartedAt = &now
	return true, nil
}

func (f *fakeJobRepo) UpdateProgress(_ context.Context, id string, progress int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return data.ErrJobNotFound
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (f *fakeJobRepo) Finalize(_ context.Context, id string, status model.JobStatus, errMsg string) (bool, error) {
	if f.finalizeErr != nil {
		return false, f.finalizeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return false, data.ErrJobNotFound
	}
	if job.Status != model.JobStatusInProgress {
		return false, nil
	}
	job.Status = status
	job.Progress = 100
	if errMsg != "" {
		job.ErrorMessage = &errMsg
	}
	now := time.Now()
	job.CompletedAt = &now
	return true, nil
}

func (f *fakeJobRepo) Stats(context.Context) (*model.JobStats, error) {
	return &model.JobStats{}, nil
}

func (f *fakeJobRepo) View(context.Context, string) (*model.JobView, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeJobRepo) get(id string) *model.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[id]
}

// fakeResultRepo is an in-memory JobResultRepository with first-success-wins
// upsert semantics.
type fakeResultRepo struct {
	mu      sync.Mutex
	results map[string]*model.JobResult

	upsertErr error
}

func newFakeResultRepo() *fakeResultRepo {
	return &fakeResultRepo{results: make(map[string]*model.JobResult)}
}

func (f *fakeResultRepo) Upsert(_ context.Context, req model.UpsertResultRequest) (*model.JobResult, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	existing, ok := f.results[req.IdempotencyKey]
	if !ok {
		r := &model.JobResult{
			ID:             uuid.NewString(),
			JobID:          req.JobID,
			DirectoryName:  req.DirectoryName,
			Status:         req.Status,
			IdempotencyKey: req.IdempotencyKey,
			Payload:        req.Payload,
			ResponseLog:    req.ResponseLog,
			Attempts:       1,
			CreatedAt:      time.Now(),
		}
		if req.ErrorMessage != "" {
			r.ErrorMessage = &req.ErrorMessage
		}
		f.results[req.IdempotencyKey] = r
		cp := *r
		return &cp, nil
	}

	if existing.Status != model.ResultStatusSubmitted {
		existing.Status = req.Status
		existing.Attempts++
		if req.ErrorMessage != "" {
			existing.ErrorMessage = &req.ErrorMessage
		}
		existing.ResponseLog = req.ResponseLog
	}
	cp := *existing
	return &cp, nil
}

func (f *fakeResultRepo) GetByKey(_ context.Context, key string) (*model.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.results[key]
	if !ok {
		return nil, data.ErrResultNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeResultRepo) ListByJob(_ context.Context, jobID string) ([]*model.JobResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.JobResult
	for _, r := range f.results {
		if r.JobID == jobID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DirectoryName < out[j].DirectoryName })
	return out, nil
}

func (f *fakeResultRepo) DeleteOldTerminal(context.Context, core.RetentionParams) (int64, error) {
	return 0, nil
}

// fakeHistoryRepo records appended events in order.
type fakeHistoryRepo struct {
	mu      sync.Mutex
	records []model.AppendHistoryRequest

	appendErr error
}

func (f *fakeHistoryRepo) Append(_ context.Context, req model.AppendHistoryRequest) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if err := req.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, req)
	return nil
}

func (f *fakeHistoryRepo) ListByJob(context.Context, string) ([]*model.HistoryRecord, error) {
	return nil, nil
}

func (f *fakeHistoryRepo) DeleteOld(context.Context, core.RetentionParams) (int64, error) {
	return 0, nil
}

func (f *fakeHistoryRepo) events() []model.HistoryEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.HistoryEvent, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Event)
	}
	return out
}

func (f *fakeHistoryRepo) countEvent(event model.HistoryEvent) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, r := range f.records {
		if r.Event == event {
			n++
		}
	}
	return n
}

// fakeDirectoryRepo serves a fixed catalog.
type fakeDirectoryRepo struct {
	dirs    []*model.Directory
	listErr error
}

func (f *fakeDirectoryRepo) ListEnabled(_ context.Context, limit int) ([]*model.Directory, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	if limit > len(f.dirs) {
		limit = len(f.dirs)
	}
	return f.dirs[:limit], nil
}

func (f *fakeDirectoryRepo) GetByName(_ context.Context, name string) (*model.Directory, error) {
	for _, d := range f.dirs {
		if d.Name == name {
			return d, nil
		}
	}
	return nil, data.ErrDirectoryNotFound
}

// fakeProfileRepo serves a single profile.
type fakeProfileRepo struct {
	profile *model.BusinessProfile
	err     error
}

func (f *fakeProfileRepo) GetByCustomerID(_ context.Context, customerID string) (*model.BusinessProfile, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.profile == nil || f.profile.CustomerID != customerID {
		return nil, data.ErrProfileNotFound
	}
	return f.profile, nil
}

// fakePlanner returns a canned plan per directory.
type fakePlanner struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakePlanner) Plan(_ context.Context, req core.PlanRequest) (*model.FillPlan, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.FillPlan{
		DirectoryID: req.Directory.ID,
		Actions:     []model.FillAction{{Selector: "#name", Value: req.Profile.Name, Kind: model.ActionFill}},
		Submit:      model.FillAction{Selector: "#submit", Kind: model.ActionClick},
	}, nil
}

// fakeSubmitter scripts per-directory outcomes; the errs/outcomes slices are
// consumed per call for a given directory name.
type fakeSubmitter struct {
	mu       sync.Mutex
	byName   map[string][]submitResult
	fallback submitResult
	calls    int
	// gate, when set, parks Submit until the channel closes.
	gate chan struct{}
}

type submitResult struct {
	outcome *core.SubmissionOutcome
	err     error
}

func newFakeSubmitter() *fakeSubmitter {
	return &fakeSubmitter{
		byName: make(map[string][]submitResult),
		fallback: submitResult{
			outcome: &core.SubmissionOutcome{Status: model.ResultStatusSubmitted},
		},
	}
}

func (f *fakeSubmitter) script(name string, results ...submitResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byName[name] = append(f.byName[name], results...)
}

func (f *fakeSubmitter) Submit(_ context.Context, dir *model.Directory, _ *model.FillPlan) (*core.SubmissionOutcome, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	queue := f.byName[dir.Name]
	if len(queue) == 0 {
		return f.fallback.outcome, f.fallback.err
	}
	next := queue[0]
	f.byName[dir.Name] = queue[1:]
	return next.outcome, next.err
}

// fakeQueue is a scripted Queue for subscriber tests.
type fakeQueue struct {
	mu         sync.Mutex
	deliveries [][]*core.Delivery
	acked      []string
	receiveErr error
}

func (f *fakeQueue) Enqueue(context.Context, []byte) (string, error) {
	return uuid.NewString(), nil
}

func (f *fakeQueue) Receive(ctx context.Context, _ int, _ time.Duration) ([]*core.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.receiveErr != nil {
		return nil, f.receiveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.deliveries) == 0 {
		return nil, nil
	}
	batch := f.deliveries[0]
	f.deliveries = f.deliveries[1:]
	return batch, nil
}

func (f *fakeQueue) Ack(_ context.Context, receipt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, receipt)
	return nil
}

func (f *fakeQueue) Depth(context.Context) (int64, error)           { return 0, nil }
func (f *fakeQueue) DeadLetterCount(context.Context) (int64, error) { return 0, nil }
func (f *fakeQueue) Ping(context.Context) error                     { return nil }

func (f *fakeQueue) ackedReceipts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

// fakeHeartbeatRepo records upserts and stale marks.
type fakeHeartbeatRepo struct {
	mu      sync.Mutex
	beats   map[string]*model.WorkerHeartbeat
	staleID []string
}

func newFakeHeartbeatRepo() *fakeHeartbeatRepo {
	return &fakeHeartbeatRepo{beats: make(map[string]*model.WorkerHeartbeat)}
}

func (f *fakeHeartbeatRepo) Upsert(_ context.Context, hb *model.WorkerHeartbeat) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *hb
	f.beats[hb.WorkerID] = &cp
	return nil
}

func (f *fakeHeartbeatRepo) List(context.Context) ([]*model.WorkerHeartbeat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.WorkerHeartbeat, 0, len(f.beats))
	for _, hb := range f.beats {
		cp := *hb
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (f *fakeHeartbeatRepo) MarkStale(_ context.Context, workerID string, observedLastSeen time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hb, ok := f.beats[workerID]
	if !ok {
		return false, nil
	}
	if hb.LastSeen.After(observedLastSeen) {
		return false, nil
	}
	hb.Status = model.WorkerStatusStale
	f.staleID = append(f.staleID, workerID)
	return true, nil
}
