package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/kozaktomas/face-match/internal/constants"
)

// JobStatus represents the status of an async job.
type JobStatus string

// JobStatus constants define the lifecycle states of an async job.
const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// BuildJob represents an async gallery build: scanning a directory of
// reference images, extracting embeddings and replacing the stored gallery.
type BuildJob struct {
	EventBroadcaster

	ID              string          `json:"id"`
	Gallery         string          `json:"gallery"`
	Dir             string          `json:"dir"`
	Status          JobStatus       `json:"status"`
	Progress        int             `json:"progress"`
	TotalImages     int             `json:"total_images"`
	ProcessedImages int             `json:"processed_images"`
	Error           string          `json:"error,omitempty"`
	StartedAt       time.Time       `json:"started_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	Options         BuildJobOptions `json:"options"`
	Result          *BuildJobResult `json:"result,omitempty"`
}

// GetStatus returns the current job status (implements SSEJob).
func (j *BuildJob) GetStatus() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// Cancel cancels the build job.
func (j *BuildJob) Cancel() {
	j.EventBroadcaster.Cancel()
	j.mu.Lock()
	j.Status = JobStatusCancelled
	j.mu.Unlock()
}

// BuildJobOptions represents gallery build options.
type BuildJobOptions struct {
	Model            string `json:"model"`
	Detector         string `json:"detector"`
	EnforceDetection bool   `json:"enforce_detection"`
}

// BuildJobResult represents the result of a gallery build job.
type BuildJobResult struct {
	Images   int      `json:"images"`
	Faces    int      `json:"faces"`
	Labels   int      `json:"labels"`
	Skipped  int      `json:"skipped"`
	Warnings []string `json:"warnings,omitempty"`
}

// JobEvent represents an event from a job.
type JobEvent struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// EventBroadcaster provides listener management and event broadcasting for async jobs.
// Embed this in job structs to get AddListener, RemoveListener, and SendEvent methods.
type EventBroadcaster struct {
	cancel    context.CancelFunc
	listeners []chan JobEvent
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *EventBroadcaster) AddListener() chan JobEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan JobEvent, constants.EventChannelBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener.
func (b *EventBroadcaster) RemoveListener(ch chan JobEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners.
func (b *EventBroadcaster) SendEvent(event JobEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

// Cancel cancels the job via context and sends a cancelled event.
func (b *EventBroadcaster) Cancel() {
	if b.cancel != nil {
		b.cancel()
	}
	b.SendEvent(JobEvent{Type: "cancelled", Message: "Job cancelled by user"})
}

// SSEJob is the interface required by streamSSEEvents to stream job events via SSE.
type SSEJob interface {
	AddListener() chan JobEvent
	RemoveListener(ch chan JobEvent)
	GetStatus() JobStatus
}

// JobManager manages async jobs.
type JobManager struct {
	jobs map[string]*BuildJob
	mu   sync.RWMutex
}

// NewJobManager creates a new job manager.
func NewJobManager() *JobManager {
	return &JobManager{
		jobs: make(map[string]*BuildJob),
	}
}

// CreateJob creates a new gallery build job.
func (m *JobManager) CreateJob(id, gallery, dir string, options BuildJobOptions) *BuildJob {
	job := &BuildJob{
		ID:        id,
		Gallery:   gallery,
		Dir:       dir,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
		Options:   options,
	}

	m.mu.Lock()
	m.jobs[id] = job
	m.mu.Unlock()

	return job
}

// GetJob retrieves a job by ID.
func (m *JobManager) GetJob(id string) *BuildJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[id]
}

// DeleteJob removes a job.
func (m *JobManager) DeleteJob(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, id)
}

// ListJobs returns all jobs.
func (m *JobManager) ListJobs() []*BuildJob {
	m.mu.RLock()
	defer m.mu.RUnlock()
	jobs := make([]*BuildJob, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}
