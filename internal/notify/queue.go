package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisclient "github.com/hackgods/panchakarma-booking/internal/redis"
)

const QueueKey = "notify:confirmations"

// Job asks the worker to send the confirmation for one appointment.
type Job struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	EnqueuedAt    time.Time `json:"enqueued_at"`
}

// Queue carries confirmation jobs from the API to the notification worker.
type Queue struct {
	jobs *redisclient.JobQueue
}

func NewQueue(client *redis.Client) *Queue {
	return &Queue{jobs: redisclient.NewJobQueue(client, QueueKey)}
}

func (q *Queue) Enqueue(ctx context.Context, appointmentID uuid.UUID) error {
	payload, err := json.Marshal(Job{AppointmentID: appointmentID, EnqueuedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal notify job: %w", err)
	}
	return q.jobs.Push(ctx, payload)
}

// Next blocks up to timeout for a job. It returns redisclient.ErrQueueEmpty
// when none arrived.
func (q *Queue) Next(ctx context.Context, timeout time.Duration) (*Job, error) {
	payload, err := q.jobs.Pop(ctx, timeout)
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode notify job: %w", err)
	}
	return &job, nil
}

func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.jobs.Len(ctx)
}
