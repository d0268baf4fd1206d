package repositories

import (
	"context"
	"log"
	"time"

	"chat-coordinator/internal/models"
)

const archiveWriteTimeout = 5 * time.Second

type archiveJob struct {
	annotate bool
	msg      models.Message
}

// Archiver feeds an ArchiveRepository from a buffered queue so that database
// latency never stalls the coordinator. When the queue is full the job is
// dropped and logged.
type Archiver struct {
	repo ArchiveRepository
	jobs chan archiveJob
}

// NewArchiver constructs an Archiver with the given queue size.
func NewArchiver(repo ArchiveRepository, queueSize int) *Archiver {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Archiver{repo: repo, jobs: make(chan archiveJob, queueSize)}
}

// MessageStored queues an insert.
func (a *Archiver) MessageStored(msg models.Message) {
	a.enqueue(archiveJob{msg: msg})
}

// MessageAnnotated queues an annotation update.
func (a *Archiver) MessageAnnotated(msg models.Message) {
	a.enqueue(archiveJob{annotate: true, msg: msg})
}

func (a *Archiver) enqueue(job archiveJob) {
	select {
	case a.jobs <- job:
	default:
		log.Printf("archive queue full, dropping message id=%d annotate=%t", job.msg.ID, job.annotate)
	}
}

// Run drains the queue until ctx is done.
func (a *Archiver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-a.jobs:
			a.write(ctx, job)
		}
	}
}

func (a *Archiver) write(ctx context.Context, job archiveJob) {
	ctx, cancel := context.WithTimeout(ctx, archiveWriteTimeout)
	defer cancel()

	var err error
	if job.annotate {
		err = a.repo.UpdateAnnotations(ctx, job.msg)
	} else {
		err = a.repo.ArchiveMessage(ctx, job.msg)
	}
	if err != nil {
		log.Printf("archive write failed: id=%d annotate=%t err=%v", job.msg.ID, job.annotate, err)
	}
}
