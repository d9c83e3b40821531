package core

// Queue holds the ordered jobs and the id of the job considered current.
// It is not safe for concurrent use; the Orchestrator owns it.
type Queue struct {
	jobs     []Job
	activeID string
}

func NewQueue(jobs []Job) *Queue {
	q := &Queue{}
	q.Replace(jobs)
	return q
}

// Replace swaps the whole queue. Callers pin the active job first.
func (q *Queue) Replace(jobs []Job) {
	q.jobs = append([]Job(nil), jobs...)
}

func (q *Queue) Append(job Job) {
	q.jobs = append(q.jobs, job)
}

// Prepend inserts job at index 0.
func (q *Queue) Prepend(job Job) {
	q.jobs = append([]Job{job}, q.jobs...)
}

// PopFront removes and returns the head of the queue.
func (q *Queue) PopFront() (Job, bool) {
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	head := q.jobs[0]
	q.jobs = append([]Job(nil), q.jobs[1:]...)
	return head, true
}

// RemoveWhere drops every job matching pred and reports whether anything
// was removed.
func (q *Queue) RemoveWhere(pred func(Job) bool) bool {
	kept := q.jobs[:0:0]
	for _, j := range q.jobs {
		if !pred(j) {
			kept = append(kept, j)
		}
	}
	changed := len(kept) != len(q.jobs)
	q.jobs = kept
	return changed
}

func (q *Queue) Head() (Job, bool) {
	if len(q.jobs) == 0 {
		return Job{}, false
	}
	return q.jobs[0], true
}

func (q *Queue) Len() int {
	return len(q.jobs)
}

// Jobs returns a copy of the queued jobs.
func (q *Queue) Jobs() []Job {
	return append([]Job{}, q.jobs...)
}

func (q *Queue) ActiveID() string {
	return q.activeID
}

func (q *Queue) SetActiveID(id string) {
	q.activeID = id
}

// sameJobs compares two job lists entry by entry.
func sameJobs(a, b []Job) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tailFrom returns the jobs starting at the first entry whose id is id.
func tailFrom(jobs []Job, id string) ([]Job, bool) {
	for i, j := range jobs {
		if j.ID == id {
			return append([]Job{}, jobs[i:]...), true
		}
	}
	return nil, false
}

// ValidateJobs rejects entries without a file name and ids used twice.
func ValidateJobs(jobs []Job) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.FileName == "" {
			return ErrEmptyFileName
		}
		if j.ID == "" {
			continue
		}
		if seen[j.ID] {
			return ErrDuplicateJobID
		}
		seen[j.ID] = true
	}
	return nil
}

// AssignIDs returns a copy of jobs where every empty id is replaced by one
// from newID.
func AssignIDs(jobs []Job, newID func() string) []Job {
	out := make([]Job, len(jobs))
	for i, j := range jobs {
		if j.ID == "" {
			j.ID = newID()
		}
		out[i] = j
	}
	return out
}
