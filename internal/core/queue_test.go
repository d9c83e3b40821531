package core

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOperations(t *testing.T) {
	q := NewQueue([]Job{{ID: "1", FileName: "a"}, {ID: "2", FileName: "b"}})
	assert.Equal(t, 2, q.Len())

	q.Append(Job{ID: "3", FileName: "c"})
	q.Prepend(Job{ID: "0", FileName: "z"})
	assert.Equal(t, []Job{{"0", "z"}, {"1", "a"}, {"2", "b"}, {"3", "c"}}, q.Jobs())

	head, ok := q.PopFront()
	require.True(t, ok)
	assert.Equal(t, Job{ID: "0", FileName: "z"}, head)

	assert.True(t, q.RemoveWhere(func(j Job) bool { return j.FileName == "b" }))
	assert.False(t, q.RemoveWhere(func(j Job) bool { return j.FileName == "b" }))
	assert.Equal(t, []Job{{"1", "a"}, {"3", "c"}}, q.Jobs())

	head, ok = q.Head()
	require.True(t, ok)
	assert.Equal(t, "1", head.ID)
}

func TestQueueEmpty(t *testing.T) {
	q := NewQueue(nil)

	_, ok := q.PopFront()
	assert.False(t, ok)
	_, ok = q.Head()
	assert.False(t, ok)
	assert.Equal(t, []Job{}, q.Jobs())
}

func TestQueueJobsIsACopy(t *testing.T) {
	src := []Job{{ID: "1", FileName: "a"}}
	q := NewQueue(src)
	src[0].FileName = "mutated"

	jobs := q.Jobs()
	jobs[0].FileName = "also mutated"

	head, _ := q.Head()
	assert.Equal(t, "a", head.FileName)
}

func TestTailFrom(t *testing.T) {
	jobs := []Job{{"1", "a"}, {"2", "b"}, {"3", "c"}}

	tail, ok := tailFrom(jobs, "2")
	require.True(t, ok)
	assert.Equal(t, []Job{{"2", "b"}, {"3", "c"}}, tail)

	_, ok = tailFrom(jobs, "9")
	assert.False(t, ok)
}

func TestValidateJobs(t *testing.T) {
	tests := []struct {
		name string
		jobs []Job
		want error
	}{
		{"empty", nil, nil},
		{"valid", []Job{{"1", "a"}, {"2", "b"}}, nil},
		{"missing ids allowed", []Job{{"", "a"}, {"", "b"}}, nil},
		{"same file twice", []Job{{"1", "a"}, {"2", "a"}}, nil},
		{"duplicate id", []Job{{"1", "a"}, {"1", "b"}}, ErrDuplicateJobID},
		{"empty file name", []Job{{"1", ""}}, ErrEmptyFileName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateJobs(tt.jobs)
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestAssignIDs(t *testing.T) {
	in := []Job{{"", "a"}, {"5", "b"}, {"", "c"}}
	n := 0
	out := AssignIDs(in, func() string {
		n++
		return fmt.Sprintf("new-%d", n)
	})

	assert.Equal(t, []Job{{"new-1", "a"}, {"5", "b"}, {"new-2", "c"}}, out)
	assert.Equal(t, "", in[0].ID)
}
