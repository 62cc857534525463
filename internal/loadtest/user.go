// Package loadtest runs weighted simulated-user archetypes against an HTTP target.
package loadtest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// TaskFunc is the body of a task or an on-start/on-stop hook.
//
// Returning an error marks the iteration as failed; the VU keeps running.
type TaskFunc func(ctx context.Context, vu *VirtualUser) error

// Task is a named unit of scripted behavior executed repeatedly by a user.
type Task struct {
	Name string

	// Weight relative to the other tasks of the same user type (0 means 1)
	Weight int

	Fn TaskFunc
}

// WaitTime returns the pause a user takes between two task iterations.
type WaitTime func(r *rand.Rand) time.Duration

// Between returns a uniformly distributed wait time in [minWait, maxWait].
func Between(minWait, maxWait time.Duration) WaitTime {
	if maxWait < minWait {
		minWait, maxWait = maxWait, minWait
	}
	span := int64(maxWait - minWait)
	return func(r *rand.Rand) time.Duration {
		if span == 0 {
			return minWait
		}
		return minWait + time.Duration(r.Int64N(span+1))
	}
}

// Constant returns a fixed wait time.
func Constant(d time.Duration) WaitTime {
	return func(*rand.Rand) time.Duration { return d }
}

// NoWait returns a wait time of zero.
func NoWait() WaitTime {
	return Constant(0)
}

// UserType describes a simulated-user archetype.
type UserType struct {
	// Name identifies the archetype in metrics and logs
	Name string

	// Weight is the relative share of spawned users
	Weight int

	// WaitTime between iterations (nil means no wait)
	WaitTime WaitTime

	// OnStart runs once per user before the first task
	OnStart TaskFunc

	// OnStop runs once per user when it is stopped
	OnStop TaskFunc

	Tasks []Task
}

// Validate checks the user type definition.
func (u *UserType) Validate() error {
	if u == nil {
		return fmt.Errorf("%w: nil", ErrInvalidUserType)
	}
	if u.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidUserType)
	}
	if u.Weight <= 0 {
		return fmt.Errorf("%w: %s: weight must be positive, got %d", ErrInvalidUserType, u.Name, u.Weight)
	}
	if len(u.Tasks) == 0 {
		return fmt.Errorf("%w: %s: at least one task is required", ErrInvalidUserType, u.Name)
	}
	for i, task := range u.Tasks {
		if task.Name == "" {
			return fmt.Errorf("%w: %s: task %d has no name", ErrInvalidUserType, u.Name, i)
		}
		if task.Fn == nil {
			return fmt.Errorf("%w: %s.%s: task has no function", ErrInvalidUserType, u.Name, task.Name)
		}
		if task.Weight < 0 {
			return fmt.Errorf("%w: %s.%s: task weight must not be negative", ErrInvalidUserType, u.Name, task.Name)
		}
	}
	return nil
}

func (u *UserType) waitTime(r *rand.Rand) time.Duration {
	if u.WaitTime == nil {
		return 0
	}
	return u.WaitTime(r)
}

// pickTask selects a task by task weight.
func (u *UserType) pickTask(r *rand.Rand) *Task {
	if len(u.Tasks) == 1 {
		return &u.Tasks[0]
	}

	total := 0
	for _, t := range u.Tasks {
		total += taskWeight(t)
	}
	n := r.IntN(total)
	for i := range u.Tasks {
		n -= taskWeight(u.Tasks[i])
		if n < 0 {
			return &u.Tasks[i]
		}
	}
	return &u.Tasks[len(u.Tasks)-1]
}

func taskWeight(t Task) int {
	if t.Weight <= 0 {
		return 1
	}
	return t.Weight
}
