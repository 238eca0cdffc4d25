package graph

import (
	"context"
	"fmt"
	"time"

	"curriculum-qa-be/pkg/rag/state"

	"golang.org/x/sync/errgroup"
)

// Branch is one concurrent unit of a Parallel stage
type Branch struct {
	Name string
	Run  StageFunc

	// Fallback replaces the branch's output when it fails or panics
	Fallback func(s state.PipelineState, err error) *state.Update
}

// Parallel builds a stage function that runs every branch concurrently on a
// private copy of the state and merges their updates in declaration order.
// A failing branch never fails the stage; its Fallback is used instead.
// Per-branch and combined wall-clock durations land in metadata timings under
// the branch names and totalKey.
func Parallel(totalKey string, branches ...Branch) StageFunc {
	return func(ctx context.Context, s state.PipelineState) (*state.Update, error) {
		started := time.Now()
		updates := make([]*state.Update, len(branches))
		took := make([]time.Duration, len(branches))

		var eg errgroup.Group
		for i, br := range branches {
			private := s.Clone()
			eg.Go(func() error {
				branchStart := time.Now()
				u, err := runBranch(ctx, br, private)
				if err != nil {
					u = fallback(br, private, err)
				}
				updates[i] = u
				took[i] = time.Since(branchStart)
				return nil
			})
		}
		_ = eg.Wait()

		merged := state.NewUpdate()
		for _, u := range updates {
			merged.Merge(u)
		}

		md := s.Metadata.Clone()
		if md.Timings == nil {
			md.Timings = make(map[string]time.Duration, len(branches)+1)
		}
		for i, br := range branches {
			md.Timings[br.Name] = took[i]
		}
		md.Timings[totalKey] = time.Since(started)
		return merged.SetMetadata(md), nil
	}
}

func runBranch(ctx context.Context, br Branch, s state.PipelineState) (u *state.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("branch %s panicked: %v", br.Name, r)
		}
	}()
	return br.Run(ctx, s)
}

// fallback returns nil when the branch has none or it panics itself
func fallback(br Branch, s state.PipelineState, err error) (u *state.Update) {
	if br.Fallback == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			u = nil
		}
	}()
	return br.Fallback(s, err)
}
