package syncer

import (
	"time"

	"github.com/google/uuid"
)

// Result summarizes one sync run.
type Result struct {
	RunID      string    `json:"run_id"`
	JobID      string    `json:"job_id"`
	Mode       Mode      `json:"mode"`
	From       int       `json:"from"`
	To         int       `json:"to"`
	Total      int       `json:"total"`
	Batches    int       `json:"batches"`
	Fetched    int       `json:"fetched"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Error      string    `json:"error,omitempty"`
}

// State is the live sync status of one job.
type State struct {
	JobID   string `json:"job_id"`
	Running bool   `json:"running"`
	Mode    Mode   `json:"mode,omitempty"`
	RunID   string `json:"run_id,omitempty"`
	Total   int    `json:"total"`
	Done    int    `json:"done"`
	Failed  int    `json:"failed"`

	LastResult *Result `json:"last_result,omitempty"`
	LastError  string  `json:"last_error,omitempty"`
}

// begin allocates a run and marks the job as running.
func (s *Syncer) begin(jobID string, mode Mode) *Result {
	res := &Result{RunID: uuid.NewString(), JobID: jobID, Mode: mode, StartedAt: time.Now().UTC()}
	s.update(jobID, func(st *State) {
		st.Running = true
		st.Mode = mode
		st.RunID = res.RunID
		st.Total, st.Done, st.Failed = 0, 0, 0
	})
	return res
}

func (s *Syncer) finish(res *Result, err error) {
	final := *res
	if err != nil {
		final.Error = err.Error()
	}
	s.update(res.JobID, func(st *State) {
		st.Running = false
		st.LastResult = &final
		st.LastError = final.Error
	})
}

func (s *Syncer) update(jobID string, fn func(*State)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[jobID]
	if !ok {
		st = &State{JobID: jobID}
		s.states[jobID] = st
	}
	fn(st)
}

// State returns a snapshot of one job's sync status.
func (s *Syncer) State(jobID string) (State, error) {
	if _, err := s.registry.Get(jobID); err != nil {
		return State{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[jobID]; ok {
		return *st, nil
	}
	return State{JobID: jobID}, nil
}

// States returns a snapshot for every job in registry order.
func (s *Syncer) States() []State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.registry.IDs()
	out := make([]State, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.states[id]; ok {
			out = append(out, *st)
			continue
		}
		out = append(out, State{JobID: id})
	}
	return out
}
