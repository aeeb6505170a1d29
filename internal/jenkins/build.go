package jenkins

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/caevv/buildwatch/internal/store"
)

// Build is the part of a Jenkins build payload buildwatch keeps.
type Build struct {
	Number      int
	Status      store.Status
	DurationMs  *int64
	StartedAt   time.Time
	URL         string
	TriggeredBy string
	// Parameters are in declaration order and may repeat a name.
	Parameters []store.Parameter
}

// Record converts the build into a store record for jobID.
func (b *Build) Record(jobID string) *store.Build {
	return &store.Build{
		JobID:       jobID,
		Number:      b.Number,
		Status:      b.Status,
		DurationMs:  b.DurationMs,
		StartedAt:   b.StartedAt,
		URL:         b.URL,
		TriggeredBy: b.TriggeredBy,
		Parameters:  b.Parameters,
	}
}

type buildPayload struct {
	Number    int      `json:"number"`
	Building  bool     `json:"building"`
	Result    *string  `json:"result"`
	Duration  int64    `json:"duration"`
	Timestamp int64    `json:"timestamp"`
	URL       string   `json:"url"`
	// Actions are decoded one by one so a plugin record of an unexpected
	// shape does not reject the whole build.
	Actions []json.RawMessage `json:"actions"`
}

// action is deliberately loose: Jenkins mixes cause, parameter, SCM and
// plugin records in one array, many of them empty objects.
type action struct {
	Class      string      `json:"_class"`
	Causes     []cause     `json:"causes"`
	Parameters []parameter `json:"parameters"`
}

type cause struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

type parameter struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value"`
}

func (p buildPayload) toBuild(number int) *Build {
	actions := p.actions()
	b := &Build{
		Number:      number,
		Status:      mapStatus(p.Building, p.Result),
		URL:         p.URL,
		TriggeredBy: triggeringUser(actions),
		Parameters:  parameters(actions),
	}
	if p.Timestamp > 0 {
		b.StartedAt = time.UnixMilli(p.Timestamp).UTC()
	}
	if b.Status.Terminal() {
		d := p.Duration
		b.DurationMs = &d
	}
	return b
}

func mapStatus(building bool, result *string) store.Status {
	if building {
		return store.StatusInProgress
	}
	if result == nil {
		return store.StatusUnknown
	}
	switch s := store.Status(strings.ToUpper(*result)); s {
	case store.StatusSuccess, store.StatusFailure, store.StatusUnstable, store.StatusAborted:
		return s
	default:
		return store.StatusUnknown
	}
}

// actions decodes the action records that fit the cause/parameter shape and
// skips the rest.
func (p buildPayload) actions() []action {
	out := make([]action, 0, len(p.Actions))
	for _, raw := range p.Actions {
		var a action
		if err := json.Unmarshal(raw, &a); err != nil {
			continue
		}
		out = append(out, a)
	}
	return out
}

// triggeringUser returns the identity of the first cause that has one.
func triggeringUser(actions []action) string {
	for _, a := range actions {
		for _, c := range a.Causes {
			if c.UserID != "" {
				return c.UserID
			}
			if c.UserName != "" {
				return c.UserName
			}
		}
	}
	return ""
}

// parameters reads the parameters action. Order is kept and duplicates are
// left for the store to collapse.
func parameters(actions []action) []store.Parameter {
	for _, a := range actions {
		isParams := strings.HasSuffix(a.Class, "ParametersAction") || (a.Class == "" && len(a.Parameters) > 0)
		if !isParams {
			continue
		}
		params := make([]store.Parameter, 0, len(a.Parameters))
		for _, raw := range a.Parameters {
			if raw.Name == "" {
				continue
			}
			params = append(params, store.Parameter{Name: raw.Name, Value: rawValue(raw.Value)})
		}
		return params
	}
	return nil
}

// rawValue renders a parameter value as text: strings unquoted, null empty,
// everything else as its JSON literal.
func rawValue(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	if v[0] == '"' {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return s
		}
	}
	return string(v)
}
