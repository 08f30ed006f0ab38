package story

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Content maps a step number to the text written for it. On the wire and in
// the database the keys are strings ("1".."12").
type Content map[int]string

// ErrInvalidStep reports a step key that is not a wizard step.
var ErrInvalidStep = errors.New("invalid step")

// ParseStepKey converts a persisted key back into a step number. Both "7" and
// the older "step7" form are accepted.
func ParseStepKey(key string) (int, error) {
	k := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), "step")
	n, err := strconv.Atoi(k)
	if err != nil {
		return 0, fmt.Errorf("%w: key %q", ErrInvalidStep, key)
	}
	if n < FirstStep || n > FinalStep {
		return 0, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	return n, nil
}

func (c *Content) UnmarshalJSON(data []byte) error {
	var raw map[string]string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Content, len(raw))
	for k, v := range raw {
		step, err := ParseStepKey(k)
		if err != nil {
			return err
		}
		out[step] = v
	}
	*c = out
	return nil
}

// Text returns the content of step, or "".
func (c Content) Text(step int) string {
	return c[step]
}

// Steps returns the populated steps in ascending order.
func (c Content) Steps() []int {
	steps := make([]int, 0, len(c))
	for step := range c {
		steps = append(steps, step)
	}
	sort.Ints(steps)
	return steps
}

// IsBlank reports whether no step has any non-whitespace text.
func (c Content) IsBlank() bool {
	for _, v := range c {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (c Content) Clone() Content {
	out := make(Content, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Narrative joins the steps in ascending order as "Step N: text" blocks.
func (c Content) Narrative() string {
	var b strings.Builder
	for i, step := range c.Steps() {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Step %d: %s", step, c[step])
	}
	return b.String()
}

// Sufficient reports whether step has enough text to move past it.
func (c Content) Sufficient(step int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(c[step])) > MinContentLength
}
