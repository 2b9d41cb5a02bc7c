package taql

import "github.com/laakhay/ta-go/pkg/series"

// PolicyStack scopes alignment policy overrides. The planner captures the
// stack's current policy into the plan, so an override pushed around a
// compile applies for the duration of that evaluation only.
//
// The stack is owned by whoever constructs the Planner and is not safe for
// concurrent use.
type PolicyStack struct {
	stack []series.Policy
}

// NewPolicyStack seeds the stack with the default policy.
func NewPolicyStack(def series.Policy) *PolicyStack {
	return &PolicyStack{stack: []series.Policy{def}}
}

// Current returns the active policy.
func (s *PolicyStack) Current() series.Policy {
	return s.stack[len(s.stack)-1]
}

// Push makes p the active policy until the matching Pop.
func (s *PolicyStack) Push(p series.Policy) {
	s.stack = append(s.stack, p)
}

// Pop restores the previously active policy. The seeded default is never
// popped.
func (s *PolicyStack) Pop() {
	if len(s.stack) > 1 {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// With runs fn with p active, restoring the previous policy afterwards.
func (s *PolicyStack) With(p series.Policy, fn func()) {
	s.Push(p)
	defer s.Pop()
	fn()
}
