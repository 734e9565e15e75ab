package codegen

import (
	"strings"

	"github.com/v0xg/specforge/internal/locator"
	"github.com/v0xg/specforge/internal/plan"
)

// action is a step ready for an emitter: its selector parsed and any
// logical reference already resolved.
type action struct {
	plan.Step
	Sel plan.Selector
	// Missing holds the unresolved selector when the step cannot be
	// emitted as a real call.
	Missing string
}

func usesSelector(k plan.StepKind) bool {
	switch k {
	case plan.StepClick, plan.StepFill, plan.StepExpectVisible, plan.StepUpload:
		return true
	}
	return false
}

// lowerCase resolves a case's steps against the locator store. Every goto
// to a page with a known identity is followed by an assertion of it.
func lowerCase(tc plan.TestCase, store *locator.Store) []action {
	page := tc.PageKey()
	out := make([]action, 0, len(tc.Steps))
	for _, s := range tc.Steps {
		out = append(out, lowerStep(s, page, store))
		if s.Kind == plan.StepGoto && store != nil {
			if id, ok := store.Identity(plan.PathOf(s.URL)); ok {
				if step, ok := identityStep(id); ok {
					out = append(out, lowerStep(step, page, store))
				}
			}
		}
	}
	if len(out) == 0 {
		out = append(out, action{Step: plan.Custom("no steps")})
	}
	return out
}

func lowerStep(s plan.Step, page string, store *locator.Store) action {
	a := action{Step: s}
	if !usesSelector(s.Kind) {
		return a
	}
	if strings.TrimSpace(s.Selector) == "" {
		a.Missing = "(empty selector)"
		return a
	}
	a.Sel = plan.ParseSelector(s.Selector)
	if a.Sel.Engine != plan.EngineRef {
		return a
	}
	ref := a.Sel.String()
	bucket, ok := locator.ParseBucket(a.Sel.Value)
	if !ok || store == nil {
		a.Missing = ref
		return a
	}
	raw, _, found := store.Resolve(page, bucket, a.Sel.Name)
	if !found {
		a.Missing = ref
		return a
	}
	a.Sel = plan.ParseSelector(raw)
	a.Selector = raw
	return a
}

// identityStep turns a page identity into the assertion that proves the
// browser landed on that page.
func identityStep(id *locator.Identity) (plan.Step, bool) {
	switch strings.ToLower(id.Kind) {
	case "role":
		if id.Role != "" {
			return plan.ExpectVisible(plan.Selector{Engine: plan.EngineRole, Value: id.Role, Name: id.Name}.String()), true
		}
	case "text":
		if id.Text != "" {
			return plan.ExpectText(id.Text), true
		}
	case "locator":
		if id.Selector != "" {
			return plan.ExpectVisible(id.Selector), true
		}
	}
	switch {
	case id.Selector != "":
		return plan.ExpectVisible(id.Selector), true
	case id.Text != "":
		return plan.ExpectText(id.Text), true
	}
	return plan.Step{}, false
}
