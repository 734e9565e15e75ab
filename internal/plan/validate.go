package plan

import (
	"errors"
	"fmt"
	"strings"
)

// Validate reports every structural problem with a plan at once.
func (p *TestPlan) Validate() error {
	var errs []error
	if strings.TrimSpace(p.BaseURL) == "" {
		errs = append(errs, errors.New("baseUrl is required"))
	}
	if len(p.Cases) == 0 {
		errs = append(errs, errors.New("plan has no cases"))
	}
	seen := make(map[string]int, len(p.Cases))
	for i, tc := range p.Cases {
		if strings.TrimSpace(tc.ID) == "" {
			errs = append(errs, fmt.Errorf("case %d: id is required", i))
		} else if prev, dup := seen[tc.ID]; dup {
			errs = append(errs, fmt.Errorf("case %d: duplicate id %q (first used by case %d)", i, tc.ID, prev))
		} else {
			seen[tc.ID] = i
		}
		if strings.TrimSpace(tc.Name) == "" {
			errs = append(errs, fmt.Errorf("case %d: name is required", i))
		}
	}
	return errors.Join(errs...)
}
