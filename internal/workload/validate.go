package workload

import (
	"fmt"
	"strings"

	"github.com/me/threadsched/internal/kernel"
	"github.com/me/threadsched/pkg/model"
)

// Validate checks a scenario for semantic errors.
// Returns nil if valid, or an *model.APIError with FieldError details.
func Validate(sc *Scenario) *model.APIError {
	var errs []model.FieldError

	errs = append(errs, validateSettings(sc)...)
	errs = append(errs, validateMain(sc)...)
	errs = append(errs, validateThreads(sc)...)

	if len(errs) == 0 {
		return nil
	}
	return model.NewValidationError("scenario validation failed", errs...)
}

func validateSettings(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	if _, err := kernel.ParsePolicy(sc.Policy); err != nil {
		errs = append(errs, model.FieldError{Field: "policy", Message: err.Error()})
	}
	if sc.TimerFreq < 0 {
		errs = append(errs, model.FieldError{Field: "timer_freq", Message: "timer_freq must not be negative"})
	}
	if sc.TimeSlice < 0 {
		errs = append(errs, model.FieldError{Field: "time_slice", Message: "time_slice must not be negative"})
	}
	if sc.Pages < 0 {
		errs = append(errs, model.FieldError{Field: "pages", Message: "pages must not be negative"})
	}
	if sc.MaxTicks < 0 {
		errs = append(errs, model.FieldError{Field: "max_ticks", Message: "max_ticks must not be negative"})
	}
	for name, v := range sc.Semaphores {
		if v < 0 {
			errs = append(errs, model.FieldError{
				Field:   "semaphores." + name,
				Message: fmt.Sprintf("semaphore %q has negative initial value %d", name, v),
			})
		}
	}
	return errs
}

func validateMain(sc *Scenario) []model.FieldError {
	var errs []model.FieldError
	if p := sc.Main.Priority; p != nil && !model.ValidPriority(*p) {
		errs = append(errs, priorityError("main.priority", *p))
	}
	if !model.ValidNice(sc.Main.Nice) {
		errs = append(errs, niceError("main.nice", sc.Main.Nice))
	}
	return errs
}

func validateThreads(sc *Scenario) []model.FieldError {
	if len(sc.Threads) == 0 {
		return []model.FieldError{{Field: "threads", Message: "scenario must define at least one thread"}}
	}

	var errs []model.FieldError
	seen := make(map[string]bool)
	for i, th := range sc.Threads {
		path := fmt.Sprintf("threads[%d]", i)
		switch {
		case strings.TrimSpace(th.Name) == "":
			errs = append(errs, model.FieldError{Field: path + ".name", Message: "thread name is required"})
		case seen[th.Name]:
			errs = append(errs, model.FieldError{
				Field:   path + ".name",
				Message: fmt.Sprintf("duplicate thread name %q", th.Name),
			})
		}
		seen[th.Name] = true

		if !model.ValidPriority(th.InitialPriority()) {
			errs = append(errs, priorityError(path+".priority", th.InitialPriority()))
		}
		if !model.ValidNice(th.Nice) {
			errs = append(errs, niceError(path+".nice", th.Nice))
		}

		hasSteps, hasScript := len(th.Steps) > 0, strings.TrimSpace(th.Script) != ""
		if hasSteps == hasScript {
			errs = append(errs, model.FieldError{
				Field:   path,
				Message: fmt.Sprintf("thread %q must have exactly one of steps or script", th.Name),
			})
		}
		for j, st := range th.Steps {
			errs = append(errs, validateStep(sc, fmt.Sprintf("%s.steps[%d]", path, j), st)...)
		}
	}
	return errs
}

func validateStep(sc *Scenario, path string, st Step) []model.FieldError {
	acts := st.actions()
	if len(acts) != 1 {
		msg := "step has no action"
		if len(acts) > 1 {
			msg = fmt.Sprintf("step has several actions (%s); use one per step", strings.Join(acts, ", "))
		}
		return []model.FieldError{{Path: path, Message: msg}}
	}

	var errs []model.FieldError
	switch {
	case st.Run != nil && *st.Run < 0:
		errs = append(errs, model.FieldError{Path: path + ".run", Message: "run ticks must not be negative"})
	case st.SetPriority != nil && !model.ValidPriority(*st.SetPriority):
		errs = append(errs, priorityError(path+".set_priority", *st.SetPriority))
	case st.SetNice != nil && !model.ValidNice(*st.SetNice):
		errs = append(errs, niceError(path+".set_nice", *st.SetNice))
	case st.Down != "":
		errs = append(errs, semaphoreRef(sc, path+".down", st.Down)...)
	case st.Up != "":
		errs = append(errs, semaphoreRef(sc, path+".up", st.Up)...)
	}
	return errs
}

func semaphoreRef(sc *Scenario, path, name string) []model.FieldError {
	if _, ok := sc.Semaphores[name]; ok {
		return nil
	}
	return []model.FieldError{{Path: path, Message: fmt.Sprintf("undeclared semaphore %q", name)}}
}

func priorityError(field string, p int) model.FieldError {
	return model.FieldError{
		Field:   field,
		Message: fmt.Sprintf("priority %d out of range [%d, %d]", p, model.PriMin, model.PriMax),
	}
}

func niceError(field string, n int) model.FieldError {
	return model.FieldError{
		Field:   field,
		Message: fmt.Sprintf("nice %d out of range [%d, %d]", n, model.NiceMin, model.NiceMax),
	}
}
