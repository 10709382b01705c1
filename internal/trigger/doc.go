// Package trigger turns stored schedules into timed firings.
//
// Daily and weekly schedules become five-field cron expressions parsed by
// robfig/cron; a once schedule is a single instant. The Engine computes
// the next fire time in the site timezone, arms one timer per schedule
// and re-arms recurring schedules after each fire. Every fire runs the
// chain on its own goroutine; the Engine knows nothing about conditions
// or commands.
//
// Day numbering differs between the two models:
//
//	schedule days_of_week: Monday=0 .. Sunday=6
//	cron day-of-week:      Sunday=0 .. Saturday=6
//
// so day d maps to cron day (d+1)%7.
//
// Dormant schedules (weekly with no days, once in the past) are refused
// with a *RegistrationError. The caller keeps them stored and simply
// does not hold a trigger for them.
//
// Usage:
//
//	eng := trigger.New(trigger.Config{Runner: executor, Store: repo, Location: loc})
//	registry.SetTrigger(eng)
//	if err := eng.Start(ctx, registry); err != nil {
//	    return err
//	}
//	defer eng.Stop(shutdownCtx)
package trigger
