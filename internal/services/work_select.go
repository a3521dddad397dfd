package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// workplanSource is the slice of the graph store the selector reads.
type workplanSource interface {
	Sprints(ctx context.Context, projectID string) ([]domain.Sprint, error)
	TasksForSprint(ctx context.Context, projectID, sprintID string) ([]domain.Task, error)
	Epics(ctx context.Context, projectID string) ([]domain.Epic, error)
}

// ActiveWork is the selector's answer to "what should the caller resume
// now", computed from graph state alone.
type ActiveWork struct {
	Sprint       *domain.Sprint
	Tasks        []domain.Task
	NextTask     *domain.Task
	BlockedTasks []domain.Task
	Alerts       []domain.Alert
}

const (
	alertCap          = 3
	celebrationWindow = 14 * 24 * time.Hour
)

type ActiveWorkService struct {
	source workplanSource
	log    *logger.Logger
}

func NewActiveWorkService(source workplanSource, baseLog *logger.Logger) *ActiveWorkService {
	return &ActiveWorkService{
		source: source,
		log:    baseLog.With("service", "ActiveWork"),
	}
}

// SelectActiveWork picks the single most relevant sprint. The cascade:
//
//  1. Completed sprints and sprints under done/dropped epics are excluded.
//  2. Most recent task activity wins; epic lane (now > next > later) breaks
//     ties, then incompleteness (has tasks, <100% done).
//  3. With no activity-bearing candidate, the most recently created sprint
//     in the project wins, regardless of completion.
//  4. An explicit preferredSprintID always wins over the cascade.
//
// Identical graph snapshots produce identical selections and alert order.
func (s *ActiveWorkService) SelectActiveWork(ctx context.Context, projectID, preferredSprintID string) (*ActiveWork, error) {
	sprints, err := s.source.Sprints(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("select active work: load sprints: %w", err)
	}
	if len(sprints) == 0 {
		return &ActiveWork{}, nil
	}

	var selected *domain.Sprint
	if preferredSprintID != "" {
		for i := range sprints {
			if sprints[i].ID == preferredSprintID {
				selected = &sprints[i]
				break
			}
		}
		if selected == nil {
			return nil, fmt.Errorf("select active work: sprint %q not found: %w",
				preferredSprintID, domain.ErrInvalid)
		}
	}

	if selected == nil {
		selected = pickByCascade(sprints)
	}
	if selected == nil {
		return &ActiveWork{Alerts: buildAlerts(sprints, nil, "", "")}, nil
	}

	tasks, err := s.source.TasksForSprint(ctx, projectID, selected.ID)
	if err != nil {
		return nil, fmt.Errorf("select active work: load tasks: %w", err)
	}
	epics, err := s.source.Epics(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("select active work: load epics: %w", err)
	}

	out := &ActiveWork{
		Sprint: selected,
		Tasks:  tasks,
		Alerts: buildAlerts(sprints, epics, selected.ID, selected.EpicID),
	}
	for i := range tasks {
		switch tasks[i].Status {
		case domain.TaskBlocked:
			out.BlockedTasks = append(out.BlockedTasks, tasks[i])
		case domain.TaskInProgress, domain.TaskTodo:
			if out.NextTask == nil {
				out.NextTask = &tasks[i]
			}
		}
	}
	return out, nil
}

// pickByCascade applies steps 1-3. Returns nil only when the project has no
// sprints at all (callers guard that earlier).
func pickByCascade(sprints []domain.Sprint) *domain.Sprint {
	candidates := make([]domain.Sprint, 0, len(sprints))
	for _, sp := range sprints {
		if sp.Complete() {
			continue
		}
		if sp.EpicLane == domain.LaneDone || sp.EpicLane == domain.LaneDropped {
			continue
		}
		candidates = append(candidates, sp)
	}

	withActivity := make([]domain.Sprint, 0, len(candidates))
	for _, sp := range candidates {
		if sp.LastActivityAt != nil {
			withActivity = append(withActivity, sp)
		}
	}

	if len(withActivity) > 0 {
		sort.SliceStable(withActivity, func(i, j int) bool {
			a, b := withActivity[i], withActivity[j]
			if !a.LastActivityAt.Equal(*b.LastActivityAt) {
				return a.LastActivityAt.After(*b.LastActivityAt)
			}
			if pa, pb := domain.LanePriority(a.EpicLane), domain.LanePriority(b.EpicLane); pa != pb {
				return pa < pb
			}
			ia, ib := incomplete(a), incomplete(b)
			if ia != ib {
				return ia
			}
			return a.ID < b.ID
		})
		return &withActivity[0]
	}

	// No activity anywhere: most recently created sprint, completion
	// notwithstanding.
	recent := append([]domain.Sprint(nil), sprints...)
	sort.SliceStable(recent, func(i, j int) bool {
		if !recent[i].CreatedAt.Equal(recent[j].CreatedAt) {
			return recent[i].CreatedAt.After(recent[j].CreatedAt)
		}
		return recent[i].ID < recent[j].ID
	})
	return &recent[0]
}

func incomplete(sp domain.Sprint) bool {
	return sp.TaskCount > 0 && sp.DoneTaskCount < sp.TaskCount
}

// buildAlerts summarizes competing work: other in-progress sprints and
// epics, newest activity first, capped with a "+N more" overflow entry, then
// at most one celebration for a recently completed sprint. The selected
// sprint and its epic never appear.
func buildAlerts(sprints []domain.Sprint, epics []domain.Epic, selectedID, selectedEpicID string) []domain.Alert {
	type candidate struct {
		kind    string
		id      string
		message string
		at      time.Time
	}

	var inProgress []candidate
	var celebration *domain.Sprint
	for i := range sprints {
		sp := sprints[i]
		if sp.ID == selectedID {
			continue
		}
		if sp.Complete() {
			if sp.CompletedAt != nil && time.Since(*sp.CompletedAt) <= celebrationWindow {
				if celebration == nil || sp.CompletedAt.After(*celebration.CompletedAt) {
					celebration = &sprints[i]
				}
			}
			continue
		}
		if sp.Status == domain.SprintActive || sp.LastActivityAt != nil {
			inProgress = append(inProgress, candidate{
				kind:    "sprint",
				id:      sp.ID,
				message: fmt.Sprintf("Sprint %q is also in progress", sp.Title),
				at:      activityOrCreation(sp),
			})
		}
	}
	for _, ep := range epics {
		if ep.ID == selectedEpicID {
			continue
		}
		if ep.Lane != domain.LaneNow {
			continue
		}
		inProgress = append(inProgress, candidate{
			kind:    "epic",
			id:      ep.ID,
			message: fmt.Sprintf("Epic %q is in the now lane", ep.Title),
			at:      ep.UpdatedAt,
		})
	}

	sort.SliceStable(inProgress, func(i, j int) bool {
		if !inProgress[i].at.Equal(inProgress[j].at) {
			return inProgress[i].at.After(inProgress[j].at)
		}
		return inProgress[i].id < inProgress[j].id
	})

	var alerts []domain.Alert
	for i, c := range inProgress {
		if i == alertCap {
			alerts = append(alerts, domain.Alert{
				Kind:    "overflow",
				Message: fmt.Sprintf("+%d more in progress", len(inProgress)-alertCap),
			})
			break
		}
		alerts = append(alerts, domain.Alert{Kind: c.kind, ID: c.id, Message: c.message})
	}

	if celebration != nil {
		alerts = append(alerts, domain.Alert{
			Kind:    "celebration",
			ID:      celebration.ID,
			Message: fmt.Sprintf("Sprint %q was recently completed", celebration.Title),
		})
	}
	return alerts
}

func activityOrCreation(sp domain.Sprint) time.Time {
	if sp.LastActivityAt != nil {
		return *sp.LastActivityAt
	}
	return sp.CreatedAt
}
