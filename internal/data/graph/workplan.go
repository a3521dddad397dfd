package graph

import (
	"context"

	"github.com/strataline/graphmind/internal/domain"
)

// Sprints loads every sprint in a project along with task counts, the most
// recent task activity timestamp, and the roadmap lane of its containing
// epic. The active-work selector ranks purely from this projection.
func (s *Store) Sprints(ctx context.Context, projectID string) ([]domain.Sprint, error) {
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (sprint:Sprint {project_id: $project_id})
		OPTIONAL MATCH (sprint)-[:CONTAINS]->(task:Task)
		OPTIONAL MATCH (epic:Epic)-[:CONTAINS]->(sprint)
		WITH sprint, epic,
			count(task) AS task_count,
			count(CASE WHEN task.status = 'done' THEN 1 END) AS done_count,
			max(task.updated_at) AS last_activity
		RETURN sprint.id AS id, sprint.project_id AS project_id,
			sprint.title AS title, sprint.status AS status,
			sprint.progress AS progress, sprint.completed_at AS completed_at,
			sprint.created_at AS created_at,
			task_count, done_count, last_activity,
			epic.id AS epic_id, epic.roadmap_lane AS epic_lane
		ORDER BY sprint.created_at DESC, sprint.id ASC`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Sprint, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Sprint{
			ID:             asString(row["id"]),
			ProjectID:      asString(row["project_id"]),
			Title:          asString(row["title"]),
			Status:         domain.SprintStatus(asString(row["status"])),
			Progress:       asFloat(row["progress"]),
			TaskCount:      asInt(row["task_count"]),
			DoneTaskCount:  asInt(row["done_count"]),
			EpicID:         asString(row["epic_id"]),
			EpicLane:       domain.EpicLane(asString(row["epic_lane"])),
			LastActivityAt: asTimePtr(row["last_activity"]),
			CompletedAt:    asTimePtr(row["completed_at"]),
			CreatedAt:      asTime(row["created_at"]),
		})
	}
	return out, nil
}

// TasksForSprint loads a sprint's tasks ordered by priority then recency.
func (s *Store) TasksForSprint(ctx context.Context, projectID, sprintID string) ([]domain.Task, error) {
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (sprint:Sprint {id: $sprint_id, project_id: $project_id})-[:CONTAINS]->(task:Task)
		RETURN task.id AS id, task.project_id AS project_id, task.title AS title,
			task.status AS status, task.priority AS priority,
			task.assignee AS assignee, task.blocked_reason AS blocked_reason,
			task.updated_at AS updated_at, task.created_at AS created_at
		ORDER BY coalesce(task.priority, 999) ASC, task.updated_at DESC, task.id ASC`,
		map[string]any{"sprint_id": sprintID, "project_id": projectID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Task{
			ID:            asString(row["id"]),
			ProjectID:     asString(row["project_id"]),
			SprintID:      sprintID,
			Title:         asString(row["title"]),
			Status:        domain.TaskStatus(asString(row["status"])),
			Priority:      asInt(row["priority"]),
			Assignee:      asString(row["assignee"]),
			BlockedReason: asString(row["blocked_reason"]),
			UpdatedAt:     asTime(row["updated_at"]),
			CreatedAt:     asTime(row["created_at"]),
		})
	}
	return out, nil
}

// Epics loads a project's epics for alert generation.
func (s *Store) Epics(ctx context.Context, projectID string) ([]domain.Epic, error) {
	rows, err := s.run.QueryRecords(ctx, `
		MATCH (epic:Epic {project_id: $project_id})
		RETURN epic.id AS id, epic.project_id AS project_id, epic.title AS title,
			epic.roadmap_lane AS lane, epic.roadmap_status AS status,
			epic.updated_at AS updated_at
		ORDER BY epic.updated_at DESC, epic.id ASC`,
		map[string]any{"project_id": projectID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Epic, 0, len(rows))
	for _, row := range rows {
		out = append(out, domain.Epic{
			ID:        asString(row["id"]),
			ProjectID: asString(row["project_id"]),
			Title:     asString(row["title"]),
			Lane:      domain.EpicLane(asString(row["lane"])),
			Status:    asString(row["status"]),
			UpdatedAt: asTime(row["updated_at"]),
		})
	}
	return out, nil
}
