// Package score implements the pure priority scoring function used to order
// the work queue. No I/O: given the same task, weights, and clock, the same
// score comes back.
package score

import (
	"sort"
	"sync"
	"time"

	"github.com/cloud-shuttle/roundup/pkg/types"
)

// NoDueDateBaseline is the fixed score for tasks without a due date. It is
// low but nonzero, and deliberately below every in-range due-date score so a
// dateless task is distinguishable from one due today.
const NoDueDateBaseline = 0.1

// Scorer computes task scores against a weight configuration and a project
// importance map
type Scorer struct {
	Weights           types.PriorityWeights
	ProjectImportance map[string]float64 // project GID -> importance
	MinProjectScore   float64            // floor for unmapped projects

	// One reconciler per project registers its GID here while others score
	// concurrently, so the map is guarded.
	mu          sync.RWMutex
	projectGIDs map[int64]string // local project id -> GID
}

// NewScorer creates a scorer with the given weights and importance map
func NewScorer(weights types.PriorityWeights, importance map[string]float64, minProject float64) *Scorer {
	return &Scorer{
		Weights:           weights,
		ProjectImportance: importance,
		MinProjectScore:   minProject,
		projectGIDs:       make(map[int64]string),
	}
}

// SetProjectGID records the board GID backing a local project id. Safe to
// call concurrently with scoring.
func (s *Scorer) SetProjectGID(projectID int64, gid string) {
	s.mu.Lock()
	s.projectGIDs[projectID] = gid
	s.mu.Unlock()
}

// Score computes the component breakdown for one task at the given instant
func (s *Scorer) Score(task *types.Task, now time.Time) types.TaskScore {
	sc := types.TaskScore{
		DueDateScore:      dueDateScore(task.DueOn, now),
		DependencyScore:   dependencyScore(task),
		UserPriorityScore: userPriorityScore(task.UserPriority),
		ProjectScore:      s.projectScore(task.ProjectID),
		AgeScore:          ageScore(task.CreatedAt, now),
	}
	sc.TotalScore = s.Weights.DueDate*sc.DueDateScore +
		s.Weights.Dependency*sc.DependencyScore +
		s.Weights.UserPriority*sc.UserPriorityScore +
		s.Weights.ProjectImportance*sc.ProjectScore +
		s.Weights.AgeFactor*sc.AgeScore
	return sc
}

// ScoredTask pairs a task with its score
type ScoredTask struct {
	Task  *types.Task
	Score types.TaskScore
}

// Prioritize orders tasks by total score descending. Ties break by earlier
// created_at, so the ordering is a stable total order: two runs over the
// same input at the same instant agree exactly.
func (s *Scorer) Prioritize(tasks []*types.Task, now time.Time) []ScoredTask {
	scored := make([]ScoredTask, 0, len(tasks))
	for _, t := range tasks {
		if t.Completed {
			continue
		}
		scored = append(scored, ScoredTask{Task: t, Score: s.Score(t, now)})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score.TotalScore != scored[j].Score.TotalScore {
			return scored[i].Score.TotalScore > scored[j].Score.TotalScore
		}
		return scored[i].Task.CreatedAt < scored[j].Task.CreatedAt
	})
	return scored
}

// NextTask returns the highest-priority incomplete task, or nil when no task
// is eligible
func (s *Scorer) NextTask(tasks []*types.Task, now time.Time) *ScoredTask {
	scored := s.Prioritize(tasks, now)
	if len(scored) == 0 {
		return nil
	}
	return &scored[0]
}

// QueuePriority converts a total score into the integer priority stored on a
// work queue item
func QueuePriority(sc types.TaskScore) int {
	return int(sc.TotalScore * 100)
}

// dueDateScore rises monotonically as the due date approaches. Overdue tasks
// score the in-range maximum, so an overdue task never ranks below a
// non-overdue one on urgency.
func dueDateScore(dueOn *int64, now time.Time) float64 {
	if dueOn == nil {
		return NoDueDateBaseline
	}
	days := float64(*dueOn-now.Unix()) / 86400
	switch {
	case days < 0:
		return 1.0
	case days < 1:
		return 0.9
	case days <= 3:
		return 0.8
	case days <= 7:
		return 0.6
	case days <= 14:
		return 0.45
	case days <= 30:
		return 0.35
	default:
		return 0.25
	}
}

// dependencyScore elevates unblocking work: a task other incomplete work
// waits on outranks one that is itself waiting.
func dependencyScore(task *types.Task) float64 {
	switch {
	case !task.Blocked && task.Blocking:
		return 1.0
	case !task.Blocked:
		return 0.6
	default:
		return 0.2
	}
}

// userPriorityScore maps the explicit label to an ordinal scale; absence
// scores the middle value rather than zero
func userPriorityScore(p types.UserPriority) float64 {
	switch p {
	case types.PriorityHigh:
		return 1.0
	case types.PriorityLow:
		return 0.3
	default:
		return 0.6
	}
}

func (s *Scorer) projectScore(projectID int64) float64 {
	s.mu.RLock()
	gid, ok := s.projectGIDs[projectID]
	s.mu.RUnlock()
	if ok {
		if v, ok := s.ProjectImportance[gid]; ok {
			return v
		}
	}
	return s.MinProjectScore
}

// ageScore rises with task age and caps at 30 days so old low-urgency tasks
// cannot starve forever
func ageScore(createdAt int64, now time.Time) float64 {
	ageDays := float64(now.Unix()-createdAt) / 86400
	if ageDays < 0 {
		return 0
	}
	if ageDays > 30 {
		return 1.0
	}
	return ageDays / 30
}
