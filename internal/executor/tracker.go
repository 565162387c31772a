package executor

import (
	"sort"
	"sync"

	"github.com/miradorstack/mirador-remediation/internal/models"
)

type recordKey struct {
	planID   string
	actionID string
}

// Tracker holds execution records keyed by (plan id, action id) and the latest snapshot
// of every plan the executor has run. Readers never block the executing goroutine.
type Tracker struct {
	records sync.Map
	plans   sync.Map
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) record(rec models.ExecutionRecord) {
	t.records.Store(recordKey{planID: rec.PlanID, actionID: rec.ActionID}, rec)
}

func (t *Tracker) publish(plan *models.RemediationPlan) {
	t.plans.Store(plan.ID, plan.Clone())
}

// GetActionStatus returns the record for one action of one plan.
func (t *Tracker) GetActionStatus(planID, actionID string) (models.ExecutionRecord, bool) {
	v, ok := t.records.Load(recordKey{planID: planID, actionID: actionID})
	if !ok {
		return models.ExecutionRecord{}, false
	}
	return v.(models.ExecutionRecord), true
}

// GetPlanExecutions returns every record of a plan ordered by start time.
func (t *Tracker) GetPlanExecutions(planID string) []models.ExecutionRecord {
	out := make([]models.ExecutionRecord, 0)
	t.records.Range(func(key, value any) bool {
		if key.(recordKey).planID == planID {
			out = append(out, value.(models.ExecutionRecord))
		}
		return true
	})
	sortRecords(out)
	return out
}

// GetAllExecutions returns every record the tracker holds.
func (t *Tracker) GetAllExecutions() []models.ExecutionRecord {
	out := make([]models.ExecutionRecord, 0)
	t.records.Range(func(_, value any) bool {
		out = append(out, value.(models.ExecutionRecord))
		return true
	})
	sortRecords(out)
	return out
}

// Plan returns a copy of the latest published snapshot of a plan.
func (t *Tracker) Plan(planID string) (*models.RemediationPlan, bool) {
	v, ok := t.plans.Load(planID)
	if !ok {
		return nil, false
	}
	return v.(*models.RemediationPlan).Clone(), true
}

func sortRecords(recs []models.ExecutionRecord) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].PlanID != recs[j].PlanID {
			return recs[i].PlanID < recs[j].PlanID
		}
		if !recs[i].StartedAt.Equal(recs[j].StartedAt) {
			return recs[i].StartedAt.Before(recs[j].StartedAt)
		}
		return recs[i].ActionID < recs[j].ActionID
	})
}
