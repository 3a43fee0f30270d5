package quest

import (
	"context"
	"sort"

	"gorm.io/gorm"

	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/model"
)

// ObjectiveState is one objective of a started quest.
type ObjectiveState struct {
	Index     int               `json:"index"`
	Objective catalog.Objective `json:"-"`
	Kind      string            `json:"kind"`
	Label     string            `json:"label"`
	Current   int               `json:"current"`
	Required  int               `json:"required"`
	Completed bool              `json:"completed"`
	Location  *model.Placement  `json:"location,omitempty"`
}

// ActiveQuest is a started quest with its objectives in declared order.
type ActiveQuest struct {
	Instance         *Instance         `json:"-"`
	InstanceID       string            `json:"instance_id"`
	Name             string            `json:"name"`
	Category         string            `json:"category"`
	Status           model.QuestStatus `json:"status"`
	Objectives       []ObjectiveState  `json:"objectives"`
	CurrentObjective int               `json:"current_objective"` // -1 when all are complete
	Completion       model.Placement   `json:"completion"`
	CompletionNPC    string            `json:"completion_npc"`
	EndsAt           string            `json:"ends_at"`
}

// Current returns the first incomplete objective, or nil.
func (q *ActiveQuest) Current() *ObjectiveState {
	if q.CurrentObjective < 0 || q.CurrentObjective >= len(q.Objectives) {
		return nil
	}
	return &q.Objectives[q.CurrentObjective]
}

// QuestSummary is the short form used in zone lists.
type QuestSummary struct {
	InstanceID string `json:"instance_id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	NPC        string `json:"npc,omitempty"`
	Objective  string `json:"objective,omitempty"`
	Tutorial   bool   `json:"tutorial"`
}

// ZoneQuests buckets every relevant instance for one user on one tile.
type ZoneQuests struct {
	Available   []QuestSummary `json:"available"`
	InProgress  []QuestSummary `json:"in_progress"`
	Completable []QuestSummary `json:"completable"`
	Elsewhere   []QuestSummary `json:"elsewhere"`
}

// Indicator holds the three map flags of one tile.
type Indicator struct {
	Available   bool `json:"available"`
	Objective   bool `json:"objective"`
	Completable bool `json:"completable"`
}

func (i Indicator) any() bool { return i.Available || i.Objective || i.Completable }

// NPCInteraction is a talk objective that can be advanced on this tile.
type NPCInteraction struct {
	InstanceID string   `json:"instance_id"`
	QuestName  string   `json:"quest_name"`
	NPC        string   `json:"npc"`
	NPCName    string   `json:"npc_name"`
	Objective  int      `json:"objective"`
	Step       int      `json:"step"`
	Dialog     []string `json:"dialog"`
}

// questLog loads the user's quests in the given statuses, oldest first.
func (e *Engine) questLog(ctx context.Context, db *gorm.DB, userID int64, statuses ...model.QuestStatus) ([]ActiveQuest, error) {
	var progress []model.QuestProgress
	if err := db.Where("user_id = ? AND status IN ?", userID, statuses).
		Order("started_at, instance_id").Find(&progress).Error; err != nil {
		return nil, err
	}
	if len(progress) == 0 {
		return nil, nil
	}
	ids := make([]string, len(progress))
	for i, p := range progress {
		ids[i] = p.InstanceID
	}
	instances, err := e.loadInstances(db, ids)
	if err != nil {
		return nil, err
	}
	var objRows []model.ObjectiveProgress
	if err := db.Where("user_id = ? AND instance_id IN ?", userID, ids).
		Order("instance_id, objective").Find(&objRows).Error; err != nil {
		return nil, err
	}
	byInstance := make(map[string][]model.ObjectiveProgress, len(ids))
	for _, r := range objRows {
		byInstance[r.InstanceID] = append(byInstance[r.InstanceID], r)
	}

	out := make([]ActiveQuest, 0, len(progress))
	for _, p := range progress {
		in, ok := instances[p.InstanceID]
		if !ok {
			continue
		}
		out = append(out, e.annotate(in, p, byInstance[p.InstanceID]))
	}
	return out, nil
}

func (e *Engine) annotate(in *Instance, p model.QuestProgress, rows []model.ObjectiveProgress) ActiveQuest {
	tpl := in.Template
	q := ActiveQuest{
		Instance:         in,
		InstanceID:       in.ID,
		Name:             tpl.Name,
		Category:         tpl.Category,
		Status:           p.Status,
		CurrentObjective: -1,
		Completion:       model.Placement{X: in.CompletionX, Y: in.CompletionY},
		CompletionNPC:    e.npcName(in.CompletionNPC),
		EndsAt:           in.EndsAt.UTC().Format("15:04"),
	}
	state := make(map[int]model.ObjectiveProgress, len(rows))
	for _, r := range rows {
		state[r.Objective] = r
	}
	for i, obj := range tpl.Objectives {
		r := state[i]
		os := ObjectiveState{
			Index:     i,
			Objective: obj,
			Kind:      string(obj.Kind()),
			Label:     e.cat.Describe(obj),
			Current:   r.Current,
			Required:  r.Required,
			Completed: r.Completed,
		}
		if os.Required == 0 {
			os.Required = obj.Required()
		}
		if pl, ok := in.Placement(i); ok {
			pl := pl
			os.Location = &pl
		}
		if !os.Completed && q.CurrentObjective < 0 {
			q.CurrentObjective = i
		}
		q.Objectives = append(q.Objectives, os)
	}
	return q
}

// GetInProgressQuests returns the user's in_progress quests annotated with
// their current objective.
func (e *Engine) GetInProgressQuests(ctx context.Context, userID int64) ([]ActiveQuest, error) {
	return e.questLog(ctx, e.db.WithContext(ctx), userID, model.QuestStatusInProgress)
}

// GetQuestLog returns in_progress and completable quests.
func (e *Engine) GetQuestLog(ctx context.Context, userID int64) ([]ActiveQuest, error) {
	return e.questLog(ctx, e.db.WithContext(ctx), userID, model.QuestStatusInProgress, model.QuestStatusCompletable)
}

// objectiveHere reports whether the objective can be worked on (x,y).
// Gather and craft follow the resource, talk and explore follow the placed
// tile, and collect happens anywhere so it is never tied to a tile.
func (e *Engine) objectiveHere(in *Instance, st *ObjectiveState, x, y int) bool {
	switch o := st.Objective.(type) {
	case catalog.Gather:
		if !e.cat.OffersResource(x, y, o.Resource) {
			return false
		}
		if o.Zone == "" {
			return true
		}
		tt, ok := e.cat.TileTypeAt(x, y)
		return ok && tt.ID == o.Zone
	case catalog.Craft:
		return e.cat.OffersResource(x, y, o.Resource)
	case catalog.Talk, catalog.Explore:
		p, ok := in.Placement(st.Index)
		return ok && p.X == x && p.Y == y
	case catalog.Collect:
		return false
	default:
		return false
	}
}

func (e *Engine) summary(in *Instance, npc string, st *ObjectiveState) QuestSummary {
	s := QuestSummary{
		InstanceID: in.ID,
		Name:       in.Template.Name,
		Category:   in.Template.Category,
		Tutorial:   in.Tutorial,
	}
	if npc != "" {
		s.NPC = e.npcName(npc)
	}
	if st != nil {
		s.Objective = st.Label
	}
	return s
}

// GetZoneQuestsForUser places every active instance, plus the user's own
// unfinished ones, into exactly one bucket relative to (x,y). Completed
// quests and instances given elsewhere that the user has not taken are
// left out.
func (e *Engine) GetZoneQuestsForUser(ctx context.Context, userID int64, x, y int) (ZoneQuests, error) {
	db := e.db.WithContext(ctx)
	var zq ZoneQuests

	mine, err := e.questLog(ctx, db, userID, model.QuestStatusInProgress, model.QuestStatusCompletable)
	if err != nil {
		return zq, err
	}
	taken, err := e.takenIDs(db, userID)
	if err != nil {
		return zq, err
	}

	active, err := e.activeInstances(db, e.now())
	if err != nil {
		return zq, err
	}
	for _, in := range active {
		if taken[in.ID] {
			continue
		}
		if in.GiverX == x && in.GiverY == y {
			zq.Available = append(zq.Available, e.summary(in, in.GiverNPC, nil))
		}
	}

	for i := range mine {
		q := &mine[i]
		switch q.Status {
		case model.QuestStatusInProgress:
			cur := q.Current()
			if cur != nil && e.objectiveHere(q.Instance, cur, x, y) {
				zq.InProgress = append(zq.InProgress, e.summary(q.Instance, "", cur))
			} else {
				zq.Elsewhere = append(zq.Elsewhere, e.summary(q.Instance, "", cur))
			}
		case model.QuestStatusCompletable:
			if q.Completion.X == x && q.Completion.Y == y {
				zq.Completable = append(zq.Completable, e.summary(q.Instance, q.Instance.CompletionNPC, nil))
			} else {
				zq.Elsewhere = append(zq.Elsewhere, e.summary(q.Instance, q.Instance.CompletionNPC, nil))
			}
		}
	}
	return zq, nil
}

// takenIDs returns every instance the user has a progress row for,
// whatever its status.
func (e *Engine) takenIDs(db *gorm.DB, userID int64) (map[string]bool, error) {
	var ids []string
	if err := db.Model(&model.QuestProgress{}).Where("user_id = ?", userID).Pluck("instance_id", &ids).Error; err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

// GetMapIndicatorsForUser computes the three flags for each visible tile,
// OR-merged across all quests. Tiles with no flag set are omitted.
func (e *Engine) GetMapIndicatorsForUser(ctx context.Context, userID int64, visible []catalog.Point) (map[catalog.Point]Indicator, error) {
	db := e.db.WithContext(ctx)
	out := make(map[catalog.Point]Indicator)
	if len(visible) == 0 {
		return out, nil
	}
	inView := make(map[catalog.Point]bool, len(visible))
	for _, p := range visible {
		inView[p] = true
	}
	mark := func(p catalog.Point, set func(*Indicator)) {
		if !inView[p] {
			return
		}
		ind := out[p]
		set(&ind)
		out[p] = ind
	}

	taken, err := e.takenIDs(db, userID)
	if err != nil {
		return nil, err
	}
	active, err := e.activeInstances(db, e.now())
	if err != nil {
		return nil, err
	}
	for _, in := range active {
		if !taken[in.ID] {
			mark(catalog.Point{X: in.GiverX, Y: in.GiverY}, func(i *Indicator) { i.Available = true })
		}
	}

	mine, err := e.questLog(ctx, db, userID, model.QuestStatusInProgress, model.QuestStatusCompletable)
	if err != nil {
		return nil, err
	}
	for i := range mine {
		q := &mine[i]
		if q.Status == model.QuestStatusCompletable {
			mark(catalog.Point{X: q.Completion.X, Y: q.Completion.Y}, func(i *Indicator) { i.Completable = true })
			continue
		}
		cur := q.Current()
		if cur == nil {
			continue
		}
		for _, p := range visible {
			if e.objectiveHere(q.Instance, cur, p.X, p.Y) {
				mark(p, func(i *Indicator) { i.Objective = true })
			}
		}
	}
	for p, ind := range out {
		if !ind.any() {
			delete(out, p)
		}
	}
	return out, nil
}

// GetZoneNPCInteractionsForUser lists in-progress quests whose current
// objective is a talk placed on (x,y).
func (e *Engine) GetZoneNPCInteractionsForUser(ctx context.Context, userID int64, x, y int) ([]NPCInteraction, error) {
	mine, err := e.GetInProgressQuests(ctx, userID)
	if err != nil {
		return nil, err
	}
	var out []NPCInteraction
	for i := range mine {
		q := &mine[i]
		cur := q.Current()
		if cur == nil {
			continue
		}
		talk, ok := cur.Objective.(catalog.Talk)
		if !ok || !e.objectiveHere(q.Instance, cur, x, y) {
			continue
		}
		out = append(out, NPCInteraction{
			InstanceID: q.InstanceID,
			QuestName:  q.Name,
			NPC:        talk.NPC,
			NPCName:    e.npcName(talk.NPC),
			Objective:  cur.Index,
			Step:       cur.Current,
			Dialog:     talk.Dialog,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstanceID < out[j].InstanceID })
	return out, nil
}
