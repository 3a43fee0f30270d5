// Package rotation retires expired quest instances and places a fresh
// batch of rotating quests onto concrete map tiles.
package rotation

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tilequest/server/cache"
	"github.com/tilequest/server/catalog"
	"github.com/tilequest/server/config"
	"github.com/tilequest/server/events"
	"github.com/tilequest/server/model"
)

const lockPrefix = "rotation:window:"

// Result summarizes one rotation.
type Result struct {
	Purged    int       `json:"purged"`
	Created   int       `json:"created"`
	Skipped   int       `json:"skipped"`
	Tutorials int       `json:"tutorials"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
}

type Rotator struct {
	db       *gorm.DB
	cat      *catalog.Catalog
	cache    cache.Cache
	bus      *events.Bus
	logger   *zap.Logger
	batch    int
	grace    time.Duration
	lifetime time.Duration
	rng      *rand.Rand
}

func New(db *gorm.DB, cat *catalog.Catalog, c cache.Cache, bus *events.Bus, cfg config.GameConfig, logger *zap.Logger) *Rotator {
	lifetime := cfg.InstanceLifetime
	if lifetime <= 0 {
		lifetime = 2 * time.Hour
	}
	return &Rotator{
		db:       db,
		cat:      cat,
		cache:    c,
		bus:      bus,
		logger:   logger,
		batch:    cfg.RotationBatchSize,
		grace:    cfg.RotationGrace,
		lifetime: lifetime,
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x9e3779b97f4a7c15)),
	}
}

// WithSource replaces the sampler, for reproducible rotations.
func (r *Rotator) WithSource(src rand.Source) *Rotator {
	r.rng = rand.New(src)
	return r
}

// Window returns the shared instance window for a rotation at now.
func (r *Rotator) Window(now time.Time) (time.Time, time.Time) {
	start := now.UTC().Truncate(time.Hour)
	return start, start.Add(r.lifetime)
}

// RunScheduled rotates once per window. A second trigger for the same
// window, from this process or another one sharing the cache, is a no-op
// unless the earlier run failed.
func (r *Rotator) RunScheduled(ctx context.Context, now time.Time) (Result, bool, error) {
	start, _ := r.Window(now)
	key := lockPrefix + start.Format(time.RFC3339)
	if r.cache != nil {
		ok, err := r.cache.SetNX(ctx, key, "1", time.Hour)
		if err != nil {
			return Result{}, false, err
		}
		if !ok {
			r.logger.Debug("rotation already ran for window", zap.Time("starts_at", start))
			return Result{}, false, nil
		}
	}
	res, err := r.RotateActiveQuests(ctx, now)
	if err != nil && r.cache != nil {
		// Release the window so the next trigger retries it.
		if derr := r.cache.Del(context.WithoutCancel(ctx), key); derr != nil {
			r.logger.Warn("release rotation lock failed", zap.String("key", key), zap.Error(derr))
		}
	}
	return res, err == nil, err
}

// RotateActiveQuests purges instances that ended more than the grace
// period ago, generates a new batch and re-stamps the tutorial instances.
func (r *Rotator) RotateActiveQuests(ctx context.Context, now time.Time) (Result, error) {
	now = now.UTC()
	start, end := r.Window(now)
	res := Result{StartsAt: start, EndsAt: end}
	db := r.db.WithContext(ctx)

	vacated, err := r.purge(db, now.Add(-r.grace), &res)
	if err != nil {
		return res, fmt.Errorf("purge instances: %w", err)
	}

	batch := r.generate(start, end, &res)
	if len(batch) > 0 {
		if err := db.CreateInBatches(batch, 100).Error; err != nil {
			return res, fmt.Errorf("insert batch: %w", err)
		}
	}
	res.Created = len(batch)

	tutorials, err := r.tutorials(start, end)
	if err != nil {
		return res, err
	}
	if len(tutorials) > 0 {
		err := db.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"template_id", "giver_npc", "giver_x", "giver_y",
				"completion_npc", "completion_x", "completion_y",
				"locations", "tutorial", "starts_at", "ends_at",
			}),
		}).Create(&tutorials).Error
		if err != nil {
			return res, fmt.Errorf("upsert tutorials: %w", err)
		}
	}
	res.Tutorials = len(tutorials)

	r.logger.Info("quest rotation",
		zap.Int("purged", res.Purged),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("tutorials", res.Tutorials),
		zap.Time("starts_at", start))

	if r.bus != nil {
		touched := vacated
		for _, q := range batch {
			touched[catalog.Point{X: q.GiverX, Y: q.GiverY}] = true
		}
		for p := range touched {
			r.bus.ZoneChanged(ctx, p.X, p.Y)
		}
	}
	return res, nil
}

// purge deletes expired rotating instances together with every progress
// row pointing at them, and tutorial rows no longer in the catalog.
// It returns the giver tiles of the removed instances.
func (r *Rotator) purge(db *gorm.DB, cutoff time.Time, res *Result) (map[catalog.Point]bool, error) {
	keep := make([]string, 0, len(r.cat.Tutorials))
	for _, t := range r.cat.Tutorials {
		keep = append(keep, t.ID)
	}
	vacated := make(map[catalog.Point]bool)
	err := db.Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.QuestInstance{}).Where("ends_at < ?", cutoff)
		if len(keep) > 0 {
			q = q.Where("NOT (tutorial = ? AND id IN ?)", true, keep)
		}
		var gone []model.QuestInstance
		if err := q.Select("id", "giver_x", "giver_y").Find(&gone).Error; err != nil {
			return err
		}
		if len(gone) == 0 {
			return nil
		}
		ids := make([]string, len(gone))
		for i, g := range gone {
			ids[i] = g.ID
			vacated[catalog.Point{X: g.GiverX, Y: g.GiverY}] = true
		}
		if err := tx.Where("instance_id IN ?", ids).Delete(&model.ObjectiveProgress{}).Error; err != nil {
			return err
		}
		if err := tx.Where("instance_id IN ?", ids).Delete(&model.QuestProgress{}).Error; err != nil {
			return err
		}
		del := tx.Where("id IN ?", ids).Delete(&model.QuestInstance{})
		if del.Error != nil {
			return del.Error
		}
		res.Purged = int(del.RowsAffected)
		return nil
	})
	return vacated, err
}

// generate samples batch templates and places each one. Templates that
// cannot be placed are skipped, so the batch may come out short.
func (r *Rotator) generate(start, end time.Time, res *Result) []model.QuestInstance {
	templates := r.cat.RotatingTemplates()
	if len(templates) == 0 || r.batch <= 0 {
		return nil
	}
	out := make([]model.QuestInstance, 0, r.batch)
	for i := 0; i < r.batch; i++ {
		tpl := templates[r.rng.IntN(len(templates))]
		inst, err := r.place(tpl)
		if err != nil {
			res.Skipped++
			r.logger.Warn("quest template skipped", zap.String("template", tpl.ID), zap.Error(err))
			continue
		}
		inst.ID = fmt.Sprintf("%s-%s", tpl.ID, uuid.NewString()[:8])
		inst.StartsAt, inst.EndsAt = start, end
		out = append(out, inst)
	}
	return out
}

func (r *Rotator) pick(zone string) (catalog.Point, error) {
	tiles := r.cat.TilesOfType(zone)
	if len(tiles) == 0 {
		return catalog.Point{}, fmt.Errorf("no accessible %q tiles on the map", zone)
	}
	return tiles[r.rng.IntN(len(tiles))], nil
}

// place binds a template to concrete tiles: the giver, the completion
// point (the giver's tile when both name the same zone) and one tile per
// talk or explore objective.
func (r *Rotator) place(tpl *catalog.QuestTemplate) (model.QuestInstance, error) {
	inst := model.QuestInstance{
		TemplateID:    tpl.ID,
		GiverNPC:      tpl.Giver.NPC,
		CompletionNPC: tpl.Completion.NPC,
	}
	giver, err := r.pick(tpl.Giver.Zone)
	if err != nil {
		return inst, fmt.Errorf("giver: %w", err)
	}
	completion := giver
	if tpl.Completion.Zone != tpl.Giver.Zone {
		if completion, err = r.pick(tpl.Completion.Zone); err != nil {
			return inst, fmt.Errorf("completion: %w", err)
		}
	}
	placements := make(map[int]model.Placement)
	for i, obj := range tpl.Objectives {
		zone, placed := catalog.PlacedZone(obj)
		if !placed {
			continue
		}
		p, err := r.pick(zone)
		if err != nil {
			return inst, fmt.Errorf("objective %d: %w", i, err)
		}
		placements[i] = model.Placement{X: p.X, Y: p.Y}
	}
	inst.GiverX, inst.GiverY = giver.X, giver.Y
	inst.CompletionX, inst.CompletionY = completion.X, completion.Y
	return inst, inst.SetPlacements(placements)
}

// tutorials builds the hand-placed instances for the window.
func (r *Rotator) tutorials(start, end time.Time) ([]model.QuestInstance, error) {
	out := make([]model.QuestInstance, 0, len(r.cat.Tutorials))
	for _, t := range r.cat.Tutorials {
		tpl, ok := r.cat.Quest(t.Template)
		if !ok {
			r.logger.Warn("tutorial references unknown template", zap.String("tutorial", t.ID), zap.String("template", t.Template))
			continue
		}
		inst := model.QuestInstance{
			ID:            t.ID,
			TemplateID:    tpl.ID,
			GiverNPC:      tpl.Giver.NPC,
			GiverX:        t.Giver.X,
			GiverY:        t.Giver.Y,
			CompletionNPC: tpl.Completion.NPC,
			CompletionX:   t.Completion.X,
			CompletionY:   t.Completion.Y,
			Tutorial:      true,
			StartsAt:      start,
			EndsAt:        end,
		}
		placements := make(map[int]model.Placement, len(t.Locations))
		for _, l := range t.Locations {
			placements[l.Objective] = model.Placement{X: l.X, Y: l.Y}
		}
		if err := inst.SetPlacements(placements); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, nil
}
