// Package planner assembles the full clubs → courts → available-slots tree
// for a place and date, fanning the courts and slots lookups out through
// pkg/coalesce.ExecuteConcurrent the way §4.7 describes: bounded
// concurrency, original order preserved, a club or court that cannot be
// fetched degrading to an empty slice rather than failing the whole query.
package planner

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"encore.app/pkg/cache"
	"encore.app/pkg/coalesce"
	"encore.app/pkg/models"
)

// UpstreamClient is the narrow collaborator the planner needs from
// pkg/upstreamclient.
type UpstreamClient interface {
	GetClubs(ctx context.Context, placeID string) ([]models.Club, error)
	GetCourts(ctx context.Context, clubID int) ([]models.Court, error)
	GetAvailableSlots(ctx context.Context, clubID, courtID int, date string) ([]models.Slot, error)
}

const (
	defaultCourtsConcurrency = 5
	defaultSlotsConcurrency  = 10
)

// Planner is C7, the Availability Planner.
type Planner struct {
	client            UpstreamClient
	cache             *cache.Cache
	courtsConcurrency int
	slotsConcurrency  int
	log               *zap.Logger
}

// New constructs a Planner. A zero concurrency value falls back to the
// defaults §4.7 names (5 for courts, 10 for slots).
func New(client UpstreamClient, c *cache.Cache, courtsConcurrency, slotsConcurrency int, log *zap.Logger) *Planner {
	if courtsConcurrency <= 0 {
		courtsConcurrency = defaultCourtsConcurrency
	}
	if slotsConcurrency <= 0 {
		slotsConcurrency = defaultSlotsConcurrency
	}
	return &Planner{
		client:            client,
		cache:             c,
		courtsConcurrency: courtsConcurrency,
		slotsConcurrency:  slotsConcurrency,
		log:               log.Named("planner"),
	}
}

// GetAvailabilityOptimized implements getAvailabilityOptimized(placeId, date).
func (p *Planner) GetAvailabilityOptimized(ctx context.Context, placeID, date string) (models.AvailabilityTree, error) {
	freshKey := cache.GenerateKey(cache.TypeAvailability, placeID, date)
	staleKey := cache.GenerateStaleKey(cache.TypeAvailability, placeID, date)

	if res := p.cache.GetWithFallback(ctx, freshKey, staleKey); res.Found && !res.IsStale {
		var tree models.AvailabilityTree
		if err := json.Unmarshal(res.Data, &tree); err == nil {
			return tree, nil
		}
	}

	clubs, err := p.client.GetClubs(ctx, placeID)
	if err != nil {
		if res := p.cache.GetWithFallback(ctx, freshKey, staleKey); res.Found {
			var tree models.AvailabilityTree
			if uerr := json.Unmarshal(res.Data, &tree); uerr == nil {
				return tree, nil
			}
		}
		// NoCachedData maps to an empty tree at the top level, never an
		// error: a query always returns something.
		p.log.Warn("getClubs failed with no cached data, degrading to empty tree", zap.String("placeId", placeID), zap.Error(err))
		return models.EmptyAvailabilityTree(), nil
	}
	if len(clubs) == 0 {
		return models.EmptyAvailabilityTree(), nil
	}

	courtsByClub, err := p.fetchCourtsByClub(ctx, clubs)
	if err != nil {
		return models.AvailabilityTree{}, err
	}

	slotsByClubByCourt, err := p.fetchSlotsByClubByCourt(ctx, clubs, courtsByClub, date)
	if err != nil {
		return models.AvailabilityTree{}, err
	}

	tree := assembleTree(clubs, courtsByClub, slotsByClubByCourt)

	if body, merr := json.Marshal(tree); merr == nil {
		p.cache.SetWithIntelligentTTL(ctx, freshKey, body, cache.TypeAvailability, staleKey)
	}
	return tree, nil
}

// fetchCourtsByClub fans out getCourts(club.id) across clubs, preserving
// club order. A club whose courts cannot be fetched materializes as no
// courts rather than failing the whole tree.
func (p *Planner) fetchCourtsByClub(ctx context.Context, clubs []models.Club) ([][]models.Court, error) {
	tasks := make([]coalesce.Task, len(clubs))
	for i, club := range clubs {
		clubID := club.ID
		tasks[i] = func(ctx context.Context) (interface{}, error) {
			courts, err := p.client.GetCourts(ctx, clubID)
			if err != nil {
				p.log.Warn("courts fetch degraded to empty", zap.Int("clubId", clubID), zap.Error(err))
				return []models.Court{}, nil
			}
			return courts, nil
		}
	}

	results, err := coalesce.ExecuteConcurrent(ctx, tasks, p.courtsConcurrency)
	if err != nil {
		return nil, err
	}

	courtsByClub := make([][]models.Court, len(clubs))
	for i, r := range results {
		if r == nil {
			continue
		}
		courtsByClub[i] = r.([]models.Court)
	}
	return courtsByClub, nil
}

type slotRef struct{ clubIdx, courtIdx int }

// fetchSlotsByClubByCourt fans getAvailableSlots(club.id, court.id, date)
// out across every (club, court) pair in order, preserving the mapping back
// into courtsByClub's shape. A court with zero upstream slots, or whose
// fetch fails, materializes as an empty slot sequence.
func (p *Planner) fetchSlotsByClubByCourt(ctx context.Context, clubs []models.Club, courtsByClub [][]models.Court, date string) ([][][]models.Slot, error) {
	var tasks []coalesce.Task
	var refs []slotRef

	for ci, club := range clubs {
		clubID := club.ID
		for ki, court := range courtsByClub[ci] {
			courtID := court.ID
			tasks = append(tasks, func(ctx context.Context) (interface{}, error) {
				slots, err := p.client.GetAvailableSlots(ctx, clubID, courtID, date)
				if err != nil {
					p.log.Warn("slots fetch degraded to empty", zap.Int("clubId", clubID), zap.Int("courtId", courtID), zap.Error(err))
					return []models.Slot{}, nil
				}
				return slots, nil
			})
			refs = append(refs, slotRef{clubIdx: ci, courtIdx: ki})
		}
	}

	results, err := coalesce.ExecuteConcurrent(ctx, tasks, p.slotsConcurrency)
	if err != nil {
		return nil, err
	}

	slotsByClubByCourt := make([][][]models.Slot, len(clubs))
	for ci := range clubs {
		slotsByClubByCourt[ci] = make([][]models.Slot, len(courtsByClub[ci]))
	}
	for i, ref := range refs {
		if results[i] == nil {
			slotsByClubByCourt[ref.clubIdx][ref.courtIdx] = []models.Slot{}
			continue
		}
		slotsByClubByCourt[ref.clubIdx][ref.courtIdx] = results[i].([]models.Slot)
	}
	return slotsByClubByCourt, nil
}

func assembleTree(clubs []models.Club, courtsByClub [][]models.Court, slotsByClubByCourt [][][]models.Slot) models.AvailabilityTree {
	tree := models.AvailabilityTree{Clubs: make([]models.ClubAvailability, len(clubs))}
	for ci, club := range clubs {
		courts := courtsByClub[ci]
		ca := models.ClubAvailability{Club: club, Courts: make([]models.CourtAvailability, len(courts))}
		for ki, court := range courts {
			ca.Courts[ki] = models.CourtAvailability{Court: court, Available: slotsByClubByCourt[ci][ki]}
		}
		tree.Clubs[ci] = ca
	}
	return tree
}

// InvalidateCacheForPlace drops the composite availability tree cached for
// placeID. When date is nil every date's tree for that place is dropped.
func (p *Planner) InvalidateCacheForPlace(ctx context.Context, placeID string, date *string) int {
	if date != nil {
		n := p.cache.InvalidateByPattern(ctx, cache.GenerateKey(cache.TypeAvailability, placeID, *date))
		n += p.cache.InvalidateByPattern(ctx, cache.GenerateStaleKey(cache.TypeAvailability, placeID, *date))
		return n
	}
	n := p.cache.InvalidateByPattern(ctx, cache.GenerateKey(cache.TypeAvailability, placeID)+":*")
	n += p.cache.InvalidateByPattern(ctx, cache.GenerateStaleKey(cache.TypeAvailability, placeID)+":*")
	return n
}
