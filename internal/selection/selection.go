// Package selection implements the paginated toggle list used to pick the
// destinations of a job. The selected set lives in the store; the controller
// only renders pages and applies toggle/save-all mutations.
package selection

import (
	"context"
	"errors"

	"castbot/internal/model"
	"castbot/pkg/tgui"
)

const (
	PageSize = 6
	Columns  = 2
)

// ErrNoCandidates is returned when there is nothing to select from. Callers
// abort the flow before showing a keyboard.
var ErrNoCandidates = errors.New("selection: no candidates")

// Store is the subset of the job store the controller mutates.
type Store interface {
	AddDestination(ctx context.Context, jobID int64, c model.Candidate) error
	RemoveDestination(ctx context.Context, jobID, externalID int64) error
	ListDestinations(ctx context.Context, jobID int64) ([]model.Destination, error)
	ReplaceDestinations(ctx context.Context, jobID int64, cs []model.Candidate) error
}

// Set is a selected set keyed by candidate id.
type Set map[int64]struct{}

func (s Set) Has(id int64) bool {
	_, ok := s[id]
	return ok
}

func SetOf(dests []model.Destination) Set {
	out := make(Set, len(dests))
	for _, d := range dests {
		out[d.ExternalID] = struct{}{}
	}
	return out
}

type Item struct {
	Candidate model.Candidate
	Selected  bool
}

// Page is one rendered page of the candidate list.
type Page struct {
	Index int
	Count int
	Items []Item

	Prev         bool
	Next         bool
	SaveAll      bool
	SaveSelected bool
}

// PageCount is ceil(n/PageSize).
func PageCount(n int) int { return tgui.PageCount(n, PageSize) }

// RenderPage builds the page at pageIndex (clamped to the valid range).
// SaveAll is always offered; SaveSelected only once something is selected.
func RenderPage(candidates []model.Candidate, selected Set, pageIndex int) Page {
	sub, idx, prev, next := tgui.PaginateSlice(candidates, pageIndex, PageSize)
	items := make([]Item, 0, len(sub))
	for _, c := range sub {
		items = append(items, Item{Candidate: c, Selected: selected.Has(c.ID)})
	}
	return Page{
		Index:        idx,
		Count:        PageCount(len(candidates)),
		Items:        items,
		Prev:         prev,
		Next:         next,
		SaveAll:      true,
		SaveSelected: len(selected) > 0,
	}
}

// Controller applies selection mutations for one job at a time.
type Controller struct {
	store Store
}

func New(store Store) *Controller {
	return &Controller{store: store}
}

// Selected loads the job's current selected set.
func (c *Controller) Selected(ctx context.Context, jobID int64) (Set, error) {
	dests, err := c.store.ListDestinations(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return SetOf(dests), nil
}

// Toggle flips candidateID in the job's selected set and returns the new set.
func (c *Controller) Toggle(ctx context.Context, jobID int64, candidates []model.Candidate, candidateID int64) (Set, error) {
	cand, ok := find(candidates, candidateID)
	if !ok {
		return nil, model.Validation("selection.toggle", "This group is no longer available. Please pick another one or /cancel.")
	}
	sel, err := c.Selected(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if sel.Has(candidateID) {
		if err := c.store.RemoveDestination(ctx, jobID, candidateID); err != nil {
			return nil, err
		}
		delete(sel, candidateID)
		return sel, nil
	}
	if err := c.store.AddDestination(ctx, jobID, cand); err != nil {
		return nil, err
	}
	sel[candidateID] = struct{}{}
	return sel, nil
}

// Navigate renders another page. It never mutates anything.
func (c *Controller) Navigate(candidates []model.Candidate, selected Set, pageIndex int) Page {
	return RenderPage(candidates, selected, pageIndex)
}

// SaveAll replaces the selected set with every candidate.
func (c *Controller) SaveAll(ctx context.Context, jobID int64, candidates []model.Candidate) error {
	if len(candidates) == 0 {
		return ErrNoCandidates
	}
	return c.store.ReplaceDestinations(ctx, jobID, candidates)
}

// SaveSelected confirms the current selection without touching the store. An
// empty selection is refused: the button is not shown in that case, so this
// only happens with a stale keyboard.
func (c *Controller) SaveSelected(ctx context.Context, jobID int64) (Set, error) {
	sel, err := c.Selected(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if len(sel) == 0 {
		return nil, model.Validation("selection.save", "Select at least one group or press SAVE ALL.")
	}
	return sel, nil
}

func find(candidates []model.Candidate, id int64) (model.Candidate, bool) {
	for _, c := range candidates {
		if c.ID == id {
			return c, true
		}
	}
	return model.Candidate{}, false
}
