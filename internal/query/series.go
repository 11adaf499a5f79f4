package query

import (
	"context"
	"fmt"

	"github.com/kon-rad/agent-tracker/internal/dates"
	"github.com/kon-rad/agent-tracker/internal/model"
	"github.com/kon-rad/agent-tracker/internal/storage"
)

type SeriesBuilder struct {
	source Source
}

func NewSeriesBuilder(source Source) *SeriesBuilder {
	return &SeriesBuilder{source: source}
}

// Build returns one point per calendar day in [startDate, endDate], oldest
// first, zero-filled where the source has no data.
func (b *SeriesBuilder) Build(ctx context.Context, startDate, endDate string, agents []string) ([]model.SeriesPoint, error) {
	start, err := dates.ParseDay(startDate)
	if err != nil {
		return nil, fmt.Errorf("%w: start_date: %v", storage.ErrInvalidInput, err)
	}
	end, err := dates.ParseDay(endDate)
	if err != nil {
		return nil, fmt.Errorf("%w: end_date: %v", storage.ErrInvalidInput, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("%w: end_date %s is before start_date %s", storage.ErrInvalidInput, endDate, startDate)
	}

	stats, err := b.source.DailyStats(ctx, startDate, endDate, agents)
	if err != nil {
		return nil, err
	}
	return GapFill(dates.Days(start, end), stats), nil
}

// GapFill emits a point for every day, in the order given.
func GapFill(days []string, stats map[string]*DayStats) []model.SeriesPoint {
	points := make([]model.SeriesPoint, 0, len(days))
	for _, day := range days {
		p := model.SeriesPoint{
			Date:       day,
			Models:     []string{},
			ModelUsage: map[string]int64{},
		}
		if d, ok := stats[day]; ok {
			p.Calls = d.Calls
			p.Errors = d.Errors
			p.Visitors = d.Visitors
			for m, n := range d.ModelUsage {
				p.ModelUsage[m] = n
			}
			p.Models = model.SortedModels(p.ModelUsage)
		}
		points = append(points, p)
	}
	return points
}
