package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/leesh5000/picktrend/internal/trend"
	"go.uber.org/zap"
)

// Message is a platform-neutral digest; posters apply their own markup.
type Message struct {
	Title string
	Lines []string
}

// Poster delivers a digest to one chat platform.
type Poster interface {
	Platform() string
	Post(ctx context.Context, msg Message) error
}

// Digest posts the top of a freshly generated leaderboard.
type Digest struct {
	posters []Poster
	top     int
	kinds   map[trend.PeriodKind]bool
	logger  *zap.Logger
}

// NewDigest builds a digest for the given period kinds; none means daily only.
func NewDigest(posters []Poster, top int, kinds []trend.PeriodKind, logger *zap.Logger) *Digest {
	if top <= 0 {
		top = 10
	}
	if len(kinds) == 0 {
		kinds = []trend.PeriodKind{trend.PeriodDaily}
	}
	d := &Digest{
		posters: posters,
		top:     top,
		kinds:   make(map[trend.PeriodKind]bool, len(kinds)),
		logger:  logger.With(zap.String("component", "notify")),
	}
	for _, k := range kinds {
		d.kinds[k] = true
	}
	return d
}

// Publish sends the digest to every poster. Individual failures are
// logged and joined; one platform failing does not stop the others.
func (d *Digest) Publish(ctx context.Context, p trend.RankingPeriod, entries []trend.RankingEntry) error {
	if !d.kinds[p.Kind] || len(d.posters) == 0 || len(entries) == 0 {
		return nil
	}
	msg := Format(p, entries, d.top)

	var errs []error
	for _, poster := range d.posters {
		if err := poster.Post(ctx, msg); err != nil {
			d.logger.Warn("digest post failed", zap.String("platform", poster.Platform()), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", poster.Platform(), err))
		}
	}
	return errors.Join(errs...)
}

// Format renders the first top entries with their rank movement.
func Format(p trend.RankingPeriod, entries []trend.RankingEntry, top int) Message {
	n := min(top, len(entries))
	lines := make([]string, 0, n)
	for _, e := range entries[:n] {
		lines = append(lines, fmt.Sprintf("%d. %s (%.1f) %s", e.Rank, e.Keyword, e.Score, Movement(e)))
	}
	return Message{Title: title(p), Lines: lines}
}

// Movement is "NEW", "▲n", "▼n" or "-".
func Movement(e trend.RankingEntry) string {
	if e.IsNew() {
		return "NEW"
	}
	switch d := e.RankChange(); {
	case d > 0:
		return fmt.Sprintf("▲%d", d)
	case d < 0:
		return fmt.Sprintf("▼%d", -d)
	}
	return "-"
}

func title(p trend.RankingPeriod) string {
	switch p.Kind {
	case trend.PeriodDaily:
		return fmt.Sprintf("일간 트렌드 %04d-%02d-%02d", p.Key.Year, p.Key.Month, p.Key.Day)
	case trend.PeriodMonthly:
		return fmt.Sprintf("월간 트렌드 %04d-%02d", p.Key.Year, p.Key.Month)
	}
	return fmt.Sprintf("연간 트렌드 %04d", p.Key.Year)
}

func (m Message) body() string {
	return strings.Join(m.Lines, "\n")
}
