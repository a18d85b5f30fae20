package us

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
)

var _ CalendarClient = (*alpaca.Client)(nil)

// CalendarClient is the subset of the Alpaca trading client used to read
// the exchange calendar.
type CalendarClient interface {
	GetCalendar(req alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error)
}

// NewTradingClient returns an Alpaca trading client for calendar lookups.
func NewTradingClient(apiKey, apiSecret, baseURL string) *alpaca.Client {
	return alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
}

// sessionSettled is the ET wall-clock time after which a session's daily
// bar is considered final (extended hours plus settling).
const sessionSettled = 20*time.Hour + 5*time.Minute

// LatestFinishedTradingDay returns the most recent trading day whose session
// has settled as of now. The result is midnight UTC of that date.
func LatestFinishedTradingDay(client CalendarClient, now time.Time) (time.Time, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.Time{}, fmt.Errorf("loading ET timezone: %w", err)
	}
	now = now.In(et)

	days, err := client.GetCalendar(alpaca.GetCalendarRequest{
		Start: now.AddDate(0, 0, -10),
		End:   now,
	})
	if err != nil {
		return time.Time{}, fmt.Errorf("GetCalendar: %w", err)
	}

	today := now.Format(time.DateOnly)
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, et)
	settled := now.Sub(midnight) >= sessionSettled

	for i := len(days) - 1; i >= 0; i-- {
		d, err := time.Parse(time.DateOnly, days[i].Date)
		if err != nil {
			continue
		}
		switch {
		case days[i].Date == today && settled:
			return d, nil
		case days[i].Date < today:
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("no finished trading day in calendar")
}

// CalendarEndDate adapts LatestFinishedTradingDay to an EndDateFunc.
func CalendarEndDate(client CalendarClient) EndDateFunc {
	return func(ctx context.Context) (time.Time, error) {
		if err := ctx.Err(); err != nil {
			return time.Time{}, err
		}
		return LatestFinishedTradingDay(client, time.Now())
	}
}

// FixedEndDate returns an EndDateFunc that always yields t.
func FixedEndDate(t time.Time) EndDateFunc {
	return func(context.Context) (time.Time, error) { return t, nil }
}
