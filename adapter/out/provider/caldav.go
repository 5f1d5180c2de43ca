package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"

	"tminus/core/port/out"
)

// CalDAVAdapter implements out.CalendarProviderPort against a generic CalDAV
// server. CalDAV carries no notion of our extended-property tags and no
// push-notification mechanism, so it is read-only: every write and channel
// method returns out.ErrReadOnlySource.
type CalDAVAdapter struct {
	endpoint string
}

func NewCalDAVAdapter(endpoint string) *CalDAVAdapter {
	return &CalDAVAdapter{endpoint: endpoint}
}

func (a *CalDAVAdapter) Name() string { return "caldav" }

func (a *CalDAVAdapter) client(account *out.ProviderAuth) (*caldav.Client, error) {
	httpClient := webdav.HTTPClientWithBasicAuth(http.DefaultClient, account.RemoteAccount, account.AccessToken)
	c, err := caldav.NewClient(httpClient, a.endpoint)
	if err != nil {
		return nil, fmt.Errorf("caldav: build client: %w", err)
	}
	return c, nil
}

// ResolvePrimaryCalendar walks the CalDAV discovery chain (current-user
// principal -> calendar home set -> first calendar) since CalDAV has no
// concept of a single "primary" calendar the way Google/Outlook do.
func (a *CalDAVAdapter) ResolvePrimaryCalendar(ctx context.Context, account *out.ProviderAuth) (string, error) {
	c, err := a.client(account)
	if err != nil {
		return "", err
	}

	principal, err := c.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("caldav: find principal: %w", err)
	}
	homeSet, err := c.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("caldav: find calendar home set: %w", err)
	}
	calendars, err := c.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("caldav: find calendars: %w", err)
	}
	if len(calendars) == 0 {
		return "", fmt.Errorf("caldav: no calendars under %s", homeSet)
	}
	return calendars[0].Path, nil
}

func (a *CalDAVAdapter) FullList(ctx context.Context, account *out.ProviderAuth, calendarID string, window out.TimePeriod) (*out.ProviderListResult, error) {
	c, err := a.client(account)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     "VCALENDAR",
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{{
				Name:  "VEVENT",
				Start: window.Start,
				End:   window.End,
			}},
		},
	}

	objects, err := c.QueryCalendar(ctx, calendarID, query)
	if err != nil {
		return nil, fmt.Errorf("caldav: query calendar: %w", err)
	}

	var events []out.ProviderEventNormalized
	for _, obj := range objects {
		events = append(events, a.fromCalendarObject(&obj)...)
	}

	// CalDAV has no sync-token/cursor concept comparable to Google/Outlook;
	// every list is a full list, so the cursor is always empty.
	return &out.ProviderListResult{Events: events}, nil
}

// IncrementalList has nothing to resume from: CalDAV exposes no delta
// protocol in this adapter, so every call returns CursorInvalid with no
// events and lists nothing itself; the caller's invalid-cursor path does
// the full list.
func (a *CalDAVAdapter) IncrementalList(ctx context.Context, account *out.ProviderAuth, calendarID, cursor string) (*out.ProviderListResult, error) {
	return &out.ProviderListResult{CursorInvalid: true}, nil
}

func (a *CalDAVAdapter) CreateEvent(ctx context.Context, account *out.ProviderAuth, calendarID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	return nil, out.ErrReadOnlySource
}

func (a *CalDAVAdapter) PatchEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	return nil, out.ErrReadOnlySource
}

func (a *CalDAVAdapter) DeleteEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string) error {
	return out.ErrReadOnlySource
}

func (a *CalDAVAdapter) RegisterChannel(ctx context.Context, account *out.ProviderAuth, calendarID, channelToken string) (*out.ChannelRegistration, error) {
	return nil, out.ErrReadOnlySource
}

func (a *CalDAVAdapter) RenewChannel(ctx context.Context, account *out.ProviderAuth, calendarID string, existing *out.ChannelRegistration) (*out.ChannelRegistration, error) {
	return nil, out.ErrReadOnlySource
}

func (a *CalDAVAdapter) StopChannel(ctx context.Context, account *out.ProviderAuth, reg *out.ChannelRegistration) error {
	return out.ErrReadOnlySource
}

// FreeBusy is derived client-side from a full list rather than a native
// CalDAV free-busy-query REPORT, since not every CalDAV server implements
// one reliably.
func (a *CalDAVAdapter) FreeBusy(ctx context.Context, account *out.ProviderAuth, calendarIDs []string, window out.TimePeriod) (map[string][]out.TimePeriod, error) {
	result := make(map[string][]out.TimePeriod, len(calendarIDs))
	for _, calID := range calendarIDs {
		list, err := a.FullList(ctx, account, calID, window)
		if err != nil {
			return nil, err
		}
		var periods []out.TimePeriod
		for _, ev := range list.Events {
			if ev.Deleted || ev.Transparent {
				continue
			}
			periods = append(periods, out.TimePeriod{Start: ev.Start, End: ev.End})
		}
		result[calID] = periods
	}
	return result, nil
}

func (a *CalDAVAdapter) fromCalendarObject(obj *caldav.CalendarObject) []out.ProviderEventNormalized {
	if obj.Data == nil {
		return nil
	}
	var events []out.ProviderEventNormalized
	for _, ev := range obj.Data.Events() {
		n := out.ProviderEventNormalized{RemoteID: obj.Path}
		if uid, err := ev.Props.Text(ical.PropUID); err == nil {
			n.RemoteID = uid
		}
		if summary, err := ev.Props.Text(ical.PropSummary); err == nil {
			n.Title = summary
		}
		if desc, err := ev.Props.Text(ical.PropDescription); err == nil {
			n.Description = desc
		}
		if loc, err := ev.Props.Text(ical.PropLocation); err == nil {
			n.Location = loc
		}
		if status, err := ev.Props.Text(ical.PropStatus); err == nil {
			n.Status = status
			n.Deleted = status == "CANCELLED"
		}
		if start, err := ev.DateTimeStart(time.UTC); err == nil {
			n.Start = start
		}
		if end, err := ev.DateTimeEnd(time.UTC); err == nil {
			n.End = end
		}
		if rrule, err := ev.Props.Text(ical.PropRecurrenceRule); err == nil {
			n.RecurrenceRule = rrule
		}
		events = append(events, n)
	}
	return events
}

var _ out.CalendarProviderPort = (*CalDAVAdapter)(nil)
