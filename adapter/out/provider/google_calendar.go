package provider

import (
	"fmt"
	"time"

	"context"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"tminus/core/port/out"
	"tminus/core/projection"
)

// GoogleCalendarAdapter implements out.CalendarProviderPort against the
// Google Calendar v3 API.
type GoogleCalendarAdapter struct {
	oauthConfig *oauth2.Config
	webhookURL  string // HTTPS callback Google posts push notifications to
}

func NewGoogleCalendarAdapter(oauthConfig *oauth2.Config, webhookURL string) *GoogleCalendarAdapter {
	return &GoogleCalendarAdapter{oauthConfig: oauthConfig, webhookURL: webhookURL}
}

func (a *GoogleCalendarAdapter) Name() string { return "google" }

func (a *GoogleCalendarAdapter) service(ctx context.Context, account *out.ProviderAuth) (*gcal.Service, error) {
	client := a.oauthConfig.Client(ctx, &oauth2.Token{AccessToken: account.AccessToken})
	return gcal.NewService(ctx, option.WithHTTPClient(client))
}

func (a *GoogleCalendarAdapter) ResolvePrimaryCalendar(ctx context.Context, account *out.ProviderAuth) (string, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return "", fmt.Errorf("google: build service: %w", err)
	}
	cal, err := svc.CalendarList.Get("primary").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("google: resolve primary calendar: %w", err)
	}
	return cal.Id, nil
}

func (a *GoogleCalendarAdapter) FullList(ctx context.Context, account *out.ProviderAuth, calendarID string, window out.TimePeriod) (*out.ProviderListResult, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}

	var events []out.ProviderEventNormalized
	var nextSyncToken, pageToken string
	for {
		req := svc.Events.List(calendarID).
			SingleEvents(true).
			OrderBy("startTime").
			TimeMin(window.Start.Format(time.RFC3339)).
			TimeMax(window.End.Format(time.RFC3339)).
			Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		resp, err := req.Do()
		if err != nil {
			return nil, fmt.Errorf("google: full list: %w", err)
		}
		for _, item := range resp.Items {
			events = append(events, a.fromGoogleEvent(item))
		}
		nextSyncToken = resp.NextSyncToken
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return &out.ProviderListResult{Events: events, NextCursor: nextSyncToken}, nil
}

func (a *GoogleCalendarAdapter) IncrementalList(ctx context.Context, account *out.ProviderAuth, calendarID, cursor string) (*out.ProviderListResult, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}

	var events []out.ProviderEventNormalized
	var nextSyncToken, pageToken string
	for {
		req := svc.Events.List(calendarID).SyncToken(cursor).Context(ctx)
		if pageToken != "" {
			req = req.PageToken(pageToken)
		}
		resp, err := req.Do()
		if err != nil {
			if isGone(err) {
				return &out.ProviderListResult{CursorInvalid: true}, nil
			}
			return nil, fmt.Errorf("google: incremental list: %w", err)
		}
		for _, item := range resp.Items {
			events = append(events, a.fromGoogleEvent(item))
		}
		nextSyncToken = resp.NextSyncToken
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}

	return &out.ProviderListResult{Events: events, NextCursor: nextSyncToken}, nil
}

func (a *GoogleCalendarAdapter) CreateEvent(ctx context.Context, account *out.ProviderAuth, calendarID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}
	created, err := svc.Events.Insert(calendarID, a.toGoogleEvent(payload)).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: create event: %w", err)
	}
	return &out.ProviderWriteResult{RemoteEventID: created.Id}, nil
}

func (a *GoogleCalendarAdapter) PatchEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}
	updated, err := svc.Events.Update(calendarID, remoteEventID, a.toGoogleEvent(payload)).SendUpdates("none").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: patch event: %w", err)
	}
	return &out.ProviderWriteResult{RemoteEventID: updated.Id}, nil
}

func (a *GoogleCalendarAdapter) DeleteEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string) error {
	svc, err := a.service(ctx, account)
	if err != nil {
		return fmt.Errorf("google: build service: %w", err)
	}
	if err := svc.Events.Delete(calendarID, remoteEventID).Context(ctx).Do(); err != nil {
		if isGone(err) {
			return nil
		}
		return fmt.Errorf("google: delete event: %w", err)
	}
	return nil
}

func (a *GoogleCalendarAdapter) RegisterChannel(ctx context.Context, account *out.ProviderAuth, calendarID, channelToken string) (*out.ChannelRegistration, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}
	channel := &gcal.Channel{
		Id:         uuid.NewString(),
		Type:       "web_hook",
		Address:    a.webhookURL,
		Token:      channelToken,
		Expiration: time.Now().Add(7 * 24 * time.Hour).UnixMilli(),
	}
	resp, err := svc.Events.Watch(calendarID, channel).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: register channel: %w", err)
	}
	return &out.ChannelRegistration{ChannelID: resp.Id, ResourceID: resp.ResourceId, ExpiresAt: time.UnixMilli(resp.Expiration)}, nil
}

// RenewChannel has no in-place renewal on Google's API: the old channel is
// stopped best-effort and a fresh one registered, mirroring Google's own
// Watch flow, which always mints a new channel id.
func (a *GoogleCalendarAdapter) RenewChannel(ctx context.Context, account *out.ProviderAuth, calendarID string, existing *out.ChannelRegistration) (*out.ChannelRegistration, error) {
	if existing != nil {
		_ = a.StopChannel(ctx, account, existing)
	}
	return a.RegisterChannel(ctx, account, calendarID, "")
}

func (a *GoogleCalendarAdapter) StopChannel(ctx context.Context, account *out.ProviderAuth, reg *out.ChannelRegistration) error {
	svc, err := a.service(ctx, account)
	if err != nil {
		return fmt.Errorf("google: build service: %w", err)
	}
	if err := svc.Channels.Stop(&gcal.Channel{Id: reg.ChannelID, ResourceId: reg.ResourceID}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("google: stop channel: %w", err)
	}
	return nil
}

func (a *GoogleCalendarAdapter) FreeBusy(ctx context.Context, account *out.ProviderAuth, calendarIDs []string, window out.TimePeriod) (map[string][]out.TimePeriod, error) {
	svc, err := a.service(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("google: build service: %w", err)
	}
	items := make([]*gcal.FreeBusyRequestItem, len(calendarIDs))
	for i, id := range calendarIDs {
		items[i] = &gcal.FreeBusyRequestItem{Id: id}
	}
	resp, err := svc.Freebusy.Query(&gcal.FreeBusyRequest{
		TimeMin: window.Start.Format(time.RFC3339),
		TimeMax: window.End.Format(time.RFC3339),
		Items:   items,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("google: free/busy query: %w", err)
	}

	result := make(map[string][]out.TimePeriod, len(resp.Calendars))
	for calID, data := range resp.Calendars {
		periods := make([]out.TimePeriod, 0, len(data.Busy))
		for _, b := range data.Busy {
			start, _ := time.Parse(time.RFC3339, b.Start)
			end, _ := time.Parse(time.RFC3339, b.End)
			periods = append(periods, out.TimePeriod{Start: start, End: end})
		}
		result[calID] = periods
	}
	return result, nil
}

func (a *GoogleCalendarAdapter) fromGoogleEvent(item *gcal.Event) out.ProviderEventNormalized {
	ev := out.ProviderEventNormalized{
		RemoteID:    item.Id,
		Title:       item.Summary,
		Description: item.Description,
		Location:    item.Location,
		Status:      item.Status,
		Visibility:  item.Visibility,
		Transparent: item.Transparency == "transparent",
		Deleted:     item.Status == "cancelled",
	}
	if item.Start != nil {
		if item.Start.DateTime != "" {
			ev.Start, _ = time.Parse(time.RFC3339, item.Start.DateTime)
		} else if item.Start.Date != "" {
			ev.Start, _ = time.Parse("2006-01-02", item.Start.Date)
			ev.AllDay = true
		}
	}
	if item.End != nil {
		if item.End.DateTime != "" {
			ev.End, _ = time.Parse(time.RFC3339, item.End.DateTime)
		} else if item.End.Date != "" {
			ev.End, _ = time.Parse("2006-01-02", item.End.Date)
		}
	}
	if len(item.Recurrence) > 0 {
		ev.RecurrenceRule = item.Recurrence[0]
	}
	for _, att := range item.Attendees {
		ev.Attendees = append(ev.Attendees, out.ProviderAttendee{Email: att.Email})
	}
	if item.ExtendedProperties != nil && len(item.ExtendedProperties.Private) > 0 {
		p := item.ExtendedProperties.Private
		if canonicalID, ok := p[projection.TagCanonicalID]; ok {
			ev.ExtendedTags = &out.ProviderEventTags{
				CanonicalID:  canonicalID,
				OwningUserID: p[projection.TagOwningUser],
				PolicyEdgeID: p[projection.TagPolicyEdge],
				ContentHash:  p[projection.TagContentHash],
			}
		}
	}
	return ev
}

func (a *GoogleCalendarAdapter) toGoogleEvent(payload *out.ProviderEventPayload) *gcal.Event {
	ev := &gcal.Event{
		Summary:     payload.Title,
		Description: payload.Description,
		Location:    payload.Location,
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{
				projection.TagCanonicalID: payload.Tags.CanonicalID,
				projection.TagOwningUser:  payload.Tags.OwningUserID,
				projection.TagPolicyEdge:  payload.Tags.PolicyEdgeID,
				projection.TagContentHash: payload.Tags.ContentHash,
			},
		},
	}
	if payload.AllDay {
		ev.Start = &gcal.EventDateTime{Date: payload.Start.Format("2006-01-02")}
		ev.End = &gcal.EventDateTime{Date: payload.End.Format("2006-01-02")}
	} else {
		ev.Start = &gcal.EventDateTime{DateTime: payload.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"}
		ev.End = &gcal.EventDateTime{DateTime: payload.End.UTC().Format(time.RFC3339), TimeZone: "UTC"}
	}
	if payload.RecurrenceRule != "" {
		ev.Recurrence = []string{payload.RecurrenceRule}
	}
	return ev
}

func isGone(err error) bool {
	gerr, ok := err.(*googleapi.Error)
	return ok && gerr.Code == 410
}

var _ out.CalendarProviderPort = (*GoogleCalendarAdapter)(nil)
