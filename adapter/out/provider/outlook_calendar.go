package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"tminus/core/port/out"
	"tminus/core/projection"
)

const (
	msGraphBaseURL    = "https://graph.microsoft.com/v1.0"
	outlookTimeFormat = "2006-01-02T15:04:05"
)

// OutlookCalendarAdapter implements out.CalendarProviderPort against the
// Microsoft Graph calendar API.
type OutlookCalendarAdapter struct {
	oauthConfig     *oauth2.Config
	notificationURL string
}

func NewOutlookCalendarAdapter(oauthConfig *oauth2.Config, notificationURL string) *OutlookCalendarAdapter {
	return &OutlookCalendarAdapter{oauthConfig: oauthConfig, notificationURL: notificationURL}
}

func (a *OutlookCalendarAdapter) Name() string { return "outlook" }

func (a *OutlookCalendarAdapter) client(ctx context.Context, account *out.ProviderAuth) *http.Client {
	return a.oauthConfig.Client(ctx, &oauth2.Token{AccessToken: account.AccessToken})
}

func (a *OutlookCalendarAdapter) ResolvePrimaryCalendar(ctx context.Context, account *out.ProviderAuth) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", msGraphBaseURL+"/me/calendar", nil)
	if err != nil {
		return "", fmt.Errorf("outlook: build request: %w", err)
	}
	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return "", fmt.Errorf("outlook: resolve primary calendar: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", graphStatusError("resolve primary calendar", resp)
	}

	var cal struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cal); err != nil {
		return "", fmt.Errorf("outlook: decode calendar: %w", err)
	}
	return cal.ID, nil
}

func (a *OutlookCalendarAdapter) FullList(ctx context.Context, account *out.ProviderAuth, calendarID string, window out.TimePeriod) (*out.ProviderListResult, error) {
	endpoint := fmt.Sprintf("%s/me/calendars/%s/calendarView", msGraphBaseURL, calendarID)
	params := url.Values{}
	params.Set("startDateTime", window.Start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", window.End.UTC().Format(time.RFC3339))
	params.Set("$expand", "extensions($filter=id eq '"+projection.MicrosoftOpenExtensionName+"')")

	var events []out.ProviderEventNormalized
	next := endpoint + "?" + params.Encode()
	for next != "" {
		page, nextLink, err := a.fetchEventPage(ctx, account, next)
		if err != nil {
			return nil, fmt.Errorf("outlook: full list: %w", err)
		}
		events = append(events, page...)
		next = nextLink
	}

	deltaLink, err := a.deltaLink(ctx, account, calendarID, window)
	if err != nil {
		deltaLink = ""
	}
	return &out.ProviderListResult{Events: events, NextCursor: deltaLink}, nil
}

func (a *OutlookCalendarAdapter) IncrementalList(ctx context.Context, account *out.ProviderAuth, calendarID, cursor string) (*out.ProviderListResult, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", cursor, nil)
	if err != nil {
		return nil, fmt.Errorf("outlook: build delta request: %w", err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: incremental list: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return &out.ProviderListResult{CursorInvalid: true}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, graphStatusError("incremental list", resp)
	}

	var result struct {
		Value     []outlookEvent `json:"value"`
		NextLink  string         `json:"@odata.nextLink"`
		DeltaLink string         `json:"@odata.deltaLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("outlook: decode delta response: %w", err)
	}

	events := make([]out.ProviderEventNormalized, 0, len(result.Value))
	for _, ev := range result.Value {
		n := a.fromOutlookEvent(&ev)
		if ev.Removed != nil {
			n.Deleted = true
		}
		events = append(events, n)
	}

	nextCursor := result.DeltaLink
	if nextCursor == "" {
		nextCursor = result.NextLink
	}
	return &out.ProviderListResult{Events: events, NextCursor: nextCursor}, nil
}

func (a *OutlookCalendarAdapter) CreateEvent(ctx context.Context, account *out.ProviderAuth, calendarID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	endpoint := fmt.Sprintf("%s/me/calendars/%s/events", msGraphBaseURL, calendarID)
	return a.writeEvent(ctx, account, "POST", endpoint, payload, http.StatusCreated)
}

func (a *OutlookCalendarAdapter) PatchEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string, payload *out.ProviderEventPayload) (*out.ProviderWriteResult, error) {
	endpoint := fmt.Sprintf("%s/me/calendars/%s/events/%s", msGraphBaseURL, calendarID, remoteEventID)
	return a.writeEvent(ctx, account, "PATCH", endpoint, payload, http.StatusOK)
}

func (a *OutlookCalendarAdapter) writeEvent(ctx context.Context, account *out.ProviderAuth, method, endpoint string, payload *out.ProviderEventPayload, wantStatus int) (*out.ProviderWriteResult, error) {
	body, err := json.Marshal(a.toOutlookEvent(payload))
	if err != nil {
		return nil, fmt.Errorf("outlook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("outlook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: write event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		return nil, graphStatusError("write event", resp)
	}

	var ev outlookEvent
	if err := json.NewDecoder(resp.Body).Decode(&ev); err != nil {
		return nil, fmt.Errorf("outlook: decode event: %w", err)
	}

	if err := a.writeTagExtension(ctx, account, ev.ID, payload.Tags); err != nil {
		return nil, fmt.Errorf("outlook: write tag extension: %w", err)
	}

	return &out.ProviderWriteResult{RemoteEventID: ev.ID}, nil
}

func (a *OutlookCalendarAdapter) DeleteEvent(ctx context.Context, account *out.ProviderAuth, calendarID, remoteEventID string) error {
	endpoint := fmt.Sprintf("%s/me/calendars/%s/events/%s", msGraphBaseURL, calendarID, remoteEventID)
	req, err := http.NewRequestWithContext(ctx, "DELETE", endpoint, nil)
	if err != nil {
		return fmt.Errorf("outlook: build request: %w", err)
	}
	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return fmt.Errorf("outlook: delete event: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	if resp.StatusCode != http.StatusNoContent {
		return graphStatusError("delete event", resp)
	}
	return nil
}

func (a *OutlookCalendarAdapter) RegisterChannel(ctx context.Context, account *out.ProviderAuth, calendarID, channelToken string) (*out.ChannelRegistration, error) {
	expiry := time.Now().Add(3 * 24 * time.Hour)
	body := map[string]any{
		"changeType":         "created,updated,deleted",
		"notificationUrl":    a.notificationURL,
		"resource":           "me/calendars/" + calendarID + "/events",
		"expirationDateTime": expiry.Format(time.RFC3339),
		"clientState":        channelToken,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("outlook: marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", msGraphBaseURL+"/subscriptions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("outlook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: register channel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return nil, graphStatusError("register channel", resp)
	}

	var result struct {
		ID                 string `json:"id"`
		Resource           string `json:"resource"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("outlook: decode subscription: %w", err)
	}
	expiresAt, _ := time.Parse(time.RFC3339, result.ExpirationDateTime)
	return &out.ChannelRegistration{ChannelID: result.ID, ResourceID: result.Resource, ExpiresAt: expiresAt}, nil
}

// RenewChannel extends a Graph subscription's expiry in place — unlike
// Google's channels, a Graph subscription keeps its id and resource across
// renewal, so PATCH is enough.
func (a *OutlookCalendarAdapter) RenewChannel(ctx context.Context, account *out.ProviderAuth, calendarID string, existing *out.ChannelRegistration) (*out.ChannelRegistration, error) {
	expiry := time.Now().Add(3 * 24 * time.Hour)
	body, err := json.Marshal(map[string]string{"expirationDateTime": expiry.Format(time.RFC3339)})
	if err != nil {
		return nil, fmt.Errorf("outlook: marshal renewal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "PATCH", msGraphBaseURL+"/subscriptions/"+existing.ChannelID, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("outlook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: renew channel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return a.RegisterChannel(ctx, account, calendarID, "")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, graphStatusError("renew channel", resp)
	}

	var result struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("outlook: decode renewal: %w", err)
	}
	expiresAt, _ := time.Parse(time.RFC3339, result.ExpirationDateTime)
	return &out.ChannelRegistration{ChannelID: result.ID, ResourceID: existing.ResourceID, ExpiresAt: expiresAt}, nil
}

func (a *OutlookCalendarAdapter) StopChannel(ctx context.Context, account *out.ProviderAuth, reg *out.ChannelRegistration) error {
	req, err := http.NewRequestWithContext(ctx, "DELETE", msGraphBaseURL+"/subscriptions/"+reg.ChannelID, nil)
	if err != nil {
		return fmt.Errorf("outlook: build request: %w", err)
	}
	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return fmt.Errorf("outlook: stop channel: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		return graphStatusError("stop channel", resp)
	}
	return nil
}

func (a *OutlookCalendarAdapter) FreeBusy(ctx context.Context, account *out.ProviderAuth, calendarIDs []string, window out.TimePeriod) (map[string][]out.TimePeriod, error) {
	body := map[string]any{
		"schedules":                calendarIDs,
		"startTime":                map[string]string{"dateTime": window.Start.UTC().Format(outlookTimeFormat), "timeZone": "UTC"},
		"endTime":                  map[string]string{"dateTime": window.End.UTC().Format(outlookTimeFormat), "timeZone": "UTC"},
		"availabilityViewInterval": 30,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("outlook: marshal schedule request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", msGraphBaseURL+"/me/calendar/getSchedule", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("outlook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, fmt.Errorf("outlook: free/busy query: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, graphStatusError("free/busy query", resp)
	}

	var result struct {
		Value []struct {
			ScheduleID    string `json:"scheduleId"`
			ScheduleItems []struct {
				Status string `json:"status"`
				Start  struct {
					DateTime string `json:"dateTime"`
				} `json:"start"`
				End struct {
					DateTime string `json:"dateTime"`
				} `json:"end"`
			} `json:"scheduleItems"`
		} `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("outlook: decode schedule response: %w", err)
	}

	busy := make(map[string][]out.TimePeriod, len(result.Value))
	for _, schedule := range result.Value {
		var periods []out.TimePeriod
		for _, item := range schedule.ScheduleItems {
			if item.Status != "busy" && item.Status != "tentative" {
				continue
			}
			start, _ := time.Parse(outlookTimeFormat, item.Start.DateTime)
			end, _ := time.Parse(outlookTimeFormat, item.End.DateTime)
			periods = append(periods, out.TimePeriod{Start: start, End: end})
		}
		busy[schedule.ScheduleID] = periods
	}
	return busy, nil
}

func (a *OutlookCalendarAdapter) fetchEventPage(ctx context.Context, account *out.ProviderAuth, endpoint string) ([]out.ProviderEventNormalized, string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Prefer", `outlook.timezone="UTC"`)

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", graphStatusError("list events", resp)
	}

	var result struct {
		Value    []outlookEvent `json:"value"`
		NextLink string         `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", fmt.Errorf("decode response: %w", err)
	}

	events := make([]out.ProviderEventNormalized, 0, len(result.Value))
	for _, ev := range result.Value {
		events = append(events, a.fromOutlookEvent(&ev))
	}
	return events, result.NextLink, nil
}

// deltaLink mints a fresh delta cursor for the window so the next
// IncrementalList call has somewhere to resume from.
func (a *OutlookCalendarAdapter) deltaLink(ctx context.Context, account *out.ProviderAuth, calendarID string, window out.TimePeriod) (string, error) {
	endpoint := fmt.Sprintf("%s/me/calendars/%s/calendarView/delta", msGraphBaseURL, calendarID)
	params := url.Values{}
	params.Set("startDateTime", window.Start.UTC().Format(time.RFC3339))
	params.Set("endDateTime", window.End.UTC().Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Prefer", "odata.maxpagesize=1")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		DeltaLink string `json:"@odata.deltaLink"`
		NextLink  string `json:"@odata.nextLink"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if result.DeltaLink != "" {
		return result.DeltaLink, nil
	}
	return result.NextLink, nil
}

// writeTagExtension stores the four pinned tags as a Graph open extension,
// Microsoft's substitute for Google's private extended-properties map.
func (a *OutlookCalendarAdapter) writeTagExtension(ctx context.Context, account *out.ProviderAuth, eventID string, tags out.ProviderEventTags) error {
	body := map[string]any{
		"extensionName":           projection.MicrosoftOpenExtensionName,
		projection.TagCanonicalID: tags.CanonicalID,
		projection.TagOwningUser:  tags.OwningUserID,
		projection.TagPolicyEdge:  tags.PolicyEdgeID,
		projection.TagContentHash: tags.ContentHash,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/me/events/%s/extensions", msGraphBaseURL, eventID)
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client(ctx, account).Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return graphStatusError("write tag extension", resp)
	}
	return nil
}

func graphStatusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("outlook: %s failed with status %d: %s", op, resp.StatusCode, string(body))
}

type outlookEvent struct {
	ID          string `json:"id"`
	Subject     string `json:"subject"`
	BodyPreview string `json:"bodyPreview"`
	Body        struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	Start struct {
		DateTime string `json:"dateTime"`
	} `json:"start"`
	End struct {
		DateTime string `json:"dateTime"`
	} `json:"end"`
	Location struct {
		DisplayName string `json:"displayName"`
	} `json:"location"`
	IsAllDay  bool   `json:"isAllDay"`
	ShowAs    string `json:"showAs"`
	Sensitivity string `json:"sensitivity"`
	Attendees []struct {
		EmailAddress struct {
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"attendees"`
	Recurrence *struct {
		Pattern struct {
			Type string `json:"type"`
		} `json:"pattern"`
	} `json:"recurrence"`
	ExtensionsRaw []map[string]any `json:"extensions"`
	Removed       *struct {
		Reason string `json:"reason"`
	} `json:"@removed"`
}

func (a *OutlookCalendarAdapter) fromOutlookEvent(ev *outlookEvent) out.ProviderEventNormalized {
	n := out.ProviderEventNormalized{
		RemoteID:    ev.ID,
		Title:       ev.Subject,
		Description: ev.Body.Content,
		Location:    ev.Location.DisplayName,
		AllDay:      ev.IsAllDay,
		Status:      ev.ShowAs,
		Visibility:  ev.Sensitivity,
		Transparent: ev.ShowAs == "free",
	}
	if ev.Start.DateTime != "" {
		n.Start, _ = time.Parse(outlookTimeFormat, ev.Start.DateTime)
	}
	if ev.End.DateTime != "" {
		n.End, _ = time.Parse(outlookTimeFormat, ev.End.DateTime)
	}
	if ev.Recurrence != nil {
		n.RecurrenceRule = ev.Recurrence.Pattern.Type
	}
	for _, att := range ev.Attendees {
		n.Attendees = append(n.Attendees, out.ProviderAttendee{Email: att.EmailAddress.Address})
	}
	for _, ext := range ev.ExtensionsRaw {
		name, _ := ext["extensionName"].(string)
		if name != projection.MicrosoftOpenExtensionName {
			continue
		}
		canonicalID, _ := ext[projection.TagCanonicalID].(string)
		n.ExtendedTags = &out.ProviderEventTags{
			CanonicalID:  canonicalID,
			OwningUserID: stringField(ext, projection.TagOwningUser),
			PolicyEdgeID: stringField(ext, projection.TagPolicyEdge),
			ContentHash:  stringField(ext, projection.TagContentHash),
		}
	}
	return n
}

func stringField(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func (a *OutlookCalendarAdapter) toOutlookEvent(payload *out.ProviderEventPayload) map[string]any {
	body := map[string]any{
		"subject": payload.Title,
		"body": map[string]string{
			"contentType": "HTML",
			"content":     payload.Description,
		},
		"isAllDay": payload.AllDay,
	}
	if payload.AllDay {
		body["start"] = map[string]string{"dateTime": payload.Start.Format("2006-01-02"), "timeZone": "UTC"}
		body["end"] = map[string]string{"dateTime": payload.End.Format("2006-01-02"), "timeZone": "UTC"}
	} else {
		body["start"] = map[string]string{"dateTime": payload.Start.UTC().Format(outlookTimeFormat), "timeZone": "UTC"}
		body["end"] = map[string]string{"dateTime": payload.End.UTC().Format(outlookTimeFormat), "timeZone": "UTC"}
	}
	if payload.Location != "" {
		body["location"] = map[string]string{"displayName": payload.Location}
	}
	if payload.RecurrenceRule != "" {
		body["recurrence"] = map[string]any{"pattern": map[string]string{"type": payload.RecurrenceRule}}
	}
	return body
}

var _ out.CalendarProviderPort = (*OutlookCalendarAdapter)(nil)
