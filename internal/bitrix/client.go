// Package bitrix implements the outbound Bitrix24 REST client used by
// the bot. All calls go through a single request path that enforces
// timeouts, masks parameters in logs and converts vendor error payloads
// into typed errors. List and create operations are scoped to the user
// embedded in the webhook, never to a caller-supplied identity.
package bitrix

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"b24bot/internal/observability/logger"
	"b24bot/internal/telemetry"
	"b24bot/internal/webhook"

	"go.uber.org/zap"
)

const (
	// probeTimeout bounds lightweight connectivity checks.
	probeTimeout = 10 * time.Second
	// dataTimeout bounds data operations.
	dataTimeout = 30 * time.Second
)

// Client talks to one Bitrix24 portal on behalf of one webhook user.
// A Client is acquired for the duration of one interaction and must be
// released with Close on every exit path.
type Client struct {
	desc       webhook.Descriptor
	baseURL    string
	httpClient *http.Client
	log        *logger.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithBaseURL overrides the request base URL. Used by tests to point
// the client at a stub server while keeping the descriptor intact.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient builds a client from a parsed webhook descriptor. Each
// client owns an independent connection; clients are not shared across
// concurrent per-user operations.
func NewClient(desc webhook.Descriptor, log *logger.Logger, opts ...Option) *Client {
	c := &Client{
		desc:       desc,
		baseURL:    strings.TrimRight(desc.FullURL, "/"),
		httpClient: &http.Client{},
		log:        log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Descriptor returns the webhook descriptor the client was built from.
func (c *Client) Descriptor() webhook.Descriptor { return c.desc }

// Close releases the client's connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// call POSTs params as a JSON body to {webhook}/{method} and decodes
// the response. A payload carrying an "error" key becomes *APIError;
// transport failures wrap ErrNetwork and expired deadlines wrap
// ErrTimeout. The method name and a masked copy of the parameters are
// logged before the call, the outcome with elapsed duration after.
func (c *Client) call(ctx context.Context, method string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	if params == nil {
		params = map[string]any{}
	}

	c.log.Info(ctx, "bitrix api request",
		logger.Module("bitrix"),
		logger.Action(method),
		zap.String("webhook", c.desc.Masked()),
		zap.Any("params", MaskParams(params)),
	)

	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	telemetry.CRMRequestDuration.WithLabelValues(method).Observe(elapsed.Seconds())

	if err != nil {
		telemetry.CRMRequestsTotal.WithLabelValues(method, "error").Inc()
		if errors.Is(err, context.DeadlineExceeded) {
			c.log.Error(ctx, "bitrix api timeout",
				logger.Module("bitrix"),
				logger.Action(method),
				zap.Duration("elapsed", elapsed),
			)
			return nil, fmt.Errorf("%w: %s", ErrTimeout, method)
		}
		c.log.Error(ctx, "bitrix api network failure",
			logger.Module("bitrix"),
			logger.Action(method),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		telemetry.CRMRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		telemetry.CRMRequestsTotal.WithLabelValues(method, "error").Inc()
		return nil, fmt.Errorf("%w: decode response: %v", ErrNetwork, err)
	}

	if _, hasErr := payload["error"]; hasErr {
		apiErr := &APIError{}
		_ = json.Unmarshal(raw, apiErr)
		telemetry.CRMRequestsTotal.WithLabelValues(method, "api_error").Inc()
		c.log.Error(ctx, "bitrix api error",
			logger.Module("bitrix"),
			logger.Action(method),
			zap.Duration("elapsed", elapsed),
			zap.String("error_code", apiErr.Code),
			zap.String("error_description", apiErr.Description),
		)
		return nil, apiErr
	}

	telemetry.CRMRequestsTotal.WithLabelValues(method, "ok").Inc()
	c.log.Info(ctx, "bitrix api success",
		logger.Module("bitrix"),
		logger.Action(method),
		zap.Duration("elapsed", elapsed),
	)
	return payload, nil
}

// CurrentUser fetches the portal profile behind the webhook. This is
// the connectivity probe and runs under the short timeout.
func (c *Client) CurrentUser(ctx context.Context) (Record, error) {
	payload, err := c.call(ctx, "user.current", nil, probeTimeout)
	if err != nil {
		return nil, err
	}
	return asRecord(payload["result"]), nil
}

// Users lists portal users.
func (c *Client) Users(ctx context.Context) ([]Record, error) {
	payload, err := c.call(ctx, "user.get", nil, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// scopedFilter merges the caller filter with the webhook user scope.
// The scope key always wins; callers cannot widen their view to other
// users' records.
func (c *Client) scopedFilter(scopeKey string, filter map[string]any) map[string]any {
	merged := make(map[string]any, len(filter)+1)
	for k, v := range filter {
		merged[k] = v
	}
	merged[scopeKey] = c.scopeUserID()
	return merged
}

// scopeUserID returns the webhook user id as an int when it parses,
// matching the type the task sub-API expects, and as a string otherwise.
func (c *Client) scopeUserID() any {
	if n, err := strconv.Atoi(c.desc.UserID); err == nil {
		return n
	}
	return c.desc.UserID
}

// ListDeals lists the webhook user's deals. Caller filter keys are
// merged into the scope filter.
func (c *Client) ListDeals(ctx context.Context, filter map[string]any) ([]Record, error) {
	params := map[string]any{
		"filter": c.scopedFilter("ASSIGNED_BY_ID", filter),
		"select": []any{"ID", "TITLE", "STAGE_ID", "OPPORTUNITY", "ASSIGNED_BY_ID", "DATE_CREATE"},
	}
	payload, err := c.call(ctx, "crm.deal.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// GetDeal fetches one deal by id.
func (c *Client) GetDeal(ctx context.Context, dealID string) (Record, error) {
	payload, err := c.call(ctx, "crm.deal.get", map[string]any{"id": dealID}, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecord(payload["result"]), nil
}

// ListLeads lists the webhook user's leads.
func (c *Client) ListLeads(ctx context.Context, filter map[string]any) ([]Record, error) {
	params := map[string]any{
		"filter": c.scopedFilter("ASSIGNED_BY_ID", filter),
		"select": []any{"ID", "TITLE", "STATUS_ID", "SOURCE_ID", "ASSIGNED_BY_ID", "DATE_CREATE"},
	}
	payload, err := c.call(ctx, "crm.lead.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// GetLead fetches one lead by id.
func (c *Client) GetLead(ctx context.Context, leadID string) (Record, error) {
	payload, err := c.call(ctx, "crm.lead.get", map[string]any{"id": leadID}, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecord(payload["result"]), nil
}

// GetContact fetches one contact by id.
func (c *Client) GetContact(ctx context.Context, contactID string) (Record, error) {
	payload, err := c.call(ctx, "crm.contact.get", map[string]any{"id": contactID}, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecord(payload["result"]), nil
}

// SearchContacts searches contacts by name.
func (c *Client) SearchContacts(ctx context.Context, query string) ([]Record, error) {
	params := map[string]any{
		"filter": map[string]any{"%NAME": query},
		"select": []any{"ID", "NAME", "LAST_NAME", "PHONE", "EMAIL", "COMPANY_ID"},
	}
	payload, err := c.call(ctx, "crm.contact.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// SearchCompanies searches companies by title.
func (c *Client) SearchCompanies(ctx context.Context, query string) ([]Record, error) {
	params := map[string]any{
		"filter": map[string]any{"%TITLE": "%" + query + "%"},
		"select": []any{"ID", "TITLE", "ADDRESS", "PHONE", "EMAIL"},
	}
	payload, err := c.call(ctx, "crm.company.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// ListTasks lists the webhook user's tasks, normalized into the
// canonical field set. The task sub-API wraps its list in
// result.tasks and uses camelCase field names.
func (c *Client) ListTasks(ctx context.Context, filter map[string]any) ([]Record, error) {
	params := map[string]any{
		"order":  map[string]any{"ID": "DESC"},
		"select": []any{"ID", "TITLE", "STATUS", "DEADLINE", "PRIORITY", "RESPONSIBLE_ID", "CREATED_DATE", "DESCRIPTION"},
		"filter": c.scopedFilter("RESPONSIBLE_ID", filter),
	}
	payload, err := c.call(ctx, "tasks.task.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}

	result, _ := payload["result"].(map[string]any)
	rawTasks, _ := result["tasks"].([]any)

	tasks := make([]Record, 0, len(rawTasks))
	for _, rt := range rawTasks {
		m, ok := rt.(map[string]any)
		if !ok {
			continue
		}
		tasks = append(tasks, normalizeTask(m))
	}
	return tasks, nil
}

// GetTask fetches one task by id, normalized.
func (c *Client) GetTask(ctx context.Context, taskID string) (Record, error) {
	payload, err := c.call(ctx, "tasks.task.get", map[string]any{"taskId": taskID}, dataTimeout)
	if err != nil {
		return nil, err
	}
	result, _ := payload["result"].(map[string]any)
	raw, ok := result["task"].(map[string]any)
	if !ok {
		return Record{}, nil
	}
	return normalizeTask(raw), nil
}

// LeadStatuses lists the portal's lead status reference values.
func (c *Client) LeadStatuses(ctx context.Context) ([]Record, error) {
	payload, err := c.call(ctx, "crm.lead.status.list", nil, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// DealStages lists the portal's deal stage reference values.
func (c *Client) DealStages(ctx context.Context) ([]Record, error) {
	payload, err := c.call(ctx, "crm.dealcategory.stage.list", nil, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// CreateLead creates a lead. The webhook user becomes ASSIGNED_BY_ID
// unless the caller already set one.
func (c *Client) CreateLead(ctx context.Context, fields map[string]any) (int64, error) {
	fields = c.injectOwner(fields, "ASSIGNED_BY_ID")
	payload, err := c.call(ctx, "crm.lead.add", map[string]any{"fields": fields}, dataTimeout)
	if err != nil {
		return 0, err
	}
	return asID(payload["result"]), nil
}

// CreateDeal creates a deal, scoped like CreateLead.
func (c *Client) CreateDeal(ctx context.Context, fields map[string]any) (int64, error) {
	fields = c.injectOwner(fields, "ASSIGNED_BY_ID")
	payload, err := c.call(ctx, "crm.deal.add", map[string]any{"fields": fields}, dataTimeout)
	if err != nil {
		return 0, err
	}
	return asID(payload["result"]), nil
}

// CreateTask creates a task. The task sub-API wraps the new id in
// result.task.id; the webhook user becomes RESPONSIBLE_ID unless the
// caller already set one.
func (c *Client) CreateTask(ctx context.Context, fields map[string]any) (int64, error) {
	fields = c.injectOwner(fields, "RESPONSIBLE_ID")
	payload, err := c.call(ctx, "tasks.task.add", map[string]any{"fields": fields}, dataTimeout)
	if err != nil {
		return 0, err
	}
	if result, ok := payload["result"].(map[string]any); ok {
		if task, ok := result["task"].(map[string]any); ok {
			return asID(task["id"]), nil
		}
	}
	return asID(payload["result"]), nil
}

// CreateContact creates a contact.
func (c *Client) CreateContact(ctx context.Context, fields map[string]any) (int64, error) {
	payload, err := c.call(ctx, "crm.contact.add", map[string]any{"fields": fields}, dataTimeout)
	if err != nil {
		return 0, err
	}
	return asID(payload["result"]), nil
}

// injectOwner copies fields and sets ownerKey to the webhook user id
// when the caller did not supply one. Caller-supplied values win.
func (c *Client) injectOwner(fields map[string]any, ownerKey string) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	if _, ok := out[ownerKey]; !ok {
		out[ownerKey] = c.desc.UserID
	}
	return out
}

// UpdateDeal updates fields of one deal.
func (c *Client) UpdateDeal(ctx context.Context, dealID string, fields map[string]any) error {
	_, err := c.call(ctx, "crm.deal.update", map[string]any{"id": dealID, "fields": fields}, dataTimeout)
	return err
}

// UpdateTask updates fields of one task. The task sub-API names its id
// parameter taskId.
func (c *Client) UpdateTask(ctx context.Context, taskID string, fields map[string]any) error {
	_, err := c.call(ctx, "tasks.task.update", map[string]any{"taskId": taskID, "fields": fields}, dataTimeout)
	return err
}

// UpdateLead updates fields of one lead.
func (c *Client) UpdateLead(ctx context.Context, leadID string, fields map[string]any) error {
	_, err := c.call(ctx, "crm.lead.update", map[string]any{"id": leadID, "fields": fields}, dataTimeout)
	return err
}

// commentMethods maps entity types to their comment RPC names.
var commentMethods = map[string]string{
	"deal": "crm.deal.comment.add",
	"task": "tasks.task.comment.add",
	"lead": "crm.lead.comment.add",
}

// AddComment attaches a timeline comment to a deal, task or lead.
func (c *Client) AddComment(ctx context.Context, entityType, entityID, comment string) error {
	method, ok := commentMethods[entityType]
	if !ok {
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
	params := map[string]any{
		"id":     entityID,
		"fields": map[string]any{"COMMENT": comment},
	}
	_, err := c.call(ctx, method, params, dataTimeout)
	return err
}

// ReassignTask moves a task to another responsible user. Sugar over
// UpdateTask; same request path, same masking.
func (c *Client) ReassignTask(ctx context.Context, taskID string, responsibleID int) error {
	return c.UpdateTask(ctx, taskID, map[string]any{"RESPONSIBLE_ID": responsibleID})
}

// fileMethods maps entity types to their file-attach RPC names.
var fileMethods = map[string]string{
	"deal": "crm.deal.files.attach",
	"task": "tasks.task.files.attach",
	"lead": "crm.lead.files.attach",
}

// AttachFile uploads a file to a deal, task or lead as base64 content.
func (c *Client) AttachFile(ctx context.Context, entityType, entityID, filename string, data []byte) error {
	method, ok := fileMethods[entityType]
	if !ok {
		return fmt.Errorf("unsupported entity type %q", entityType)
	}
	params := map[string]any{
		"id": entityID,
		"fields": map[string]any{
			"FILE_DATA": []any{map[string]any{
				"name":    filename,
				"content": base64.StdEncoding.EncodeToString(data),
			}},
		},
	}
	_, err := c.call(ctx, method, params, dataTimeout)
	return err
}

// DealReport lists the webhook user's deals created within the period,
// both ends inclusive.
func (c *Client) DealReport(ctx context.Context, periodStart, periodEnd string) ([]Record, error) {
	filter := map[string]any{
		">=DATE_CREATE": periodStart,
		"<=DATE_CREATE": periodEnd,
	}
	params := map[string]any{
		"filter": c.scopedFilter("ASSIGNED_BY_ID", filter),
		"select": []any{"ID", "TITLE", "STAGE_ID", "OPPORTUNITY", "DATE_CREATE"},
	}
	payload, err := c.call(ctx, "crm.deal.list", params, dataTimeout)
	if err != nil {
		return nil, err
	}
	return asRecords(payload["result"]), nil
}

// SumDeals sums the opportunity amount of deals created within the
// period. Missing or non-numeric amounts count as zero.
func (c *Client) SumDeals(ctx context.Context, periodStart, periodEnd string) (float64, error) {
	deals, err := c.DealReport(ctx, periodStart, periodEnd)
	if err != nil {
		return 0, err
	}
	return SumOpportunity(deals), nil
}

// SumOpportunity folds the OPPORTUNITY field over a list of deal
// records, treating anything non-numeric as zero.
func SumOpportunity(deals []Record) float64 {
	var total float64
	for _, deal := range deals {
		if amount, ok := deal.Float("OPPORTUNITY"); ok {
			total += amount
		}
	}
	return total
}

// TaskStatistics fetches the scoped task list and classifies it.
func (c *Client) TaskStatistics(ctx context.Context) (TaskStats, error) {
	tasks, err := c.ListTasks(ctx, nil)
	if err != nil {
		return TaskStats{}, err
	}
	return ClassifyTasks(tasks, time.Now()), nil
}

// asRecord converts a decoded JSON object into a Record.
func asRecord(v any) Record {
	if m, ok := v.(map[string]any); ok {
		return Record(m)
	}
	return Record{}
}

// asRecords converts a decoded JSON array of objects into Records.
func asRecords(v any) []Record {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			records = append(records, Record(m))
		}
	}
	return records
}

// asID converts a decoded JSON id (number or string) into int64.
func asID(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
