package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"b24bot/internal/bitrix"
	"b24bot/internal/conversation"
	"b24bot/internal/credstore"
	"b24bot/internal/observability/logger"
	"b24bot/internal/session"
	"b24bot/internal/webhook"
)

// fakeCRM serves canned records and records mutations.
type fakeCRM struct {
	deals    []bitrix.Record
	tasks    []bitrix.Record
	leads    []bitrix.Record
	contacts []bitrix.Record

	created  []map[string]any
	comments []string
	attached []string

	err error
}

func (f *fakeCRM) CurrentUser(context.Context) (bitrix.Record, error) {
	return bitrix.Record{"NAME": "Anna"}, f.err
}

func (f *fakeCRM) CreateLead(_ context.Context, fields map[string]any) (int64, error) {
	f.created = append(f.created, fields)
	return 101, f.err
}

func (f *fakeCRM) CreateDeal(_ context.Context, fields map[string]any) (int64, error) {
	f.created = append(f.created, fields)
	return 4215, f.err
}

func (f *fakeCRM) CreateTask(_ context.Context, fields map[string]any) (int64, error) {
	f.created = append(f.created, fields)
	return 55, f.err
}

func (f *fakeCRM) CreateContact(_ context.Context, fields map[string]any) (int64, error) {
	f.created = append(f.created, fields)
	return 88, f.err
}

func (f *fakeCRM) UpdateDeal(context.Context, string, map[string]any) error { return f.err }
func (f *fakeCRM) UpdateTask(context.Context, string, map[string]any) error { return f.err }
func (f *fakeCRM) UpdateLead(context.Context, string, map[string]any) error { return f.err }

func (f *fakeCRM) AddComment(_ context.Context, _, _, text string) error {
	f.comments = append(f.comments, text)
	return f.err
}

func (f *fakeCRM) ReassignTask(context.Context, string, int) error { return f.err }

func (f *fakeCRM) GetDeal(context.Context, string) (bitrix.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return bitrix.Record{"ID": "4215", "TITLE": "Annual contract", "STAGE_ID": "NEW"}, nil
}

func (f *fakeCRM) GetTask(context.Context, string) (bitrix.Record, error) {
	return bitrix.Record{"ID": "55", "TITLE": "Call the client", "STATUS": "3"}, f.err
}

func (f *fakeCRM) GetLead(context.Context, string) (bitrix.Record, error) {
	return bitrix.Record{"ID": "9", "TITLE": "Website inquiry"}, f.err
}

func (f *fakeCRM) GetContact(context.Context, string) (bitrix.Record, error) {
	return bitrix.Record{"ID": "88", "NAME": "Anna"}, f.err
}

func (f *fakeCRM) LeadStatuses(context.Context) ([]bitrix.Record, error) { return nil, f.err }
func (f *fakeCRM) DealStages(context.Context) ([]bitrix.Record, error)   { return nil, f.err }
func (f *fakeCRM) Users(context.Context) ([]bitrix.Record, error)        { return nil, f.err }
func (f *fakeCRM) ListDeals(context.Context, map[string]any) ([]bitrix.Record, error) {
	return f.deals, f.err
}
func (f *fakeCRM) ListLeads(context.Context, map[string]any) ([]bitrix.Record, error) {
	return f.leads, f.err
}
func (f *fakeCRM) ListTasks(context.Context, map[string]any) ([]bitrix.Record, error) {
	return f.tasks, f.err
}
func (f *fakeCRM) SearchContacts(context.Context, string) ([]bitrix.Record, error) {
	return f.contacts, f.err
}
func (f *fakeCRM) SearchCompanies(context.Context, string) ([]bitrix.Record, error) {
	return nil, f.err
}
func (f *fakeCRM) TaskStatistics(context.Context) (bitrix.TaskStats, error) {
	return bitrix.TaskStats{Total: 3, Completed: 1, Pending: 2}, f.err
}
func (f *fakeCRM) DealReport(context.Context, string, string) ([]bitrix.Record, error) {
	return f.deals, f.err
}
func (f *fakeCRM) SumDeals(context.Context, string, string) (float64, error) { return 350.5, f.err }

func (f *fakeCRM) AttachFile(_ context.Context, entityType, entityID, filename string, _ []byte) error {
	f.attached = append(f.attached, entityType+"/"+entityID+"/"+filename)
	return f.err
}

func (f *fakeCRM) Close() {}

type fakeCreds struct {
	links map[int64]webhook.Descriptor
}

func (f *fakeCreds) Get(_ context.Context, chatID int64) (webhook.Descriptor, error) {
	desc, ok := f.links[chatID]
	if !ok {
		return webhook.Descriptor{}, credstore.ErrNotLinked
	}
	return desc, nil
}

func (f *fakeCreds) Put(_ context.Context, chatID int64, desc webhook.Descriptor) error {
	f.links[chatID] = desc
	return nil
}

func (f *fakeCreds) Delete(_ context.Context, chatID int64) error {
	delete(f.links, chatID)
	return nil
}

const testChat = int64(42)

func newTestRouter(t *testing.T, linked bool) (*router, *fakeCRM) {
	t.Helper()

	log, err := logger.New("b24bot-test", "error")
	require.NoError(t, err)

	crm := &fakeCRM{}
	creds := &fakeCreds{links: make(map[int64]webhook.Descriptor)}
	if linked {
		desc, err := webhook.Parse("https://example.bitrix24.ru/rest/17/abcd1234efgh/")
		require.NoError(t, err)
		creds.links[testChat] = desc
	}

	env := &conversation.Env{
		Creds:    creds,
		Sessions: session.NewMemoryStore(),
		NewCRM:   func(webhook.Descriptor) conversation.CRM { return crm },
		Log:      log,
	}
	return &router{
		engine: conversation.NewEngine(env),
		creds:  creds,
		newCRM: func(webhook.Descriptor) CRM { return crm },
		log:    log,
		now:    func() time.Time { return time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC) },
	}, crm
}

func TestDispatchMyDeals(t *testing.T) {
	router, crm := newTestRouter(t, true)
	crm.deals = []bitrix.Record{{"ID": "1", "TITLE": "First", "STAGE_ID": "NEW"}}

	reply := router.dispatch(context.Background(), testChat, "My deals")
	assert.Contains(t, reply.Text, "Your deals (1)")
	assert.Contains(t, reply.Text, "First")
}

func TestDispatchRequiresLink(t *testing.T) {
	router, _ := newTestRouter(t, false)

	for _, cmd := range []string{"My deals", "Task statistics", "Deal 4215", "Find contact Anna"} {
		reply := router.dispatch(context.Background(), testChat, cmd)
		assert.Equal(t, conversation.NotLinkedMessage, reply.Text, cmd)
	}
}

func TestDispatchEntityViews(t *testing.T) {
	router, _ := newTestRouter(t, true)
	ctx := context.Background()

	assert.Contains(t, router.dispatch(ctx, testChat, "Deal 4215").Text, "Deal #4215")
	assert.Contains(t, router.dispatch(ctx, testChat, "Task 55").Text, "Task #55")
	assert.Contains(t, router.dispatch(ctx, testChat, "Lead 9").Text, "Lead #9")
	assert.Contains(t, router.dispatch(ctx, testChat, "Contact 88").Text, "Contact #88")
}

func TestDispatchIsCaseInsensitive(t *testing.T) {
	router, crm := newTestRouter(t, true)
	crm.tasks = []bitrix.Record{{"ID": "55", "TITLE": "Call", "STATUS": "2"}}

	reply := router.dispatch(context.Background(), testChat, "MY TASKS")
	assert.Contains(t, reply.Text, "Your tasks (1)")
}

func TestDispatchUnrecognized(t *testing.T) {
	router, _ := newTestRouter(t, true)

	reply := router.dispatch(context.Background(), testChat, "what can you do")
	assert.Contains(t, reply.Text, "/help")
}

func TestDispatchHelp(t *testing.T) {
	router, _ := newTestRouter(t, false)

	for _, cmd := range []string{"/start", "/help"} {
		reply := router.dispatch(context.Background(), testChat, cmd)
		assert.Contains(t, reply.Text, "/auth", cmd)
	}
}

func TestDispatchStatusAndLogout(t *testing.T) {
	router, _ := newTestRouter(t, true)
	ctx := context.Background()

	reply := router.dispatch(ctx, testChat, "/status")
	assert.Contains(t, reply.Text, "example.bitrix24.ru")
	assert.Contains(t, reply.Text, "abcd***")
	assert.NotContains(t, reply.Text, "abcd1234efgh")

	reply = router.dispatch(ctx, testChat, "/logout")
	assert.Contains(t, reply.Text, "unlinked")

	reply = router.dispatch(ctx, testChat, "/status")
	assert.Contains(t, reply.Text, "No Bitrix24 account is linked")
}

func TestDispatchCommandInterruptsFlow(t *testing.T) {
	router, crm := newTestRouter(t, true)
	ctx := context.Background()

	reply := router.dispatch(ctx, testChat, "Create lead")
	assert.Contains(t, reply.Text, "name")

	reply = router.dispatch(ctx, testChat, "My deals")
	assert.Contains(t, reply.Text, "no deals")

	reply = router.dispatch(ctx, testChat, "Anna")
	assert.Contains(t, reply.Text, "/help", "the flow no longer exists")
	assert.Empty(t, crm.created)
}

func TestDispatchCancel(t *testing.T) {
	router, _ := newTestRouter(t, true)
	ctx := context.Background()

	_ = router.dispatch(ctx, testChat, "Create task")
	reply := router.dispatch(ctx, testChat, "/cancel")
	assert.Equal(t, "Cancelled.", reply.Text)

	reply = router.dispatch(ctx, testChat, "some text")
	assert.Contains(t, reply.Text, "/help")
}

func TestDispatchEditSeedsEntity(t *testing.T) {
	router, _ := newTestRouter(t, true)
	ctx := context.Background()

	reply := router.dispatch(ctx, testChat, "Edit deal 4215")
	assert.Contains(t, reply.Text, "Which field")
	assert.NotEmpty(t, reply.Choices)

	reply = router.choice(ctx, testChat, "TITLE")
	assert.Contains(t, reply.Text, "TITLE")

	reply = router.dispatch(ctx, testChat, "Bigger contract")
	assert.Contains(t, reply.Text, "Deal #4215 updated")
}

func TestDispatchAddCommentTarget(t *testing.T) {
	router, crm := newTestRouter(t, true)
	ctx := context.Background()

	reply := router.dispatch(ctx, testChat, "Add comment to task 55")
	assert.Contains(t, reply.Text, "comment")

	reply = router.dispatch(ctx, testChat, "Called, no answer")
	assert.Contains(t, reply.Text, "Comment added to task #55")
	assert.Equal(t, []string{"Called, no answer"}, crm.comments)
}

func TestDispatchAddCommentBadTarget(t *testing.T) {
	router, _ := newTestRouter(t, true)

	reply := router.dispatch(context.Background(), testChat, "Add comment to invoice 7")
	assert.Contains(t, reply.Text, "Add comment to deal")
}

func TestDispatchReports(t *testing.T) {
	router, crm := newTestRouter(t, true)
	crm.deals = []bitrix.Record{{"ID": "1", "TITLE": "First", "OPPORTUNITY": "350.5"}}
	ctx := context.Background()

	reply := router.dispatch(ctx, testChat, "Deal report week")
	assert.Contains(t, reply.Text, "Deal report 2024-06-08 — 2024-06-15")
	assert.Contains(t, reply.Text, "Total: 350.50")

	reply = router.dispatch(ctx, testChat, "Deals total month")
	assert.Contains(t, reply.Text, "350.50")

	reply = router.dispatch(ctx, testChat, "Task statistics")
	assert.Contains(t, reply.Text, "Total: 3")
}

func TestDispatchAPIErrorSurfacesDescription(t *testing.T) {
	router, crm := newTestRouter(t, true)
	crm.err = &bitrix.APIError{Code: "NOT_FOUND", Description: "Deal not found"}

	reply := router.dispatch(context.Background(), testChat, "Deal 999")
	assert.Contains(t, reply.Text, "Deal not found")
	assert.NotContains(t, reply.Text, "abcd1234efgh")
}

func TestChoiceWithoutFlow(t *testing.T) {
	router, _ := newTestRouter(t, true)

	reply := router.choice(context.Background(), testChat, "NEW")
	assert.Contains(t, reply.Text, "already finished")
}

func TestAttach(t *testing.T) {
	router, crm := newTestRouter(t, true)
	ctx := context.Background()

	reply := router.attach(ctx, testChat, "Deal 4215", "offer.pdf", []byte("pdf"))
	assert.Contains(t, reply.Text, "attached to deal #4215")
	assert.Equal(t, []string{"deal/4215/offer.pdf"}, crm.attached)

	reply = router.attach(ctx, testChat, "", "offer.pdf", []byte("pdf"))
	assert.Contains(t, reply.Text, "caption")
}

func TestUserMessage(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{credstore.ErrNotLinked, conversation.NotLinkedMessage},
		{&bitrix.APIError{Code: "X", Description: "Portal says no"}, "Bitrix24 reported an error: Portal says no"},
		{bitrix.ErrTimeout, "Bitrix24 is not responding right now. Try again later."},
		{bitrix.ErrNetwork, "Could not reach your Bitrix24 portal. Try again later."},
		{webhook.ErrMalformedWebhook, "That webhook URL is not valid. Send /auth to start over."},
		{&conversation.ValidationError{Field: "TITLE", Msg: "Title cannot be empty."}, "Title cannot be empty."},
		{errors.New("boom"), "Something went wrong. Try again later."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, userMessage(tc.err))
	}
}
