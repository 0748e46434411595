// Package conversation implements the multi-step dialog engine. Each
// flow is a fixed sequence of steps collecting string fields from the
// user; the terminal step submits them to the CRM. State lives in a
// session.Store keyed by chat id.
package conversation

import (
	"context"
	"fmt"

	"b24bot/internal/bitrix"
	"b24bot/internal/observability/logger"
	"b24bot/internal/session"
	"b24bot/internal/webhook"
)

// CRM is the subset of the Bitrix client the flows call. The concrete
// client satisfies it; tests substitute a fake.
type CRM interface {
	CurrentUser(ctx context.Context) (bitrix.Record, error)
	Users(ctx context.Context) ([]bitrix.Record, error)
	CreateLead(ctx context.Context, fields map[string]any) (int64, error)
	CreateDeal(ctx context.Context, fields map[string]any) (int64, error)
	CreateTask(ctx context.Context, fields map[string]any) (int64, error)
	CreateContact(ctx context.Context, fields map[string]any) (int64, error)
	UpdateDeal(ctx context.Context, dealID string, fields map[string]any) error
	UpdateTask(ctx context.Context, taskID string, fields map[string]any) error
	UpdateLead(ctx context.Context, leadID string, fields map[string]any) error
	AddComment(ctx context.Context, entityType, entityID, comment string) error
	ReassignTask(ctx context.Context, taskID string, responsibleID int) error
	GetDeal(ctx context.Context, dealID string) (bitrix.Record, error)
	GetTask(ctx context.Context, taskID string) (bitrix.Record, error)
	GetLead(ctx context.Context, leadID string) (bitrix.Record, error)
	LeadStatuses(ctx context.Context) ([]bitrix.Record, error)
	DealStages(ctx context.Context) ([]bitrix.Record, error)
	Close()
}

// CredentialStore is what the engine needs from the credential
// service client.
type CredentialStore interface {
	Get(ctx context.Context, chatID int64) (webhook.Descriptor, error)
	Put(ctx context.Context, chatID int64, desc webhook.Descriptor) error
	Delete(ctx context.Context, chatID int64) error
}

// Env bundles the engine's dependencies.
type Env struct {
	Creds    CredentialStore
	Sessions session.Store
	NewCRM   func(desc webhook.Descriptor) CRM
	Log      *logger.Logger
}

// Choice is one inline keyboard option: Label is shown to the user,
// Data is what selecting it stores.
type Choice struct {
	Label string
	Data  string
}

// Step collects one field.
type Step struct {
	// Field is the key the answer is stored under.
	Field string
	// Prompt is shown when the step begins.
	Prompt string
	// PromptFunc, when set, builds the prompt from the fields
	// collected so far.
	PromptFunc func(fields map[string]string) string
	// Options, when set, are offered as an inline keyboard. Free
	// text is still accepted unless ChoicesOnly is set.
	Options []Choice
	// ChoicesOnly rejects any answer that is not one of Options.
	ChoicesOnly bool
	// Optional lets the user skip the step with "-".
	Optional bool
	// Validate checks the answer against the fields collected so
	// far. A ValidationError re-prompts; with AbortOnInvalid the
	// whole flow is cancelled instead.
	Validate func(fields map[string]string, value string) error
	// AbortOnInvalid cancels the flow on the first invalid answer.
	AbortOnInvalid bool
}

func (s Step) prompt(fields map[string]string) string {
	if s.PromptFunc != nil {
		return s.PromptFunc(fields)
	}
	return s.Prompt
}

// Flow is a named sequence of steps with a terminal submit action.
type Flow struct {
	Name string
	// RequiresLink gates the flow on a stored credential.
	RequiresLink bool
	Steps        []Step
	// Setup runs before the first prompt. It can verify seeded
	// entities and contribute extra keyboard choices for the first
	// step. A returned error cancels the start.
	Setup func(ctx context.Context, env *Env, crm CRM, seed map[string]string) ([]Choice, error)
	// Submit receives all collected fields and performs the CRM
	// call. The returned string is the confirmation message.
	Submit func(ctx context.Context, env *Env, crm CRM, chatID int64, fields map[string]string) (string, error)
}

// ValidationError is a user-input problem. The message is safe to show
// to the user verbatim.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Msg)
}

// Reply is what the engine asks the transport to send.
type Reply struct {
	Text    string
	Choices []Choice
	// Done reports that the flow finished or was cancelled.
	Done bool
}
