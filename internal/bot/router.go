package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"b24bot/internal/bitrix"
	"b24bot/internal/conversation"
	"b24bot/internal/credstore"
	"b24bot/internal/format"
	"b24bot/internal/observability/logger"
	"b24bot/internal/telemetry"
	"b24bot/internal/webhook"
)

// CRM is everything the bot calls on the Bitrix client. It extends the
// flow engine's view with the read and report operations the command
// handlers use directly.
type CRM interface {
	conversation.CRM
	ListDeals(ctx context.Context, filter map[string]any) ([]bitrix.Record, error)
	ListLeads(ctx context.Context, filter map[string]any) ([]bitrix.Record, error)
	ListTasks(ctx context.Context, filter map[string]any) ([]bitrix.Record, error)
	GetContact(ctx context.Context, contactID string) (bitrix.Record, error)
	SearchContacts(ctx context.Context, query string) ([]bitrix.Record, error)
	SearchCompanies(ctx context.Context, query string) ([]bitrix.Record, error)
	TaskStatistics(ctx context.Context) (bitrix.TaskStats, error)
	DealReport(ctx context.Context, periodStart, periodEnd string) ([]bitrix.Record, error)
	SumDeals(ctx context.Context, periodStart, periodEnd string) (float64, error)
	AttachFile(ctx context.Context, entityType, entityID, filename string, data []byte) error
}

const helpText = `I connect your Telegram to your Bitrix24 CRM.

<b>Account</b>
/auth — link your Bitrix24 account
/status — show the linked account
/logout — unlink and forget the webhook

<b>Browse</b>
My deals · My tasks · My leads
Deal 4215 · Task 55 · Lead 9
Find contact Anna · Find company Acme

<b>Create</b>
Create lead · Create deal · Create task · Create contact · Quick deal

<b>Change</b>
Edit deal 4215 · Edit task 55 · Edit lead 9
Add comment to deal 4215 · Reassign task 55 · Change lead status 9

<b>Reports</b>
Task statistics · Deal report week · Deals total month

Send /cancel to abandon a dialog. Send a file with a caption like
"Deal 4215" to attach it.`

// router turns one inbound text into a reply. It is free of Telegram
// transport concerns so it can be exercised directly in tests.
type router struct {
	engine *conversation.Engine
	creds  conversation.CredentialStore
	newCRM func(desc webhook.Descriptor) CRM
	log    *logger.Logger
	now    func() time.Time
}

// dispatch routes one message. Commands are matched before the dialog
// engine, so a command always interrupts a flow in progress.
func (r *router) dispatch(ctx context.Context, chatID int64, text string) conversation.Reply {
	ctx = logger.SetChatIDInContext(ctx, chatID)
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)

	if reply, matched := r.command(ctx, chatID, text, lower); matched {
		telemetry.MessagesTotal.WithLabelValues("command").Inc()
		return reply
	}

	reply, err := r.engine.HandleMessage(ctx, chatID, text)
	if errors.Is(err, conversation.ErrNoActiveFlow) {
		telemetry.MessagesTotal.WithLabelValues("unrecognized").Inc()
		return conversation.Reply{Text: "I did not understand that. Send /help for the list of commands."}
	}
	if err != nil {
		return r.failure(ctx, "dialog", err)
	}
	telemetry.MessagesTotal.WithLabelValues("dialog").Inc()
	return reply
}

// command matches the fixed command table. The second return value
// reports whether text was a command at all.
func (r *router) command(ctx context.Context, chatID int64, text, lower string) (conversation.Reply, bool) {
	// Any recognized command abandons the active dialog first.
	handle := func(fn func() conversation.Reply) (conversation.Reply, bool) {
		if err := r.engine.Cancel(ctx, chatID); err != nil {
			return r.failure(ctx, "cancel", err), true
		}
		return fn(), true
	}

	startFlow := func(flow string, seed map[string]string) (conversation.Reply, bool) {
		return handle(func() conversation.Reply {
			reply, err := r.engine.Start(ctx, chatID, flow, seed)
			if err != nil {
				return r.failure(ctx, flow, err)
			}
			return reply
		})
	}

	switch {
	case lower == "/start" || lower == "/help":
		return handle(func() conversation.Reply {
			return conversation.Reply{Text: helpText}
		})
	case lower == "/cancel":
		return handle(func() conversation.Reply {
			return conversation.Reply{Text: "Cancelled."}
		})
	case lower == "/auth":
		return startFlow(conversation.FlowAuth, nil)
	case lower == "/status":
		return handle(func() conversation.Reply { return r.status(ctx, chatID) })
	case lower == "/logout":
		return handle(func() conversation.Reply { return r.logout(ctx, chatID) })

	case lower == "my deals":
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "my_deals", func(crm CRM) (string, error) {
				deals, err := crm.ListDeals(ctx, nil)
				if err != nil {
					return "", err
				}
				return format.DealList(deals), nil
			})
		})
	case lower == "my tasks":
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "my_tasks", func(crm CRM) (string, error) {
				tasks, err := crm.ListTasks(ctx, nil)
				if err != nil {
					return "", err
				}
				return format.TaskList(tasks), nil
			})
		})
	case lower == "my leads":
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "my_leads", func(crm CRM) (string, error) {
				leads, err := crm.ListLeads(ctx, nil)
				if err != nil {
					return "", err
				}
				return format.LeadList(leads), nil
			})
		})
	case lower == "task statistics":
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "task_statistics", func(crm CRM) (string, error) {
				stats, err := crm.TaskStatistics(ctx)
				if err != nil {
					return "", err
				}
				return format.TaskStats(stats), nil
			})
		})

	case lower == "create lead":
		return startFlow(conversation.FlowLeadCreate, nil)
	case lower == "create deal":
		return startFlow(conversation.FlowDealCreate, nil)
	case lower == "create task":
		return startFlow(conversation.FlowTaskCreate, nil)
	case lower == "create contact":
		return startFlow(conversation.FlowContactCreate, nil)
	case lower == "quick deal":
		return startFlow(conversation.FlowQuickDeal, nil)

	case strings.HasPrefix(lower, "edit deal "):
		return startFlow(conversation.FlowDealEdit, seedID(text, "edit deal "))
	case strings.HasPrefix(lower, "edit task "):
		return startFlow(conversation.FlowTaskEdit, seedID(text, "edit task "))
	case strings.HasPrefix(lower, "edit lead "):
		return startFlow(conversation.FlowLeadEdit, seedID(text, "edit lead "))
	case strings.HasPrefix(lower, "reassign task "):
		return startFlow(conversation.FlowTaskReassign, seedID(text, "reassign task "))
	case strings.HasPrefix(lower, "change lead status "):
		return startFlow(conversation.FlowLeadStatus, seedID(text, "change lead status "))
	case strings.HasPrefix(lower, "add comment to "):
		seed, ok := parseCommentTarget(text)
		if !ok {
			return conversation.Reply{Text: `Use "Add comment to deal 4215", task or lead.`}, true
		}
		return startFlow(conversation.FlowComment, seed)

	case strings.HasPrefix(lower, "find contact "):
		query := strings.TrimSpace(text[len("find contact "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "find_contact", func(crm CRM) (string, error) {
				contacts, err := crm.SearchContacts(ctx, query)
				if err != nil {
					return "", err
				}
				return format.ContactList(contacts), nil
			})
		})
	case strings.HasPrefix(lower, "find company "):
		query := strings.TrimSpace(text[len("find company "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "find_company", func(crm CRM) (string, error) {
				companies, err := crm.SearchCompanies(ctx, query)
				if err != nil {
					return "", err
				}
				return format.CompanyList(companies), nil
			})
		})

	case strings.HasPrefix(lower, "deal report"):
		period := strings.TrimSpace(text[len("deal report"):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "deal_report", func(crm CRM) (string, error) {
				start, end := format.PeriodDates(period, r.now())
				deals, err := crm.DealReport(ctx, start, end)
				if err != nil {
					return "", err
				}
				return format.DealReport(deals, start, end), nil
			})
		})
	case strings.HasPrefix(lower, "deals total"):
		period := strings.TrimSpace(text[len("deals total"):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "deals_total", func(crm CRM) (string, error) {
				start, end := format.PeriodDates(period, r.now())
				total, err := crm.SumDeals(ctx, start, end)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("💰 Deals total %s — %s: <b>%.2f</b>", start, end, total), nil
			})
		})

	case strings.HasPrefix(lower, "deal "):
		id := strings.TrimSpace(text[len("deal "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "deal_view", func(crm CRM) (string, error) {
				deal, err := crm.GetDeal(ctx, id)
				if err != nil {
					return "", err
				}
				return format.Deal(deal), nil
			})
		})
	case strings.HasPrefix(lower, "task "):
		id := strings.TrimSpace(text[len("task "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "task_view", func(crm CRM) (string, error) {
				task, err := crm.GetTask(ctx, id)
				if err != nil {
					return "", err
				}
				return format.Task(task), nil
			})
		})
	case strings.HasPrefix(lower, "lead "):
		id := strings.TrimSpace(text[len("lead "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "lead_view", func(crm CRM) (string, error) {
				lead, err := crm.GetLead(ctx, id)
				if err != nil {
					return "", err
				}
				return format.Lead(lead), nil
			})
		})
	case strings.HasPrefix(lower, "contact "):
		id := strings.TrimSpace(text[len("contact "):])
		return handle(func() conversation.Reply {
			return r.withCRM(ctx, chatID, "contact_view", func(crm CRM) (string, error) {
				contact, err := crm.GetContact(ctx, id)
				if err != nil {
					return "", err
				}
				return format.Contact(contact), nil
			})
		})
	}

	return conversation.Reply{}, false
}

// choice feeds an inline keyboard selection into the dialog engine.
func (r *router) choice(ctx context.Context, chatID int64, data string) conversation.Reply {
	ctx = logger.SetChatIDInContext(ctx, chatID)
	reply, err := r.engine.HandleChoice(ctx, chatID, data)
	if errors.Is(err, conversation.ErrNoActiveFlow) {
		return conversation.Reply{Text: "That dialog has already finished."}
	}
	if err != nil {
		return r.failure(ctx, "dialog", err)
	}
	return reply
}

// attach uploads an incoming document to the entity named in its
// caption.
func (r *router) attach(ctx context.Context, chatID int64, caption, filename string, data []byte) conversation.Reply {
	ctx = logger.SetChatIDInContext(ctx, chatID)

	entityType, entityID, ok := parseEntityTarget(caption)
	if !ok {
		return conversation.Reply{Text: `Add a caption like "Deal 4215", "Task 55" or "Lead 9" so I know where to attach the file.`}
	}
	return r.withCRM(ctx, chatID, "attach_file", func(crm CRM) (string, error) {
		if err := crm.AttachFile(ctx, entityType, entityID, filename, data); err != nil {
			return "", err
		}
		return fmt.Sprintf("📎 File attached to %s #%s.", entityType, entityID), nil
	})
}

// withCRM resolves the chat's credential, runs fn with a client bound
// to it and maps any failure to user-facing text.
func (r *router) withCRM(ctx context.Context, chatID int64, op string, fn func(crm CRM) (string, error)) conversation.Reply {
	desc, err := r.creds.Get(ctx, chatID)
	if errors.Is(err, credstore.ErrNotLinked) {
		return conversation.Reply{Text: conversation.NotLinkedMessage}
	}
	if err != nil {
		return r.failure(ctx, op, err)
	}

	crm := r.newCRM(desc)
	defer crm.Close()

	text, err := fn(crm)
	if err != nil {
		return r.failure(ctx, op, err)
	}
	return conversation.Reply{Text: text}
}

func (r *router) status(ctx context.Context, chatID int64) conversation.Reply {
	desc, err := r.creds.Get(ctx, chatID)
	if errors.Is(err, credstore.ErrNotLinked) {
		return conversation.Reply{Text: "No Bitrix24 account is linked. Send /auth to link one."}
	}
	if err != nil {
		return r.failure(ctx, "status", err)
	}
	return conversation.Reply{Text: fmt.Sprintf("🔗 Linked to %s\nWebhook: %s", desc.PortalURL, desc.Masked())}
}

func (r *router) logout(ctx context.Context, chatID int64) conversation.Reply {
	if err := r.creds.Delete(ctx, chatID); err != nil {
		return r.failure(ctx, "logout", err)
	}
	return conversation.Reply{Text: "Your Bitrix24 account has been unlinked."}
}

// failure logs the error and maps it to user-facing text. Webhook
// tokens never appear in either.
func (r *router) failure(ctx context.Context, op string, err error) conversation.Reply {
	r.log.Error(ctx, "operation failed",
		logger.Module("bot"),
		logger.Action(op),
		zapError(err),
	)
	return conversation.Reply{Text: userMessage(err), Done: true}
}

func seedID(text, prefix string) map[string]string {
	return map[string]string{
		conversation.SeedEntityID: strings.TrimSpace(text[len(prefix):]),
	}
}

// parseCommentTarget reads "Add comment to deal 4215" into a comment
// flow seed.
func parseCommentTarget(text string) (map[string]string, bool) {
	rest := strings.TrimSpace(text[len("add comment to "):])
	entityType, entityID, ok := parseEntityTarget(rest)
	if !ok {
		return nil, false
	}
	return map[string]string{
		conversation.SeedEntityType: entityType,
		conversation.SeedEntityID:   entityID,
	}, true
}

// parseEntityTarget reads "deal 4215", "task 55" or "lead 9".
func parseEntityTarget(s string) (entityType, entityID string, ok bool) {
	parts := strings.Fields(strings.ToLower(strings.TrimSpace(s)))
	if len(parts) != 2 {
		return "", "", false
	}
	switch parts[0] {
	case "deal", "task", "lead":
		return parts[0], parts[1], true
	}
	return "", "", false
}
