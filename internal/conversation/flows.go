package conversation

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"b24bot/internal/webhook"
)

// Flow names. The bot layer maps commands to these.
const (
	FlowAuth          = "auth"
	FlowLeadCreate    = "lead_create"
	FlowDealCreate    = "deal_create"
	FlowTaskCreate    = "task_create"
	FlowContactCreate = "contact_create"
	FlowDealEdit      = "deal_edit"
	FlowTaskEdit      = "task_edit"
	FlowLeadEdit      = "lead_edit"
	FlowComment       = "comment"
	FlowTaskReassign  = "task_reassign"
	FlowLeadStatus    = "lead_status"
	FlowQuickDeal     = "quick_deal"
)

// Seed field keys used by flows that operate on an existing entity.
const (
	SeedEntityID   = "ENTITY_ID"
	SeedEntityType = "ENTITY_TYPE"
)

// commentsField is the edit-flow choice that routes to a timeline
// comment instead of a field update.
const commentsField = "COMMENTS"

func standardFlows() []*Flow {
	return []*Flow{
		authFlow(),
		leadCreateFlow(),
		dealCreateFlow(),
		taskCreateFlow(),
		contactCreateFlow(),
		dealEditFlow(),
		taskEditFlow(),
		leadEditFlow(),
		commentFlow(),
		taskReassignFlow(),
		leadStatusFlow(),
		quickDealFlow(),
	}
}

func phoneValues(phone string) []any {
	return []any{map[string]any{"VALUE": phone, "VALUE_TYPE": "WORK"}}
}

func authFlow() *Flow {
	return &Flow{
		Name: FlowAuth,
		Steps: []Step{{
			Field:  "WEBHOOK_URL",
			Prompt: "Send your Bitrix24 incoming webhook URL.\nIt looks like https://yourcompany.bitrix24.ru/rest/1/abc123xyz/",
			Validate: func(_ map[string]string, value string) error {
				if !webhook.Validate(value) {
					return invalid("WEBHOOK_URL", "That does not look like a Bitrix24 webhook URL.")
				}
				return nil
			},
			AbortOnInvalid: true,
		}},
		Submit: func(ctx context.Context, env *Env, _ CRM, chatID int64, fields map[string]string) (string, error) {
			desc, err := webhook.Parse(fields["WEBHOOK_URL"])
			if err != nil {
				return "", err
			}

			crm := env.NewCRM(desc)
			defer crm.Close()

			user, err := crm.CurrentUser(ctx)
			if err != nil {
				return "", fmt.Errorf("webhook check failed: %w", err)
			}

			if err := env.Creds.Put(ctx, chatID, desc); err != nil {
				return "", err
			}

			name := strings.TrimSpace(user.Str("NAME") + " " + user.Str("LAST_NAME"))
			if name == "" {
				name = "user " + desc.UserID
			}
			return fmt.Sprintf("✅ Linked to %s as %s.", desc.PortalURL, name), nil
		},
	}
}

func leadCreateFlow() *Flow {
	return &Flow{
		Name:         FlowLeadCreate,
		RequiresLink: true,
		Steps: []Step{
			{Field: "NAME", Prompt: "Contact name for the lead?", Validate: notEmpty("NAME", "Name")},
			{Field: "PHONE", Prompt: "Contact phone?", Validate: notEmpty("PHONE", "Phone")},
			{Field: "SOURCE_ID", Prompt: "Lead source?", Options: []Choice{
				{Label: "Call", Data: "CALL"},
				{Label: "Website", Data: "WEB"},
				{Label: "Advertising", Data: "ADVERTISING"},
				{Label: "Recommendation", Data: "RECOMMENDATION"},
				{Label: "Other", Data: "OTHER"},
			}},
			{Field: "TITLE", Prompt: "Lead title?", Validate: notEmpty("TITLE", "Title")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id, err := crm.CreateLead(ctx, map[string]any{
				"TITLE":     fields["TITLE"],
				"NAME":      fields["NAME"],
				"PHONE":     phoneValues(fields["PHONE"]),
				"SOURCE_ID": fields["SOURCE_ID"],
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Lead #%d created.", id), nil
		},
	}
}

func dealCreateFlow() *Flow {
	return &Flow{
		Name:         FlowDealCreate,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, _ map[string]string) ([]Choice, error) {
			stages, err := crm.DealStages(ctx)
			if err != nil {
				return nil, err
			}
			choices := make([]Choice, 0, len(stages))
			for _, stage := range stages {
				choices = append(choices, Choice{
					Label: stage.Str("NAME"),
					Data:  stage.Str("STATUS_ID"),
				})
			}
			return choices, nil
		},
		Steps: []Step{
			{Field: "STAGE_ID", Prompt: "Pick the deal stage or type its code.",
				Validate: notEmpty("STAGE_ID", "Stage")},
			{Field: "TITLE", Prompt: "Deal title?", Validate: notEmpty("TITLE", "Title")},
			{Field: "OPPORTUNITY", Prompt: "Deal amount?", Validate: numeric("OPPORTUNITY", "Amount")},
			{
				Field:    "CONTACT",
				Prompt:   "Link a contact (C_<id>) or company (CO_<id>), or send - to skip.",
				Optional: true,
				Validate: func(_ map[string]string, value string) error {
					if value == "" || parseEntityRef(value) != nil {
						return nil
					}
					return invalid("CONTACT", "Use C_<id> for a contact or CO_<id> for a company.")
				},
			},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			payload := map[string]any{
				"TITLE":       fields["TITLE"],
				"STAGE_ID":    fields["STAGE_ID"],
				"OPPORTUNITY": fields["OPPORTUNITY"],
				"CURRENCY_ID": "RUB",
			}
			if ref := parseEntityRef(fields["CONTACT"]); ref != nil {
				payload[ref.field] = ref.id
			}
			id, err := crm.CreateDeal(ctx, payload)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Deal #%d created.", id), nil
		},
	}
}

type entityRef struct {
	field string
	id    string
}

// parseEntityRef reads "C_123" as contact 123 and "CO_5" as company 5.
func parseEntityRef(s string) *entityRef {
	var field, raw string
	switch {
	case strings.HasPrefix(s, "CO_"):
		field, raw = "COMPANY_ID", strings.TrimPrefix(s, "CO_")
	case strings.HasPrefix(s, "C_"):
		field, raw = "CONTACT_ID", strings.TrimPrefix(s, "C_")
	default:
		return nil
	}
	if _, err := strconv.Atoi(raw); err != nil {
		return nil
	}
	return &entityRef{field: field, id: raw}
}

func taskCreateFlow() *Flow {
	return &Flow{
		Name:         FlowTaskCreate,
		RequiresLink: true,
		Steps: []Step{
			{Field: "TITLE", Prompt: "Task title?", Validate: notEmpty("TITLE", "Title")},
			{Field: "DESCRIPTION", Prompt: "Task description? Send - to skip.", Optional: true},
			{Field: "PRIORITY", Prompt: "Task priority?", ChoicesOnly: true, Options: []Choice{
				{Label: "Low", Data: "1"},
				{Label: "Normal", Data: "2"},
				{Label: "High", Data: "3"},
			}},
			{Field: "DEADLINE", Prompt: "Deadline (2024-06-15)? Send - to skip.", Optional: true,
				Validate: isoDate("DEADLINE", "Deadline")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			payload := map[string]any{
				"TITLE":    fields["TITLE"],
				"PRIORITY": fields["PRIORITY"],
			}
			if fields["DESCRIPTION"] != "" {
				payload["DESCRIPTION"] = fields["DESCRIPTION"]
			}
			if fields["DEADLINE"] != "" {
				payload["DEADLINE"] = fields["DEADLINE"]
			}
			id, err := crm.CreateTask(ctx, payload)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Task #%d created.", id), nil
		},
	}
}

func contactCreateFlow() *Flow {
	return &Flow{
		Name:         FlowContactCreate,
		RequiresLink: true,
		Steps: []Step{
			{Field: "NAME", Prompt: "Contact first name?", Validate: notEmpty("NAME", "First name")},
			{Field: "LAST_NAME", Prompt: "Contact last name? Send - to skip.", Optional: true},
			{Field: "PHONE", Prompt: "Contact phone?", Validate: notEmpty("PHONE", "Phone")},
			{Field: "EMAIL", Prompt: "Contact email? Send - to skip.", Optional: true,
				Validate: emailAddr("EMAIL")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			payload := map[string]any{
				"NAME":  fields["NAME"],
				"PHONE": phoneValues(fields["PHONE"]),
			}
			if fields["LAST_NAME"] != "" {
				payload["LAST_NAME"] = fields["LAST_NAME"]
			}
			if fields["EMAIL"] != "" {
				payload["EMAIL"] = []any{map[string]any{"VALUE": fields["EMAIL"], "VALUE_TYPE": "WORK"}}
			}
			id, err := crm.CreateContact(ctx, payload)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Contact #%d created.", id), nil
		},
	}
}

func editValuePrompt(fields map[string]string) string {
	return fmt.Sprintf("Enter the new value for %s.", fields["FIELD"])
}

func dealEditFlow() *Flow {
	return &Flow{
		Name:         FlowDealEdit,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			_, err := crm.GetDeal(ctx, seed[SeedEntityID])
			return nil, err
		},
		Steps: []Step{
			{Field: "FIELD", Prompt: "Which field do you want to change?", ChoicesOnly: true, Options: []Choice{
				{Label: "Title", Data: "TITLE"},
				{Label: "Amount", Data: "OPPORTUNITY"},
				{Label: "Stage", Data: "STAGE_ID"},
				{Label: "Responsible", Data: "ASSIGNED_BY_ID"},
				{Label: "Probability", Data: "PROBABILITY"},
				{Label: "Comment", Data: commentsField},
			}},
			{Field: "VALUE", PromptFunc: editValuePrompt, Validate: dealEditValue},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id := fields[SeedEntityID]
			if fields["FIELD"] == commentsField {
				if err := crm.AddComment(ctx, "deal", id, fields["VALUE"]); err != nil {
					return "", err
				}
				return fmt.Sprintf("✅ Comment added to deal #%s.", id), nil
			}
			if err := crm.UpdateDeal(ctx, id, map[string]any{fields["FIELD"]: fields["VALUE"]}); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Deal #%s updated.", id), nil
		},
	}
}

func dealEditValue(fields map[string]string, value string) error {
	switch fields["FIELD"] {
	case "OPPORTUNITY":
		return numeric("VALUE", "Amount")(fields, value)
	case "ASSIGNED_BY_ID":
		return wholeNumber("VALUE", "Responsible user id")(fields, value)
	case "PROBABILITY":
		return percentage(value)
	default:
		return notEmpty("VALUE", "Value")(fields, value)
	}
}

func taskEditFlow() *Flow {
	return &Flow{
		Name:         FlowTaskEdit,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			_, err := crm.GetTask(ctx, seed[SeedEntityID])
			return nil, err
		},
		Steps: []Step{
			{Field: "FIELD", Prompt: "Which field do you want to change?", ChoicesOnly: true, Options: []Choice{
				{Label: "Title", Data: "TITLE"},
				{Label: "Description", Data: "DESCRIPTION"},
				{Label: "Priority", Data: "PRIORITY"},
				{Label: "Deadline", Data: "DEADLINE"},
				{Label: "Responsible", Data: "RESPONSIBLE_ID"},
				{Label: "Status", Data: "STATUS"},
				{Label: "Comment", Data: commentsField},
			}},
			{Field: "VALUE", PromptFunc: editValuePrompt, Validate: taskEditValue},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id := fields[SeedEntityID]
			if fields["FIELD"] == commentsField {
				if err := crm.AddComment(ctx, "task", id, fields["VALUE"]); err != nil {
					return "", err
				}
				return fmt.Sprintf("✅ Comment added to task #%s.", id), nil
			}
			if err := crm.UpdateTask(ctx, id, map[string]any{fields["FIELD"]: fields["VALUE"]}); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Task #%s updated.", id), nil
		},
	}
}

func taskEditValue(fields map[string]string, value string) error {
	switch fields["FIELD"] {
	case "PRIORITY":
		if value != "1" && value != "2" && value != "3" {
			return invalid("VALUE", "Priority must be 1 (low), 2 (normal) or 3 (high).")
		}
		return nil
	case "STATUS":
		switch value {
		case "1", "2", "3", "5":
			return nil
		}
		return invalid("VALUE", "Status must be 1 (new), 2 (pending), 3 (in progress) or 5 (completed).")
	case "DEADLINE":
		return isoDate("VALUE", "Deadline")(fields, value)
	case "RESPONSIBLE_ID":
		return wholeNumber("VALUE", "Responsible user id")(fields, value)
	default:
		return notEmpty("VALUE", "Value")(fields, value)
	}
}

func leadEditFlow() *Flow {
	return &Flow{
		Name:         FlowLeadEdit,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			_, err := crm.GetLead(ctx, seed[SeedEntityID])
			return nil, err
		},
		Steps: []Step{
			{Field: "FIELD", Prompt: "Which field do you want to change?", ChoicesOnly: true, Options: []Choice{
				{Label: "Title", Data: "TITLE"},
				{Label: "First name", Data: "NAME"},
				{Label: "Last name", Data: "LAST_NAME"},
				{Label: "Phone", Data: "PHONE"},
				{Label: "Email", Data: "EMAIL"},
				{Label: "Status", Data: "STATUS_ID"},
				{Label: "Source", Data: "SOURCE_ID"},
				{Label: "Responsible", Data: "ASSIGNED_BY_ID"},
				{Label: "Comment", Data: commentsField},
			}},
			{Field: "VALUE", PromptFunc: editValuePrompt, Validate: leadEditValue},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id := fields[SeedEntityID]
			field, value := fields["FIELD"], fields["VALUE"]
			if field == commentsField {
				if err := crm.AddComment(ctx, "lead", id, value); err != nil {
					return "", err
				}
				return fmt.Sprintf("✅ Comment added to lead #%s.", id), nil
			}

			var update map[string]any
			switch field {
			case "PHONE":
				update = map[string]any{"PHONE": phoneValues(value)}
			case "EMAIL":
				update = map[string]any{"EMAIL": []any{map[string]any{"VALUE": value, "VALUE_TYPE": "WORK"}}}
			default:
				update = map[string]any{field: value}
			}
			if err := crm.UpdateLead(ctx, id, update); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Lead #%s updated.", id), nil
		},
	}
}

func leadEditValue(fields map[string]string, value string) error {
	switch fields["FIELD"] {
	case "EMAIL":
		if err := notEmpty("VALUE", "Email")(fields, value); err != nil {
			return err
		}
		return emailAddr("VALUE")(fields, value)
	case "ASSIGNED_BY_ID":
		return wholeNumber("VALUE", "Responsible user id")(fields, value)
	default:
		return notEmpty("VALUE", "Value")(fields, value)
	}
}

func commentFlow() *Flow {
	return &Flow{
		Name:         FlowComment,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			id := seed[SeedEntityID]
			var err error
			switch seed[SeedEntityType] {
			case "deal":
				_, err = crm.GetDeal(ctx, id)
			case "task":
				_, err = crm.GetTask(ctx, id)
			case "lead":
				_, err = crm.GetLead(ctx, id)
			default:
				err = fmt.Errorf("unsupported entity type %q", seed[SeedEntityType])
			}
			return nil, err
		},
		Steps: []Step{
			{Field: "COMMENT", Prompt: "Write your comment.", Validate: notEmpty("COMMENT", "Comment")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			if err := crm.AddComment(ctx, fields[SeedEntityType], fields[SeedEntityID], fields["COMMENT"]); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Comment added to %s #%s.", fields[SeedEntityType], fields[SeedEntityID]), nil
		},
	}
}

func taskReassignFlow() *Flow {
	return &Flow{
		Name:         FlowTaskReassign,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			if _, err := crm.GetTask(ctx, seed[SeedEntityID]); err != nil {
				return nil, err
			}
			users, err := crm.Users(ctx)
			if err != nil {
				return nil, err
			}
			choices := make([]Choice, 0, len(users))
			for _, user := range users {
				name := strings.TrimSpace(user.Str("NAME") + " " + user.Str("LAST_NAME"))
				if name == "" {
					name = "user " + user.Str("ID")
				}
				choices = append(choices, Choice{Label: name, Data: user.Str("ID")})
			}
			return choices, nil
		},
		Steps: []Step{
			{
				Field:          "RESPONSIBLE_ID",
				Prompt:         "Pick the user to assign the task to or send their id.",
				Validate:       wholeNumber("RESPONSIBLE_ID", "User id"),
				AbortOnInvalid: true,
			},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			responsible, err := strconv.Atoi(fields["RESPONSIBLE_ID"])
			if err != nil {
				return "", invalid("RESPONSIBLE_ID", "User id must be a whole number.")
			}
			if err := crm.ReassignTask(ctx, fields[SeedEntityID], responsible); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Task #%s reassigned to user %d.", fields[SeedEntityID], responsible), nil
		},
	}
}

func leadStatusFlow() *Flow {
	return &Flow{
		Name:         FlowLeadStatus,
		RequiresLink: true,
		Setup: func(ctx context.Context, _ *Env, crm CRM, seed map[string]string) ([]Choice, error) {
			if _, err := crm.GetLead(ctx, seed[SeedEntityID]); err != nil {
				return nil, err
			}
			statuses, err := crm.LeadStatuses(ctx)
			if err != nil {
				return nil, err
			}
			choices := make([]Choice, 0, len(statuses))
			for _, status := range statuses {
				choices = append(choices, Choice{
					Label: status.Str("NAME"),
					Data:  status.Str("STATUS_ID"),
				})
			}
			return choices, nil
		},
		Steps: []Step{
			{Field: "STATUS_ID", Prompt: "Pick the new lead status or type its code.",
				Validate: notEmpty("STATUS_ID", "Status")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id := fields[SeedEntityID]
			if err := crm.UpdateLead(ctx, id, map[string]any{"STATUS_ID": fields["STATUS_ID"]}); err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Lead #%s moved to status %s.", id, fields["STATUS_ID"]), nil
		},
	}
}

func quickDealFlow() *Flow {
	return &Flow{
		Name:         FlowQuickDeal,
		RequiresLink: true,
		Steps: []Step{
			{Field: "TITLE", Prompt: "Deal title?", Validate: notEmpty("TITLE", "Title")},
			{Field: "OPPORTUNITY", Prompt: "Deal amount?", Validate: numeric("OPPORTUNITY", "Amount")},
		},
		Submit: func(ctx context.Context, _ *Env, crm CRM, _ int64, fields map[string]string) (string, error) {
			id, err := crm.CreateDeal(ctx, map[string]any{
				"TITLE":       fields["TITLE"],
				"OPPORTUNITY": fields["OPPORTUNITY"],
				"STAGE_ID":    "NEW",
				"CURRENCY_ID": "RUB",
			})
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("✅ Deal #%d created.", id), nil
		},
	}
}
