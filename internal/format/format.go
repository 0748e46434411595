// Package format renders CRM records into the HTML messages the bot
// sends. Absent fields always render as a placeholder, never as an
// empty slot.
package format

import (
	"fmt"
	"html"
	"strings"

	"b24bot/internal/bitrix"
)

const notSpecified = "not specified"

// taskStatusNames maps task status codes to display names.
var taskStatusNames = map[string]string{
	"1": "New",
	"2": "Pending",
	"3": "In progress",
	"4": "Awaiting control",
	"5": "Completed",
	"6": "Deferred",
	"7": "Rejected",
}

// taskPriorityNames maps task priority codes to display names.
var taskPriorityNames = map[string]string{
	"0": "Low",
	"1": "Low",
	"2": "Normal",
	"3": "High",
}

// field renders one labelled line, substituting the placeholder for
// empty values.
func field(label, value string) string {
	if strings.TrimSpace(value) == "" {
		value = notSpecified
	}
	return fmt.Sprintf("<b>%s:</b> %s", label, html.EscapeString(value))
}

// mapped renders a coded value through a name table, falling back to
// the raw code.
func mapped(names map[string]string, code string) string {
	if name, ok := names[code]; ok {
		return name
	}
	return code
}

// datePart trims an ISO timestamp down to its date.
func datePart(ts string) string {
	if len(ts) >= 10 {
		return ts[:10]
	}
	return ts
}

// Deal renders one deal card.
func Deal(deal bitrix.Record) string {
	lines := []string{
		fmt.Sprintf("💼 <b>Deal #%s</b>", html.EscapeString(deal.Str("ID"))),
		field("Title", deal.Str("TITLE")),
		field("Stage", deal.Str("STAGE_ID")),
		field("Amount", amount(deal)),
		field("Created", datePart(deal.Str("DATE_CREATE"))),
	}
	return strings.Join(lines, "\n")
}

func amount(rec bitrix.Record) string {
	if !rec.Has("OPPORTUNITY") {
		return ""
	}
	value, ok := rec.Float("OPPORTUNITY")
	if !ok {
		return rec.Str("OPPORTUNITY")
	}
	currency := rec.Str("CURRENCY_ID")
	if currency == "" {
		return fmt.Sprintf("%.2f", value)
	}
	return fmt.Sprintf("%.2f %s", value, currency)
}

// DealList renders a heading plus one line per deal.
func DealList(deals []bitrix.Record) string {
	if len(deals) == 0 {
		return "You have no deals."
	}
	lines := []string{fmt.Sprintf("💼 <b>Your deals (%d):</b>", len(deals))}
	for _, deal := range deals {
		lines = append(lines, fmt.Sprintf("#%s — %s [%s]",
			html.EscapeString(deal.Str("ID")),
			html.EscapeString(orPlaceholder(deal.Str("TITLE"))),
			html.EscapeString(orPlaceholder(deal.Str("STAGE_ID"))),
		))
	}
	return strings.Join(lines, "\n")
}

// Task renders one task card.
func Task(task bitrix.Record) string {
	lines := []string{
		fmt.Sprintf("📝 <b>Task #%s</b>", html.EscapeString(task.Str("ID"))),
		field("Title", task.Str("TITLE")),
		field("Status", mapped(taskStatusNames, task.Str("STATUS"))),
		field("Priority", mapped(taskPriorityNames, task.Str("PRIORITY"))),
		field("Deadline", datePart(task.Str("DEADLINE"))),
		field("Description", task.Str("DESCRIPTION")),
	}
	return strings.Join(lines, "\n")
}

// TaskList renders a heading plus one line per task.
func TaskList(tasks []bitrix.Record) string {
	if len(tasks) == 0 {
		return "You have no tasks."
	}
	lines := []string{fmt.Sprintf("📝 <b>Your tasks (%d):</b>", len(tasks))}
	for _, task := range tasks {
		deadline := datePart(task.Str("DEADLINE"))
		if deadline == "" {
			deadline = "no deadline"
		}
		lines = append(lines, fmt.Sprintf("#%s — %s (%s, due %s)",
			html.EscapeString(task.Str("ID")),
			html.EscapeString(orPlaceholder(task.Str("TITLE"))),
			html.EscapeString(mapped(taskStatusNames, task.Str("STATUS"))),
			html.EscapeString(deadline),
		))
	}
	return strings.Join(lines, "\n")
}

// Lead renders one lead card.
func Lead(lead bitrix.Record) string {
	lines := []string{
		fmt.Sprintf("🎯 <b>Lead #%s</b>", html.EscapeString(lead.Str("ID"))),
		field("Title", lead.Str("TITLE")),
		field("Name", strings.TrimSpace(lead.Str("NAME")+" "+lead.Str("LAST_NAME"))),
		field("Status", lead.Str("STATUS_ID")),
		field("Source", lead.Str("SOURCE_ID")),
		field("Phone", multiValue(lead, "PHONE")),
		field("Email", multiValue(lead, "EMAIL")),
	}
	return strings.Join(lines, "\n")
}

// LeadList renders a heading plus one line per lead.
func LeadList(leads []bitrix.Record) string {
	if len(leads) == 0 {
		return "You have no leads."
	}
	lines := []string{fmt.Sprintf("🎯 <b>Your leads (%d):</b>", len(leads))}
	for _, lead := range leads {
		lines = append(lines, fmt.Sprintf("#%s — %s [%s]",
			html.EscapeString(lead.Str("ID")),
			html.EscapeString(orPlaceholder(lead.Str("TITLE"))),
			html.EscapeString(orPlaceholder(lead.Str("STATUS_ID"))),
		))
	}
	return strings.Join(lines, "\n")
}

// Contact renders one contact card.
func Contact(contact bitrix.Record) string {
	name := strings.TrimSpace(contact.Str("NAME") + " " + contact.Str("LAST_NAME"))
	lines := []string{
		fmt.Sprintf("👤 <b>Contact #%s</b>", html.EscapeString(contact.Str("ID"))),
		field("Name", name),
		field("Phone", multiValue(contact, "PHONE")),
		field("Email", multiValue(contact, "EMAIL")),
	}
	return strings.Join(lines, "\n")
}

// ContactList renders search results for contacts.
func ContactList(contacts []bitrix.Record) string {
	if len(contacts) == 0 {
		return "No contacts found."
	}
	lines := []string{fmt.Sprintf("👤 <b>Contacts found (%d):</b>", len(contacts))}
	for _, contact := range contacts {
		name := strings.TrimSpace(contact.Str("NAME") + " " + contact.Str("LAST_NAME"))
		lines = append(lines, fmt.Sprintf("#%s — %s, %s",
			html.EscapeString(contact.Str("ID")),
			html.EscapeString(orPlaceholder(name)),
			html.EscapeString(orPlaceholder(multiValue(contact, "PHONE"))),
		))
	}
	return strings.Join(lines, "\n")
}

// Company renders one company card.
func Company(company bitrix.Record) string {
	lines := []string{
		fmt.Sprintf("🏢 <b>Company #%s</b>", html.EscapeString(company.Str("ID"))),
		field("Title", company.Str("TITLE")),
		field("Address", company.Str("ADDRESS")),
		field("Phone", multiValue(company, "PHONE")),
		field("Email", multiValue(company, "EMAIL")),
	}
	return strings.Join(lines, "\n")
}

// CompanyList renders search results for companies.
func CompanyList(companies []bitrix.Record) string {
	if len(companies) == 0 {
		return "No companies found."
	}
	lines := []string{fmt.Sprintf("🏢 <b>Companies found (%d):</b>", len(companies))}
	for _, company := range companies {
		lines = append(lines, fmt.Sprintf("#%s — %s",
			html.EscapeString(company.Str("ID")),
			html.EscapeString(orPlaceholder(company.Str("TITLE"))),
		))
	}
	return strings.Join(lines, "\n")
}

// TaskStats renders the task statistics report.
func TaskStats(stats bitrix.TaskStats) string {
	lines := []string{
		"📊 <b>Task statistics</b>",
		fmt.Sprintf("Total: %d", stats.Total),
		fmt.Sprintf("✅ Completed: %d", stats.Completed),
		fmt.Sprintf("▶️ In progress: %d", stats.InProgress),
		fmt.Sprintf("⏳ Pending: %d", stats.Pending),
		fmt.Sprintf("💤 Deferred: %d", stats.Deferred),
		fmt.Sprintf("👀 Awaiting control: %d", stats.AwaitingControl),
		fmt.Sprintf("🔥 Overdue: %d", stats.Overdue),
	}
	return strings.Join(lines, "\n")
}

// DealReport renders deals created within a period, a per-stage
// count and sum breakdown, and the total amount.
func DealReport(deals []bitrix.Record, periodStart, periodEnd string) string {
	header := fmt.Sprintf("📈 <b>Deal report %s — %s</b>", periodStart, periodEnd)
	if len(deals) == 0 {
		return header + "\nNo deals created in this period."
	}
	lines := []string{header}
	for _, deal := range deals {
		lines = append(lines, fmt.Sprintf("#%s — %s [%s] %s",
			html.EscapeString(deal.Str("ID")),
			html.EscapeString(orPlaceholder(deal.Str("TITLE"))),
			html.EscapeString(orPlaceholder(deal.Str("STAGE_ID"))),
			html.EscapeString(orPlaceholder(amount(deal))),
		))
	}
	lines = append(lines, "", "<b>By stage:</b>")
	type stageTotal struct {
		count int
		sum   float64
	}
	order := make([]string, 0, len(deals))
	stages := make(map[string]*stageTotal)
	for _, deal := range deals {
		stage := orPlaceholder(deal.Str("STAGE_ID"))
		agg, ok := stages[stage]
		if !ok {
			agg = &stageTotal{}
			stages[stage] = agg
			order = append(order, stage)
		}
		agg.count++
		value, _ := deal.Float("OPPORTUNITY")
		agg.sum += value
	}
	for _, stage := range order {
		agg := stages[stage]
		lines = append(lines, fmt.Sprintf("%s: %d, %.2f",
			html.EscapeString(stage), agg.count, agg.sum))
	}
	lines = append(lines, fmt.Sprintf("<b>Total: %.2f</b>", bitrix.SumOpportunity(deals)))
	return strings.Join(lines, "\n")
}

// multiValue extracts the first VALUE from Bitrix multi-field arrays
// (PHONE, EMAIL), falling back to a plain string value.
func multiValue(rec bitrix.Record, key string) string {
	v, ok := rec[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) == 0 {
			return ""
		}
		if entry, ok := t[0].(map[string]any); ok {
			if value, ok := entry["VALUE"].(string); ok {
				return value
			}
		}
		return ""
	default:
		return ""
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return notSpecified
	}
	return s
}
