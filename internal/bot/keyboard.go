package bot

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"b24bot/internal/conversation"
)

// choicesPerRow keeps inline keyboards readable on phones.
const choicesPerRow = 2

// inlineKeyboard renders flow choices as callback buttons.
func inlineKeyboard(choices []conversation.Choice) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for _, choice := range choices {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(choice.Label, choice.Data))
		if len(row) == choicesPerRow {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

// mainKeyboard is the persistent reply keyboard with the everyday
// commands.
func mainKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("My deals"),
			tgbotapi.NewKeyboardButton("My tasks"),
			tgbotapi.NewKeyboardButton("My leads"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Create lead"),
			tgbotapi.NewKeyboardButton("Create deal"),
			tgbotapi.NewKeyboardButton("Create task"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("Task statistics"),
			tgbotapi.NewKeyboardButton("Deal report"),
		),
	)
	kb.ResizeKeyboard = true
	return kb
}
