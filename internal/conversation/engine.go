package conversation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"b24bot/internal/credstore"
	"b24bot/internal/observability/logger"
	"b24bot/internal/session"
	"b24bot/internal/telemetry"
)

// ErrNoActiveFlow reports that the chat has no flow in progress.
var ErrNoActiveFlow = errors.New("conversation: no active flow")

// NotLinkedMessage is sent whenever an operation needs a linked
// account and there is none.
const NotLinkedMessage = "Your Bitrix24 account is not linked yet. Send /auth to link it."

// skipMarker is what the user sends to leave an optional step empty.
const skipMarker = "-"

// Engine drives flows: it starts them, feeds user answers through the
// step list and submits at the end.
type Engine struct {
	env   *Env
	flows map[string]*Flow
}

// NewEngine builds an engine with the standard flow set.
func NewEngine(env *Env) *Engine {
	e := &Engine{env: env, flows: make(map[string]*Flow)}
	for _, f := range standardFlows() {
		e.flows[f.Name] = f
	}
	return e
}

// Active reports whether the chat has a flow in progress.
func (e *Engine) Active(ctx context.Context, chatID int64) (bool, error) {
	sess, err := e.env.Sessions.Get(ctx, chatID)
	if err != nil {
		return false, err
	}
	return sess != nil, nil
}

// Cancel drops any flow in progress.
func (e *Engine) Cancel(ctx context.Context, chatID int64) error {
	return e.env.Sessions.Clear(ctx, chatID)
}

// Start begins a flow for a chat, cancelling whatever was in progress.
// Seed fields come from the triggering command, for example the entity
// id out of "Edit deal 4215".
func (e *Engine) Start(ctx context.Context, chatID int64, flowName string, seed map[string]string) (Reply, error) {
	flow, ok := e.flows[flowName]
	if !ok {
		return Reply{}, fmt.Errorf("unknown flow %q", flowName)
	}
	ctx = logger.SetFlowInContext(ctx, flowName)

	var crm CRM
	if flow.RequiresLink {
		desc, err := e.env.Creds.Get(ctx, chatID)
		if errors.Is(err, credstore.ErrNotLinked) {
			return Reply{Text: NotLinkedMessage, Done: true}, nil
		}
		if err != nil {
			return Reply{}, err
		}
		crm = e.env.NewCRM(desc)
		defer crm.Close()
	}

	var extraChoices []Choice
	if flow.Setup != nil {
		choices, err := flow.Setup(ctx, e.env, crm, seed)
		if err != nil {
			return Reply{}, err
		}
		extraChoices = choices
	}

	sess := session.New(chatID, flowName)
	for k, v := range seed {
		sess.Fields[k] = v
	}
	if err := e.env.Sessions.Put(ctx, sess); err != nil {
		return Reply{}, err
	}

	e.env.Log.Info(ctx, "flow started",
		logger.Module("conversation"),
		logger.Action("start"),
		zap.String("flow", flowName),
	)
	telemetry.MessagesTotal.WithLabelValues("flow_start").Inc()

	first := flow.Steps[0]
	choices := make([]Choice, 0, len(first.Options)+len(extraChoices))
	choices = append(choices, first.Options...)
	choices = append(choices, extraChoices...)
	return Reply{
		Text:    first.prompt(sess.Fields),
		Choices: choices,
	}, nil
}

// HandleMessage feeds one text answer into the chat's active flow.
// ErrNoActiveFlow means the text was not part of a dialog and should
// be routed elsewhere.
func (e *Engine) HandleMessage(ctx context.Context, chatID int64, text string) (Reply, error) {
	sess, err := e.env.Sessions.Get(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if sess == nil {
		return Reply{}, ErrNoActiveFlow
	}
	return e.advance(ctx, sess, text)
}

// HandleChoice feeds an inline keyboard selection into the active
// flow. Unlike free text, a choice must match one of the offered
// options.
func (e *Engine) HandleChoice(ctx context.Context, chatID int64, data string) (Reply, error) {
	sess, err := e.env.Sessions.Get(ctx, chatID)
	if err != nil {
		return Reply{}, err
	}
	if sess == nil {
		return Reply{}, ErrNoActiveFlow
	}

	_, step, err := e.currentStep(ctx, sess)
	if err != nil {
		return Reply{}, err
	}
	if len(step.Options) > 0 && !optionData(step.Options, data) {
		return Reply{Text: "Please pick one of the offered options."}, nil
	}
	return e.advance(ctx, sess, data)
}

// currentStep resolves the session's flow and step. A session that no
// longer matches a registered flow, or points past the flow's steps,
// can be left over from an older deploy; it is cleared instead of
// trusted.
func (e *Engine) currentStep(ctx context.Context, sess *session.Session) (*Flow, Step, error) {
	flow, ok := e.flows[sess.Flow]
	if !ok || sess.Step < 0 || sess.Step >= len(flow.Steps) {
		_ = e.env.Sessions.Clear(ctx, sess.ChatID)
		return nil, Step{}, fmt.Errorf("stale session for flow %q at step %d", sess.Flow, sess.Step)
	}
	return flow, flow.Steps[sess.Step], nil
}

func optionData(options []Choice, data string) bool {
	for _, opt := range options {
		if opt.Data == data {
			return true
		}
	}
	return false
}

func (e *Engine) advance(ctx context.Context, sess *session.Session, answer string) (Reply, error) {
	flow, step, err := e.currentStep(ctx, sess)
	if err != nil {
		return Reply{}, err
	}
	ctx = logger.SetFlowInContext(ctx, sess.Flow)

	switch {
	case step.Optional && (answer == skipMarker || answer == ""):
		answer = ""
	case step.ChoicesOnly && !optionData(step.Options, answer):
		return Reply{
			Text:    "Please pick one of the offered options.\n" + step.prompt(sess.Fields),
			Choices: step.Options,
		}, nil
	case step.Validate != nil:
		if err := step.Validate(sess.Fields, answer); err != nil {
			var verr *ValidationError
			if !errors.As(err, &verr) {
				return Reply{}, err
			}
			if step.AbortOnInvalid {
				_ = e.env.Sessions.Clear(ctx, sess.ChatID)
				return Reply{Text: verr.Msg + " The operation was cancelled.", Done: true}, nil
			}
			return Reply{
				Text:    verr.Msg + "\n" + step.prompt(sess.Fields),
				Choices: step.Options,
			}, nil
		}
	}

	sess.Fields[step.Field] = answer
	sess.Step++

	if sess.Step < len(flow.Steps) {
		if err := e.env.Sessions.Put(ctx, sess); err != nil {
			return Reply{}, err
		}
		next := flow.Steps[sess.Step]
		return Reply{
			Text:    next.prompt(sess.Fields),
			Choices: next.Options,
		}, nil
	}

	return e.submit(ctx, flow, sess)
}

// submit runs the flow's terminal action. The session is cleared on
// every outcome; a failed submit does not leave the user stuck
// mid-dialog.
func (e *Engine) submit(ctx context.Context, flow *Flow, sess *session.Session) (Reply, error) {
	defer func() {
		_ = e.env.Sessions.Clear(ctx, sess.ChatID)
	}()

	var crm CRM
	if flow.RequiresLink {
		desc, err := e.env.Creds.Get(ctx, sess.ChatID)
		if errors.Is(err, credstore.ErrNotLinked) {
			return Reply{Text: NotLinkedMessage, Done: true}, nil
		}
		if err != nil {
			return Reply{}, err
		}
		crm = e.env.NewCRM(desc)
		defer crm.Close()
	}

	text, err := flow.Submit(ctx, e.env, crm, sess.ChatID, sess.Fields)
	if err != nil {
		telemetry.MessagesTotal.WithLabelValues("flow_failed").Inc()
		return Reply{Done: true}, err
	}

	e.env.Log.Info(ctx, "flow finished",
		logger.Module("conversation"),
		logger.Action("submit"),
		zap.String("flow", flow.Name),
	)
	telemetry.MessagesTotal.WithLabelValues("flow_done").Inc()
	return Reply{Text: text, Done: true}, nil
}
