// ABOUTME: Telegram long-poll consumer: drains updates and dispatches them to the agent.
// ABOUTME: Handles busy rejection with a fixed apology and backs off on transport errors.

package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/2389/familiar/internal/agent"
	"github.com/2389/familiar/internal/arbiter"
	"github.com/2389/familiar/internal/store"
	"github.com/2389/familiar/internal/taskctx"
	"github.com/2389/familiar/internal/telegram"
)

// Fixed user-facing texts. Chat users never see raw error details.
const (
	busyApology       = "I'm busy with another task right now. Give me a moment and ask again."
	generationApology = "Sorry, something went wrong while I was working on that. Please try again."
)

// Poll backoff bounds. The delay doubles on consecutive failures and resets
// on the first clean poll.
const (
	pollBackoffInitial = 1 * time.Second
	pollBackoffMax     = 30 * time.Second
)

// pollLoop drains inbound Telegram updates until ctx is canceled. Transport
// and send failures sleep with exponential backoff and resume scanning; the
// loop itself never terminates the process.
func (g *Gateway) pollLoop(ctx context.Context) {
	g.logger.Info("poll loop started", "poll_timeout", g.config.Telegram.PollTimeout)

	var offset int64
	backoff := pollBackoffInitial

	for {
		if ctx.Err() != nil {
			g.logger.Info("poll loop stopped")
			return
		}

		updates, err := g.chat.GetUpdates(ctx, offset, g.config.Telegram.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				g.logger.Info("poll loop stopped")
				return
			}
			g.logger.Warn("polling updates failed", "error", err, "retry_in", backoff)
			backoff = sleepBackoff(ctx, backoff)
			continue
		}
		backoff = pollBackoffInitial

		for _, update := range updates {
			// The offset advances past every drained update, handled or
			// not, so a poisonous message cannot be re-fetched forever.
			if update.UpdateID >= offset {
				offset = update.UpdateID + 1
			}

			if err := g.handleUpdate(ctx, update); err != nil {
				g.logger.Warn("delivering reply failed", "error", err, "retry_in", backoff)
				backoff = sleepBackoff(ctx, backoff)
			}
		}
	}
}

// sleepBackoff waits for the current delay (or cancellation) and returns the
// next, doubled delay.
func sleepBackoff(ctx context.Context, delay time.Duration) time.Duration {
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
	next := delay * 2
	if next > pollBackoffMax {
		next = pollBackoffMax
	}
	return next
}

// handleUpdate processes one drained update. Only send failures are
// returned; everything else is resolved locally with an apology.
func (g *Gateway) handleUpdate(ctx context.Context, update telegram.Update) error {
	msg := update.Message
	if msg == nil || msg.Text == "" {
		return nil
	}

	ctx, taskID := taskctx.With(ctx)
	logger := taskctx.Logger(ctx, g.logger)

	if !g.chatAllowed(msg.Chat.ID) {
		logger.Info("ignoring message from unconfigured chat", "chat_id", msg.Chat.ID)
		return nil
	}

	logger.Info("handling message",
		"chat_id", msg.Chat.ID, "update_id", update.UpdateID, "chars", len(msg.Text))

	started := time.Now()
	ex := &store.Exchange{
		TaskID:      taskID,
		Kind:        string(arbiter.TaskChatReply),
		ChatID:      &msg.Chat.ID,
		PromptChars: len([]rune(msg.Text)),
	}

	if !g.arb.TryBegin(arbiter.TaskChatReply) {
		g.arb.RecordBusyRejection()
		logger.Info("rejecting message, agent busy",
			"active_task", g.arb.Snapshot().ActiveTask)

		ex.Outcome = store.OutcomeBusy
		ex.Elapsed = time.Since(started)
		g.recordExchange(ctx, ex)
		return g.reply(ctx, msg.Chat.ID, busyApology)
	}

	reply, err := g.generate(ctx, msg)
	g.arb.Finish(arbiter.TaskChatReply)

	ex.Elapsed = time.Since(started)
	if err != nil {
		g.arb.RecordGenerationError(err)
		logger.Error("generating reply failed", "error", err)

		ex.Outcome = store.OutcomeError
		if errors.Is(err, agent.ErrCallTimeout) {
			ex.Outcome = store.OutcomeTimeout
		}
		ex.Error = err.Error()
		g.recordExchange(ctx, ex)
		return g.reply(ctx, msg.Chat.ID, generationApology)
	}

	g.arb.RecordMessageHandled()
	ex.Outcome = store.OutcomeOK
	ex.ReplyChars = len([]rune(reply))
	g.recordExchange(ctx, ex)
	logger.Info("message handled",
		"elapsed", ex.Elapsed.Round(time.Millisecond), "reply_chars", ex.ReplyChars)

	return g.reply(ctx, msg.Chat.ID, reply)
}

// generate runs the message through the session cache with the configured
// call timeout. The caller must hold the arbiter slot.
func (g *Gateway) generate(ctx context.Context, msg *telegram.Message) (string, error) {
	return g.sessions.Invoke(ctx, "chat-reply", composePrompt(msg), g.config.Agent.CallTimeout)
}

// composePrompt renders one inbound message as the agent's prompt. When the
// user replied to an earlier message its text rides along as quoted context.
func composePrompt(msg *telegram.Message) string {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.Text == "" {
		return msg.Text
	}
	return fmt.Sprintf("In reply to:\n> %s\n\n%s", msg.ReplyToMessage.Text, msg.Text)
}

// reply delivers text to the chat, counting delivery failures as send
// errors for the snapshot.
func (g *Gateway) reply(ctx context.Context, chatID int64, text string) error {
	if err := g.chat.SendMessage(ctx, chatID, text); err != nil {
		g.arb.RecordSendError(err)
		return fmt.Errorf("sending reply to chat %d: %w", chatID, err)
	}
	return nil
}

// chatAllowed reports whether the bot answers the given chat. An empty
// allow-list answers everyone.
func (g *Gateway) chatAllowed(chatID int64) bool {
	allowed := g.config.Telegram.AllowedChatIDs
	if len(allowed) == 0 {
		return true
	}
	for _, id := range allowed {
		if id == chatID {
			return true
		}
	}
	return false
}
