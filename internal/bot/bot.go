package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/telebot.v4"

	"joke-catalog/internal/apperr"
	"joke-catalog/internal/catalog"
	"joke-catalog/internal/config"
	"joke-catalog/internal/filter"
	"joke-catalog/internal/fingerprint"
	"joke-catalog/internal/language"
	"joke-catalog/internal/models"
	"joke-catalog/internal/queue"
	"joke-catalog/internal/validation"
	"joke-catalog/pkg/logger"
)

var ErrRateLimited = errors.New("telegram rate limited")

// requestTimeout bounds the catalog and queue work done for one update.
const requestTimeout = 5 * time.Second

// Catalog is the part of the catalog service the bot talks to.
type Catalog interface {
	Select(f filter.Filter) ([]models.Joke, error)
	Submit(ctx context.Context, raw validation.RawSubmission) (validation.Result, *models.CacheEntry, error)
	Pending(lang string) []models.CacheEntry
	Accept(ctx context.Context, id string) (models.Joke, error)
	Reject(ctx context.Context, id string) error
	Languages() []language.Stat
	Stats(lang string) catalog.Stats
	Categories() []models.Category
	DefaultLanguage() string
}

// Outbox queues outgoing telegram messages so that sends survive rate
// limits and restarts.
type Outbox interface {
	PublishTelegramMessage(ctx context.Context, msg *queue.TelegramMessage) error
	ConsumeTelegramMessages(ctx context.Context, handler func(*queue.TelegramMessage) error) error
}

type Bot struct {
	settings telebot.Settings
	catalog  Catalog
	q        Outbox
	tbot     *telebot.Bot
	cfg      config.BotConfig

	// ctx is the polling lifetime; handlers derive their deadlines from it.
	ctx context.Context
}

func New(cfg config.BotConfig, c Catalog, q Outbox) (*Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	return &Bot{
		cfg:     cfg,
		catalog: c,
		q:       q,
		ctx:     context.Background(),
		settings: telebot.Settings{
			Token:  cfg.Token,
			Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		},
	}, nil
}

// Start connects to telegram and begins polling. Polling and the outbox
// consumer stop when ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	tbot, err := telebot.NewBot(b.settings)
	if err != nil {
		return fmt.Errorf("failed to create bot: %w", err)
	}

	b.tbot = tbot
	b.ctx = ctx
	b.setupHandlers(tbot)

	go b.startTelegramConsumer(ctx)
	go func() {
		<-ctx.Done()
		tbot.Stop()
	}()

	tbot.Start()
	return nil
}

func (b *Bot) setupHandlers(bot *telebot.Bot) {
	bot.Handle(telebot.OnText, func(c telebot.Context) error {
		logger.Debug("Incoming text message",
			logger.Int64("user_id", c.Sender().ID),
			logger.String("username", c.Sender().Username),
		)
		return b.reply(c, "Use /joke to get a joke or /help for everything else.")
	})

	bot.Handle("/start", b.handleHelp)
	bot.Handle("/help", b.handleHelp)
	bot.Handle("/joke", func(c telebot.Context) error {
		return b.reply(c, b.jokeReply(c.Args()))
	})
	bot.Handle("/submit", func(c telebot.Context) error {
		return b.reply(c, b.submitReply(b.ctx, c.Sender().ID, c.Message().Payload))
	})
	bot.Handle("/categories", func(c telebot.Context) error {
		return b.reply(c, b.categoriesReply())
	})
	bot.Handle("/langs", func(c telebot.Context) error {
		return b.reply(c, b.languagesReply())
	})
	bot.Handle("/stats", func(c telebot.Context) error {
		return b.reply(c, b.statsReply(c.Args()))
	})
	bot.Handle("/pending", func(c telebot.Context) error {
		return b.reply(c, b.pendingReply(c.Sender().ID, c.Args()))
	})
	bot.Handle("/accept", func(c telebot.Context) error {
		return b.reply(c, b.acceptReply(b.ctx, c.Sender().ID, c.Args()))
	})
	bot.Handle("/reject", func(c telebot.Context) error {
		return b.reply(c, b.rejectReply(b.ctx, c.Sender().ID, c.Args()))
	})
}

func (b *Bot) startTelegramConsumer(ctx context.Context) {
	if b.q == nil {
		return
	}

	err := b.q.ConsumeTelegramMessages(ctx, func(msg *queue.TelegramMessage) error {
		return b.sendMessageWithRetry(msg.ChatID, msg.Text)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Telegram consumer error", logger.Err(err))
	}
}

func (b *Bot) sendOptions() *telebot.SendOptions {
	return &telebot.SendOptions{ParseMode: telebot.ParseMode(b.cfg.ParseMode)}
}

func (b *Bot) sendMessageWithRetry(chatID int64, text string) error {
	maxRetries := 3
	retryDelay := time.Second

	for i := 0; i < maxRetries; i++ {
		_, err := b.tbot.Send(&telebot.Chat{ID: chatID}, text, b.sendOptions())

		if err != nil {
			var floodErr telebot.FloodError
			if errors.As(err, &floodErr) {
				logger.Warn("Rate limited, retrying...",
					logger.Int("retry", i+1),
					logger.Int("max_retries", maxRetries),
				)
				delay := retryDelay
				if floodErr.RetryAfter > 0 {
					delay = time.Duration(floodErr.RetryAfter) * time.Second
				}
				time.Sleep(delay)
				retryDelay *= 2
				continue
			}
			return fmt.Errorf("failed to send message: %w", err)
		}
		return nil
	}

	return ErrRateLimited
}

func (b *Bot) reply(c telebot.Context, text string) error {
	return b.queueOrSend(c.Chat().ID, text)
}

func (b *Bot) queueOrSend(chatID int64, text string) error {
	if b.q != nil {
		msg := &queue.TelegramMessage{
			ChatID: chatID,
			Text:   text,
		}
		ctx, cancel := context.WithTimeout(b.ctx, requestTimeout)
		defer cancel()
		if err := b.q.PublishTelegramMessage(ctx, msg); err != nil {
			logger.Error("Failed to queue telegram message", logger.Err(err))
		}
		return nil
	}

	_, err := b.tbot.Send(&telebot.Chat{ID: chatID}, text, b.sendOptions())
	return err
}

func (b *Bot) handleHelp(c telebot.Context) error {
	return b.reply(c, helpText)
}

const helpText = "*Joke Catalog*\n\n" +
	"Commands:\n" +
	"- /joke - Get a random joke\n" +
	"- /joke cat=programming,pun exclude=dark - Pick categories\n" +
	"- /joke blacklist=nsfw,racist flags=political - Filter by flags\n" +
	"- /joke type=twopart contains=bug lang=de amount=3 safe\n" +
	"- /joke 42 or /joke id=10-20 - By id\n" +
	"- /submit pun de +nsfw | joke text - Submit a joke\n" +
	"- /submit programming | setup | delivery - Submit a two-part joke\n" +
	"- /categories - Categories\n" +
	"- /langs - Languages\n" +
	"- /stats [lang] - Catalog statistics\n" +
	"- /help - Show this help message"

func (b *Bot) jokeReply(args []string) string {
	f, err := parseJokeArgs(args)
	if err != nil {
		return "Could not read your filter: " + escapeMarkdown(err.Error())
	}

	jokes, err := b.catalog.Select(f)
	if err != nil {
		return describeError(err)
	}
	if len(jokes) == 0 {
		return "No jokes match your filter."
	}

	parts := make([]string, len(jokes))
	for i, j := range jokes {
		parts[i] = formatJoke(j)
	}
	return strings.Join(parts, "\n\n---\n\n")
}

func (b *Bot) submitReply(ctx context.Context, userID int64, payload string) string {
	raw, err := parseSubmission(payload)
	if err != nil {
		return escapeMarkdown(err.Error())
	}
	raw.IPHash = fingerprint.Hash("telegram:" + strconv.FormatInt(userID, 10))

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	res, entry, err := b.catalog.Submit(ctx, raw)
	if err != nil {
		return describeError(err)
	}
	if !res.Valid {
		lines := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			lines[i] = "- " + escapeMarkdown(e)
		}
		return "Your joke was not accepted:\n" + strings.Join(lines, "\n")
	}

	msg := "Thanks! Your joke is waiting for moderation."
	if res.PreviouslyRejected {
		msg += "\nNote: an identical joke was rejected before."
	}
	logger.Info("Submission staged via telegram",
		logger.EntryID(entry.ID),
		logger.Lang(entry.Submission.Draft.Lang),
	)
	return msg
}

func (b *Bot) categoriesReply() string {
	cats := b.catalog.Categories()
	names := make([]string, len(cats))
	for i, c := range cats {
		names[i] = string(c)
	}
	return "*Categories*\n\n" + strings.Join(names, ", ") + "\n\nUse \"any\" for all of them."
}

func (b *Bot) languagesReply() string {
	var sb strings.Builder
	sb.WriteString("*Languages*\n\n")
	for _, st := range b.catalog.Languages() {
		marker := ""
		if st.Default {
			marker = " (default)"
		}
		fmt.Fprintf(&sb, "%s%s: %d jokes, %.1f%%\n", st.Code, marker, st.Jokes, st.Coverage)
	}
	return sb.String()
}

func (b *Bot) statsReply(args []string) string {
	lang := b.catalog.DefaultLanguage()
	if len(args) > 0 {
		lang = args[0]
	}
	st := b.catalog.Stats(lang)

	var sb strings.Builder
	fmt.Fprintf(&sb, "*Catalog Statistics* (%s)\n\n", escapeMarkdown(lang))
	fmt.Fprintf(&sb, "Total jokes: %d\nSafe jokes: %d\n", st.Total, st.Safe)
	for _, c := range b.catalog.Categories() {
		fmt.Fprintf(&sb, "%s: %d\n", c, st.ByCategory[c])
	}
	fmt.Fprintf(&sb, "Single: %d\nTwo-part: %d\n", st.ByType[models.TypeSingle], st.ByType[models.TypeTwoPart])
	for _, f := range models.Flags {
		if n := st.ByFlag[f]; n > 0 {
			fmt.Fprintf(&sb, "Flagged %s: %d\n", f, n)
		}
	}
	return sb.String()
}

const notAdmin = "Only moderators can do that."

func (b *Bot) pendingReply(userID int64, args []string) string {
	if !b.cfg.IsAdmin(userID) {
		return notAdmin
	}

	lang := b.catalog.DefaultLanguage()
	if len(args) > 0 {
		lang = args[0]
	}
	entries := b.catalog.Pending(lang)
	if len(entries) == 0 {
		return "Nothing is waiting for moderation."
	}

	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = formatEntry(e)
	}
	return fmt.Sprintf("*Pending* (%d)\n\n%s", len(entries), strings.Join(parts, "\n\n"))
}

func (b *Bot) acceptReply(ctx context.Context, userID int64, args []string) string {
	if !b.cfg.IsAdmin(userID) {
		return notAdmin
	}
	if len(args) != 1 {
		return "Usage: /accept <entry id>"
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	joke, err := b.catalog.Accept(ctx, args[0])
	if err != nil {
		return describeError(err)
	}
	logger.Info("Submission accepted via telegram",
		logger.EntryID(args[0]),
		logger.JokeID(joke.ID),
		logger.Int64("moderator", userID),
	)
	return fmt.Sprintf("Accepted as joke #%d.", joke.ID)
}

func (b *Bot) rejectReply(ctx context.Context, userID int64, args []string) string {
	if !b.cfg.IsAdmin(userID) {
		return notAdmin
	}
	if len(args) != 1 {
		return "Usage: /reject <entry id>"
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := b.catalog.Reject(ctx, args[0]); err != nil {
		return describeError(err)
	}
	logger.Info("Submission rejected via telegram",
		logger.EntryID(args[0]),
		logger.Int64("moderator", userID),
	)
	return "Rejected."
}

// describeError turns a catalog error into a user-facing message. Internal
// errors are logged and hidden.
func describeError(err error) string {
	switch apperr.KindOf(err) {
	case apperr.KindUserInput, apperr.KindValidationFailure, apperr.KindResourceExhaustion:
		return escapeMarkdown(err.Error())
	case apperr.KindStateConflict:
		return "That submission was already moderated."
	case apperr.KindNotFound:
		return "No such submission."
	default:
		logger.Error("Catalog operation failed", logger.Err(err))
		return "Something went wrong, try again later."
	}
}
