package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/go-cmp/cmp"

	"adwatch/internal/config"
	"adwatch/internal/model"
	"adwatch/internal/notify"
	"adwatch/internal/session"
	"adwatch/internal/site"
	"adwatch/internal/storage"
)

// --- mocks ---

type sentMsg struct {
	ChatID   int64
	Text     string
	PhotoURL string
	Markup   any
}

type mockAPI struct {
	mu         sync.Mutex
	sent       []sentMsg
	requests   []tgbotapi.Chattable
	sendErr    error
	requestErr error
	updates    chan tgbotapi.Update
}

func newMockAPI() *mockAPI {
	return &mockAPI{updates: make(chan tgbotapi.Update)}
}

func (m *mockAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	switch msg := c.(type) {
	case tgbotapi.MessageConfig:
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Text, Markup: msg.ReplyMarkup})
	case tgbotapi.PhotoConfig:
		var photo string
		if f, ok := msg.File.(tgbotapi.FileURL); ok {
			photo = string(f)
		}
		m.sent = append(m.sent, sentMsg{ChatID: msg.ChatID, Text: msg.Caption, PhotoURL: photo, Markup: msg.ReplyMarkup})
	}
	return tgbotapi.Message{}, nil
}

func (m *mockAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	if m.requestErr != nil {
		return nil, m.requestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockAPI) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockAPI) StopReceivingUpdates() {}

func (m *mockAPI) lastText() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return ""
	}
	return m.sent[len(m.sent)-1].Text
}

func (m *mockAPI) last() sentMsg {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return sentMsg{}
	}
	return m.sent[len(m.sent)-1]
}

func (m *mockAPI) allTexts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.sent))
	for i, s := range m.sent {
		out[i] = s.Text
	}
	return out
}

func (m *mockAPI) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

// --- helpers ---

type testBot struct {
	*Bot
	api      *mockAPI
	store    *storage.SQLite
	sessions *session.Manager
}

func newTestBot(t *testing.T) *testBot {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	profile, err := site.Default()
	if err != nil {
		t.Fatalf("site profile: %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	worker := func(ctx context.Context, _ int64, _ string) error {
		<-ctx.Done()
		return nil
	}
	sessions := session.NewManager(worker, store, time.Second, time.Hour, log)
	t.Cleanup(func() { sessions.Shutdown(context.Background()) })

	api := newMockAPI()
	b := newBot(api, store, sessions, profile, &config.Config{SendTimeout: time.Second}, log)
	return &testBot{Bot: b, api: api, store: store, sessions: sessions}
}

func seedFilter(t *testing.T, store *storage.SQLite, category, keyword string) *model.Filter {
	t.Helper()
	f := &model.Filter{Category: category, Keyword: keyword}
	if err := store.CreateFilter(context.Background(), f); err != nil {
		t.Fatalf("seed filter: %v", err)
	}
	return f
}

func requireContains(t *testing.T, got, want string) {
	t.Helper()
	if !strings.Contains(got, want) {
		t.Errorf("reply missing %q, got:\n%s", want, got)
	}
}

func callbackData(t *testing.T, markup any) []string {
	t.Helper()
	kb, ok := markup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("reply markup = %T, want inline keyboard", markup)
	}
	var data []string
	for _, row := range kb.InlineKeyboard {
		for _, btn := range row {
			switch {
			case btn.CallbackData != nil:
				data = append(data, *btn.CallbackData)
			case btn.URL != nil:
				data = append(data, *btn.URL)
			}
		}
	}
	return data
}

func makeMsg(chatID, userID int64, cmd, args string) *tgbotapi.Message {
	text := "/" + cmd
	if args != "" {
		text += " " + args
	}
	return &tgbotapi.Message{
		From: &tgbotapi.User{ID: userID},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
		Entities: []tgbotapi.MessageEntity{
			{Type: "bot_command", Offset: 0, Length: len("/" + cmd)},
		},
	}
}

func makeCallback(chatID int64, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: 1, UserName: "tester"},
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// --- handler tests ---

func TestHandleStart(t *testing.T) {
	b := newTestBot(t)
	b.handleStart(100)
	requireContains(t, b.api.lastText(), "Welcome")
}

func TestHandleHelp(t *testing.T) {
	b := newTestBot(t)
	b.handleHelp(100)
	requireContains(t, b.api.lastText(), "/addfilter")
	requireContains(t, b.api.lastText(), "/search")
	requireContains(t, b.api.lastText(), "require_photos")
}

func TestHandleAddFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("usage", func(t *testing.T) {
		b := newTestBot(t)
		b.handleAddFilter(ctx, 100, "computadoras")
		requireContains(t, b.api.lastText(), "keyword is required")
	})

	t.Run("unknown category", func(t *testing.T) {
		b := newTestBot(t)
		b.handleAddFilter(ctx, 100, "juguetes pelota")
		requireContains(t, b.api.lastText(), "Unknown category")

		filters, _ := b.store.ListFilters(ctx)
		if len(filters) != 0 {
			t.Errorf("filters = %d, want 0", len(filters))
		}
	})

	t.Run("success", func(t *testing.T) {
		b := newTestBot(t)
		b.handleAddFilter(ctx, 100, "computadoras laptop -max 500 -photos")
		requireContains(t, b.api.lastText(), "Filter added")
		requireContains(t, b.api.lastText(), "#1 [computadoras] laptop | price up to 500 | photos only")

		filters, err := b.store.ListFilters(ctx)
		if err != nil {
			t.Fatalf("list filters: %v", err)
		}
		if diff := cmp.Diff(1, len(filters)); diff != "" {
			t.Fatalf("filter count (-want +got):\n%s", diff)
		}
		if !filters[0].RequirePhotos || filters[0].PriceMax == nil || *filters[0].PriceMax != 500 {
			t.Errorf("stored filter = %+v", filters[0])
		}
	})
}

func TestHandleFilters(t *testing.T) {
	ctx := context.Background()

	t.Run("empty", func(t *testing.T) {
		b := newTestBot(t)
		b.handleFilters(ctx, 100)
		requireContains(t, b.api.lastText(), "no filters yet")
	})

	t.Run("with delete buttons", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		seedFilter(t, b.store, "vivienda", "casa")

		b.handleFilters(ctx, 100)
		last := b.api.last()
		requireContains(t, last.Text, "#1 [computadoras] laptop")
		requireContains(t, last.Text, "#2 [vivienda] casa")
		want := []string{"rmfilter_confirm:1", "rmfilter_confirm:2"}
		if diff := cmp.Diff(want, callbackData(t, last.Markup)); diff != "" {
			t.Errorf("buttons (-want +got):\n%s", diff)
		}
	})
}

func TestHandleSetFilter(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		args     string
		contains string
		check    func(t *testing.T, f *model.Filter)
	}{
		{
			name:     "set price",
			args:     "1 price_min 100",
			contains: "price from 100",
			check: func(t *testing.T, f *model.Filter) {
				if f.PriceMin == nil || *f.PriceMin != 100 {
					t.Errorf("PriceMin = %v", f.PriceMin)
				}
			},
		},
		{
			name:     "set province with spaces",
			args:     "1 province La Habana",
			contains: "province: La Habana",
		},
		{
			name:     "field outside allow-list",
			args:     "1 id 5",
			contains: "Rejected",
			check: func(t *testing.T, f *model.Filter) {
				if f.ID != 1 || f.Keyword != "laptop" {
					t.Errorf("filter changed: %+v", f)
				}
			},
		},
		{
			name:     "injection attempt",
			args:     "1 keyword=x;DROP 1",
			contains: "Rejected",
		},
		{
			name:     "unknown category",
			args:     "1 category juguetes",
			contains: "Unknown category",
		},
		{
			name:     "missing filter",
			args:     "99 keyword mesa",
			contains: "Filter #99 not found",
		},
		{
			name:     "usage",
			args:     "1",
			contains: "usage: /setfilter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBot(t)
			seedFilter(t, b.store, "computadoras", "laptop")

			b.handleSetFilter(ctx, 100, tt.args)
			requireContains(t, b.api.lastText(), tt.contains)

			if tt.check != nil {
				f, err := b.store.GetFilter(ctx, 1)
				if err != nil {
					t.Fatalf("get filter: %v", err)
				}
				tt.check(t, f)
			}
		})
	}
}

func TestHandleRmFilter(t *testing.T) {
	ctx := context.Background()

	t.Run("usage", func(t *testing.T) {
		b := newTestBot(t)
		b.handleRmFilter(ctx, 100, "")
		requireContains(t, b.api.lastText(), "Usage: /rmfilter")
	})

	t.Run("not found", func(t *testing.T) {
		b := newTestBot(t)
		b.handleRmFilter(ctx, 100, "7")
		requireContains(t, b.api.lastText(), "Filter #7 not found")
	})

	t.Run("asks for confirmation", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")

		b.handleRmFilter(ctx, 100, "1")
		last := b.api.last()
		requireContains(t, last.Text, "Delete filter #1")
		if diff := cmp.Diff([]string{"rmfilter:1", "noop:0"}, callbackData(t, last.Markup)); diff != "" {
			t.Errorf("buttons (-want +got):\n%s", diff)
		}

		if _, err := b.store.GetFilter(ctx, 1); err != nil {
			t.Errorf("filter removed before confirmation: %v", err)
		}
	})
}

func TestHandleSearchAndStop(t *testing.T) {
	ctx := context.Background()

	t.Run("nothing to search", func(t *testing.T) {
		b := newTestBot(t)
		b.handleSearch(ctx, 100, "")
		requireContains(t, b.api.lastText(), "Nothing to search")
		if b.sessions.Status(100) != model.SessionIdle {
			t.Error("session should stay idle")
		}
	})

	t.Run("keyword search", func(t *testing.T) {
		b := newTestBot(t)
		b.handleSearch(ctx, 100, "laptop")
		requireContains(t, b.api.lastText(), `Searching for "laptop"`)
		if b.sessions.Status(100) != model.SessionActive {
			t.Fatal("session not active")
		}

		b.handleStatus(ctx, 100)
		requireContains(t, b.api.lastText(), "Search: running")
		requireContains(t, b.api.lastText(), "Keyword: laptop")

		b.handleSearch(ctx, 100, "mesa")
		requireContains(t, b.api.lastText(), "already running")
		if kw := b.sessions.Keyword(100); kw != "laptop" {
			t.Errorf("keyword = %q, want laptop", kw)
		}

		b.handleStop(100)
		requireContains(t, b.api.lastText(), "Search stopped.")
		b.handleStop(100)
		requireContains(t, b.api.lastText(), "No search is running")
	})

	t.Run("saved filters", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		b.handleSearch(ctx, 100, "")
		requireContains(t, b.api.lastText(), "Searching your saved filters")

		b.handleSearch(ctx, 100, "")
		requireContains(t, b.api.lastText(), "already running")
		if b.sessions.Status(100) != model.SessionActive {
			t.Error("running search should be left untouched")
		}
		b.handleStop(100)
		requireContains(t, b.api.lastText(), "Search stopped.")
	})
}

func TestHandlePing(t *testing.T) {
	t.Run("no channel", func(t *testing.T) {
		b := newTestBot(t)
		b.handlePing(100)
		if diff := cmp.Diff("pong", b.api.lastText()); diff != "" {
			t.Errorf("reply (-want +got):\n%s", diff)
		}
	})

	t.Run("channel ok", func(t *testing.T) {
		b := newTestBot(t)
		b.cfg.NotificationChannelID = -100
		b.handlePing(100)
		requireContains(t, b.api.lastText(), "Notification channel -100: ok")
	})

	t.Run("channel unreachable", func(t *testing.T) {
		b := newTestBot(t)
		b.cfg.NotificationChannelID = -100
		b.api.requestErr = errors.New("Bad Request: chat not found")
		b.handlePing(100)
		requireContains(t, b.api.lastText(), "unreachable")
	})
}

func TestHandleCategories(t *testing.T) {
	b := newTestBot(t)
	b.handleCategories(100)
	requireContains(t, b.api.lastText(), "computadoras")
	requireContains(t, b.api.lastText(), "vivienda")
}

func TestHandleCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches known commands", func(t *testing.T) {
		b := newTestBot(t)

		cmds := []struct {
			cmd      string
			args     string
			contains string
		}{
			{"start", "", "Welcome"},
			{"help", "", "/addfilter"},
			{"addfilter", "computadoras laptop", "Filter added"},
			{"filters", "", "#1 [computadoras] laptop"},
			{"setfilter", "1 keyword notebook", "notebook"},
			{"rmfilter", "1", "Delete filter #1"},
			{"clearfilters", "", "Delete ALL filters"},
			{"status", "", "Search: stopped"},
			{"ping", "", "pong"},
			{"categories", "", "Categories"},
			{"stop", "", "No search is running"},
			{"unknown_cmd", "", "Unknown command"},
		}

		for _, tc := range cmds {
			b.api.reset()
			b.handleCommand(ctx, makeMsg(100, 1, tc.cmd, tc.args))
			requireContains(t, b.api.lastText(), tc.contains)
		}
	})

	t.Run("touches the session", func(t *testing.T) {
		b := newTestBot(t)
		b.handleCommand(ctx, makeMsg(100, 1, "status", ""))
		snap := b.sessions.Snapshot()
		if len(snap) != 1 || snap[0].ChatID != 100 {
			t.Errorf("sessions = %+v, want chat 100", snap)
		}
	})
}

func TestHandleCallback(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid data format", func(t *testing.T) {
		b := newTestBot(t)
		b.handleCallback(ctx, makeCallback(100, "nocolon"))
		if diff := cmp.Diff(0, len(b.api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
		if len(b.api.requests) != 1 {
			t.Errorf("callback not acknowledged")
		}
	})

	t.Run("invalid id", func(t *testing.T) {
		b := newTestBot(t)
		b.handleCallback(ctx, makeCallback(100, "rmfilter:abc"))
		if diff := cmp.Diff(0, len(b.api.allTexts())); diff != "" {
			t.Errorf("expected no text messages (-want +got):\n%s", diff)
		}
	})

	t.Run("rmfilter_confirm callback", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		b.handleCallback(ctx, makeCallback(100, "rmfilter_confirm:1"))
		requireContains(t, b.api.lastText(), "Delete filter #1")
	})

	t.Run("rmfilter callback", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		b.handleCallback(ctx, makeCallback(100, "rmfilter:1"))
		requireContains(t, b.api.lastText(), "Filter #1 deleted")

		if _, err := b.store.GetFilter(ctx, 1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("GetFilter error = %v, want ErrNotFound", err)
		}
	})

	t.Run("clear callback", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		seedFilter(t, b.store, "vivienda", "casa")
		b.handleCallback(ctx, makeCallback(100, "clear:0"))
		requireContains(t, b.api.lastText(), "All filters deleted")

		filters, _ := b.store.ListFilters(ctx)
		if len(filters) != 0 {
			t.Errorf("filters = %d, want 0", len(filters))
		}
	})

	t.Run("noop callback", func(t *testing.T) {
		b := newTestBot(t)
		seedFilter(t, b.store, "computadoras", "laptop")
		b.handleCallback(ctx, makeCallback(100, "noop:0"))
		if n := len(b.api.allTexts()); n != 0 {
			t.Errorf("messages = %d, want 0", n)
		}
	})

	t.Run("denied user", func(t *testing.T) {
		b := newTestBot(t)
		b.cfg.AllowedUsers = []int64{42}
		seedFilter(t, b.store, "computadoras", "laptop")
		b.handleCallback(ctx, makeCallback(100, "clear:0"))
		requireContains(t, b.api.lastText(), "Access denied")

		filters, _ := b.store.ListFilters(ctx)
		if len(filters) != 1 {
			t.Errorf("filters = %d, want 1", len(filters))
		}
	})
}

// --- run loop and delivery ---

func runBot(t *testing.T, b *testBot) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestRunAccessDenied(t *testing.T) {
	b := newTestBot(t)
	b.cfg.AllowedUsers = []int64{42}
	runBot(t, b)

	b.api.updates <- tgbotapi.Update{Message: makeMsg(100, 7, "filters", "")}
	waitFor(t, func() bool { return b.api.lastText() != "" })
	requireContains(t, b.api.lastText(), "Access denied")

	b.api.reset()
	b.api.updates <- tgbotapi.Update{Message: makeMsg(100, 42, "filters", "")}
	waitFor(t, func() bool { return b.api.lastText() != "" })
	requireContains(t, b.api.lastText(), "no filters yet")
}

func TestSend(t *testing.T) {
	tests := []struct {
		name      string
		msg       notify.Message
		wantPhoto string
	}{
		{
			name:      "photo with caption",
			msg:       notify.Message{ChatID: 100, Text: "Laptop Lenovo", PhotoURL: "https://pic.test/1.jpg", Link: "https://m.test/item/a"},
			wantPhoto: "https://pic.test/1.jpg",
		},
		{
			name: "text",
			msg:  notify.Message{ChatID: 100, Text: "Mesa de escritorio", Link: "https://m.test/item/b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBot(t)
			runBot(t, b)

			if err := b.Send(context.Background(), tt.msg); err != nil {
				t.Fatalf("send: %v", err)
			}
			last := b.api.last()
			if diff := cmp.Diff(tt.msg.Text, last.Text); diff != "" {
				t.Errorf("text (-want +got):\n%s", diff)
			}
			if last.PhotoURL != tt.wantPhoto {
				t.Errorf("photo = %q, want %q", last.PhotoURL, tt.wantPhoto)
			}
			if diff := cmp.Diff([]string{tt.msg.Link}, callbackData(t, last.Markup)); diff != "" {
				t.Errorf("open button (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSendError(t *testing.T) {
	b := newTestBot(t)
	b.api.sendErr = errors.New("Bad Request: wrong file identifier")
	runBot(t, b)

	err := b.Send(context.Background(), notify.Message{ChatID: 100, Text: "x", PhotoURL: "https://pic.test/broken"})
	if err == nil || !strings.Contains(err.Error(), "wrong file identifier") {
		t.Errorf("error = %v, want telegram error", err)
	}
}

func TestSendTimeout(t *testing.T) {
	b := newTestBot(t)
	b.cfg.SendTimeout = 20 * time.Millisecond

	// No run loop: the job is never picked up.
	err := b.Send(context.Background(), notify.Message{ChatID: 100, Text: "x"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestSendCancelled(t *testing.T) {
	b := newTestBot(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.Send(ctx, notify.Message{ChatID: 100, Text: "x"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want canceled", err)
	}
}

func TestSendThroughDispatcher(t *testing.T) {
	b := newTestBot(t)
	runBot(t, b)

	d := notify.NewDispatcher(b, b.store, b.log)
	ad := model.Ad{URL: "https://m.test/item/a", Title: "Laptop Lenovo", Price: "300 USD", PhotoURL: "https://pic.test/a.jpg"}

	out, err := d.Send(context.Background(), ad, 100)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.Method != notify.MethodPhoto {
		t.Errorf("method = %q, want photo", out.Method)
	}
	seen, err := b.store.IsSeen(context.Background(), ad.URL)
	if err != nil || !seen {
		t.Errorf("IsSeen = %v, %v; want true", seen, err)
	}
	requireContains(t, b.api.lastText(), fmt.Sprintf("Price: %s", ad.Price))
}

func TestReportFatal(t *testing.T) {
	b := newTestBot(t)
	runBot(t, b)

	b.ReportFatal(100, errors.New("poll cycle panicked: boom"))
	requireContains(t, b.api.lastText(), "internal error: poll cycle panicked: boom")
}
