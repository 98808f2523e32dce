package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/toxbot/internal/bridge"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/models"
	"github.com/zulandar/toxbot/internal/sentiment"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var t0 = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(
		&models.FeedbackBridge{},
		&models.UserSentiment{},
		&models.UserSentimentScore{},
		&models.UserAlignmentScore{},
		&models.UserOptOut{},
	); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	return db
}

type fakeFeedback struct {
	res   bridge.FeedbackResult
	err   error
	calls []string
}

func (f *fakeFeedback) SubmitFeedback(_ context.Context, userID, content string) (bridge.FeedbackResult, error) {
	f.calls = append(f.calls, userID+":"+content)
	return f.res, f.err
}

type fakeClassifier struct {
	res sentiment.Result
	err error
}

func (f *fakeClassifier) Classify(context.Context, string) (sentiment.Result, error) {
	return f.res, f.err
}

func newTestHandler(t *testing.T, db *gorm.DB, fb FeedbackSubmitter, cls sentiment.Classifier) *CommandHandler {
	t.Helper()
	ch, err := NewCommandHandler(CommandHandlerOpts{
		DB:         db,
		Feedback:   fb,
		Classifier: cls,
		Model:      "gpt-test",
		IsAdmin:    func(id string) bool { return id == "ADMIN" },
		Now:        func() time.Time { return t0 },
	})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}
	return ch
}

func guildMsg(userID, text string) chat.InboundMessage {
	return chat.InboundMessage{
		GuildID: "G1", GuildName: "Guild One", ChannelID: "C1", MessageID: "M1",
		UserID: userID, UserName: "name-" + userID, Text: text,
	}
}

func seedScore(t *testing.T, db *gorm.DB, userID, guildID string, total, toxic int, dominant sentiment.Alignment) {
	t.Helper()
	score := models.UserSentimentScore{
		UserID: userID, GuildID: guildID, Username: "name-" + userID, GuildName: "guild-" + guildID,
		TotalMessages: total, ToxicMessages: toxic, NonToxicMessages: total - toxic,
		ToxicityPercentage: sentiment.ToxicityPercentage(toxic, total), SummarizedAt: t0,
	}
	align := models.UserAlignmentScore{
		UserID: userID, GuildID: guildID, Username: "name-" + userID,
		TrueNeutral: total, DominantAlignment: int(dominant), SummarizedAt: t0,
	}
	if err := db.Create(&score).Error; err != nil {
		t.Fatalf("seed score: %v", err)
	}
	if err := db.Create(&align).Error; err != nil {
		t.Fatalf("seed alignment: %v", err)
	}
}

func TestNewCommandHandler_Validation(t *testing.T) {
	if _, err := NewCommandHandler(CommandHandlerOpts{Feedback: &fakeFeedback{}}); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := NewCommandHandler(CommandHandlerOpts{DB: openTestDB(t)}); err == nil {
		t.Error("expected error for nil feedback submitter")
	}
	ch, err := NewCommandHandler(CommandHandlerOpts{DB: openTestDB(t), Feedback: &fakeFeedback{}})
	if err != nil {
		t.Fatalf("NewCommandHandler: %v", err)
	}
	if ch.Prefix() != DefaultPrefix {
		t.Errorf("prefix = %q, want %q", ch.Prefix(), DefaultPrefix)
	}
}

func TestIsCommand(t *testing.T) {
	ch := newTestHandler(t, openTestDB(t), &fakeFeedback{}, nil)
	tests := []struct {
		text string
		want bool
	}{
		{"!tox", true},
		{"!tox help", true},
		{"  !tox stats  ", true},
		{"!toxic", false},
		{"hello !tox", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ch.IsCommand(tt.text); got != tt.want {
			t.Errorf("IsCommand(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text, name, rest string
	}{
		{"!tox", "", ""},
		{"!tox help", "help", ""},
		{"!tox FEEDBACK  the bot is great ", "feedback", "the bot is great"},
		{"!tox leaderboard alignment", "leaderboard", "alignment"},
	}
	for _, tt := range tests {
		name, rest := parseCommand("!tox", tt.text)
		if name != tt.name || rest != tt.rest {
			t.Errorf("parseCommand(%q) = (%q, %q), want (%q, %q)", tt.text, name, rest, tt.name, tt.rest)
		}
	}
}

func TestParseMention(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<@123456>", "123456"},
		{"<@!123456>", "123456"},
		{"<@U0ABC|bob>", "U0ABC"},
		{" <@U0ABC> ", "U0ABC"},
		{"bob", ""},
		{"<@>", ""},
		{"<#C123>", ""},
	}
	for _, tt := range tests {
		if got := parseMention(tt.in); got != tt.want {
			t.Errorf("parseMention(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExecute_HelpAndUnknown(t *testing.T) {
	ch := newTestHandler(t, openTestDB(t), &fakeFeedback{}, nil)
	ctx := context.Background()

	reply := ch.Execute(ctx, guildMsg("U1", "!tox"))
	if !strings.Contains(reply.Text, "Toxbot Commands") {
		t.Errorf("help = %q", reply.Text)
	}
	if reply.ChannelID != "C1" || reply.ReplyToID != "M1" {
		t.Errorf("reply target = %q/%q, want C1/M1", reply.ChannelID, reply.ReplyToID)
	}

	reply = ch.Execute(ctx, guildMsg("U1", "!tox dance"))
	if !strings.HasPrefix(reply.Text, "Unknown command: `dance`") {
		t.Errorf("unknown = %q", reply.Text)
	}
}

func TestCmdFeedback(t *testing.T) {
	tests := []struct {
		name string
		text string
		res  bridge.FeedbackResult
		err  error
		want string
	}{
		{name: "usage", text: "!tox feedback", want: "Usage:"},
		{name: "too short", text: "!tox feedback hi", err: bridge.ErrFeedbackTooShort, want: "at least 10 characters"},
		{name: "too long", text: "!tox feedback x", err: bridge.ErrFeedbackTooLong, want: "at most 1000 characters"},
		{name: "store error", text: "!tox feedback this is long enough", err: errors.New("db down"), want: "could not be recorded"},
		{name: "no admin reached", text: "!tox feedback this is long enough", res: bridge.FeedbackResult{FailedAdmins: []string{"A1"}}, want: "No developer could be reached"},
		{name: "receipt not sent", text: "!tox feedback this is long enough", res: bridge.FeedbackResult{BridgeIDs: []uint{1}}, want: "Open your direct messages"},
		{name: "ok", text: "!tox feedback this is long enough", res: bridge.FeedbackResult{BridgeIDs: []uint{1}, ReceiptSent: true}, want: "Check your direct messages"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := &fakeFeedback{res: tt.res, err: tt.err}
			ch := newTestHandler(t, openTestDB(t), fb, nil)
			reply := ch.Execute(context.Background(), guildMsg("U1", tt.text))
			if !strings.Contains(reply.Text, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", reply.Text, tt.want)
			}
		})
	}
}

func TestCmdFeedback_PassesContent(t *testing.T) {
	fb := &fakeFeedback{res: bridge.FeedbackResult{BridgeIDs: []uint{1}, ReceiptSent: true}}
	ch := newTestHandler(t, openTestDB(t), fb, nil)
	ch.Execute(context.Background(), guildMsg("U1", "!tox feedback   please add dark mode  "))
	if len(fb.calls) != 1 || fb.calls[0] != "U1:please add dark mode" {
		t.Errorf("calls = %v", fb.calls)
	}
}

func TestCmdStats(t *testing.T) {
	db := openTestDB(t)
	seedScore(t, db, "U1", "G1", 4, 1, sentiment.LawfulGood)
	ch := newTestHandler(t, db, &fakeFeedback{}, nil)
	ctx := context.Background()

	reply := ch.Execute(ctx, guildMsg("U1", "!tox stats"))
	if len(reply.Events) != 1 {
		t.Fatalf("events = %d, want 1 (text %q)", len(reply.Events), reply.Text)
	}
	ev := reply.Events[0]
	if ev.Title != "📊 Stats for name-U1" {
		t.Errorf("title = %q", ev.Title)
	}
	if got := fieldValue(ev, "Toxicity"); got != "25.0%" {
		t.Errorf("toxicity = %q, want 25.0%%", got)
	}
	if got := fieldValue(ev, "Alignment"); !strings.Contains(got, "Lawful Good") {
		t.Errorf("alignment = %q", got)
	}

	reply = ch.Execute(ctx, guildMsg("U2", "!tox stats <@U1>"))
	if len(reply.Events) != 1 || reply.Events[0].Title != "📊 Stats for name-U1" {
		t.Errorf("mention stats = %+v", reply)
	}

	tests := []struct {
		name string
		msg  chat.InboundMessage
		want string
	}{
		{"no stats", guildMsg("U9", "!tox stats"), "No stats yet for name-U9"},
		{"bad mention", guildMsg("U1", "!tox stats bob"), "Usage:"},
		{"direct message", chat.InboundMessage{UserID: "U1", IsDirect: true, Text: "!tox stats"}, "per server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := ch.Execute(ctx, tt.msg)
			if !strings.Contains(reply.Text, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", reply.Text, tt.want)
			}
		})
	}
}

func fieldValue(ev chat.FormattedEvent, name string) string {
	for _, f := range ev.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func TestCmdLeaderboard(t *testing.T) {
	db := openTestDB(t)
	seedScore(t, db, "U1", "G1", 4, 1, sentiment.LawfulGood)
	seedScore(t, db, "U2", "G1", 8, 6, sentiment.ChaoticEvil)
	seedScore(t, db, "U3", "G2", 2, 0, sentiment.TrueNeutral)
	ch := newTestHandler(t, db, &fakeFeedback{}, nil)
	ctx := context.Background()

	reply := ch.Execute(ctx, guildMsg("U1", "!tox leaderboard"))
	if len(reply.Events) != 1 {
		t.Fatalf("events = %d (text %q)", len(reply.Events), reply.Text)
	}
	ev := reply.Events[0]
	if ev.Title != "🏆 Toxicity Leaderboard" {
		t.Errorf("title = %q", ev.Title)
	}
	lines := strings.Split(ev.Body, "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "name-U2") || !strings.Contains(lines[1], "name-U1") {
		t.Errorf("body = %q", ev.Body)
	}

	reply = ch.Execute(ctx, guildMsg("U1", "!tox leaderboard alignment"))
	ev = reply.Events[0]
	if ev.Title != "🏆 Alignment Leaderboard" || !strings.HasPrefix(ev.Body, "🥇 **name-U2**") {
		t.Errorf("alignment board = %q / %q", ev.Title, ev.Body)
	}

	// Admins see every guild, even from a direct message.
	reply = ch.Execute(ctx, chat.InboundMessage{UserID: "ADMIN", IsDirect: true, Text: "!tox leaderboard"})
	ev = reply.Events[0]
	if ev.Title != "🏆 Toxicity Leaderboard (all servers)" {
		t.Errorf("admin title = %q", ev.Title)
	}
	if n := len(strings.Split(ev.Body, "\n")); n != 3 {
		t.Errorf("admin board lines = %d, want 3", n)
	}

	tests := []struct {
		name string
		msg  chat.InboundMessage
		want string
	}{
		{"bad sort", guildMsg("U1", "!tox leaderboard loudest"), "Usage:"},
		{"direct message", chat.InboundMessage{UserID: "U1", IsDirect: true, Text: "!tox leaderboard"}, "per server"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if reply := ch.Execute(ctx, tt.msg); !strings.Contains(reply.Text, tt.want) {
				t.Errorf("reply = %q, want it to contain %q", reply.Text, tt.want)
			}
		})
	}
}

func TestCmdLeaderboard_Empty(t *testing.T) {
	ch := newTestHandler(t, openTestDB(t), &fakeFeedback{}, nil)
	reply := ch.Execute(context.Background(), guildMsg("U1", "!tox leaderboard"))
	if len(reply.Events) != 1 || !strings.HasPrefix(reply.Events[0].Body, "No statistics yet") {
		t.Errorf("reply = %+v", reply)
	}
}

func TestCmdOpt(t *testing.T) {
	db := openTestDB(t)
	seedScore(t, db, "U1", "G1", 4, 1, sentiment.LawfulGood)
	ch := newTestHandler(t, db, &fakeFeedback{}, nil)
	ctx := context.Background()

	reply := ch.Execute(ctx, guildMsg("U1", "!tox opt out"))
	if !strings.HasPrefix(reply.Text, "You have opted out") {
		t.Errorf("opt out = %q", reply.Text)
	}
	out, err := sentiment.IsOptedOut(ctx, db, "U1")
	if err != nil || !out {
		t.Errorf("IsOptedOut = %v, %v; want true", out, err)
	}
	if sum, _ := sentiment.UserStats(ctx, db, "U1", "G1"); sum != nil {
		t.Error("opting out should delete stored stats")
	}

	reply = ch.Execute(ctx, guildMsg("U1", "!tox opt IN"))
	if !strings.HasPrefix(reply.Text, "You have opted in") {
		t.Errorf("opt in = %q", reply.Text)
	}
	if out, _ := sentiment.IsOptedOut(ctx, db, "U1"); out {
		t.Error("still opted out after opt in")
	}

	reply = ch.Execute(ctx, guildMsg("U1", "!tox opt maybe"))
	if !strings.HasPrefix(reply.Text, "Usage:") {
		t.Errorf("bad opt = %q", reply.Text)
	}
}

func TestCmdCheck(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ch := newTestHandler(t, db, &fakeFeedback{}, nil)
	if reply := ch.Execute(ctx, guildMsg("U1", "!tox check you stink")); reply.Text != "Sentiment checks are disabled." {
		t.Errorf("disabled = %q", reply.Text)
	}

	cls := &fakeClassifier{res: sentiment.Result{IsToxic: true, Alignment: sentiment.ChaoticEvil}}
	ch = newTestHandler(t, db, &fakeFeedback{}, cls)

	reply := ch.Execute(ctx, guildMsg("U1", "!tox check you stink"))
	if len(reply.Events) != 1 {
		t.Fatalf("events = %d (text %q)", len(reply.Events), reply.Text)
	}
	ev := reply.Events[0]
	if ev.Title != "🔍 Toxicity Check Result" || ev.Color != ColorToxic {
		t.Errorf("card = %q %q", ev.Title, ev.Color)
	}
	if got := fieldValue(ev, "Model"); got != "gpt-test" {
		t.Errorf("model = %q", got)
	}
	if !strings.HasPrefix(ev.Footer, "Completed in `") {
		t.Errorf("footer = %q", ev.Footer)
	}
	if n := countSentiments(t, db); n != 0 {
		t.Errorf("check stored %d rows, want 0", n)
	}

	if reply := ch.Execute(ctx, guildMsg("U1", "!tox check")); !strings.HasPrefix(reply.Text, "Usage:") {
		t.Errorf("empty check = %q", reply.Text)
	}

	cls.err = errors.New("timeout")
	reply = ch.Execute(ctx, guildMsg("U1", "!tox check hello"))
	if len(reply.Events) != 1 || reply.Events[0].Color != ColorError {
		t.Errorf("error reply = %+v", reply)
	}
}

func countSentiments(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	if err := db.Model(&models.UserSentiment{}).Count(&n).Error; err != nil {
		t.Fatal(err)
	}
	return n
}

func TestCmdBotStats(t *testing.T) {
	db := openTestDB(t)
	seedScore(t, db, "U1", "G1", 4, 1, sentiment.LawfulGood)
	if err := sentiment.SetOptOut(context.Background(), db, "U7", true, t0); err != nil {
		t.Fatal(err)
	}
	adapter := chat.NewMockAdapter()
	adapter.SetGuildCount(3)
	ch, err := NewCommandHandler(CommandHandlerOpts{
		DB:       db,
		Feedback: &fakeFeedback{},
		IsAdmin:  func(id string) bool { return id == "ADMIN" },
		Guilds:   adapter,
	})
	if err != nil {
		t.Fatal(err)
	}

	denied := ch.Execute(context.Background(), guildMsg("U1", "!tox botstats"))
	if !strings.Contains(denied.Text, "only available to administrators") || len(denied.Events) != 0 {
		t.Errorf("non-admin reply = %+v", denied)
	}

	reply := ch.Execute(context.Background(), guildMsg("ADMIN", "!tox botstats"))
	if len(reply.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(reply.Events))
	}
	ev := reply.Events[0]
	wantFields := map[string]string{
		"Servers":            "3",
		"Users Tracked":      "1",
		"Alignment Profiles": "1",
		"Opt-outs":           "1",
		"Messages Analysed":  "0",
	}
	for name, want := range wantFields {
		if got := fieldValue(ev, name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
	if got := fieldValue(ev, "Goroutines"); got == "" || got == "0" {
		t.Errorf("Goroutines = %q", got)
	}
	if got := fieldValue(ev, "Database"); !strings.HasSuffix(got, " MB") {
		t.Errorf("Database = %q, want a size", got)
	}
}

type namedClassifier struct{ fakeClassifier }

func (namedClassifier) Model() string { return "llama-local" }

func TestNewCommandHandler_ModelFromClassifier(t *testing.T) {
	ch, err := NewCommandHandler(CommandHandlerOpts{
		DB:         openTestDB(t),
		Feedback:   &fakeFeedback{},
		Classifier: &namedClassifier{fakeClassifier{res: sentiment.Result{Alignment: sentiment.TrueNeutral}}},
	})
	if err != nil {
		t.Fatal(err)
	}
	reply := ch.Execute(context.Background(), guildMsg("U1", "!tox check how are you"))
	if len(reply.Events) != 1 {
		t.Fatalf("events = %d, want 1", len(reply.Events))
	}
	if got := fieldValue(reply.Events[0], "Model"); got != "llama-local" {
		t.Errorf("Model = %q, want llama-local", got)
	}
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{90 * time.Second, "0h 1m"},
		{5*time.Hour + 59*time.Minute + 59*time.Second, "5h 59m"},
		{3*24*time.Hour + 4*time.Hour + 5*time.Minute, "3d 4h 5m"},
	}
	for _, tt := range tests {
		if got := formatUptime(tt.d); got != tt.want {
			t.Errorf("formatUptime(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
