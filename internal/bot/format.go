package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/sentiment"
)

// Card colors.
const (
	ColorBrand = "#83b670"
	ColorInfo  = "#2196f3"
	ColorToxic = "#ff6b6b"
	ColorError = "#e53935"
)

const (
	toxicEmoji = "☠️"
	niceEmoji  = "✨"
)

var medals = []string{"🥇", "🥈", "🥉"}

// rankLabel returns a medal for the top three and "N." otherwise.
func rankLabel(rank int) string {
	if rank >= 1 && rank <= len(medals) {
		return medals[rank-1]
	}
	return fmt.Sprintf("%d.", rank)
}

func formatStats(name string, sum *sentiment.Summary) chat.FormattedEvent {
	s := sum.Score
	fields := []chat.Field{
		{Name: "Messages", Value: fmt.Sprintf("%d", s.TotalMessages), Short: true},
		{Name: "Toxic", Value: fmt.Sprintf("%d", s.ToxicMessages), Short: true},
		{Name: "Toxicity", Value: fmt.Sprintf("%.1f%%", s.ToxicityPercentage), Short: true},
	}
	if a := sum.Dominant(); a != sentiment.AlignmentUnknown {
		fields = append(fields, chat.Field{Name: "Alignment", Value: a.Emoji() + " " + a.DisplayName(), Short: true})
	}
	color := ColorBrand
	if s.ToxicityPercentage >= 50 {
		color = ColorToxic
	}
	return chat.FormattedEvent{
		Title:  "📊 Stats for " + name,
		Color:  color,
		Fields: fields,
		Footer: "Last summarized " + s.SummarizedAt.UTC().Format("2006-01-02 15:04 UTC"),
	}
}

func formatLeaderboard(entries []sentiment.LeaderboardEntry, sortBy string, global bool) chat.FormattedEvent {
	title := "🏆 Toxicity Leaderboard"
	if sortBy == sentiment.SortAlignment {
		title = "🏆 Alignment Leaderboard"
	}
	if global {
		title += " (all servers)"
	}

	if len(entries) == 0 {
		return chat.FormattedEvent{Title: title, Body: "No statistics yet. Check back after the next summary run.", Color: ColorInfo}
	}

	var b strings.Builder
	for _, e := range entries {
		name := e.Username
		if name == "" {
			name = e.UserID
		}
		fmt.Fprintf(&b, "%s **%s**", rankLabel(e.Rank), name)
		if global && e.GuildName != "" {
			fmt.Fprintf(&b, " (%s)", e.GuildName)
		}
		if sortBy == sentiment.SortAlignment {
			fmt.Fprintf(&b, " %s %s · %d msgs\n", e.Alignment.Emoji(), e.Alignment.DisplayName(), e.TotalMessages)
		} else {
			fmt.Fprintf(&b, " %.1f%% toxic · %d msgs\n", e.ToxicityPercentage, e.TotalMessages)
		}
	}
	return chat.FormattedEvent{Title: title, Body: strings.TrimRight(b.String(), "\n"), Color: ColorBrand}
}

func formatCheck(text string, res sentiment.Result, model string, elapsed time.Duration) chat.FormattedEvent {
	verdict := niceEmoji + " Nice"
	color := ColorBrand
	if res.IsToxic {
		verdict = toxicEmoji + " Toxic"
		color = ColorToxic
	}
	fields := []chat.Field{
		{Name: "Sentiment", Value: verdict, Short: true},
		{Name: "Alignment", Value: res.Alignment.Emoji() + " " + res.Alignment.DisplayName(), Short: true},
	}
	if model != "" {
		fields = append(fields, chat.Field{Name: "Model", Value: model, Short: true})
	}
	return chat.FormattedEvent{
		Title:  "🔍 Toxicity Check Result",
		Body:   "> " + text,
		Color:  color,
		Fields: fields,
		Footer: fmt.Sprintf("Completed in `%d ms`.", elapsed.Milliseconds()),
	}
}

func formatBotStats(st Stats) chat.FormattedEvent {
	guilds, size := "n/a", "n/a"
	if st.Guilds >= 0 {
		guilds = fmt.Sprintf("%d", st.Guilds)
	}
	if st.DBSizeBytes >= 0 {
		size = fmt.Sprintf("%.2f MB", float64(st.DBSizeBytes)/(1<<20))
	}
	return chat.FormattedEvent{
		Title: "🤖 Bot Statistics",
		Color: ColorInfo,
		Fields: []chat.Field{
			{Name: "Uptime", Value: formatUptime(st.Uptime), Short: true},
			{Name: "Memory", Value: fmt.Sprintf("%.1f MB heap / %.1f MB sys", st.HeapMB, st.SysMB), Short: true},
			{Name: "Goroutines", Value: fmt.Sprintf("%d", st.Goroutines), Short: true},
			{Name: "Servers", Value: guilds, Short: true},
			{Name: "Messages Analysed", Value: fmt.Sprintf("%d", st.Totals.Sentiments), Short: true},
			{Name: "Users Tracked", Value: fmt.Sprintf("%d", st.Totals.ScoredUsers), Short: true},
			{Name: "Alignment Profiles", Value: fmt.Sprintf("%d", st.Totals.AlignmentUsers), Short: true},
			{Name: "Opt-outs", Value: fmt.Sprintf("%d", st.Totals.OptOuts), Short: true},
			{Name: "Database", Value: size, Short: true},
		},
	}
}

// formatUptime renders d as "3d 4h 5m".
func formatUptime(d time.Duration) string {
	d = d.Truncate(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}

func errorCard(text string) chat.FormattedEvent {
	return chat.FormattedEvent{Title: "⚠️ Something went wrong", Body: text, Color: ColorError}
}
