package bot

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/chat"
	"github.com/zulandar/toxbot/internal/db"
	"github.com/zulandar/toxbot/internal/sentiment"
	"gorm.io/gorm"
)

var processStart = time.Now()

// Stats is a health snapshot of the bot process. It holds counts only,
// never per-user data.
type Stats struct {
	Uptime      time.Duration
	HeapMB      float64
	SysMB       float64
	Goroutines  int
	Guilds      int   // -1 when the platform cannot report it
	DBSizeBytes int64 // -1 when the database cannot report it
	Totals      sentiment.Totals
}

// CollectStats gathers runtime, platform and database counters. guilds may
// be nil. Only a failed row count is an error; the database size is best
// effort.
func CollectStats(ctx context.Context, gdb *gorm.DB, guilds chat.GuildCounter) (Stats, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	st := Stats{
		Uptime:      time.Since(processStart),
		HeapMB:      float64(mem.HeapAlloc) / (1 << 20),
		SysMB:       float64(mem.Sys) / (1 << 20),
		Goroutines:  runtime.NumGoroutine(),
		Guilds:      -1,
		DBSizeBytes: -1,
	}
	if guilds != nil {
		st.Guilds = guilds.GuildCount()
	}

	totals, err := sentiment.CountTotals(ctx, gdb)
	if err != nil {
		return st, fmt.Errorf("bot: collect stats: %w", err)
	}
	st.Totals = totals

	if n, err := db.Size(ctx, gdb); err != nil {
		log.Debug().Err(err).Msg("bot: database size unavailable")
	} else {
		st.DBSizeBytes = n
	}
	return st, nil
}
