package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/zulandar/toxbot/internal/bot"
	"github.com/zulandar/toxbot/internal/sentiment"
)

// globalGuild selects the cross-guild leaderboard.
const globalGuild = "all"

// triggerableJobs are the jobs exposed under /api/jobs. The bridge sweep
// has its own route.
var triggerableJobs = map[string]bool{"summarize": true, "purge": true}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api")
	api.GET("/bridges", s.handleBridges)
	api.POST("/bridges/sweep", s.handleSweep)
	api.GET("/stats/:guild/:user", s.handleStats)
	api.GET("/leaderboard/:guild", s.handleLeaderboard)
	api.POST("/jobs/:name", s.handleJob)
	api.GET("/botstats", s.handleBotStats)

	svc := api.Group("/service")
	svc.GET("", s.handleServiceStatus)
	svc.POST("/start", s.handleServiceStart)
	svc.POST("/stop", s.handleServiceStop)
}

func (s *Server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		log.Warn().Err(err).Msg("api: health check")
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type bridgeView struct {
	ID                    uint       `json:"id"`
	UserID                string     `json:"user_id"`
	AdminID               string     `json:"admin_id"`
	AdminEmbedMessageID   string     `json:"admin_message_id"`
	LatestFeedbackContent string     `json:"latest_feedback"`
	CreatedAt             time.Time  `json:"created_at"`
	ExpiresAt             time.Time  `json:"expires_at"`
	LastMessageAt         *time.Time `json:"last_message_at,omitempty"`
}

func (s *Server) handleBridges(c *gin.Context) {
	bs, err := s.bridges.Active(c.Request.Context())
	if err != nil {
		internalError(c, "list bridges", err)
		return
	}
	out := make([]bridgeView, len(bs))
	for i, b := range bs {
		out[i] = bridgeView{
			ID:                    b.ID,
			UserID:                b.UserID,
			AdminID:               b.AdminID,
			AdminEmbedMessageID:   b.AdminEmbedMessageID,
			LatestFeedbackContent: b.LatestFeedbackContent,
			CreatedAt:             b.CreatedAt.UTC(),
			ExpiresAt:             b.ExpiresAt.UTC(),
			LastMessageAt:         b.LastMessageAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{"bridges": out, "count": len(out)})
}

func (s *Server) handleSweep(c *gin.Context) {
	n, err := s.bridges.Sweep(c.Request.Context(), s.bridges.Now())
	if err != nil {
		internalError(c, "sweep", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

type statsView struct {
	UserID             string    `json:"user_id"`
	GuildID            string    `json:"guild_id"`
	Username           string    `json:"username"`
	GuildName          string    `json:"guild_name,omitempty"`
	TotalMessages      int       `json:"total_messages"`
	ToxicMessages      int       `json:"toxic_messages"`
	ToxicityPercentage float64   `json:"toxicity_percentage"`
	Alignment          string    `json:"alignment,omitempty"`
	SummarizedAt       time.Time `json:"summarized_at"`
}

func (s *Server) handleStats(c *gin.Context) {
	guildID, userID := c.Param("guild"), c.Param("user")
	sum, err := sentiment.UserStats(c.Request.Context(), s.db, userID, guildID)
	if err != nil {
		internalError(c, "stats", err)
		return
	}
	if sum == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no stats for user in guild"})
		return
	}
	view := statsView{
		UserID:             sum.Score.UserID,
		GuildID:            sum.Score.GuildID,
		Username:           sum.Score.Username,
		GuildName:          sum.Score.GuildName,
		TotalMessages:      sum.Score.TotalMessages,
		ToxicMessages:      sum.Score.ToxicMessages,
		ToxicityPercentage: sum.Score.ToxicityPercentage,
		SummarizedAt:       sum.Score.SummarizedAt.UTC(),
	}
	if a := sum.Dominant(); a != sentiment.AlignmentUnknown {
		view.Alignment = a.DisplayName()
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleLeaderboard(c *gin.Context) {
	q := sentiment.LeaderboardQuery{
		GuildID: c.Param("guild"),
		Sort:    c.DefaultQuery("sort", sentiment.SortToxicity),
	}
	if q.GuildID == globalGuild {
		q.GuildID = ""
	}
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		q.Limit = n
	}
	if q.Sort != sentiment.SortToxicity && q.Sort != sentiment.SortAlignment {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sort must be toxicity or alignment"})
		return
	}

	entries, err := sentiment.Leaderboard(c.Request.Context(), s.db, q)
	if err != nil {
		internalError(c, "leaderboard", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sort": q.Sort, "entries": entries})
}

func (s *Server) handleJob(c *gin.Context) {
	name := c.Param("name")
	if !triggerableJobs[name] {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job " + name})
		return
	}
	if s.jobs == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not running"})
		return
	}
	result, err := s.jobs.Trigger(c.Request.Context(), name)
	switch {
	case errors.Is(err, bot.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": "job " + name + " is not scheduled"})
	case err != nil:
		internalError(c, "job "+name, err)
	default:
		c.JSON(http.StatusOK, gin.H{"job": name, "result": result})
	}
}

type botStatsView struct {
	UptimeSeconds int64            `json:"uptime_seconds"`
	HeapMB        float64          `json:"heap_mb"`
	SysMB         float64          `json:"sys_mb"`
	Goroutines    int              `json:"goroutines"`
	Guilds        *int             `json:"guilds"`
	DBSizeBytes   *int64           `json:"db_size_bytes"`
	Totals        sentiment.Totals `json:"totals"`
}

func (s *Server) handleBotStats(c *gin.Context) {
	st, err := bot.CollectStats(c.Request.Context(), s.db, s.guilds)
	if err != nil {
		internalError(c, "botstats", err)
		return
	}
	view := botStatsView{
		UptimeSeconds: int64(st.Uptime.Seconds()),
		HeapMB:        st.HeapMB,
		SysMB:         st.SysMB,
		Goroutines:    st.Goroutines,
		Totals:        st.Totals,
	}
	// Unknown values are null.
	if st.Guilds >= 0 {
		view.Guilds = &st.Guilds
	}
	if st.DBSizeBytes >= 0 {
		view.DBSizeBytes = &st.DBSizeBytes
	}
	c.JSON(http.StatusOK, view)
}

func (s *Server) handleServiceStatus(c *gin.Context) {
	if s.service == nil {
		serviceUnavailable(c)
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": s.service.Running()})
}

func (s *Server) handleServiceStart(c *gin.Context) {
	if s.service == nil {
		serviceUnavailable(c)
		return
	}
	err := s.service.Start(c.Request.Context())
	switch {
	case errors.Is(err, bot.ErrServiceRunning):
		c.JSON(http.StatusConflict, gin.H{"error": "bot is already running"})
	case errors.Is(err, bot.ErrServiceUnavailable):
		serviceUnavailable(c)
	case err != nil:
		internalError(c, "service start", err)
	default:
		log.Info().Msg("api: bot start requested")
		c.JSON(http.StatusAccepted, gin.H{"running": true, "message": "bot is starting"})
	}
}

func (s *Server) handleServiceStop(c *gin.Context) {
	if s.service == nil {
		serviceUnavailable(c)
		return
	}
	err := s.service.Stop(c.Request.Context())
	switch {
	case errors.Is(err, bot.ErrServiceStopped):
		c.JSON(http.StatusConflict, gin.H{"error": "bot is not running"})
	case errors.Is(err, bot.ErrServiceUnavailable):
		serviceUnavailable(c)
	case err != nil:
		internalError(c, "service stop", err)
	default:
		log.Info().Msg("api: bot stopped")
		c.JSON(http.StatusOK, gin.H{"running": false, "message": "bot stopped"})
	}
}

func serviceUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": "bot service not available"})
}

func internalError(c *gin.Context, op string, err error) {
	log.Error().Err(err).Str("op", op).Msg("api: request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": op + " failed"})
}
