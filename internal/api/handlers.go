package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/stakecast/stakecast/internal/cache"
	"github.com/stakecast/stakecast/internal/models"
	"github.com/stakecast/stakecast/internal/reconcile"
)

// topSupportersLimit caps the supporters returned on a cast view
const topSupportersLimit = 10

// castView is the API representation of a cast entry
type castView struct {
	Hash                 string                     `json:"hash"`
	AuthorFID            int64                      `json:"author_fid"`
	Username             string                     `json:"username"`
	DisplayName          string                     `json:"display_name"`
	AvatarURL            string                     `json:"avatar_url"`
	Text                 string                     `json:"text"`
	Description          string                     `json:"description"`
	CasterStakes         models.CasterStakes        `json:"caster_stakes"`
	SupporterStakes      models.SupporterStakes     `json:"supporter_stakes"`
	TotalStaked          string                     `json:"total_staked"`
	USDValue             float64                    `json:"usd_value"`
	Rank                 *int64                     `json:"rank"`
	Status               string                     `json:"status"`
	ActiveSupporterTotal string                     `json:"active_supporter_total"`
	TopSupporters        []reconcile.SupporterTotal `json:"top_supporters"`
}

func newCastView(cast *models.Cast) *castView {
	view := &castView{
		Hash:                 cast.Hash,
		AuthorFID:            cast.AuthorFID,
		Username:             cast.Username,
		DisplayName:          cast.DisplayName,
		AvatarURL:            cast.AvatarURL,
		Text:                 cast.Text,
		Description:          cast.Description,
		CasterStakes:         cast.CasterStakes,
		SupporterStakes:      cast.SupporterStakes,
		TotalStaked:          cast.TotalStaked,
		USDValue:             cast.USDValue,
		Status:               cast.Status,
		ActiveSupporterTotal: reconcile.ActiveSupporterTotal(cast).String(),
		TopSupporters:        reconcile.TopSupporters(cast, topSupportersLimit),
	}
	if cast.Rank.Valid {
		rank := cast.Rank.Int64
		view.Rank = &rank
	}
	return view
}

// getLeaderboard handles GET /api/leaderboard
func (r *Router) getLeaderboard(c *gin.Context) {
	limit := 50
	if l, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		limit = l
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	cacheKey := cache.HashKey("leaderboard", fmt.Sprintf("%d", limit))
	if r.cache != nil {
		var cached []*castView
		if err := r.cache.GetJSON(cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, gin.H{"leaderboard": cached})
			return
		}
	}

	casts, err := r.syncer.Leaderboard(c.Request.Context(), limit)
	if err != nil {
		r.logger.Error("Failed to load leaderboard", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	views := make([]*castView, 0, len(casts))
	for _, cast := range casts {
		views = append(views, newCastView(cast))
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(cacheKey, views, 30*time.Second); err != nil && err != cache.ErrCacheDisabled {
			r.logger.Warn("Failed to cache leaderboard", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"leaderboard": views})
}

// getCast handles GET /api/casts/:hash
func (r *Router) getCast(c *gin.Context) {
	hash, ok := reconcile.NormalizeHash(c.Param("hash"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cast hash"})
		return
	}

	cast, err := r.syncer.GetCast(c.Request.Context(), hash)
	if err != nil {
		r.logger.Error("Failed to load cast", zap.String("hash", hash), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if cast == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "cast not found"})
		return
	}

	c.JSON(http.StatusOK, newCastView(cast))
}

// getUserStats handles GET /api/users/:fid/stats
func (r *Router) getUserStats(c *gin.Context) {
	fid, err := strconv.ParseInt(c.Param("fid"), 10, 64)
	if err != nil || fid <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid fid"})
		return
	}

	stats, err := r.stats.UserStats(c.Request.Context(), fid)
	if err != nil {
		r.logger.Error("Failed to compute user stats", zap.Int64("fid", fid), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// getNetworkStats handles GET /api/stats
func (r *Router) getNetworkStats(c *gin.Context) {
	cacheKey := cache.HashKey("network_stats")
	if r.cache != nil {
		var cached reconcile.NetworkStats
		if err := r.cache.GetJSON(cacheKey, &cached); err == nil {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	stats, err := r.stats.NetworkStats(c.Request.Context())
	if err != nil {
		r.logger.Error("Failed to compute network stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	if r.cache != nil {
		if err := r.cache.SetJSON(cacheKey, stats, 60*time.Second); err != nil && err != cache.ErrCacheDisabled {
			r.logger.Warn("Failed to cache network stats", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, stats)
}
