package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"mailflare/config"
	"mailflare/models"
)

const dashboardCacheTTL = 5 * time.Minute

type DashboardStats struct {
	TotalMailings    int64  `json:"total_mailings"`
	ActiveMailings   int64  `json:"active_mailings"`
	UniqueRecipients int64  `json:"unique_recipients"`
	SchedulerLastRun string `json:"scheduler_last_run,omitempty"`
}

// GetDashboard returns the per-user overview counters. Results are cached
// in redis for a few minutes; with caching disabled every request hits the
// database.
func GetDashboard(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	ctx := context.Background()

	cacheKey := fmt.Sprintf("dashboard:stats:%d", user.ID)

	if config.Cache != nil {
		if cached, err := config.Cache.Get(ctx, cacheKey).Result(); err == nil {
			var stats DashboardStats
			if err := json.Unmarshal([]byte(cached), &stats); err == nil {
				return c.JSON(stats)
			}
		}
	}

	var stats DashboardStats

	mailingScope := config.DB.Model(&models.Mailing{})
	if !user.IsManager {
		mailingScope = mailingScope.Where("user_id = ?", user.ID)
	}
	if err := mailingScope.Count(&stats.TotalMailings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch dashboard stats",
		})
	}

	activeScope := config.DB.Model(&models.Mailing{}).
		Where("is_active = ? AND status <> ?", true, models.MailingStatusCompleted)
	if !user.IsManager {
		activeScope = activeScope.Where("user_id = ?", user.ID)
	}
	if err := activeScope.Count(&stats.ActiveMailings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch dashboard stats",
		})
	}

	recipientQuery := config.DB.Model(&models.Recipient{}).Where("is_active = ?", true)
	if !user.IsManager {
		recipientQuery = recipientQuery.Where("user_id = ?", user.ID)
	}
	if err := recipientQuery.Distinct("email").Count(&stats.UniqueRecipients).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch dashboard stats",
		})
	}

	if config.Cache != nil {
		if lastRun, err := config.Cache.Get(ctx, "scheduler:last_run").Result(); err == nil {
			stats.SchedulerLastRun = lastRun
		}

		if payload, err := json.Marshal(stats); err == nil {
			config.Cache.Set(ctx, cacheKey, payload, dashboardCacheTTL)
		}
	}

	return c.JSON(stats)
}
