package controller

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"mailflare/models"
	"mailflare/utils"
)

// SendMailingNow triggers an immediate send of a single mailing, outside
// the scheduled window. Rejections come back as 400s with the reason; a
// partial failure is still a 200 with the failure breakdown in the report.
func (mc *MailingController) SendMailingNow(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var mailing models.Mailing
	if err := mc.DB.Preload("Message").
		Where("user_id = ?", user.ID).
		First(&mailing, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	report, err := mc.Dispatcher.SendMailing(&mailing, models.TriggerManual)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrMailingDisabled),
			errors.Is(err, utils.ErrMailingCompleted),
			errors.Is(err, utils.ErrMailingAlreadySent),
			errors.Is(err, utils.ErrNoRecipients):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": err.Error(),
			})
		default:
			mc.Logger.Printf("Error sending mailing %d: %v", mailing.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to send mailing",
			})
		}
	}

	utils.LogEvent("mailing_sent_manually", map[string]interface{}{
		"mailing_id":    mailing.ID,
		"user_id":       user.ID,
		"success_count": report.SuccessCount,
		"failure_count": report.FailureCount,
	})

	return c.JSON(report)
}

// ListAttempts returns the delivery history of a mailing, newest first,
// across all runs. Attempts from earlier runs stay visible after a reset.
func (mc *MailingController) ListAttempts(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	mailing, err := mc.findVisible(user, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	var attempts []models.Attempt
	if err := mc.DB.Where("mailing_id = ?", mailing.ID).
		Order("attempted_at DESC").
		Find(&attempts).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch attempts",
		})
	}

	return c.JSON(fiber.Map{
		"mailing_id":  mailing.ID,
		"current_run": mailing.CurrentRun,
		"attempts":    attempts,
	})
}
