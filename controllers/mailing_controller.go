package controller

import (
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"mailflare/models"
	"mailflare/utils"
)

var errUnknownRecipients = errors.New("one or more recipients do not exist or are not yours")

type MailingController struct {
	DB         *gorm.DB
	Logger     *log.Logger
	Dispatcher *utils.Dispatcher
}

func NewMailingController(db *gorm.DB, dispatcher *utils.Dispatcher, logger *log.Logger) *MailingController {
	return &MailingController{
		DB:         db,
		Logger:     logger,
		Dispatcher: dispatcher,
	}
}

type CreateMailingRequest struct {
	StartAt      time.Time `json:"start_at" validate:"required"`
	EndAt        time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	MessageID    uint      `json:"message_id" validate:"required"`
	RecipientIDs []uint    `json:"recipient_ids"`
}

type UpdateMailingRequest struct {
	StartAt      time.Time `json:"start_at" validate:"required"`
	EndAt        time.Time `json:"end_at" validate:"required,gtfield=StartAt"`
	Status       string    `json:"status" validate:"required,oneof=created running completed"`
	MessageID    uint      `json:"message_id" validate:"required"`
	RecipientIDs []uint    `json:"recipient_ids"`
}

func (mc *MailingController) CreateMailing(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var req CreateMailingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var message models.Message
	if err := mc.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&message, req.MessageID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	recipients, err := mc.ownedRecipients(user.ID, req.RecipientIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	mailing := models.Mailing{
		UserID:     user.ID,
		MessageID:  message.ID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Status:     models.MailingStatusCreated,
		IsActive:   true,
		CurrentRun: 1,
		Recipients: recipients,
	}

	if err := mc.DB.Create(&mailing).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create mailing",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(mailing)
}

func (mc *MailingController) ListMailings(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	query := mc.DB.Preload("Message")
	if !user.IsManager {
		query = query.Where("user_id = ?", user.ID)
	}

	var mailings []models.Mailing
	if err := query.Order("created_at DESC").Find(&mailings).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch mailings",
		})
	}

	return c.JSON(mailings)
}

func (mc *MailingController) GetMailing(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	mailing, err := mc.findVisible(user, c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	return c.JSON(mailing)
}

// UpdateMailing edits a mailing and applies the status-change rules:
// forcing status back to created reopens the mailing for a new run,
// forcing it to running/completed backfills synthetic success attempts so
// the report history matches the declared state.
func (mc *MailingController) UpdateMailing(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var mailing models.Mailing
	if err := mc.DB.Where("user_id = ?", user.ID).First(&mailing, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	var req UpdateMailingRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := utils.ValidateStruct(req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	var message models.Message
	if err := mc.DB.Where("user_id = ? AND is_active = ?", user.ID, true).
		First(&message, req.MessageID).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Message not found",
		})
	}

	recipients, err := mc.ownedRecipients(user.ID, req.RecipientIDs)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	originalStatus := mailing.Status
	statusChanged := originalStatus != req.Status

	mailing.StartAt = req.StartAt
	mailing.EndAt = req.EndAt
	mailing.MessageID = message.ID

	if err := mc.DB.Save(&mailing).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update mailing",
		})
	}
	if err := mc.DB.Model(&mailing).Association("Recipients").Replace(&recipients); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update recipients",
		})
	}

	if statusChanged {
		if err := mc.applyStatusChange(&mailing, originalStatus, req.Status, recipients); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to change mailing status",
			})
		}
	}

	if err := mc.DB.Preload("Message").First(&mailing, mailing.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to reload mailing",
		})
	}

	return c.JSON(mailing)
}

// applyStatusChange implements the manual status-edit semantics. A move
// back to created is a reset: run counter bumped, sent flag cleared, old
// attempts left in place as history. A move to running/completed writes a
// synthetic success attempt per recipient recording the override.
func (mc *MailingController) applyStatusChange(mailing *models.Mailing, from, to string, recipients []models.Recipient) error {
	if to == models.MailingStatusCreated {
		if err := mc.Dispatcher.ResetMailing(mailing.ID); err != nil {
			return err
		}
		utils.LogEvent("mailing_reset", map[string]interface{}{
			"mailing_id": mailing.ID,
			"from":       from,
		})
		return nil
	}

	if err := mc.DB.Model(mailing).Update("status", to).Error; err != nil {
		return err
	}

	for i := range recipients {
		attempt := &models.Attempt{
			MailingID:      mailing.ID,
			RecipientID:    &recipients[i].ID,
			RunNumber:      mailing.CurrentRun,
			TriggerType:    models.TriggerManual,
			Status:         models.AttemptStatusSuccess,
			ServerResponse: "status changed manually: " + from + " -> " + to,
		}
		if err := mc.DB.Create(attempt).Error; err != nil {
			return err
		}
	}
	return nil
}

func (mc *MailingController) DeleteMailing(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	var mailing models.Mailing
	if err := mc.DB.Where("user_id = ?", user.ID).First(&mailing, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	// Hard delete; attempts go with it by cascade.
	if err := mc.DB.Select("Attempts").Delete(&mailing).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete mailing",
		})
	}

	return c.JSON(fiber.Map{
		"message": "Mailing deleted successfully",
	})
}

// DisableMailing is the manager kill-switch. A disabled mailing keeps its
// status but disappears from dispatch selection and manual sends.
func (mc *MailingController) DisableMailing(c *fiber.Ctx) error {
	return mc.setActive(c, false)
}

func (mc *MailingController) EnableMailing(c *fiber.Ctx) error {
	return mc.setActive(c, true)
}

func (mc *MailingController) setActive(c *fiber.Ctx, active bool) error {
	var mailing models.Mailing
	if err := mc.DB.First(&mailing, c.Params("id")).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Mailing not found",
		})
	}

	if err := mc.DB.Model(&mailing).Update("is_active", active).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update mailing",
		})
	}

	utils.LogEvent("mailing_active_changed", map[string]interface{}{
		"mailing_id": mailing.ID,
		"is_active":  active,
	})

	return c.JSON(fiber.Map{
		"message":   "Mailing updated successfully",
		"is_active": active,
	})
}

func (mc *MailingController) findVisible(user *models.User, id string) (*models.Mailing, error) {
	query := mc.DB.Preload("Message").Preload("Recipients")
	if !user.IsManager {
		query = query.Where("user_id = ?", user.ID)
	}

	var mailing models.Mailing
	if err := query.First(&mailing, id).Error; err != nil {
		return nil, err
	}
	return &mailing, nil
}

// ownedRecipients resolves recipient IDs against the caller's active
// recipients, rejecting IDs that are missing or foreign.
func (mc *MailingController) ownedRecipients(userID uint, ids []uint) ([]models.Recipient, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var recipients []models.Recipient
	if err := mc.DB.Where("user_id = ? AND is_active = ? AND id IN ?", userID, true, ids).
		Find(&recipients).Error; err != nil {
		return nil, err
	}
	if len(recipients) != len(ids) {
		return nil, errUnknownRecipients
	}
	return recipients, nil
}
